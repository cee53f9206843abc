// Package redis provides a kvgate store.Store backed by Redis through
// github.com/redis/go-redis/v9.
//
// [Connector] holds the single client of a process and creates it on first
// use. [NewLazyRedisStore] builds a store on top of it; [NewRedisStore] wraps
// a client the caller already owns.
package redis
