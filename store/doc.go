// Package store defines the [Store] interface consumed by the kvgate limiter
// and session cache, and provides implementations:
//
//   - [MemoryStore]: in-process keys with TTLs, lost on restart.
//   - [SQLiteStore]: keys and expiries persisted in a SQLite database.
//   - [TracedStore]: wraps another Store with OpenTelemetry spans.
//
// A Redis-backed implementation lives in the store/redis package. Custom
// backends can be created by implementing the [Store] interface; the
// store/storetest package checks them against the shared contract.
package store
