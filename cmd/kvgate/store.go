package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ryhazerus/kvgate"
	"github.com/ryhazerus/kvgate/store"
	redisstore "github.com/ryhazerus/kvgate/store/redis"
)

// redisOptions maps config onto connection options. The store timeout bounds
// dialling and each socket read or write; zero keeps the client defaults.
func redisOptions(rc kvgate.RedisConfig, timeout time.Duration) redisstore.Options {
	return redisstore.Options{
		Host:         rc.Host,
		Port:         rc.Port,
		Password:     rc.Password,
		DB:           rc.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
}

// openStore builds the backend named by kind. A Redis backend is pinged once
// so a bad address fails at startup instead of on the first request.
func openStore(ctx context.Context, kind, sqlitePath string, cfg kvgate.Config, logger *slog.Logger) (store.Store, error) {
	switch kind {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		s, err := store.NewSQLiteStore(sqlitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		conn := redisstore.NewConnector(redisOptions(cfg.Redis, cfg.StoreTimeout), logger)
		if err := conn.Ping(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		return redisstore.NewLazyRedisStore(conn), nil
	default:
		return nil, fmt.Errorf("unknown store %q", kind)
	}
}
