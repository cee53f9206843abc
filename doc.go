// Package kvgate provides a fixed-window request limiter and a TTL session
// cache that share one key-value store.
//
// # Key Concepts
//
//   - [Limiter] admits at most N hits per identity per fixed window. The
//     window starts at the first hit and ends when the store expires the
//     counter; later hits never extend it.
//   - [SessionCache] keeps one opaque token per identity with a TTL. A stored
//     session means logged in; a missing one means logged out.
//   - [store.Store] is the key-value backend. An in-memory store is used by
//     default; SQLite and Redis backends live in the store packages.
//   - Denials and missing sessions are ordinary results, not errors. Errors
//     are invalid input ([ErrInvalidIdentity], [ErrInvalidToken]) or store
//     failures, which always wrap [ErrStoreUnavailable] so callers can pick
//     a [FailurePolicy].
//
// # Quick Start
//
//	limiter, err := kvgate.NewLimiter(
//		kvgate.WithStore(redisStore),
//		kvgate.WithMaxRequests(15),
//		kvgate.WithWindow(5*time.Minute),
//	)
//	if err != nil {
//		return err
//	}
//
//	mux := http.NewServeMux()
//	handler := limiter.Middleware(kvgate.WithExcludedPaths("/healthz"))(mux)
//
// See the [Limiter] and [SessionCache] documentation for the full API.
package kvgate
