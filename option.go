package kvgate

import (
	"context"
	"log/slog"
	"time"

	"github.com/ryhazerus/kvgate/store"
)

type settings struct {
	store       store.Store
	maxRequests int64
	window      time.Duration
	sessionTTL  time.Duration
	prefix      string
	timeout     time.Duration
	logger      *slog.Logger
	metrics     *Metrics
	onDenied    func(identity string, d Decision)
	now         func() time.Time
}

func newSettings(prefix string, opts []Option) settings {
	s := settings{
		maxRequests: DefaultMaxRequests,
		window:      DefaultWindow,
		sessionTTL:  DefaultSessionTTL,
		prefix:      prefix,
		now:         time.Now,
	}
	for _, o := range opts {
		o(&s)
	}
	if s.store == nil {
		s.store = store.NewMemoryStore()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// withTimeout bounds a single store round trip.
func (s *settings) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Option configures a Limiter or a SessionCache.
type Option func(*settings)

// WithStore sets the backing key-value store.
// If not provided, an in-memory store is used by default.
func WithStore(s store.Store) Option {
	return func(o *settings) {
		o.store = s
	}
}

// WithConfig applies the limits, session TTL and store timeout of cfg.
func WithConfig(cfg Config) Option {
	return func(o *settings) {
		o.maxRequests = cfg.MaxRequests
		o.window = cfg.Window
		o.sessionTTL = cfg.SessionTTL
		o.timeout = cfg.StoreTimeout
	}
}

// WithMaxRequests sets how many hits per window are allowed.
func WithMaxRequests(n int64) Option {
	return func(o *settings) {
		o.maxRequests = n
	}
}

// WithWindow sets the length of a fixed window.
func WithWindow(d time.Duration) Option {
	return func(o *settings) {
		o.window = d
	}
}

// WithSessionTTL sets the lifetime used when Put is called without a TTL.
func WithSessionTTL(d time.Duration) Option {
	return func(o *settings) {
		o.sessionTTL = d
	}
}

// WithKeyPrefix replaces the namespace prepended to every identity.
// Defaults are "rl:" for the limiter and "session:" for the session cache.
func WithKeyPrefix(prefix string) Option {
	return func(o *settings) {
		o.prefix = prefix
	}
}

// WithTimeout bounds every store call. A call that runs out of time fails
// with ErrStoreUnavailable and is not retried.
func WithTimeout(d time.Duration) Option {
	return func(o *settings) {
		o.timeout = d
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *settings) {
		o.logger = l
	}
}

// WithMetrics records operations on m.
func WithMetrics(m *Metrics) Option {
	return func(o *settings) {
		o.metrics = m
	}
}

// WithOnDenied sets a callback that fires for every denied Admit.
func WithOnDenied(fn func(identity string, d Decision)) Option {
	return func(o *settings) {
		o.onDenied = fn
	}
}

// WithClock replaces the clock used to compute Decision.ResetAt.
func WithClock(now func() time.Time) Option {
	return func(o *settings) {
		o.now = now
	}
}
