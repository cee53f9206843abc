package kvgate

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"
)

// IdentityFunc extracts the rate limit identity from a request. Returning ""
// means the caller could not be identified.
type IdentityFunc func(r *http.Request) string

type middleware struct {
	limiter        *Limiter
	identity       IdentityFunc
	trustForwarded bool
	excluded       []string
	policy         FailurePolicy
}

// MiddlewareOption configures Limiter.Middleware.
type MiddlewareOption func(*middleware)

// WithIdentityFunc replaces the default client-IP identity.
func WithIdentityFunc(fn IdentityFunc) MiddlewareOption {
	return func(m *middleware) {
		m.identity = fn
	}
}

// WithTrustForwardedFor makes the default identity use the first
// X-Forwarded-For address. Only enable it behind a proxy that sets the header.
func WithTrustForwardedFor() MiddlewareOption {
	return func(m *middleware) {
		m.trustForwarded = true
	}
}

// WithExcludedPaths lets requests matching any of the glob patterns skip the
// limiter, e.g. "/healthz" or "/static/*".
func WithExcludedPaths(patterns ...string) MiddlewareOption {
	return func(m *middleware) {
		m.excluded = append(m.excluded, patterns...)
	}
}

// WithFailurePolicy sets what happens to requests while the store is
// unavailable. The default is FailClosed.
func WithFailurePolicy(p FailurePolicy) MiddlewareOption {
	return func(m *middleware) {
		m.policy = p
	}
}

type decisionKey struct{}

// DecisionFromContext returns the decision the middleware made for the
// current request.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(Decision)
	return d, ok
}

// Middleware wraps an http.Handler so every request is admitted through the
// limiter first. Denied requests get 429, requests without an identity get
// 400, and store failures are handled according to the failure policy.
func (l *Limiter) Middleware(opts ...MiddlewareOption) func(http.Handler) http.Handler {
	m := &middleware{limiter: l}
	for _, o := range opts {
		o(m)
	}
	if m.identity == nil {
		trust := m.trustForwarded
		m.identity = func(r *http.Request) string {
			return clientIP(r, trust)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.serve(w, r, next)
		})
	}
}

func (m *middleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	for _, pattern := range m.excluded {
		if matchPath(r.URL.Path, pattern) {
			next.ServeHTTP(w, r)
			return
		}
	}

	d, err := m.limiter.Admit(r.Context(), m.identity(r))
	switch {
	case errors.Is(err, ErrInvalidIdentity):
		writeMessage(w, http.StatusBadRequest, "Unable to identify client")
		return
	case err != nil:
		if m.policy == FailOpen {
			m.limiter.logger.Warn("rate limiter unavailable, failing open", "path", r.URL.Path, "error", err)
			next.ServeHTTP(w, r)
			return
		}
		writeMessage(w, http.StatusServiceUnavailable, "Rate limiter unavailable")
		return
	}

	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))

	if !d.Allowed {
		if !d.ResetAt.IsZero() {
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			h.Set("Retry-After", strconv.FormatInt(retryAfterSeconds(d.RetryAfter(m.limiter.now())), 10))
		}
		writeMessage(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), decisionKey{}, d)))
}

// retryAfterSeconds rounds up so clients never retry inside the window.
func retryAfterSeconds(d time.Duration) int64 {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
