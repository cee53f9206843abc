package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ryhazerus/kvgate"
	"github.com/ryhazerus/kvgate/store"
)

type serverOptions struct {
	store      store.Store
	config     kvgate.Config
	registry   *prometheus.Registry
	jwtSecret  []byte
	trustProxy bool
	logger     *slog.Logger
}

type server struct {
	store      store.Store
	limiter    *kvgate.Limiter
	sessions   *kvgate.SessionCache
	policy     kvgate.FailurePolicy
	registry   *prometheus.Registry
	jwtSecret  []byte
	trustProxy bool
	logger     *slog.Logger
}

func newServer(o serverOptions) (*server, error) {
	metrics, err := kvgate.NewMetrics(o.registry)
	if err != nil {
		return nil, err
	}

	common := []kvgate.Option{
		kvgate.WithStore(o.store),
		kvgate.WithConfig(o.config),
		kvgate.WithLogger(o.logger),
		kvgate.WithMetrics(metrics),
	}

	limiter, err := kvgate.NewLimiter(common...)
	if err != nil {
		return nil, err
	}
	sessions, err := kvgate.NewSessionCache(common...)
	if err != nil {
		return nil, err
	}

	return &server{
		store:      o.store,
		limiter:    limiter,
		sessions:   sessions,
		policy:     o.config.FailurePolicy,
		registry:   o.registry,
		jwtSecret:  o.jwtSecret,
		trustProxy: o.trustProxy,
		logger:     o.logger,
	}, nil
}

// Close closes the store shared by the limiter and the session cache.
func (s *server) Close() error {
	return s.store.Close()
}

func (s *server) routes() http.Handler {
	limit := []kvgate.MiddlewareOption{
		kvgate.WithExcludedPaths("/healthz", "/metrics"),
		kvgate.WithFailurePolicy(s.policy),
	}
	if s.trustProxy {
		limit = append(limit, kvgate.WithTrustForwardedFor())
	}

	r := chi.NewRouter()
	r.Use(s.limiter.Middleware(limit...))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Post("/login/{username}", s.handleLogin)
	r.Get("/sessions/{username}", s.handleGetSession)
	r.Delete("/logout/{username}", s.handleLogout)

	return r
}

type loginRequest struct {
	Token string `json:"token"`
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token := req.Token
	if token == "" {
		var err error
		if token, err = s.mintToken(username); err != nil {
			s.logger.Error("mint session token", "username", username, "error", err)
			writeError(w, http.StatusInternalServerError, "Unable to create session")
			return
		}
	}

	if err := s.sessions.Put(r.Context(), username, token, 0); err != nil {
		s.writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "User has logged in successfully",
		"token":      token,
		"expires_in": int64(s.sessions.DefaultTTL() / time.Second),
	})
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	token, found, err := s.sessions.Get(r.Context(), username)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "User Session not found")
		return
	}

	resp := map[string]any{
		"data":  map[string]string{"username": username},
		"token": token,
	}
	ttl, ok, err := s.sessions.TTL(r.Context(), username)
	switch {
	case err != nil:
		s.logger.Warn("session ttl lookup failed", "username", username, "error", err)
	case ok && ttl > 0:
		resp["expires_in"] = int64(ttl.Round(time.Second) / time.Second)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	result, err := s.sessions.Revoke(r.Context(), username)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	if result == kvgate.NotFound {
		writeError(w, http.StatusNotFound, "User Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "User logged out successfully"})
}

// mintToken issues a session token for a login that did not bring one: an
// HS256 JWT when a secret is configured, a random UUID otherwise.
func (s *server) mintToken(username string) (string, error) {
	if len(s.jwtSecret) == 0 {
		return uuid.NewString(), nil
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.sessions.DefaultTTL())),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func (s *server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, kvgate.ErrInvalidIdentity):
		writeError(w, http.StatusBadRequest, "Missing username")
	case errors.Is(err, kvgate.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, "Missing username or token")
	default:
		writeError(w, http.StatusServiceUnavailable, "Session store unavailable")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
