package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ryhazerus/kvgate"
	"github.com/ryhazerus/kvgate/store"
	redisstore "github.com/ryhazerus/kvgate/store/redis"
)

func newTestServer(t *testing.T, st store.Store, mutate func(*serverOptions)) *httptest.Server {
	t.Helper()
	o := serverOptions{
		store:    st,
		config:   kvgate.DefaultConfig(),
		registry: prometheus.NewRegistry(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&o)
	}

	srv, err := newServer(o)
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return ts
}

func do(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if len(bytes.TrimSpace(raw)) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func TestSessionRoutes(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore(), nil)

	status, body := do(t, http.MethodPost, ts.URL+"/login/alice", `{"token":"tok123"}`)
	if status != http.StatusOK || body["token"] != "tok123" {
		t.Fatalf("login = %d %v", status, body)
	}

	status, body = do(t, http.MethodGet, ts.URL+"/sessions/alice", "")
	if status != http.StatusOK {
		t.Fatalf("get = %d %v", status, body)
	}
	if body["token"] != "tok123" {
		t.Errorf("token = %v, want tok123", body["token"])
	}
	if data, _ := body["data"].(map[string]any); data["username"] != "alice" {
		t.Errorf("data = %v, want username alice", body["data"])
	}
	if exp, _ := body["expires_in"].(float64); exp != 3600 {
		t.Errorf("expires_in = %v, want 3600", body["expires_in"])
	}

	if status, _ := do(t, http.MethodDelete, ts.URL+"/logout/alice", ""); status != http.StatusOK {
		t.Fatalf("logout = %d", status)
	}

	status, body = do(t, http.MethodGet, ts.URL+"/sessions/alice", "")
	if status != http.StatusNotFound || body["error"] != "User Session not found" {
		t.Errorf("get after logout = %d %v", status, body)
	}
	if status, _ := do(t, http.MethodDelete, ts.URL+"/logout/alice", ""); status != http.StatusNotFound {
		t.Errorf("second logout = %d, want 404", status)
	}
}

func TestLoginMintsJWT(t *testing.T) {
	secret := []byte("s3cret")
	ts := newTestServer(t, store.NewMemoryStore(), func(o *serverOptions) {
		o.jwtSecret = secret
	})

	status, body := do(t, http.MethodPost, ts.URL+"/login/alice", "")
	if status != http.StatusOK {
		t.Fatalf("login = %d %v", status, body)
	}
	raw, _ := body["token"].(string)

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		t.Fatalf("parse minted token: %v", err)
	}
	if claims.Subject != "alice" || claims.ID == "" {
		t.Errorf("claims = %+v, want subject alice and an id", claims)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Errorf("token lifetime = %v, want 1h", got)
	}
}

func TestLoginWithoutSecretMintsOpaqueToken(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore(), nil)

	_, first := do(t, http.MethodPost, ts.URL+"/login/alice", "")
	_, second := do(t, http.MethodPost, ts.URL+"/login/bob", "")
	if first["token"] == "" || first["token"] == second["token"] {
		t.Errorf("tokens = %v, %v; want distinct non-empty", first["token"], second["token"])
	}
}

func TestLoginRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore(), nil)

	if status, _ := do(t, http.MethodPost, ts.URL+"/login/alice", `{"token":`); status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", status)
	}
}

func TestRoutesAreRateLimited(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore(), nil)

	for i := 1; i <= 15; i++ {
		if status, _ := do(t, http.MethodGet, ts.URL+"/sessions/alice", ""); status != http.StatusNotFound {
			t.Fatalf("request %d: status %d, want 404", i, status)
		}
	}

	status, body := do(t, http.MethodGet, ts.URL+"/sessions/alice", "")
	if status != http.StatusTooManyRequests || body["message"] != "Too many requests" {
		t.Errorf("16th request = %d %v", status, body)
	}

	if status, _ := do(t, http.MethodGet, ts.URL+"/healthz", ""); status != http.StatusOK {
		t.Errorf("healthz = %d, want 200 while limited", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, store.NewMemoryStore(), nil)
	do(t, http.MethodGet, ts.URL+"/sessions/alice", "")

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(raw), `kvgate_admit_total{decision="allowed"} 1`) {
		t.Errorf("metrics output missing admit counter:\n%s", raw)
	}
}

func TestStoreOutage(t *testing.T) {
	tests := []struct {
		name    string
		policy  kvgate.FailurePolicy
		field   string
		message string
	}{
		{"fail closed", kvgate.FailClosed, "message", "Rate limiter unavailable"},
		{"fail open", kvgate.FailOpen, "error", "Session store unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr := miniredis.RunT(t)
			client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
			ts := newTestServer(t, redisstore.NewRedisStore(client), func(o *serverOptions) {
				o.config.FailurePolicy = tt.policy
			})

			if status, _ := do(t, http.MethodPost, ts.URL+"/login/alice", `{"token":"tok123"}`); status != http.StatusOK {
				t.Fatalf("login = %d", status)
			}
			mr.Close()

			status, body := do(t, http.MethodGet, ts.URL+"/sessions/alice", "")
			if status != http.StatusServiceUnavailable || body[tt.field] != tt.message {
				t.Errorf("got %d %v, want 503 with %s %q", status, body, tt.field, tt.message)
			}
		})
	}
}

// ttlDownStore serves every call except TTL.
type ttlDownStore struct {
	store.Store
}

func (ttlDownStore) TTL(context.Context, string) (time.Duration, error) {
	return 0, errors.New("connection reset")
}

// syncBuffer is a log sink safe to read while the server writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSessionLookupLogsTTLFailure(t *testing.T) {
	var logs syncBuffer
	ts := newTestServer(t, ttlDownStore{store.NewMemoryStore()}, func(o *serverOptions) {
		o.logger = slog.New(slog.NewTextHandler(&logs, nil))
	})

	do(t, http.MethodPost, ts.URL+"/login/alice", `{"token":"tok-123"}`)

	status, body := do(t, http.MethodGet, ts.URL+"/sessions/alice", "")
	if status != http.StatusOK || body["token"] != "tok-123" {
		t.Fatalf("get = %d %v", status, body)
	}
	if _, ok := body["expires_in"]; ok {
		t.Errorf("expires_in = %v, want it omitted when the ttl lookup fails", body["expires_in"])
	}
	if out := logs.String(); !strings.Contains(out, "session ttl lookup failed") || !strings.Contains(out, "level=WARN") {
		t.Errorf("missing warn log, got:\n%s", out)
	}
}

