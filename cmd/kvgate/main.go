// Command kvgate serves the session routes behind the rate limiter.
//
// Usage:
//
//	kvgate serve --store redis
//	kvgate serve --store sqlite --sqlite-path kvgate.db
//	kvgate serve --store memory --jwt-secret s3cret
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ryhazerus/kvgate"
	"github.com/ryhazerus/kvgate/store"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" default:"withargs" help:"Start the HTTP server."`

	EnvFile   string `name:"env-file" help:"Dotenv file read before the environment." default:".env" type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info" enum:"debug,info,warn,error"`
	LogFormat string `help:"Log format (text, json)." default:"text" enum:"text,json"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("kvgate version %s\n", version)
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Addr       string `help:"Address to listen on." default:":8080"`
	Store      string `help:"Storage backend." default:"redis" enum:"redis,sqlite,memory"`
	SQLitePath string `name:"sqlite-path" help:"SQLite database path for --store=sqlite." default:"kvgate.db" type:"path"`
	JWTSecret  string `name:"jwt-secret" help:"HMAC secret for minted session tokens. Without it, tokens are random UUIDs." env:"KVGATE_JWT_SECRET"`
	Trace      bool   `help:"Record an OpenTelemetry span for every store call."`
	TraceFile  string `name:"trace-file" help:"File that receives exported spans (empty = stdout)." type:"path"`
	TrustProxy bool   `name:"trust-proxy" help:"Identify clients by the first X-Forwarded-For address."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := kvgate.LoadConfig(cli.EnvFile)
	if err != nil {
		return err
	}

	logger := slog.Default()
	st, err := openStore(ctx, c.Store, c.SQLitePath, cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", c.Store, err)
	}
	if c.Trace {
		tp, stopTracing, err := c.startTracing(ctx)
		if err != nil {
			st.Close()
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := stopTracing(shutdownCtx); err != nil {
				logger.Warn("tracer shutdown failed", "error", err)
			}
		}()
		st = store.NewTracedStore(st, tp)
	}

	reg := prometheus.NewRegistry()
	srv, err := newServer(serverOptions{
		store:      st,
		config:     cfg,
		registry:   reg,
		jwtSecret:  []byte(c.JWTSecret),
		trustProxy: c.TrustProxy,
		logger:     logger,
	})
	if err != nil {
		st.Close()
		return err
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              c.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			"addr", c.Addr,
			"store", c.Store,
			"max_requests", cfg.MaxRequests,
			"window", cfg.Window,
			"failure_policy", cfg.FailurePolicy,
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// startTracing exports spans to --trace-file, or stdout when it is empty.
// stop flushes pending spans and closes the file.
func (c *ServeCmd) startTracing(ctx context.Context) (tp *sdktrace.TracerProvider, stop func(context.Context) error, err error) {
	var out io.Writer = os.Stdout
	closeOut := func() error { return nil }
	if c.TraceFile != "" {
		f, err := os.OpenFile(c.TraceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open trace file: %w", err)
		}
		out, closeOut = f, f.Close
	}

	exporter, err := newTraceExporter(out, false)
	if err != nil {
		closeOut()
		return nil, nil, err
	}
	if tp, err = newTracerProvider(ctx, exporter); err != nil {
		closeOut()
		return nil, nil, err
	}

	stop = func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), closeOut())
	}
	return tp, stop, nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("kvgate"),
		kong.Description("Rate-limited session service backed by a key-value store."),
		kong.UsageOnError(),
	)

	slog.SetDefault(newLogger(os.Stderr, cli.LogLevel, cli.LogFormat))

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
