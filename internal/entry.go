// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/starford/portal/internal/api"
	"github.com/starford/portal/internal/index"
	"github.com/starford/portal/internal/mcpserver"
	"github.com/starford/portal/internal/metrics"
	"github.com/starford/portal/internal/models"
	"github.com/starford/portal/internal/noteref"
	"github.com/starford/portal/internal/noteservice"
	"github.com/starford/portal/internal/parser"
	"github.com/starford/portal/internal/sse"
	"github.com/starford/portal/internal/storage"
)

// runtime is the shared wiring of every command.
type runtime struct {
	cfg      *Config
	logger   *slog.Logger
	ws       *storage.Workspace
	db       *index.DB
	engine   *noteref.Engine
	registry *prom.Registry
	svc      *noteservice.Service
}

func newApplication(opts []Option) (*application, error) {
	app := &application{out: os.Stdout, logOut: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// setup opens the workspace and index, runs the initial sync and builds the
// service. Callers must close rt.db.
func setup(app *application, svcOpts ...noteservice.Option) (*runtime, error) {
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	vaults := make([]string, 0, len(cfg.Workspace.Vaults))
	for _, v := range cfg.Workspace.Vaults {
		vaults = append(vaults, v.Name+"="+v.Path)
	}
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vaults", strings.Join(vaults, ",")),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Int("max_expansion_depth", cfg.NoteRef.MaxExpansionDepth),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure vault directories exist.
	for _, v := range cfg.Workspace.Vaults {
		if err := os.MkdirAll(v.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create vault dir %s: %w", v.Name, err)
		}
	}

	ws, err := storage.NewWorkspace(cfg.Workspace.Specs())
	if err != nil {
		return nil, fmt.Errorf("init workspace: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	rt := &runtime{cfg: cfg, logger: logger, ws: ws, db: db}

	var rec metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Metrics.Enabled {
		rt.registry = prom.NewRegistry()
		rec = metrics.NewPrometheusRecorder(rt.registry)
	}

	rt.engine = noteref.NewEngine(db, cfg.NoteRef.Options(),
		noteref.WithLogger(logger.With(slog.String("component", "noteref"))),
		noteref.WithRecorder(rec))

	if err := index.Sync(db, ws, rt.engine.ScanOptions(), logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	base := []noteservice.Option{
		noteservice.WithLogger(logger),
		noteservice.WithRecorder(rec),
		noteservice.WithPublishConcurrency(cfg.Publish.Concurrency),
	}
	rt.svc = noteservice.NewService(ws, db, rt.engine, append(base, svcOpts...)...)
	return rt, nil
}

// Run starts the HTTP server and the file watcher with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	rt, err := setup(app, noteservice.WithNotifier(broker))
	if err != nil {
		return err
	}
	defer rt.db.Close()
	logger := rt.logger

	apiRouter := api.NewRouter(rt.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker, cfg.Publish.OutputDir)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := rt.db.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if rt.registry != nil {
		r.Handle("/metrics", metrics.Handler(rt.registry))
	}

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher; changes reach SSE clients through the service notifier.
	g.Go(func() error {
		if err := index.Watch(gCtx, rt.db, rt.ws, rt.engine.ScanOptions(), logger, rt.svc.OnNoteChanged); err != nil {
			logger.Error("file watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the errgroup context so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunCompile compiles one note and writes the output.
// note is a note name or a vault-relative path ending in .md.
func RunCompile(ctx context.Context, vault, note, dest string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	d, err := noteref.ParseDestination(dest)
	if err != nil {
		return err
	}
	rt, err := setup(app)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	if strings.HasSuffix(note, ".md") {
		note = parser.FnameFromPath(note)
	}
	res, err := rt.svc.Compile(ctx, models.NoteKey{Vault: vault, Fname: note}, d)
	if err != nil {
		return err
	}
	_, err = io.WriteString(app.out, res.Output)
	return err
}

// RunPublish compiles every note of every vault into outDir. An empty
// outDir falls back to publish.output_dir.
func RunPublish(ctx context.Context, dest, outDir string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	d, err := noteref.ParseDestination(dest)
	if err != nil {
		return err
	}
	if outDir == "" {
		outDir = app.config.Publish.OutputDir
	}
	rt, err := setup(app)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	res, err := rt.svc.Publish(ctx, d, outDir)
	if res != nil {
		fmt.Fprintf(app.out, "published %d notes to %s (%s)\n", res.Written, res.OutputDir, res.Dest)
		for _, f := range res.Failed {
			fmt.Fprintf(app.out, "failed %s: %s\n", f.Note, f.Error)
		}
	}
	if err != nil {
		return err
	}
	if res != nil && len(res.Failed) > 0 {
		return fmt.Errorf("publish: %d notes failed", len(res.Failed))
	}
	return nil
}

// RunMCP serves the MCP tools on stdio.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	rt, err := setup(app)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	// Keep the index fresh while the MCP client is connected.
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := index.Watch(watchCtx, rt.db, rt.ws, rt.engine.ScanOptions(), rt.logger, rt.svc.OnNoteChanged); err != nil {
			rt.logger.Error("file watcher stopped", slog.String("error", err.Error()))
		}
	}()

	return mcpserver.New(rt.svc).ServeStdio()
}
