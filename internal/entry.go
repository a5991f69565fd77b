// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/loom/internal/api"
	"github.com/starford/loom/internal/importer"
	"github.com/starford/loom/internal/inbox"
	"github.com/starford/loom/internal/mcpserver"
	"github.com/starford/loom/internal/proposal"
	"github.com/starford/loom/internal/sse"
	"github.com/starford/loom/internal/storage"
)

// Run starts the HTTP server and, when enabled, the inbox watcher.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	cfg, logger, err := app.init()
	if err != nil {
		return err
	}

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Bool("inbox_enabled", cfg.Inbox.Enabled),
		slog.String("synthesis_provider", cfg.Synthesis.Provider),
		slog.String("log_level", cfg.App.LogLevel.String()))

	svc, err := newServices(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.db.Close()

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	var inboxFS *storage.FS
	if cfg.Inbox.Enabled {
		if inboxFS, err = storage.NewFS(cfg.Inbox.Path); err != nil {
			return fmt.Errorf("init inbox: %w", err)
		}
	}

	deps := api.Deps{
		Blocks:   svc.blocks,
		Links:    svc.links,
		Importer: svc.importer,
		Proposer: svc.proposer,
		Merger:   svc.merger,
		Lineage:  svc.lineage,
		Graph:    svc.graph,
		Sessions: svc.sessions,
		Oplog:    svc.oplog,
		Events:   broker,
		Logger:   logger,
	}
	if inboxFS != nil {
		deps.Inbox = inboxFS
	}
	apiRouter := api.NewRouter(api.NewHandler(deps), cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
		if err := svc.db.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if inboxFS != nil {
		proc := inbox.NewProcessor(inboxFS, svc.importer, svc.db, cfg.Inbox.Mode, logger,
			func(_ string, res *importer.Result) {
				broker.Notify(sse.ImportCompleted, map[string]any{
					"document_id": res.DocumentID,
					"blocks":      len(res.BlockIDs),
					"links":       len(res.Links),
				})
			})
		g.Go(func() error {
			return inbox.Watch(gCtx, proc, logger)
		})
	}

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

// errShutdown cancels the group so the inbox watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over stdio until the client disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(app)
	}
	cfg, logger, err := app.init()
	if err != nil {
		return err
	}
	svc, err := newServices(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.db.Close()

	srv := mcpserver.New(mcpserver.Services{
		Blocks:   svc.blocks,
		Links:    svc.links,
		Importer: svc.importer,
		Merger:   svc.merger,
		Lineage:  svc.lineage,
		Graph:    svc.graph,
		Logger:   logger,
	})
	logger.Info("Starting MCP server on stdio", slog.String("version", mcpserver.Version))
	return srv.ServeStdio()
}

// ImportFile imports one proposal file into documentID. An empty
// documentID falls back to the document_id named in the file.
func ImportFile(ctx context.Context, path, documentID string, mode importer.Mode, opts ...Option) (*importer.Result, error) {
	app := &application{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(app)
	}
	cfg, logger, err := app.init()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read proposal: %w", err)
	}
	p, err := proposal.Parse(data)
	if err != nil {
		return nil, err
	}
	if documentID == "" {
		documentID = p.DocumentID
	}

	svc, err := newServices(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer svc.db.Close()

	return svc.importer.Import(ctx, documentID, p, importer.Options{Mode: mode})
}
