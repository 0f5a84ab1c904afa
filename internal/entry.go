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
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/veil/internal/api"
	"github.com/starford/veil/internal/controller"
	"github.com/starford/veil/internal/idle"
	"github.com/starford/veil/internal/index"
	"github.com/starford/veil/internal/mcpserver"
	"github.com/starford/veil/internal/prefs"
	"github.com/starford/veil/internal/sse"
	"github.com/starford/veil/internal/storage"
	"github.com/starford/veil/internal/style"
	"github.com/starford/veil/internal/visibility"
	"github.com/starford/veil/internal/workspace"
)

// stack is everything both front ends share.
type stack struct {
	cfg    *Config
	logger *slog.Logger

	store  storage.Provider
	db     *index.DB
	broker *sse.Broker
	proj   *style.Projector
	ws     *workspace.Workspace
	prefs  *prefs.Store
	ctrl   *controller.Controller
	idle   *idle.Monitor
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

// buildStack opens the vault, indexes it, and starts the visibility
// controller with the stored settings. Callers must call close.
func buildStack(cfg *Config, logger *slog.Logger) (*stack, error) {
	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	// Run initial sync.
	if n, err := index.Sync(db, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	} else {
		logger.Info("initial sync done", slog.Int("changed", n))
	}

	broker := sse.NewBroker(2 * time.Second)
	proj := style.NewProjector(broker, logger)
	ws := workspace.New(store, logger)

	settingsStore := prefs.NewStore(store, cfg.Settings.Path, logger)
	settings, err := settingsStore.Load()
	if err != nil {
		logger.Warn("settings unreadable, using defaults",
			slog.String("path", settingsStore.Path()),
			slog.String("error", err.Error()))
	}

	ctrl, err := controller.New(ws, db, proj, settings, controller.Options{
		SettleDelay: cfg.Visibility.SettleDelay,
		Logger:      logger,
	})
	if err != nil {
		broker.Close()
		db.Close()
		return nil, fmt.Errorf("init controller: %w", err)
	}
	ws.Subscribe(ctrl.HandleEvent)

	return &stack{
		cfg:    cfg,
		logger: logger,
		store:  store,
		db:     db,
		broker: broker,
		proj:   proj,
		ws:     ws,
		prefs:  settingsStore,
		ctrl:   ctrl,
		idle:   idle.NewMonitor(ctrl, logger),
	}, nil
}

func (s *stack) close() {
	s.ctrl.Close()
	s.broker.Close()
	if err := s.db.Close(); err != nil {
		s.logger.Error("close index", slog.String("error", err.Error()))
	}
}

// watch runs the vault and settings watchers until ctx is done. Watcher
// failures are logged; the session keeps working on what it already has.
func (s *stack) watch(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		err := index.Watch(ctx, s.db, s.store, s.cfg.Vault.Path, s.logger, func(kind, path string) {
			s.broker.PublishNoteEvent(kind, path)
			// Tags may have changed under an open panel.
			if err := s.ctrl.Recompute(); err != nil && ctx.Err() == nil {
				s.logger.Warn("recompute after index change", slog.String("error", err.Error()))
			}
		})
		if err != nil {
			s.logger.Error("vault watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	g.Go(func() error {
		abs := filepath.Join(s.cfg.Vault.Path, filepath.FromSlash(s.prefs.Path()))
		err := s.prefs.Watch(ctx, abs, func(settings visibility.Settings) {
			if err := s.ctrl.UpdateSettings(settings); err != nil {
				s.logger.Warn("apply reloaded settings", slog.String("error", err.Error()))
			}
		})
		if err != nil {
			s.logger.Error("settings watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})
}

// Run starts the HTTP application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := newLogger(app.logOutput, cfg.App.LogLevel)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("settings_path", cfg.Settings.Path),
		slog.Duration("settle_delay", cfg.Visibility.SettleDelay),
		slog.String("log_level", cfg.App.LogLevel.String()))

	st, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	apiRouter := api.NewRouter(api.Deps{
		Session:  st.ctrl,
		Panels:   st.ws,
		Styles:   st.proj,
		Prefs:    st.prefs,
		Activity: st.idle,
		Notes:    st.db,
	}, cfg.Auth.AuthEnabled(), cfg.Auth.Token, st.broker)

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
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	st.watch(gCtx, g)

	// Idle lock.
	g.Go(func() error {
		return st.idle.Run(gCtx, cfg.Visibility.IdleTick)
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

		// SSE streams stay open until the broker closes; close it first
		// so Shutdown does not wait on them.
		st.broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Stop the watchers and the idle ticker.
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

var errShutdown = errors.New("shutdown")

// RunMCP serves the visibility tools over stdio until stdin closes or a
// signal arrives.
func RunMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := newLogger(app.logOutput, cfg.App.LogLevel)

	st, err := buildStack(cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	srv := mcpserver.New(mcpserver.Deps{
		Session:  st.ctrl,
		Panels:   st.ws,
		Notes:    st.db,
		Styles:   st.proj,
		Activity: st.idle,
	})

	g, gCtx := errgroup.WithContext(ctx)
	st.watch(gCtx, g)

	g.Go(func() error {
		return st.idle.Run(gCtx, cfg.Visibility.IdleTick)
	})

	g.Go(func() error {
		logger.Info("MCP server starting on stdio")
		if err := srv.ServeStdio(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("MCP server error", slog.String("error", err.Error()))
		return err
	}
	return nil
}
