// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/contactlink/internal/api"
	"github.com/starford/contactlink/internal/events"
	"github.com/starford/contactlink/internal/identity"
	"github.com/starford/contactlink/internal/mcpserver"
	"github.com/starford/contactlink/internal/reload"
	"github.com/starford/contactlink/internal/sse"
	"github.com/starford/contactlink/internal/store"
	pkgconfig "github.com/starford/contactlink/pkg/config"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger installs a JSON logger on w whose level can change at runtime.
func (a *application) newLogger(w io.Writer) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(a.config.App.LogLevel)
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger, level
}

func (a *application) openStore(logger *slog.Logger) (*store.Store, error) {
	st, err := store.Open(a.config.Store.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info("Store ready",
		slog.String("driver", a.config.Store.Driver),
		slog.Uint64("schema_version", uint64(st.SchemaVersion())))
	return st, nil
}

func (a *application) newEngine(st *store.Store, pub events.Publisher, logger *slog.Logger) *identity.Engine {
	return identity.NewEngine(st,
		identity.WithPublisher(pub),
		identity.WithLogger(logger),
		identity.WithTimeout(a.config.Store.Timeout),
		identity.WithMaxRetries(a.config.Store.MaxRetries),
	)
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger, level := app.newLogger(os.Stdout)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_driver", cfg.Store.Driver),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.Bool("kafka_enabled", cfg.Events.Kafka.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	st, err := app.openStore(logger)
	if err != nil {
		return err
	}
	defer st.Close()

	// Event sinks.
	broker := sse.NewBroker(cfg.Events.SSE.Heartbeat)
	publishers := events.Fanout{broker}
	if cfg.Events.Kafka.Enabled {
		kafka := events.NewKafkaPublisher(cfg.Events.Kafka.PublisherConfig(), logger)
		defer func() {
			if err := kafka.Close(); err != nil {
				logger.Warn("kafka publisher close failed", slog.String("error", err.Error()))
			}
		}()
		publishers = append(publishers, kafka)
	}

	engine := app.newEngine(st, publishers, logger)
	apiRouter := api.NewRouter(engine, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", api.Live)
	r.Get("/health/ready", api.Ready(st))

	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	r.Mount("/", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: cfg.App.HTTP.ReadHeaderTimeout,
		IdleTimeout:       cfg.App.HTTP.IdleTimeout,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Hot-reload the log level from the config file.
	if app.configPath != "" {
		g.Go(func() error {
			err := reload.Watch(gCtx, app.configPath, logger, func() {
				next := NewDefaultConfig()
				if err := pkgconfig.Load(app.configPath, next); err != nil {
					logger.Warn("config reload rejected", slog.String("error", err.Error()))
					return
				}
				level.Set(next.App.LogLevel)
				logger.Info("config reloaded", slog.String("log_level", next.App.LogLevel.String()))
			})
			if err != nil {
				logger.Warn("config watcher disabled", slog.String("error", err.Error()))
			}
			return nil
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

		// Closing the broker ends open /events streams so Shutdown can drain.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.HTTP.ShutdownTimeout)
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

// errShutdown cancels the group so background watchers stop with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over stdio. Logs go to stderr because stdout
// carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger, _ := app.newLogger(os.Stderr)

	st, err := app.openStore(logger)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := mcpserver.New(app.newEngine(st, events.Discard{}, logger), app.version)
	logger.Info("MCP server starting on stdio")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.ServeStdio(ctx)
}

// RunIdentify runs a single identify request and writes the consolidated
// identity to out as JSON.
func RunIdentify(ctx context.Context, req identity.Request, out io.Writer, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger, _ := app.newLogger(os.Stderr)

	st, err := app.openStore(logger)
	if err != nil {
		return err
	}
	defer st.Close()

	result, err := app.newEngine(st, events.Discard{}, logger).Identify(ctx, req)
	if err != nil {
		return fmt.Errorf("identify: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(api.IdentifyResponse{Contact: result})
}

// RunMigrate applies pending schema migrations and exits.
func RunMigrate(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger, _ := app.newLogger(os.Stdout)

	st, err := app.openStore(logger)
	if err != nil {
		return err
	}
	return st.Close()
}
