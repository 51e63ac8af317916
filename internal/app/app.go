// Package app wires configuration, storage, the verification engine and
// the HTTP transport into a runnable service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"keygate/internal/config"
	"keygate/internal/distribution"
	"keygate/internal/infrastructure"
	"keygate/internal/licensing"
	"keygate/internal/metrics"
	custommw "keygate/internal/middleware"
	"keygate/internal/ratelimit"
	"keygate/internal/security"
	"keygate/internal/storage"
	"keygate/internal/store"
	handlers "keygate/internal/transport/http"
	"keygate/internal/watermark"
	"keygate/internal/webhook"
)

// Application is the dependency container. Every collaborator is injected
// explicitly; there is no module-global state.
type Application struct {
	Config   *config.Config
	Logger   *slog.Logger
	Router   *chi.Mux
	Server   *http.Server
	DB       *gorm.DB
	Redis    *redis.Client
	Verifier *licensing.Verifier
	Download *distribution.Orchestrator
}

// New builds the application from configuration.
func New(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger := infrastructure.NewLogger(cfg.Logging)
	logger.Info("application starting",
		slog.Int("port", cfg.Server.Port),
		slog.Bool("development", cfg.Development),
	)

	db, err := store.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := store.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	return build(cfg, logger, db, redisClient)
}

// build assembles the object graph; split from New so tests can inject
// fakes for the external stores.
func build(cfg *config.Config, logger *slog.Logger, db *gorm.DB, redisClient *redis.Client) (*Application, error) {
	repo := store.New(db)
	hasher := licensing.NewLookupHasher(cfg.Security.LookupHMACSecret)
	limiter := ratelimit.NewLimiter(redisClient, cfg.Development, logger)
	trusted := ratelimit.NewTrustedSources(cfg.Security.TrustedLicenses, cfg.Security.TrustedTeams)
	signer := security.NewSigner()
	unwrapper := security.NewSessionKeyUnwrapper()
	var events licensing.EventRecorder = webhook.NopRecorder{}
	if cfg.Webhooks.Enabled {
		events = webhook.NewRecorder(db, logger)
	}
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	objectStore, err := buildObjectStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	var marker *watermark.Client
	if cfg.Watermark.URL != "" {
		marker = watermark.NewClient(cfg.Watermark.URL, cfg.Watermark.Timeout, logger)
	}
	pipeline := distribution.NewPipeline(objectStore, cfg.Storage.Bucket, marker, hasher, collector)

	verifier := licensing.NewVerifier(licensing.VerifierConfig{
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimitMax:     cfg.RateLimit.MaxRequests,
		RateLimitWindow:  cfg.RateLimit.Window,
	}, repo, limiter, trusted, signer, hasher, events, collector, logger)

	download := distribution.NewOrchestrator(distribution.Config{
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimitMax:     cfg.RateLimit.MaxRequests,
		RateLimitWindow:  cfg.RateLimit.Window,
		SessionMax:       cfg.RateLimit.SessionMax,
		SessionWindow:    cfg.RateLimit.SessionWindow,
	}, repo, limiter, trusted, unwrapper, hasher, pipeline, events, collector, logger)

	app := &Application{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Redis:    redisClient,
		Verifier: verifier,
		Download: download,
	}
	app.Router = app.buildRouter()
	app.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        app.Router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	return app, nil
}

func buildObjectStore(cfg config.StorageConfig) (storage.ObjectStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "filesystem":
		return storage.NewFilesystemStore(cfg.Root), nil
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("http storage backend requires a base url")
		}
		return storage.NewHTTPStore(cfg.BaseURL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Backend)
	}
}

func (app *Application) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommw.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(custommw.StructuredLogger(app.Logger))
	r.Use(custommw.Recoverer(app.Logger))
	if app.Config.RateLimit.Enabled {
		r.Use(custommw.NewFailsafeLimiter(app.Config.RateLimit.LocalRPS, app.Config.RateLimit.LocalBurst, app.Logger).Handler)
	}

	health := handlers.NewHealthHandler(app.DB, app.Redis, app.Logger)
	verify := handlers.NewVerifyHandler(app.Verifier, app.Config.Security.GeoCountryHeader, app.Logger)
	download := handlers.NewDownloadHandler(app.Download, app.Config.Security.GeoCountryHeader, app.Logger)

	r.Get("/healthz", health.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1/client", func(r chi.Router) {
		verify.Routes(r)
		download.Routes(r)
	})

	return r
}

// Run starts the HTTP server and blocks until shutdown completes.
func (app *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.Logger.Info("server listening", slog.String("addr", app.Server.Addr))
		if err := app.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		app.Logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := app.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}

		if err := app.Redis.Close(); err != nil {
			app.Logger.Warn("redis close failed", slog.String("error", err.Error()))
		}
		if sqlDB, err := app.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				app.Logger.Warn("database close failed", slog.String("error", err.Error()))
			}
		}
		return nil
	})

	return g.Wait()
}
