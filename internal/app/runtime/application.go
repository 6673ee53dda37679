// Package runtime assembles the gateway from configuration: stores,
// provider clients, services, the middleware chain and the HTTP server.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"

	app "github.com/lenslab/vision-gateway/internal/app"
	"github.com/lenslab/vision-gateway/internal/app/cache"
	"github.com/lenslab/vision-gateway/internal/app/httpapi"
	"github.com/lenslab/vision-gateway/internal/app/metrics"
	"github.com/lenslab/vision-gateway/internal/app/storage/postgres"
	"github.com/lenslab/vision-gateway/internal/azure/blob"
	"github.com/lenslab/vision-gateway/internal/azure/openai"
	"github.com/lenslab/vision-gateway/internal/azure/translator"
	"github.com/lenslab/vision-gateway/internal/azure/vision"
	"github.com/lenslab/vision-gateway/internal/config"
	"github.com/lenslab/vision-gateway/internal/middleware"
	"github.com/lenslab/vision-gateway/pkg/logger"
	"github.com/lenslab/vision-gateway/pkg/status"
)

// constructTimeout bounds provider client construction, which may reach
// out to Azure to verify the blob container.
const constructTimeout = 30 * time.Second

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg    *config.Config
	log    *logger.Logger
	app    *app.Application
	server *http.Server
	db     *sqlx.DB
	redis  *cache.Redis
}

// NewApplication constructs the gateway with configuration from the
// environment.
func NewApplication(build status.BuildInfo) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewApplicationWithConfig(cfg, build)
}

// NewApplicationWithConfig constructs the gateway from an explicit
// configuration.
func NewApplicationWithConfig(cfg *config.Config, build status.BuildInfo) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	ctx, cancel := context.WithTimeout(context.Background(), constructTimeout)
	defer cancel()

	stores, db, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	providers, redisCache, err := buildProviders(ctx, cfg, log)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("configure providers: %w", err)
	}

	application, err := app.New(stores, providers, app.Options{
		MaxImageBytes:   cfg.Limits.MaxImageBytes,
		RetentionMaxAge: cfg.Retention.MaxAge.Std(),
		SweepSchedule:   cfg.Retention.Schedule,
		HistoryLimit:    cfg.Limits.ChatHistory,
		MaxMessageChars: cfg.Limits.ChatMessage,
		ChatMaxTokens:   cfg.Limits.ChatMaxTokens,
		ChatTemperature: cfg.Limits.ChatTemperature,
		JWTSecret:       []byte(cfg.Auth.JWTSecret),
		TokenTTL:        cfg.Auth.TokenTTL.Std(),
	}, log)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("assemble application: %w", err)
	}

	handlerOpts := []httpapi.Option{httpapi.WithBuildInfo(build)}
	if db != nil {
		handlerOpts = append(handlerOpts, httpapi.WithReadyCheck("database", db.PingContext))
	}
	if redisCache != nil {
		handlerOpts = append(handlerOpts, httpapi.WithReadyCheck("redis", redisCache.Ping))
	}
	if cfg.Logging.AuditFile != "" {
		handlerOpts = append(handlerOpts, httpapi.WithAuditFile(cfg.Logging.AuditFile))
	}
	handler := httpapi.NewHandler(application, log, handlerOpts...)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      buildMiddleware(cfg, application, log, handler),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
	}

	return &Application{
		cfg:    cfg,
		log:    log,
		app:    application,
		server: server,
		db:     db,
		redis:  redisCache,
	}, nil
}

// App exposes the assembled services, mainly for tests.
func (a *Application) App() *app.Application { return a.app }

// Run starts the background services and the HTTP server, then blocks
// until the context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server, the background services and
// the store connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := a.app.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping services")
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}

	return nil
}

// buildStores opens Postgres when a DSN is configured. Without one the
// zero Stores value falls back to the in-memory store.
func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, *sqlx.DB, error) {
	if !cfg.Database.Enabled() {
		log.Info("no database configured, using in-memory stores")
		return app.Stores{}, nil, nil
	}

	db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime.Std())
	if err != nil {
		return app.Stores{}, nil, err
	}
	if err := postgres.Migrate(db.DB); err != nil {
		db.Close()
		return app.Stores{}, nil, fmt.Errorf("migrate: %w", err)
	}

	store := postgres.New(db)
	return app.Stores{
		Images:        store,
		Analyses:      store,
		Conversations: store,
		APIKeys:       store,
	}, db, nil
}

// buildProviders constructs the configured provider clients. Unconfigured
// providers stay nil; the owning services answer 501 for them.
func buildProviders(ctx context.Context, cfg *config.Config, log *logger.Logger) (app.Providers, *cache.Redis, error) {
	var providers app.Providers

	if cfg.Vision.Enabled() {
		client, err := vision.NewClient(cfg.Vision.Endpoint, cfg.Vision.Key, log)
		if err != nil {
			return app.Providers{}, nil, fmt.Errorf("vision client: %w", err)
		}
		providers.Vision = client
	}
	if cfg.OpenAI.Enabled() {
		client, err := openai.NewClient(cfg.OpenAI.Endpoint, cfg.OpenAI.Key, cfg.OpenAI.Deployment, log)
		if err != nil {
			return app.Providers{}, nil, fmt.Errorf("openai client: %w", err)
		}
		providers.Completer = client
	}
	if cfg.Translator.Enabled() {
		client, err := translator.NewClient(cfg.Translator.Endpoint, cfg.Translator.Key, cfg.Translator.Region, log)
		if err != nil {
			return app.Providers{}, nil, fmt.Errorf("translator client: %w", err)
		}
		providers.Translator = client
	}
	if cfg.Blob.Enabled() {
		store, err := blob.NewAzureStore(ctx, blob.AzureConfig{
			AccountName: cfg.Blob.AccountName,
			AccountKey:  cfg.Blob.AccountKey,
			Container:   cfg.Blob.Container,
			Endpoint:    cfg.Blob.Endpoint,
		}, log)
		if err != nil {
			return app.Providers{}, nil, fmt.Errorf("blob store: %w", err)
		}
		providers.Blobs = store
	}

	var redisCache *cache.Redis
	if cfg.Redis.Enabled() {
		redisCache = cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL.Std(), log)
		providers.Cache = redisCache
	}

	return providers, redisCache, nil
}

// buildMiddleware wraps the API handler with the request pipeline:
// metrics, tracing, CORS, then authentication and per-key rate limiting.
func buildMiddleware(cfg *config.Config, application *app.Application, log *logger.Logger, handler http.Handler) http.Handler {
	limiter := middleware.NewRateLimiter(cfg.Limits.RatePerSecond, cfg.Limits.RateBurst, log)
	limiter.StartCleanup(10 * time.Minute)
	root := limiter.Handler(handler)

	if cfg.Auth.Enabled {
		auth := middleware.NewAuthMiddleware(application.Keys, cfg.Auth.AdminToken, log, []string{
			"/healthz", "/readyz", "/metrics", "/auth/token",
		})
		root = auth.Handler(root)
	}

	root = middleware.NewCORSMiddleware(cfg.Server.Origins()).Handler(root)
	root = middleware.NewTracingMiddleware(log).Handler(root)
	return metrics.InstrumentHandler(root)
}
