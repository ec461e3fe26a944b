package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/sundayezeilo/deeplink/attribution"
	"github.com/sundayezeilo/deeplink/checkstate"
	"github.com/sundayezeilo/deeplink/checkstate/pgstore"
	"github.com/sundayezeilo/deeplink/checkstate/redisstore"
	"github.com/sundayezeilo/deeplink/checkstate/sqlitestore"
	"github.com/sundayezeilo/deeplink/internal/config"
	"github.com/sundayezeilo/deeplink/internal/installs"
	"github.com/sundayezeilo/deeplink/internal/metrics"
	"github.com/sundayezeilo/deeplink/internal/server"
)

// App holds the application dependencies and configuration.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Server  *server.Server
	Handler *installs.Handler

	// Exactly one of these is set, depending on the state backend.
	DBPool *pgxpool.Pool
	Redis  *redis.Client
	SQLite *sqlitestore.Repo

	tracer *sdktrace.TracerProvider
}

// New initializes and returns a new App instance with all dependencies wired up.
func New(ctx context.Context) (*App, error) {
	if err := loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := SetupLogger(cfg.App.LogLevel)

	logger.Info("starting application",
		"env", cfg.App.Environment,
		"version", cfg.Observability.ServiceVersion,
		"state_backend", cfg.State.Backend,
	)

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
		tracer:  setupTracing(cfg.Observability, logger),
	}

	repo, err := a.openRepository(ctx)
	if err != nil {
		_ = a.Shutdown(ctx)
		return nil, fmt.Errorf("failed to open state backend: %w", err)
	}

	client, err := attribution.New(attribution.Config{
		BaseURL:    cfg.Attribution.BaseURL,
		APIKey:     cfg.Attribution.APIKey,
		Platform:   cfg.Attribution.Platform,
		MaxRetries: cfg.Attribution.MaxRetries,
		Timeout:    cfg.Attribution.RequestTimeout,
		OnRetry:    a.Metrics.AttributionRetry,
		Logger:     logger,
	})
	if err != nil {
		_ = a.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create attribution client: %w", err)
	}

	svc, err := installs.NewService(installs.ServiceConfig{
		Repo:            repo,
		Client:          client,
		AllowEmulator:   cfg.Attribution.AllowEmulator,
		ReferrerTimeout: cfg.Attribution.ReferrerTimeout,
		Recorder:        a.Metrics,
		Logger:          logger,
	})
	if err != nil {
		_ = a.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create install service: %w", err)
	}

	a.Handler = installs.NewHandler(installs.HandlerConfig{
		Service: svc,
		Logger:  logger,
	})
	a.Server = server.New(cfg, logger, a.Handler, a.Metrics)

	logger.Info("application initialized",
		"port", cfg.Server.Port,
		"attribution_url", cfg.Attribution.BaseURL,
	)

	return a, nil
}

// Start starts the application server.
func (a *App) Start(ctx context.Context) error {
	a.Logger.Info("server starting", "port", a.Config.Server.Port)

	if err := a.Server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown releases the state backend and flushes tracing.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	var errs []error

	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database connection closed")
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.SQLite != nil {
		if err := a.SQLite.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sqlite: %w", err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}

	return errors.Join(errs...)
}

// openRepository connects the configured state backend.
func (a *App) openRepository(ctx context.Context) (checkstate.Repository, error) {
	st := a.Config.State

	switch st.Backend {
	case config.BackendPostgres:
		pool, err := connectDatabase(ctx, &a.Config.Database, a.Logger)
		if err != nil {
			return nil, err
		}
		a.DBPool = pool
		return pgstore.New(pool), nil

	case config.BackendRedis:
		rdb, err := redisstore.NewClient(redisstore.ClientConfig{
			Address:  st.RedisAddress,
			Password: st.RedisPassword,
			DB:       st.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		a.Redis = rdb
		a.Logger.Info("redis connection established", "address", st.RedisAddress)
		return redisstore.New(rdb, redisstore.Config{Prefix: st.KeyPrefix, TTL: st.TTL}), nil

	case config.BackendSQLite:
		repo, err := sqlitestore.Open(ctx, st.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		a.SQLite = repo
		a.Logger.Info("sqlite state store opened", "driver", sqlitestore.DriverFor(st.SQLiteDSN))
		return repo, nil

	case config.BackendMemory:
		a.Logger.Warn("using in-memory state store; check state is lost on restart")
		return checkstate.NewMemory(), nil

	default:
		return nil, fmt.Errorf("unknown state backend %q", st.Backend)
	}
}

// loadEnv loads .env file only in non-production environments.
func loadEnv() error {
	env := os.Getenv("APP_ENV")
	if env == "development" || env == "test" {
		if err := godotenv.Load(); err != nil {
			log.Println("no .env file found.")
		}
	}
	return nil
}

// SetupLogger creates a JSON logger on stdout at the given level.
func SetupLogger(level string) *slog.Logger {
	return NewLogger(os.Stdout, level)
}

// NewLogger creates a JSON logger writing to w.
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupTracing installs a W3C trace context propagator and, when enabled, an
// SDK tracer provider sampling at the configured rate. No exporter is
// attached; spans are available to in-process span processors only.
func setupTracing(cfg config.ObservabilityConfig, logger *slog.Logger) *sdktrace.TracerProvider {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		return nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TracingSampleRate))),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
		)),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled",
		"service", cfg.ServiceName,
		"sample_rate", cfg.TracingSampleRate,
	)
	return tp
}

// connectDatabase establishes a connection to the PostgreSQL database.
func connectDatabase(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns

	logger.Info("connecting to database",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Name,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established")

	return pool, nil
}
