package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/catalog"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/circuitbreaker"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/config"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/dlq"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/executor"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/flags"
	stepmetrics "github.com/therealutkarshpriyadarshi/pipeline/internal/metrics"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/observability"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/recorder"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/state"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/storage"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/storage/memory"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/validation"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/versions"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/api"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/api/handlers"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/api/middleware"
)

const version = "0.3.0"

var (
	envFile      = flag.String("env-file", ".env", "Optional .env file")
	port         = flag.String("port", "", "HTTP port, overrides PORT")
	migrate      = flag.Bool("migrate", true, "Apply database migrations on startup (postgres only)")
	timezone     = flag.String("timezone", "UTC", "Timezone for pipeline schedules")
	syncInterval = flag.Duration("schedule-sync", 30*time.Second, "How often pipeline schedules are reloaded")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited with error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{"version": version, "storage": cfg.StorageDriver}).Info("starting pipeline engine")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	var (
		repos     *storage.Repositories
		db        *storage.DB
		history   handlers.HistoryReader
		publisher []state.EventPublisher
	)
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		if *migrate {
			if err := storage.RunMigrations(&cfg.Database, cfg.MigrationsPath); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		var err error
		db, err = storage.NewDB(&cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		repos = storage.NewRepositories(db.DB)
		publisher = append(publisher, state.NewHistoryPublisher(db.DB))
		history = state.NewHistoryTracker(db.DB)
		logger.Info("database connection established")
	default:
		repos = memory.New().Repositories()
		logger.Warn("using in-memory storage, data is lost on restart")
	}

	// Redis and NATS
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis is unreachable, continuing")
		}
		publisher = append(publisher, state.NewRedisPublisher(redisClient))
	}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("pipeline-engine"))
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer nc.Drain()
		publisher = append(publisher, state.NewNATSPublisher(nc))
	}

	var flagProvider flags.Provider = flags.NewEnvProvider(logger)
	if cfg.FlagSource == config.FlagSourceRedis {
		flagProvider = flags.NewRedisProvider(redisClient, flagProvider, logger)
	}

	// Catalog and step resolution
	stepCatalog := catalog.New()
	if cfg.CatalogPath != "" {
		var err error
		if stepCatalog, err = catalog.LoadFile(cfg.CatalogPath); err != nil {
			return err
		}
	}
	registry := executor.NewRegistry()
	registry.Register("echo@1", executor.EchoStep)
	registerBuiltins(stepCatalog, registry, logger)
	breakers := circuitbreaker.NewSet(nil, logger)
	resolver := executor.ChainResolver{
		executor.NewHTTPResolver(stepCatalog, cfg.StepTimeout, logger).WithBreakers(breakers),
		registry,
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs := observability.NewMetrics(reg)

	deadLetters := dlq.NewQueue(cfg.DeadLetterSize, logger)
	recConfig := recorder.DefaultConfig()
	recConfig.QueueSize = cfg.TelemetryQueueSize
	recConfig.WriteTimeout = cfg.ProgressTimeout
	rec := recorder.New(recConfig, logger, obs).WithDeadLetters(deadLetters)

	engine := executor.NewEngine(executor.Dependencies{
		Versions:      repos.Versions,
		Runs:          repos.Runs,
		Telemetry:     repos.Telemetry,
		Resolver:      resolver,
		Flags:         flagProvider,
		Validator:     validation.NewAdapter(flagProvider, stepCatalog, logger),
		Metrics:       stepmetrics.NewAdapter(stepCatalog, logger),
		Recorder:      rec,
		States:        state.NewManager(state.NewMultiPublisher(publisher...)),
		Observability: obs,
		Logger:        logger,
	}, &executor.Config{
		MaxConcurrency:  cfg.MaxConcurrency,
		ProgressTimeout: cfg.ProgressTimeout,
	})

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		schedConfig := scheduler.DefaultConfig()
		schedConfig.Timezone = *timezone
		schedConfig.SyncInterval = *syncInterval
		schedConfig.AllowOverlap = cfg.SchedulerOverlap

		var err error
		if sched, err = scheduler.New(schedConfig, repos, engine, logger); err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	// HTTP
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer limiter.Stop()

	router := api.NewRouter(api.RouterConfig{
		Version:     version,
		Store:       versions.NewStore(repos, logger),
		Repos:       repos,
		Catalog:     stepCatalog,
		Engine:      engine,
		Gatherer:    reg,
		Breakers:    breakers,
		DeadLetters: deadLetters,
		History:     history,
		Logger:      logger,
		JWTSecret:   cfg.JWTSecret,
		RateLimiter: limiter,
	})
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET is not set, API authentication is disabled")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http server shutdown")
	}
	if sched != nil {
		sched.Stop()
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("engine shutdown")
	}
	if err := rec.Flush(shutdownCtx); err != nil {
		logger.WithError(err).Warn("telemetry flush")
	}
	rec.Close()

	logger.Info("server stopped")
	return nil
}

// registerBuiltins adds a catalog entry for every in-process step the
// catalog file does not describe
func registerBuiltins(c *catalog.Catalog, registry *executor.Registry, logger logrus.FieldLogger) {
	for _, id := range registry.IDs() {
		if _, err := c.Step(id); err == nil {
			continue
		}
		name, ver, _ := strings.Cut(id, "@")
		step := catalog.StepVersion{ID: id, Name: name, Version: ver, Description: "Built-in step"}
		if err := c.AddStep(step); err != nil {
			logger.WithError(err).WithField("step_version_id", id).Warn("failed to add built-in step to catalog")
		}
	}
}
