package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haulcrm/integrations/internal/config"
	"github.com/haulcrm/integrations/internal/infra/http"
	"github.com/haulcrm/integrations/internal/infra/http/routes"
	"github.com/haulcrm/integrations/internal/infra/jobs"
	"github.com/haulcrm/integrations/internal/infra/postgres"
	"github.com/haulcrm/integrations/internal/infra/redis"
	"github.com/haulcrm/integrations/pkg/crypto"
	"github.com/haulcrm/integrations/pkg/logger"
	"github.com/haulcrm/integrations/pkg/validator"
)

// Command line flags.
var (
	showRoutes  = flag.Bool("routes", false, "Print all registered routes and exit")
	routeFormat = flag.String("route-format", "table", "Route output format: table, json, csv, simple")
	routeMethod = flag.String("route-method", "", "Filter routes by HTTP method")
	routePath   = flag.String("route-path", "", "Filter routes containing this path")
	routeSort   = flag.String("route-sort", "path", "Sort routes by: path, method, handler")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDefault()
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	log := initLogger(cfg)
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env)

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	db, err := postgres.New(&cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer closeWithLog(db, "database", log)
	log.Info("database connected")

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(context.Background(), db); err != nil {
			log.Error("failed to run migrations", "error", err)
			return 1
		}
		log.Info("database migrations applied")
	}

	redisClient, err := redis.New(&cfg.Redis, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		return 1
	}
	defer closeWithLog(redisClient, "redis", log)
	log.Info("redis connected")

	// ==========================================================================
	// Repositories
	// ==========================================================================
	repos := NewRepositories(db)
	if cfg.Crypto.ConfigEncryptionKey != "" {
		cipher, err := crypto.NewCipherFromHex(cfg.Crypto.ConfigEncryptionKey)
		if err != nil {
			log.Error("invalid CONFIG_ENCRYPTION_KEY", "error", err)
			return 1
		}
		repos.Integration.SetEncryptor(cipher)
		log.Info("config encryption enabled")
	}
	log.Info("repositories initialized")

	// ==========================================================================
	// Services
	// ==========================================================================
	services, err := NewServices(&ServiceDeps{
		Config:      cfg,
		Log:         log,
		Repos:       repos,
		RedisClient: redisClient,
	})
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		return 1
	}
	log.Info("services initialized")

	// ==========================================================================
	// Job Queue
	// ==========================================================================
	jobClient, err := jobs.NewClient(jobs.ClientConfig{
		RedisAddr:     cfg.Redis.Addr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	}, log)
	if err != nil {
		log.Error("failed to initialize job client", "error", err)
		return 1
	}
	defer closeWithLog(jobClient, "job client", log)

	// ==========================================================================
	// Handlers
	// ==========================================================================
	v := validator.New()
	handlers := NewHandlers(&HandlerDeps{
		Log:         log,
		Validator:   v,
		DB:          db,
		RedisClient: redisClient,
		Services:    services,
	})

	// ==========================================================================
	// HTTP Server
	// ==========================================================================
	server := http.NewServer(cfg, log)
	routes.Register(server.Router(), handlers)

	// Handle --routes flag
	if *showRoutes {
		stats := http.CollectRoutes(server.Router())
		filters := http.RouteFilters{
			Method: *routeMethod,
			Path:   *routePath,
			SortBy: *routeSort,
		}
		http.PrintRoutes(os.Stdout, stats, *routeFormat, filters)
		return 0
	}

	// ==========================================================================
	// Workers
	// ==========================================================================
	workers, err := NewWorkers(&WorkerDeps{
		Config:    cfg,
		Log:       log,
		JobClient: jobClient,
		Repos:     repos,
		Services:  services,
	})
	if err != nil {
		log.Error("failed to initialize workers", "error", err)
		return 1
	}
	if workers != nil {
		workers.Start(log)
	}

	// Resume delivery chains interrupted by the previous shutdown before
	// the server takes new traffic.
	if _, err := services.Dispatcher.Recover(context.Background()); err != nil {
		log.Error("failed to resume interrupted deliveries", "error", err)
		return 1
	}

	// ==========================================================================
	// Start Server
	// ==========================================================================
	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", "error", err)
		}
	}()
	log.Info("application started", "http_addr", cfg.Server.Addr())

	// ==========================================================================
	// Graceful Shutdown
	// ==========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop workers first so no new sweeps or retention runs start.
	if workers != nil {
		workers.Stop(log)
	}

	// Drain in-flight webhook deliveries and cancel retry timers.
	if err := services.Dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Error("dispatcher drain error", "error", err)
	}

	// Then stop server
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return 1
	}

	log.Info("application stopped")
	return 0
}

// =============================================================================
// Helper Functions
// =============================================================================

func initLogger(cfg *config.Config) *logger.Logger {
	var log *logger.Logger
	if cfg.IsProduction() {
		// SamplingThreshold is validated to be non-negative in config validation
		//nolint:gosec // G115: safe conversion, value validated non-negative in config.Validate()
		threshold := uint64(cfg.Log.SamplingThreshold)
		log = logger.NewProductionWithConfig(logger.SamplingConfig{
			Enabled:   cfg.Log.SamplingEnabled,
			Tick:      time.Second,
			Threshold: threshold,
			Rate:      cfg.Log.SamplingRate,
			ErrorRate: cfg.Log.ErrorSamplingRate,
		})
	} else {
		log = logger.NewDevelopment()
	}
	log.SetDefault()
	return log
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
