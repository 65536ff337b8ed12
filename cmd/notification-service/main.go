// cmd/notification-service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DavidGamba/go-getoptions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notification-service/internal/api"
	"notification-service/internal/common/auth"
	"notification-service/internal/common/config"
	"notification-service/internal/common/database"
	"notification-service/internal/common/logger"
	"notification-service/internal/common/observability"
	"notification-service/internal/events/dispatch"
	"notification-service/internal/events/journal"
	"notification-service/internal/events/router"
	"notification-service/internal/notification/service"
	"notification-service/internal/notification/store"
	"notification-service/internal/notification/templates"
)

type commandLineOptionValues struct {
	Config string
}

func parseCommandLine() *commandLineOptionValues {
	optionValues := &commandLineOptionValues{}
	opt := getoptions.New()

	opt.Bool("help", false, opt.Alias("h", "?"))
	opt.StringVar(&optionValues.Config, "config", "",
		opt.Alias("c"),
		opt.Description("path to a YAML configuration file; defaults to configs/config.yaml"))

	_, err := opt.Parse(os.Args[1:])
	if opt.Called("help") {
		fmt.Fprint(os.Stderr, opt.Help())
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n\n", err)
		fmt.Fprint(os.Stderr, opt.Help(getoptions.HelpSynopsis))
		os.Exit(1)
	}

	return optionValues
}

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func main() {
	options := parseCommandLine()

	cfg, err := loadConfig(options.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)
	zapLog.Info("Starting notification service...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Warn("observability disabled", zap.Error(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Init Redis with retry ---
	redisClient := database.NewRedis(cfg.Database.Redis)
	err = retryWithBackoff(func() error {
		return redisClient.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	zapLog.Info("Redis connected successfully")

	// --- Init PostgreSQL journal with retry ---
	var (
		pg       *database.PostgresClient
		recorder router.Recorder
	)
	if cfg.Journal.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			if pg == nil {
				pg, err = database.NewPostgres(cfg.Database.Postgres)
				if err != nil {
					return err
				}
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}

		j := journal.New(pg.DB)
		if err := j.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("journal schema setup failed", zap.Error(err))
		}
		recorder = j
		zapLog.Info("PostgreSQL delivery journal enabled")
	}

	// --- Notification core ---
	notificationStore := store.New(redisClient.Client, &store.Config{
		OperationTimeout: config.GetDuration(cfg.Database.Redis.OperationTimeout),
		UnreadScanLimit:  int64(cfg.Notifications.UnreadScanLimit),
		ScanCount:        100,
		MaxUpdateRetries: 5,
	}, log, store.WithObservability(obs))

	svc := service.NewService(service.ServiceDependencies{
		Store:     notificationStore,
		Templates: templates.NewRegistry(),
		Logger:    log,
	})

	dispatcher := dispatch.New(dispatch.Config{
		Workers:     cfg.Notifications.Dispatch.Workers,
		QueueSize:   cfg.Notifications.Dispatch.QueueSize,
		TaskTimeout: config.GetDuration(cfg.Notifications.Dispatch.TaskTimeout),
	}, log)

	eventRouter := router.NewRouter(router.Config{
		URI:           cfg.AMQP.URI,
		Exchange:      cfg.AMQP.Exchange,
		ExchangeType:  cfg.AMQP.ExchangeType,
		Prefetch:      cfg.AMQP.Prefetch,
		ConsumerTag:   cfg.AMQP.ConsumerTag,
		SubmitTimeout: config.GetDuration(cfg.AMQP.SubmitTimeout),
	}, router.RouterDependencies{
		Notifier:   svc,
		Dispatcher: dispatcher,
		Journal:    recorder,
		Logger:     log,
	})

	// The API keeps serving while the broker is down; /health reports it.
	if err := eventRouter.Connect(ctx); err != nil {
		zapLog.Error("event consumer not started", zap.Error(err))
	} else if err := eventRouter.StartConsuming(ctx); err != nil {
		zapLog.Error("event consumer not started", zap.Error(err))
	}

	if cfg.Notifications.Cleanup.Enabled {
		go svc.RunCleanup(ctx, config.GetDuration(cfg.Notifications.Cleanup.Interval), cfg.Notifications.Cleanup.Days)
		zapLog.Info("periodic cleanup enabled",
			zap.Int("days", cfg.Notifications.Cleanup.Days),
			zap.Int("interval_ms", cfg.Notifications.Cleanup.Interval),
		)
	}

	// --- HTTP API ---
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(api.Config{
		DefaultPageSize: cfg.Notifications.DefaultPageSize,
		MaxPageSize:     cfg.Notifications.MaxPageSize,
	}, api.ServerDependencies{
		Service:    svc,
		Authorizer: auth.NewAuthorizer(cfg.Auth),
		Bus:        eventRouter,
		Logger:     log,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Handler(),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		zapLog.Info("Shutdown signal received, stopping...")
	case <-ctx.Done():
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}
	eventRouter.Disconnect()
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		zapLog.Error("Error draining dispatcher", zap.Error(err))
	}
	if err := redisClient.Close(); err != nil {
		zapLog.Error("Error closing Redis client", zap.Error(err))
	}
	if pg != nil {
		if err := pg.Close(); err != nil {
			zapLog.Error("Error closing PostgreSQL", zap.Error(err))
		}
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down observability", zap.Error(err))
	}

	zapLog.Info("Notification service stopped gracefully")
}
