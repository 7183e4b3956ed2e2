package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/t77yq/taskforge/internal/config"
	"github.com/t77yq/taskforge/internal/event"
	"github.com/t77yq/taskforge/internal/executor"
	"github.com/t77yq/taskforge/internal/handler"
	"github.com/t77yq/taskforge/internal/monitor"
	"github.com/t77yq/taskforge/internal/scheduler"
	"github.com/t77yq/taskforge/internal/storage"
)

func main() {
	cfg, err := config.Load("./config")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Task store
	store, err := storage.NewSQLiteStore(logger, cfg.Storage.Path)
	if err != nil {
		logger.Fatal("Failed to open task store", zap.Error(err))
	}
	defer store.Close()

	// Lifecycle event bus, with an optional NATS sink for dashboards
	events := event.NewBus(logger)
	defer events.Close()

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = connectNATS(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()

		js, err := nc.JetStream()
		if err != nil {
			logger.Fatal("Failed to create JetStream context", zap.Error(err))
		}
		sink, err := event.NewNATSSink(js, logger)
		if err != nil {
			logger.Fatal("Failed to create NATS event sink", zap.Error(err))
		}
		events.SubscribeAll(sink.Handle)
	}

	// Handler registry, populated at startup. Persisted tasks reference
	// these by name only.
	registry := handler.NewRegistry(logger)
	registry.Register("http_request", handler.NewHTTPRequestHandler(logger).Handle)
	registry.Register("shell_command", handler.NewShellCommandHandler(logger).Handle)
	registry.Register("data_processing", handler.NewDataProcessingHandler(logger).Handle)
	registry.Register("file_operation", handler.NewFileOperationHandler(logger, os.TempDir()).Handle)
	if containerHandler, err := handler.NewContainerCommandHandler(logger); err != nil {
		logger.Warn("Container handler unavailable", zap.Error(err))
	} else {
		registry.Register("container_command", containerHandler.Handle)
		defer containerHandler.Close()
	}

	logger.Info("Registered handlers", zap.Strings("names", registry.Names()))

	sched, err := scheduler.New(scheduler.Options{
		PollInterval:       cfg.Scheduler.PollInterval,
		GatingDelay:        cfg.Scheduler.GatingDelay,
		MaxConcurrentTasks: cfg.Scheduler.MaxConcurrentTasks,
		QueueSize:          cfg.Scheduler.QueueSize,
		DispatchTimeout:    cfg.Scheduler.DispatchTimeout,
		DefaultMaxRetries:  cfg.Scheduler.DefaultMaxRetries,
		DefaultTimeout:     cfg.Scheduler.DefaultTimeout,
		RetryBackoff: &executor.ExponentialBackoff{
			InitialDelay: cfg.Scheduler.RetryBaseDelay,
			MaxDelay:     cfg.Scheduler.RetryMaxDelay,
			Multiplier:   2,
		},
		CleanupInterval: cfg.Cleanup.Interval,
		Retention:       cfg.Cleanup.Retention,
	}, registry, store, events, logger)
	if err != nil {
		logger.Fatal("Failed to create scheduler", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)

	collector := monitor.NewMetricsCollector(sched, cfg.Monitor.Interval, logger)
	collector.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	cancel()
	collector.Stop()
	sched.Stop()

	logger.Info("Server shut down gracefully")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func connectNATS(cfg *config.Config, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	var err error
	for attempt := 1; attempt <= 5; attempt++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))
			return nc, nil
		}
		logger.Warn("Failed to connect to NATS, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(attempt))
	}
	return nil, err
}
