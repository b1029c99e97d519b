package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"fastanalytics/internal/config"
	"fastanalytics/internal/db"
	"fastanalytics/internal/http/handlers"
	appmw "fastanalytics/internal/http/middleware"
	"fastanalytics/internal/logging"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(gdb); err != nil {
			logger.Warn("failed to close database pool", zap.Error(err))
		}
	}()

	reg, err := db.NewRegistry(nil)
	if err != nil {
		logger.Fatal("failed to parse hypertable models", zap.Error(err))
	}
	if err := db.Bootstrap(ctx, gdb, reg, logger); err != nil {
		logger.Fatal("failed to bootstrap database", zap.Error(err))
	}

	events, err := db.NewEventRepository(gdb, reg)
	if err != nil {
		logger.Fatal("failed to build event repository", zap.Error(err))
	}

	db.StartRetentionWorker(ctx, gdb, reg, cfg.RetentionDays, logger)

	sqlDB, err := gdb.DB()
	if err != nil {
		logger.Fatal("failed to access database pool", zap.Error(err))
	}

	handlers.InitPrometheusMetrics()

	r := handlers.NewRouter(handlers.Deps{
		Store:    events,
		DB:       sqlDB,
		Gatherer: prometheus.DefaultGatherer,
		Timeout:  cfg.StatementTimeout,
	})

	// Global middleware chain: compression, request id, request logger, metrics, then router
	handler := fasthttp.CompressHandlerLevel(
		appmw.RequestID(logger)(appmw.RequestLogger(handlers.Instrument(r.Handler))),
		cfg.GzipLevel,
	)

	server := &fasthttp.Server{
		Handler: handler,
		Name:    "fast-analytics",
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fast-analytics listening", zap.String("addr", cfg.ListenAddr), zap.String("environment", cfg.Environment))
		errCh <- server.ListenAndServe(cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logger.Error("graceful shutdown failed", zap.Error(err))
		}
	}
}
