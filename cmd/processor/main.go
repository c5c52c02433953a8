// Command processor runs the Message Processor service: it consumes
// per-chain event streams and enqueues matching DeliveryJobs.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainbridge/webhook-pipeline/internal/processor"
	"github.com/chainbridge/webhook-pipeline/pkg/config"
	"github.com/chainbridge/webhook-pipeline/pkg/eventbus"
	"github.com/chainbridge/webhook-pipeline/pkg/observability"
	"github.com/chainbridge/webhook-pipeline/pkg/repository"
)

func main() {
	configPath := flag.String("config", "configs/processor", "directory containing config.base.yaml")
	environment := flag.String("env", envOrDefault(), "deployment environment")
	flag.Parse()

	var cfg config.ProcessorConfig
	if err := config.NewLoader(*configPath).Load(*environment, &cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLoggerWithLevel("processor", observability.LogLevel(cfg.Observability.LogLevel))
	metrics := observability.NewPrometheusMetricsClient("chainbridge", "processor")
	defer func() { _ = metrics.Close() }()

	tp := observability.NewTracerProvider("processor")
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	bus, err := eventbus.New(eventbus.Config{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
	}, logger)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer func() { _ = bus.Close() }()

	sqlDB, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	db := sqlx.NewDb(sqlDB, "postgres")
	defer func() { _ = db.Close() }()

	endpointRepo := repository.NewEndpointRepository(db)
	analyticsRepo := repository.NewAnalyticsRepository(db)

	cache, err := repository.NewEndpointCache(endpointRepo, logger, 10000)
	if err != nil {
		log.Fatalf("failed to create endpoint cache: %v", err)
	}

	svc := processor.New(processor.Config{
		ChainIDs:         cfg.ChainIDs,
		ConsumerGroup:    cfg.ConsumerGroup,
		BatchSize:        cfg.BatchSize,
		BlockDuration:    cfg.BlockDuration,
		ClaimMinIdleTime: cfg.ClaimMinIdleTime,
		ClaimInterval:    cfg.ClaimInterval,
		EndpointCacheTTL: cfg.EndpointCacheTTL,
	}, bus, cache, analyticsRepo, logger, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal", nil)
		cancel()
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.Observability.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	if err := svc.Run(ctx); err != nil {
		logger.Error("processor exited with error", map[string]interface{}{"error": err.Error()})
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info("processor stopped", nil)
}

func envOrDefault() string {
	if e := os.Getenv("ENVIRONMENT"); e != "" {
		return e
	}
	return "development"
}
