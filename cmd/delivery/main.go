// Command delivery runs the Webhook Delivery service: a worker pool that
// pops jobs from the delivery queue and POSTs signed payloads to customer
// endpoints, plus a scheduler that moves due retries back onto the queue.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainbridge/webhook-pipeline/internal/delivery"
	"github.com/chainbridge/webhook-pipeline/pkg/config"
	"github.com/chainbridge/webhook-pipeline/pkg/eventbus"
	"github.com/chainbridge/webhook-pipeline/pkg/observability"
	"github.com/chainbridge/webhook-pipeline/pkg/repository"
)

func main() {
	configPath := flag.String("config", "configs/delivery", "directory containing config.base.yaml")
	environment := flag.String("env", envOrDefault(), "deployment environment")
	flag.Parse()

	var cfg config.DeliveryConfig
	if err := config.NewLoader(*configPath).Load(*environment, &cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLoggerWithLevel("delivery", observability.LogLevel(cfg.Observability.LogLevel))
	metrics := observability.NewPrometheusMetricsClient("chainbridge", "delivery")
	defer func() { _ = metrics.Close() }()

	tp := observability.NewTracerProvider("delivery")
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

	analyticsRepo := repository.NewAnalyticsRepository(db)

	chainNames := make(map[string]string, len(cfg.Chains))
	for _, c := range cfg.Chains {
		chainNames[c.ID] = c.Name
	}

	pool := delivery.New(delivery.Config{
		WorkerCount:    cfg.WorkerCount,
		MaxInflight:    cfg.MaxInflight,
		PopTimeout:     cfg.PopTimeout,
		BaseRetryDelay: cfg.BaseRetryDelay,
		MaxRetryDelay:  cfg.MaxRetryDelay,
		ChainNames:     chainNames,
	}, bus, analyticsRepo, logger, metrics)

	scheduler := delivery.NewScheduler(bus, logger, cfg.SchedulerTick, cfg.SchedulerBatch)

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

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info("delivery stopped", nil)
}

func envOrDefault() string {
	if e := os.Getenv("ENVIRONMENT"); e != "" {
		return e
	}
	return "development"
}
