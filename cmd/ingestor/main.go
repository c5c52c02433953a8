// Command ingestor runs the Event Ingestor service: one chain monitor
// per configured chain, publishing deduplicated events onto Redis streams.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainbridge/webhook-pipeline/internal/ingestor"
	"github.com/chainbridge/webhook-pipeline/pkg/config"
	"github.com/chainbridge/webhook-pipeline/pkg/eventbus"
	"github.com/chainbridge/webhook-pipeline/pkg/models"
	"github.com/chainbridge/webhook-pipeline/pkg/observability"
)

func main() {
	configPath := flag.String("config", "configs/ingestor", "directory containing config.base.yaml")
	environment := flag.String("env", envOrDefault(), "deployment environment (development/staging/production)")
	flag.Parse()

	var cfg config.IngestorConfig
	if err := config.NewLoader(*configPath).Load(*environment, &cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLoggerWithLevel("ingestor", observability.LogLevel(cfg.Observability.LogLevel))
	metrics := observability.NewPrometheusMetricsClient("chainbridge", "ingestor")
	defer func() { _ = metrics.Close() }()

	tp := observability.NewTracerProvider("ingestor")
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

	chains := make([]models.Chain, 0, len(cfg.Chains))
	for _, c := range cfg.Chains {
		chains = append(chains, models.Chain{
			ID:              c.ID,
			Name:            c.Name,
			WebSocketURL:    c.WebSocketURL,
			Enabled:         true,
			ConfirmationLag: c.ConfirmationLag,
		})
	}

	manager := ingestor.NewManager(chains, cfg.DedupTTL, cfg.StreamMaxLen, bus, logger, metrics)

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
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if bus.IsHealthy() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	metricsSrv := &http.Server{Addr: cfg.Observability.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	manager.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info("ingestor stopped", nil)
}

func envOrDefault() string {
	if e := os.Getenv("ENVIRONMENT"); e != "" {
		return e
	}
	return "development"
}
