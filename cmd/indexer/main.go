package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"catalog-search-indexer/internal/app"
	"catalog-search-indexer/internal/config"
	"catalog-search-indexer/internal/dispatcher"
	"catalog-search-indexer/internal/queue"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "component", "indexer", "error", err)
		os.Exit(1)
	}

	// ── Infrastructure ─────────────────────────────────────────────────────────

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "component", "indexer", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	consumer, err := queue.NewConsumer(cfg.RabbitMQURL, cfg.EventQueue)
	if err != nil {
		slog.Error("rabbitmq connect failed", "component", "indexer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	d := dispatcher.New(application.DB, application.Manager)

	// ── Metrics endpoint ───────────────────────────────────────────────────────

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "component", "indexer", "error", err)
		}
	}()

	// ── Scheduled full reindex ─────────────────────────────────────────────────

	scheduler := cron.New()
	if cfg.ReindexSchedule != "" {
		_, err := scheduler.AddFunc(cfg.ReindexSchedule, func() {
			scopes, err := application.Scopes(ctx)
			if err != nil {
				slog.Error("scope enumeration failed", "component", "indexer", "error", err)
				return
			}
			if err := application.Manager.ReindexAll(ctx, scopes); err != nil {
				slog.Error("scheduled reindex failed", "component", "indexer", "error", err)
			}
		})
		if err != nil {
			slog.Error("invalid reindex schedule", "component", "indexer",
				"schedule", cfg.ReindexSchedule, "error", err)
			os.Exit(1)
		}
		scheduler.Start()
		slog.Info("reindex scheduled", "component", "indexer", "schedule", cfg.ReindexSchedule)
	}

	// ── Run ────────────────────────────────────────────────────────────────────
	//
	// ctx is cancelled on SIGINT/SIGTERM; the consume loop finishes the
	// in-flight event and returns before connections close.

	err = consumer.Consume(ctx, func(ctx context.Context, body []byte) error {
		ev, err := dispatcher.Decode(body)
		if err != nil {
			if errors.Is(err, dispatcher.ErrUnknownEvent) {
				slog.Warn("event ignored", "component", "indexer", "payload", string(body))
				return nil
			}
			return err
		}
		return d.Dispatch(ctx, ev)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consume loop error", "component", "indexer", "error", err)
	}

	// ── Graceful shutdown ──────────────────────────────────────────────────────

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsServer.Shutdown(shutdownCtx)
	<-scheduler.Stop().Done()

	slog.Info("indexer stopped", "component", "indexer")
}
