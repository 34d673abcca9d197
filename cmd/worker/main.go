package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/customs-clearance/internal/bootstrap"
	"github.com/kirillkom/customs-clearance/internal/config"
	"github.com/kirillkom/customs-clearance/internal/core/domain"
	"github.com/kirillkom/customs-clearance/internal/observability/logging"
	"github.com/kirillkom/customs-clearance/internal/observability/metrics"
)

const serviceName = "clearance-worker"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:    serviceName,
		Logger:     logger,
		Registerer: workerMetrics.Registry(),
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	sweeper := app.NewSweeper(func(outcome string) {
		workerMetrics.RecordRetry(serviceName, outcome)
	})
	go sweeper.Run(ctx, cfg.AllocationRetryInterval(), func(err error) {
		workerMetrics.RecordSweep(serviceName, err)
	})

	logger.Info("worker_subscribed", "subject_prefix", cfg.NATSSubjectPrefix)
	err = app.Bus.Subscribe(ctx, func(handlerCtx context.Context, event domain.Notification) error {
		start := time.Now()
		workerMetrics.StartEvent()
		workerMetrics.ObserveEventLag(serviceName, start.Sub(event.OccurredAt))

		appendCtx, cancel := context.WithTimeout(handlerCtx, 10*time.Second)
		defer cancel()
		err := app.Audit.Append(appendCtx, event)
		workerMetrics.FinishEvent(serviceName, string(event.Type), time.Since(start), err)
		return err
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
