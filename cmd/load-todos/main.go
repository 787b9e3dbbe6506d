package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/todo-1m/todo-pathways/internal/app/loadgen"
	"github.com/todo-1m/todo-pathways/internal/platform/config"
	"github.com/todo-1m/todo-pathways/internal/platform/logging"
	"github.com/todo-1m/todo-pathways/internal/platform/metrics"
)

func main() {
	cfg, err := config.LoadLoadGen()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New("load-todos", cfg.LogLevel)

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	go runMetricsServer(cfg.MetricsAddr, logger)

	runner := loadgen.NewRunner(loadgen.Config{
		APIBase:        cfg.APIBase,
		Clients:        cfg.Clients,
		Rate:           cfg.Rate,
		RampUp:         cfg.RampUp,
		RequestTimeout: cfg.RequestTimeout,
	}, logger)
	if err := runner.WaitReady(ctx, cfg.StartupWait); err != nil {
		log.Fatal(err)
	}
	logger.Info("load started",
		"clients", cfg.Clients,
		"duration", cfg.Duration.String(),
		"rate_per_client", cfg.Rate,
	)

	go runner.LogProgress(ctx, 10*time.Second)
	summary := runner.Run(ctx)

	logger.Info("load complete", "success_requests", summary.Success, "error_requests", summary.Errors)
}

func runMetricsServer(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "err", err)
	}
}
