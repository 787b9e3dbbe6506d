package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/todo-1m/todo-pathways/internal/app/projection"
	"github.com/todo-1m/todo-pathways/internal/app/query"
	"github.com/todo-1m/todo-pathways/internal/app/todoapp"
	"github.com/todo-1m/todo-pathways/internal/eventlog"
	"github.com/todo-1m/todo-pathways/internal/events"
	"github.com/todo-1m/todo-pathways/internal/messaging"
	"github.com/todo-1m/todo-pathways/internal/platform/config"
	"github.com/todo-1m/todo-pathways/internal/platform/dbpool"
	"github.com/todo-1m/todo-pathways/internal/platform/logging"
	"github.com/todo-1m/todo-pathways/internal/platform/natsutil"
)

const statePurgeInterval = 10 * time.Minute

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPI()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New("todo-api", cfg.LogLevel)
	ns := messaging.Namespace{Tenant: cfg.Broker.Tenant, DataCore: cfg.Broker.DataCore}

	pool, err := dbpool.New(runCtx, cfg.PostgresURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	todoStore := projection.NewTodoRepository(pool)
	stateStore := eventlog.NewPostgresStateStore(pool, cfg.StateTTL)
	if err := dbpool.WaitReady(runCtx, pool, 30*time.Second, logger, todoStore.EnsureSchema, stateStore.EnsureSchema); err != nil {
		log.Fatal(err)
	}

	client, err := natsutil.ConnectJetStreamWithRetry(runCtx, natsutil.Options{
		URL:       cfg.Broker.URL,
		Name:      "todo-api",
		Token:     cfg.Broker.APIKey,
		Namespace: ns,
	}, 20*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	eventLog := eventlog.NewClient(
		eventlog.NewJetStreamBroker(client.JS, ns, logger),
		events.NewTodoRegistry(),
		stateStore,
		ns,
		logger.With("component", "eventlog"),
	)

	missing := projection.IgnoreMissing
	if cfg.StrictProjection {
		missing = projection.ReportMissing
	}
	app, err := todoapp.New(todoapp.Options{
		Log:           eventLog,
		Todos:         query.NewTodoRepository(pool),
		Store:         todoStore,
		State:         stateStore,
		WebhookSecret: cfg.WebhookSecret,
		AllowedOrigin: cfg.AllowedOrigin,
		Missing:       missing,
		Ready: []todoapp.ReadyCheck{
			func(context.Context) error { return client.Ready() },
			func(ctx context.Context) error {
				if err := pool.Ping(ctx); err != nil {
					return fmt.Errorf("postgres ping failed: %w", err)
				}
				return nil
			},
		},
		Logger: logger,
	})
	if err != nil {
		log.Fatal(err)
	}

	go purgeExpiredState(runCtx, stateStore, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("todo-api listening", "addr", cfg.HTTPAddr, "stream", ns.StreamName(), "routes", len(app.Router.Routes()))
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatal(err)
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}

func purgeExpiredState(ctx context.Context, store *eventlog.PostgresStateStore, logger *slog.Logger) {
	ticker := time.NewTicker(statePurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := store.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("purge processing state failed", "err", err)
				continue
			}
			logger.Debug("purged processing state", "rows", purged)
		}
	}
}
