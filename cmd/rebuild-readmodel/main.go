package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/todo-1m/todo-pathways/internal/app/projection"
	"github.com/todo-1m/todo-pathways/internal/app/rebuild"
	"github.com/todo-1m/todo-pathways/internal/app/router"
	"github.com/todo-1m/todo-pathways/internal/events"
	"github.com/todo-1m/todo-pathways/internal/messaging"
	"github.com/todo-1m/todo-pathways/internal/platform/config"
	"github.com/todo-1m/todo-pathways/internal/platform/dbpool"
	"github.com/todo-1m/todo-pathways/internal/platform/logging"
	"github.com/todo-1m/todo-pathways/internal/platform/natsutil"
)

// rebuild-readmodel truncates the todo table and replays the namespace's
// stream into it. Stop webhook-relay first.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWriter()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New("rebuild-readmodel", cfg.LogLevel)
	ns := messaging.Namespace{Tenant: cfg.Broker.Tenant, DataCore: cfg.Broker.DataCore}

	pool, err := dbpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	todoStore := projection.NewTodoRepository(pool)
	if err := dbpool.WaitReady(ctx, pool, 30*time.Second, logger, todoStore.EnsureSchema); err != nil {
		log.Fatal(err)
	}

	client, err := natsutil.ConnectJetStreamWithRetry(ctx, natsutil.Options{
		URL:       cfg.Broker.URL,
		Name:      "rebuild-readmodel",
		Token:     cfg.Broker.APIKey,
		Namespace: ns,
	}, 20*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	builder := router.NewBuilder(events.NewTodoRegistry())
	projection.NewProjector(todoStore, projection.IgnoreMissing, logger).Register(builder)
	r, err := builder.Build(logger)
	if err != nil {
		log.Fatal(err)
	}

	src, err := rebuild.OpenStream(client.JS, ns)
	if err != nil {
		log.Fatal(err)
	}
	defer src.Close()

	started := time.Now()
	stats, err := rebuild.NewService(r, todoStore, logger).Replay(ctx, src)
	if err != nil {
		log.Fatalf("replay stopped after seq %d: %v", stats.LastSeq, err)
	}
	logger.Info("read-model rebuilt",
		"applied", stats.Applied,
		"skipped", stats.Skipped,
		"last_seq", stats.LastSeq,
		"took", time.Since(started).Round(time.Millisecond),
	)
}
