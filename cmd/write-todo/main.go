package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/todo-1m/todo-pathways/internal/app/query"
	"github.com/todo-1m/todo-pathways/internal/contracts"
	"github.com/todo-1m/todo-pathways/internal/eventlog"
	"github.com/todo-1m/todo-pathways/internal/events"
	"github.com/todo-1m/todo-pathways/internal/messaging"
	"github.com/todo-1m/todo-pathways/internal/platform/config"
	"github.com/todo-1m/todo-pathways/internal/platform/dbpool"
	"github.com/todo-1m/todo-pathways/internal/platform/logging"
	"github.com/todo-1m/todo-pathways/internal/platform/natsutil"
)

const projectionWait = 5 * time.Second

type step struct {
	label     string
	eventType string
	payload   any
	applied   func(contracts.Todo) bool
}

// write-todo appends a short lifecycle for a fresh to-do and prints the
// projected row after each event, once the pipeline has applied it.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWriter()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New("write-todo", cfg.LogLevel)
	ns := messaging.Namespace{Tenant: cfg.Broker.Tenant, DataCore: cfg.Broker.DataCore}

	pool, err := dbpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()
	todos := query.NewTodoRepository(pool)

	client, err := natsutil.ConnectJetStreamWithRetry(ctx, natsutil.Options{
		URL:       cfg.Broker.URL,
		Name:      "write-todo",
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
		nil,
		ns,
		logger,
	)

	id := uuid.NewString()
	description := "2 litres, semi-skimmed"
	steps := []step{
		{
			label:     "created",
			eventType: events.TodoCreatedV0,
			payload:   events.TodoCreated{ID: id, Title: "Buy milk", Description: &description, Done: false},
			applied:   func(t contracts.Todo) bool { return t.Title == "Buy milk" },
		},
		{
			label:     "renamed",
			eventType: events.TodoRenamedV0,
			payload:   events.TodoRenamed{ID: id, NewTitle: "Buy oat milk"},
			applied:   func(t contracts.Todo) bool { return t.Title == "Buy oat milk" },
		},
		{
			label:     "completed",
			eventType: events.TodoCompletedV0,
			payload:   events.TodoCompleted{ID: id},
			applied:   func(t contracts.Todo) bool { return t.Done },
		},
		{
			label:     "reopened",
			eventType: events.TodoReopenedV0,
			payload:   events.TodoReopened{ID: id},
			applied:   func(t contracts.Todo) bool { return !t.Done },
		},
	}

	for _, s := range steps {
		env, err := eventLog.Append(ctx, events.FlowTodoItems, s.eventType, s.payload)
		if err != nil {
			log.Fatalf("append %s: %v", s.eventType, err)
		}
		logger.Info("event appended", "event_id", env.EventID, "event_type", s.eventType, "todo_id", id)
		dump(ctx, todos, logger, id, s)
	}

	fmt.Println("demo events sent")
}

func dump(ctx context.Context, todos *query.TodoRepository, logger *slog.Logger, id string, s step) {
	deadline := time.Now().Add(projectionWait)
	for {
		todo, err := todos.GetTodo(ctx, id)
		switch {
		case err == nil && s.applied(todo):
			description := ""
			if todo.Description != nil {
				description = *todo.Description
			}
			fmt.Printf("%-10s id=%s title=%q description=%q done=%t\n", s.label, todo.ID, todo.Title, description, todo.Done)
			return
		case err != nil && !errors.Is(err, query.ErrTodoNotFound):
			logger.Warn("read-model query failed", "err", err)
		}
		if time.Now().After(deadline) {
			fmt.Printf("%-10s not projected within %s (is todo-api and webhook-relay running?)\n", s.label, projectionWait)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}
