package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/todo-1m/todo-pathways/internal/app/router"
	"github.com/todo-1m/todo-pathways/internal/contracts"
	"github.com/todo-1m/todo-pathways/internal/events"
	"github.com/todo-1m/todo-pathways/internal/platform/logging"
)

// ErrTodoMissing is reported under ReportMissing when an update targets an id
// that has no row.
var ErrTodoMissing = errors.New("todo not found in read-model")

// ProjectionError is a failed read-model write. The event is safe to redeliver.
type ProjectionError struct {
	EventType string
	TodoID    string
	Err       error
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("project %s for %s: %v", e.EventType, e.TodoID, e.Err)
}

func (e *ProjectionError) Unwrap() error { return e.Err }

// Store applies one atomic statement per event. The update methods report
// whether a row matched.
type Store interface {
	InsertTodo(ctx context.Context, todo contracts.Todo) error
	RenameTodo(ctx context.Context, id, title string) (bool, error)
	SetTodoDone(ctx context.Context, id string, done bool) (bool, error)
	DeleteTodo(ctx context.Context, id string) (bool, error)
}

// MissingRowPolicy decides what renamed/completed/reopened do when no row
// has the event's id. Deletes of a missing row always succeed.
type MissingRowPolicy int

const (
	IgnoreMissing MissingRowPolicy = iota
	ReportMissing
)

// Projector applies todo-item events to the read-model. Writes never read
// the row first, so re-applying an event leaves the same state.
type Projector struct {
	Store   Store
	Missing MissingRowPolicy
	Logger  *slog.Logger
}

func NewProjector(store Store, missing MissingRowPolicy, logger *slog.Logger) *Projector {
	return &Projector{Store: store, Missing: missing, Logger: logging.OrDefault(logger)}
}

func (p *Projector) Register(b *router.Builder) {
	router.Handle(b, events.FlowTodoItems, events.TodoCreatedV0, p.Created)
	router.Handle(b, events.FlowTodoItems, events.TodoRenamedV0, p.Renamed)
	router.Handle(b, events.FlowTodoItems, events.TodoCompletedV0, p.Completed)
	router.Handle(b, events.FlowTodoItems, events.TodoReopenedV0, p.Reopened)
	router.Handle(b, events.FlowTodoItems, events.TodoDeletedV0, p.Deleted)
}

// Created inserts the row, or does nothing if the id already exists.
func (p *Projector) Created(ctx context.Context, env contracts.Envelope, e events.TodoCreated) error {
	todo := contracts.Todo{ID: e.ID, Title: e.Title, Description: e.Description, Done: false}
	if err := p.Store.InsertTodo(ctx, todo); err != nil {
		return &ProjectionError{EventType: env.EventType, TodoID: e.ID, Err: err}
	}
	p.Logger.Info("todo item created", "todo_id", e.ID, "event_id", env.EventID)
	return nil
}

func (p *Projector) Renamed(ctx context.Context, env contracts.Envelope, e events.TodoRenamed) error {
	matched, err := p.Store.RenameTodo(ctx, e.ID, e.NewTitle)
	return p.updated(env, e.ID, matched, err)
}

func (p *Projector) Completed(ctx context.Context, env contracts.Envelope, e events.TodoCompleted) error {
	matched, err := p.Store.SetTodoDone(ctx, e.ID, true)
	return p.updated(env, e.ID, matched, err)
}

func (p *Projector) Reopened(ctx context.Context, env contracts.Envelope, e events.TodoReopened) error {
	matched, err := p.Store.SetTodoDone(ctx, e.ID, false)
	return p.updated(env, e.ID, matched, err)
}

func (p *Projector) Deleted(ctx context.Context, env contracts.Envelope, e events.TodoDeleted) error {
	matched, err := p.Store.DeleteTodo(ctx, e.ID)
	if err != nil {
		return &ProjectionError{EventType: env.EventType, TodoID: e.ID, Err: err}
	}
	p.Logger.Info("todo item deleted", "todo_id", e.ID, "event_id", env.EventID, "matched", matched)
	return nil
}

func (p *Projector) updated(env contracts.Envelope, id string, matched bool, err error) error {
	if err != nil {
		return &ProjectionError{EventType: env.EventType, TodoID: id, Err: err}
	}
	if !matched {
		if p.Missing == ReportMissing {
			return &ProjectionError{EventType: env.EventType, TodoID: id, Err: ErrTodoMissing}
		}
		p.Logger.Warn("event for unknown todo ignored", "todo_id", id, "event_type", env.EventType, "event_id", env.EventID)
		return nil
	}
	p.Logger.Info("todo item updated", "todo_id", id, "event_type", env.EventType, "event_id", env.EventID)
	return nil
}
