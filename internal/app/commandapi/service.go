package commandapi

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/todo-1m/todo-pathways/internal/contracts"
	"github.com/todo-1m/todo-pathways/internal/events"
)

var ErrTitleRequired = errors.New("title is required")
var ErrIDRequired = errors.New("id is required")
var ErrNoChanges = errors.New("title or done is required")

// Appender is the event log. *eventlog.Client satisfies it.
type Appender interface {
	Append(ctx context.Context, flowType, eventType string, payload any) (contracts.Envelope, error)
}

// Service turns user intents into todo-item events. It never touches the
// read-model; results become visible once the events are projected.
type Service struct {
	Log   Appender
	NewID func() string
}

type CreateTodoRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
}

// UpdateTodoRequest is a partial update; absent fields are left unchanged.
type UpdateTodoRequest struct {
	Title *string `json:"title,omitempty"`
	Done  *bool   `json:"done,omitempty"`
}

func NewService(log Appender) *Service {
	return &Service{
		Log:   log,
		NewID: uuid.NewString,
	}
}

// Create appends a created event for a fresh id and returns the row the
// projection will eventually write.
func (s *Service) Create(ctx context.Context, req CreateTodoRequest) (contracts.Todo, error) {
	// Blank titles are rejected; others are stored as sent.
	if strings.TrimSpace(req.Title) == "" {
		return contracts.Todo{}, ErrTitleRequired
	}

	todo := contracts.Todo{
		ID:          s.NewID(),
		Title:       req.Title,
		Description: req.Description,
		Done:        false,
	}
	_, err := s.Log.Append(ctx, events.FlowTodoItems, events.TodoCreatedV0, events.TodoCreated{
		ID:          todo.ID,
		Title:       todo.Title,
		Description: todo.Description,
		Done:        false,
	})
	if err != nil {
		return contracts.Todo{}, err
	}
	return todo, nil
}

// Update appends renamed and/or completed/reopened. Input is validated in
// full before the first append, so a rejected request records nothing.
func (s *Service) Update(ctx context.Context, id string, req UpdateTodoRequest) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrIDRequired
	}
	if req.Title == nil && req.Done == nil {
		return ErrNoChanges
	}

	var title string
	if req.Title != nil {
		title = *req.Title
		if strings.TrimSpace(title) == "" {
			return ErrTitleRequired
		}
	}

	if req.Title != nil {
		if _, err := s.Log.Append(ctx, events.FlowTodoItems, events.TodoRenamedV0, events.TodoRenamed{ID: id, NewTitle: title}); err != nil {
			return err
		}
	}
	if req.Done != nil {
		eventType := events.TodoReopenedV0
		if *req.Done {
			eventType = events.TodoCompletedV0
		}
		// The payload shape is shared by completed and reopened.
		if _, err := s.Log.Append(ctx, events.FlowTodoItems, eventType, events.TodoCompleted{ID: id}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrIDRequired
	}
	_, err := s.Log.Append(ctx, events.FlowTodoItems, events.TodoDeletedV0, events.TodoDeleted{ID: id})
	return err
}
