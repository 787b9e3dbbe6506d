package projection

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/todo-1m/todo-pathways/internal/app/query"
	"github.com/todo-1m/todo-pathways/internal/app/router"
	"github.com/todo-1m/todo-pathways/internal/contracts"
	"github.com/todo-1m/todo-pathways/internal/events"
	"github.com/todo-1m/todo-pathways/internal/platform/logging"
)

func newPipeline(t *testing.T, missing MissingRowPolicy) (*router.Router, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	b := router.NewBuilder(events.NewTodoRegistry())
	NewProjector(store, missing, logging.Discard()).Register(b)
	r, err := b.Build(logging.Discard())
	require.NoError(t, err)
	return r, store
}

func apply(t *testing.T, r *router.Router, eventType string, payload any) error {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return r.Dispatch(context.Background(), contracts.Envelope{
		EventID:   "evt-" + eventType,
		FlowType:  events.FlowTodoItems,
		EventType: eventType,
		Payload:   raw,
	})
}

func strPtr(s string) *string { return &s }

func TestRegisterCoversEveryTodoEvent(t *testing.T) {
	r, _ := newPipeline(t, IgnoreMissing)
	require.Len(t, r.Routes(), len(events.TodoSchemas()))
}

func TestCreatedIsIdempotent(t *testing.T) {
	r, store := newPipeline(t, IgnoreMissing)
	created := events.TodoCreated{ID: "t1", Title: "Buy milk", Description: strPtr("2L")}

	require.NoError(t, apply(t, r, events.TodoCreatedV0, created))
	require.NoError(t, apply(t, r, events.TodoCreatedV0, created))

	rows, err := store.ListTodos(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Buy milk", rows[0].Title)
	require.Equal(t, "2L", *rows[0].Description)
	require.False(t, rows[0].Done)
}

func TestRedeliveredCreateDoesNotRevertLaterChanges(t *testing.T) {
	r, store := newPipeline(t, IgnoreMissing)
	created := events.TodoCreated{ID: "t1", Title: "Buy milk"}

	require.NoError(t, apply(t, r, events.TodoCreatedV0, created))
	require.NoError(t, apply(t, r, events.TodoRenamedV0, events.TodoRenamed{ID: "t1", NewTitle: "Buy oat milk"}))
	require.NoError(t, apply(t, r, events.TodoCompletedV0, events.TodoCompleted{ID: "t1"}))
	require.NoError(t, apply(t, r, events.TodoCreatedV0, created))

	got, err := store.GetTodo(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, "Buy oat milk", got.Title)
	require.True(t, got.Done)
	require.Nil(t, got.Description)
}

func TestTogglesConvergeUnderRepetition(t *testing.T) {
	sequences := [][]string{
		{events.TodoCompletedV0, events.TodoReopenedV0, events.TodoCompletedV0},
		{events.TodoCompletedV0, events.TodoCompletedV0, events.TodoReopenedV0, events.TodoReopenedV0, events.TodoCompletedV0},
		{events.TodoCompletedV0, events.TodoReopenedV0, events.TodoCompletedV0, events.TodoCompletedV0, events.TodoCompletedV0},
	}
	for _, seq := range sequences {
		r, store := newPipeline(t, IgnoreMissing)
		require.NoError(t, apply(t, r, events.TodoCreatedV0, events.TodoCreated{ID: "t1", Title: "x"}))
		for _, eventType := range seq {
			require.NoError(t, apply(t, r, eventType, map[string]string{"id": "t1"}))
		}
		got, err := store.GetTodo(context.Background(), "t1")
		require.NoError(t, err)
		require.True(t, got.Done, "sequence %v", seq)
	}
}

func TestDeleteMissingIsNoop(t *testing.T) {
	for _, policy := range []MissingRowPolicy{IgnoreMissing, ReportMissing} {
		r, store := newPipeline(t, policy)
		require.NoError(t, apply(t, r, events.TodoCreatedV0, events.TodoCreated{ID: "t1", Title: "keep"}))

		require.NoError(t, apply(t, r, events.TodoDeletedV0, events.TodoDeleted{ID: "ghost"}))
		require.NoError(t, apply(t, r, events.TodoDeletedV0, events.TodoDeleted{ID: "t1"}))
		require.NoError(t, apply(t, r, events.TodoDeletedV0, events.TodoDeleted{ID: "t1"}))

		rows, err := store.ListTodos(context.Background())
		require.NoError(t, err)
		require.Empty(t, rows)
	}
}

func TestUpdatesOnMissingRowNeverInsert(t *testing.T) {
	r, store := newPipeline(t, IgnoreMissing)

	require.NoError(t, apply(t, r, events.TodoRenamedV0, events.TodoRenamed{ID: "ghost", NewTitle: "x"}))
	require.NoError(t, apply(t, r, events.TodoCompletedV0, events.TodoCompleted{ID: "ghost"}))
	require.NoError(t, apply(t, r, events.TodoReopenedV0, events.TodoReopened{ID: "ghost"}))

	_, err := store.GetTodo(context.Background(), "ghost")
	require.ErrorIs(t, err, query.ErrTodoNotFound)
	require.Zero(t, store.Len())
}

func TestReportMissingSurfacesInconsistency(t *testing.T) {
	r, store := newPipeline(t, ReportMissing)

	err := apply(t, r, events.TodoRenamedV0, events.TodoRenamed{ID: "ghost", NewTitle: "x"})
	require.ErrorIs(t, err, ErrTodoMissing)

	var perr *ProjectionError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "ghost", perr.TodoID)
	require.Equal(t, events.TodoRenamedV0, perr.EventType)
	require.Zero(t, store.Len())
}

func TestStoreFailureIsProjectionError(t *testing.T) {
	r, store := newPipeline(t, IgnoreMissing)
	down := errors.New("connection reset")
	store.FailWith(down)

	for _, tc := range []struct {
		eventType string
		payload   any
	}{
		{events.TodoCreatedV0, events.TodoCreated{ID: "t1", Title: "x"}},
		{events.TodoRenamedV0, events.TodoRenamed{ID: "t1", NewTitle: "y"}},
		{events.TodoCompletedV0, events.TodoCompleted{ID: "t1"}},
		{events.TodoDeletedV0, events.TodoDeleted{ID: "t1"}},
	} {
		err := apply(t, r, tc.eventType, tc.payload)
		var perr *ProjectionError
		require.ErrorAs(t, err, &perr, tc.eventType)
		require.ErrorIs(t, err, down)
	}

	store.FailWith(nil)
	require.NoError(t, apply(t, r, events.TodoCreatedV0, events.TodoCreated{ID: "t1", Title: "x"}))
	require.Equal(t, 1, store.Len())
}

func TestListOrderedByTitle(t *testing.T) {
	r, store := newPipeline(t, IgnoreMissing)
	for id, title := range map[string]string{"a": "Walk dog", "b": "Buy milk", "c": "Call mom"} {
		require.NoError(t, apply(t, r, events.TodoCreatedV0, events.TodoCreated{ID: id, Title: title}))
	}

	rows, err := store.ListTodos(context.Background())
	require.NoError(t, err)
	titles := []string{rows[0].Title, rows[1].Title, rows[2].Title}
	require.Equal(t, []string{"Buy milk", "Call mom", "Walk dog"}, titles)
}
