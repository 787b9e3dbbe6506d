package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/todo-1m/todo-pathways/internal/contracts"
	"github.com/todo-1m/todo-pathways/internal/events"
	"github.com/todo-1m/todo-pathways/internal/messaging"
	"github.com/todo-1m/todo-pathways/internal/platform/logging"
)

type recordingBroker struct {
	got []contracts.Envelope
	err error
}

func (b *recordingBroker) Publish(_ context.Context, env contracts.Envelope) error {
	if b.err != nil {
		return b.err
	}
	b.got = append(b.got, env)
	return nil
}

func newTestClient(broker Broker) *Client {
	c := NewClient(broker, events.NewTodoRegistry(), NewMemoryStateStore(time.Hour),
		messaging.Namespace{Tenant: "acme", DataCore: "todo-app"}, logging.Discard())
	c.Now = func() time.Time { return time.Date(2026, 2, 9, 22, 15, 0, 0, time.UTC) }
	c.NewID = func() string { return "evt-1" }
	return c
}

func TestAppend_PublishesEnvelope(t *testing.T) {
	broker := &recordingBroker{}
	client := newTestClient(broker)
	before := appendsTotal.Value(events.TodoRenamedV0, "ok")

	env, err := client.Append(context.Background(), events.FlowTodoItems, events.TodoRenamedV0,
		events.TodoRenamed{ID: "t1", NewTitle: "Buy oat milk"})
	require.NoError(t, err)
	require.Len(t, broker.got, 1)
	require.Equal(t, env, broker.got[0])

	require.Equal(t, "evt-1", env.EventID)
	require.Equal(t, "acme", env.Tenant)
	require.Equal(t, "todo-app", env.DataCoreID)
	require.Equal(t, events.FlowTodoItems, env.FlowType)
	require.Equal(t, events.TodoRenamedV0, env.EventType)
	require.Equal(t, "20260209220000", env.TimeBucket)
	require.JSONEq(t, `{"id":"t1","newTitle":"Buy oat milk"}`, string(env.Payload))
	require.Equal(t, before+1, appendsTotal.Value(events.TodoRenamedV0, "ok"))
}

func TestAppend_AcceptsRawPayload(t *testing.T) {
	broker := &recordingBroker{}
	_, err := newTestClient(broker).Append(context.Background(), events.FlowTodoItems, events.TodoDeletedV0,
		json.RawMessage(`{"id":"t1"}`))
	require.NoError(t, err)
	require.Len(t, broker.got, 1)
}

func TestAppend_InvalidPayloadNeverReachesBroker(t *testing.T) {
	broker := &recordingBroker{}
	client := newTestClient(broker)

	_, err := client.Append(context.Background(), events.FlowTodoItems, events.TodoCreatedV0,
		events.TodoCreated{ID: "t1", Title: "  ", Done: true})

	var verr *events.SchemaValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Fields, 2)
	require.Empty(t, broker.got)
}

func TestAppend_UnknownEventTypeNeverReachesBroker(t *testing.T) {
	broker := &recordingBroker{}
	_, err := newTestClient(broker).Append(context.Background(), events.FlowTodoItems, "todo-item.archived.v0",
		map[string]string{"id": "t1"})
	require.ErrorIs(t, err, events.ErrUnknownEventType)
	require.Empty(t, broker.got)
}

func TestAppend_RequiresFlowType(t *testing.T) {
	broker := &recordingBroker{}
	_, err := newTestClient(broker).Append(context.Background(), " ", events.TodoDeletedV0, events.TodoDeleted{ID: "t1"})
	require.ErrorIs(t, err, ErrFlowTypeRequired)
	require.Empty(t, broker.got)
}

func TestAppend_BrokerFailureIsUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	client := newTestClient(&recordingBroker{err: cause})

	_, err := client.Append(context.Background(), events.FlowTodoItems, events.TodoCompletedV0, events.TodoCompleted{ID: "t1"})
	require.ErrorIs(t, err, ErrBrokerUnavailable)
	require.ErrorIs(t, err, cause)

	var unavailable *BrokerUnavailableError
	require.ErrorAs(t, err, &unavailable)
	require.Equal(t, cause, unavailable.Err)
}

func TestAppend_ExposesStateStore(t *testing.T) {
	client := newTestClient(&recordingBroker{})
	key := StateKey{FlowType: events.FlowTodoItems, EventType: events.TodoCreatedV0, Key: "evt-1"}

	require.NoError(t, client.State.SetProcessed(context.Background(), key))
	processed, err := client.State.IsProcessed(context.Background(), key)
	require.NoError(t, err)
	require.True(t, processed)
}
