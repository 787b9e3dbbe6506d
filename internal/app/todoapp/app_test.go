package todoapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"github.com/todo-1m/todo-pathways/internal/app/projection"
	"github.com/todo-1m/todo-pathways/internal/app/relay"
	"github.com/todo-1m/todo-pathways/internal/contracts"
	"github.com/todo-1m/todo-pathways/internal/eventlog"
	"github.com/todo-1m/todo-pathways/internal/events"
	"github.com/todo-1m/todo-pathways/internal/messaging"
	"github.com/todo-1m/todo-pathways/internal/platform/auth"
	"github.com/todo-1m/todo-pathways/internal/platform/logging"
)

const webhookSecret = "webhook-secret"

type harness struct {
	t      *testing.T
	server *httptest.Server
	broker *eventlog.MemoryBroker
	store  *projection.MemoryStore
	app    *App
}

// newHarness runs the todo-api in process. The memory broker hands every
// append to a relay that POSTs it back to the webhook, as the real relay does
// from JetStream.
func newHarness(t *testing.T, relaySecret string, tweak func(*Options)) *harness {
	t.Helper()
	store := projection.NewMemoryStore()
	state := eventlog.NewMemoryStateStore(time.Hour)
	broker := eventlog.NewMemoryBroker()
	client := eventlog.NewClient(broker, events.NewTodoRegistry(), state,
		messaging.Namespace{Tenant: "acme", DataCore: "todo-app"}, logging.Discard())

	opts := Options{
		Log:           client,
		Todos:         store,
		Store:         store,
		State:         state,
		WebhookSecret: webhookSecret,
		AllowedOrigin: "*",
		Logger:        logging.Discard(),
	}
	if tweak != nil {
		tweak(&opts)
	}
	app, err := New(opts)
	require.NoError(t, err)

	server := httptest.NewServer(app.Handler)
	t.Cleanup(server.Close)

	deliverer := relay.NewService(server.URL+"/api/transformer", relaySecret, 2*time.Second, time.Second, logging.Discard())
	var seq atomic.Uint64
	broker.Subscribe(func(ctx context.Context, env contracts.Envelope) error {
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		return deliverer.Deliver(ctx, relay.Delivery{Data: data, Attempt: 1, StreamSequence: seq.Add(1)})
	})

	return &harness{t: t, server: server, broker: broker, store: store, app: app}
}

func (h *harness) do(method, path, body string) *http.Response {
	h.t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, strings.NewReader(body))
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.server.Client().Do(req)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) list() []contracts.Todo {
	h.t.Helper()
	resp := h.do(http.MethodGet, "/api/todos", "")
	require.Equal(h.t, http.StatusOK, resp.StatusCode)
	var todos []contracts.Todo
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&todos))
	return todos
}

func (h *harness) create(title, description string) contracts.Todo {
	h.t.Helper()
	body, err := json.Marshal(map[string]string{"title": title, "description": description})
	require.NoError(h.t, err)
	resp := h.do(http.MethodPost, "/api/todos", string(body))
	require.Equal(h.t, http.StatusCreated, resp.StatusCode)
	var todo contracts.Todo
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&todo))
	return todo
}

func TestBuyMilkLifecycle(t *testing.T) {
	h := newHarness(t, webhookSecret, nil)

	created := h.create("Buy milk", "2L")
	require.NotEmpty(t, created.ID)

	rows := h.list()
	require.Len(t, rows, 1)
	require.Equal(t, created.ID, rows[0].ID)
	require.Equal(t, "Buy milk", rows[0].Title)
	require.Equal(t, "2L", *rows[0].Description)
	require.False(t, rows[0].Done)

	resp := h.do(http.MethodPut, "/api/todos/"+created.ID, `{"title":"Buy oat milk"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows = h.list()
	require.Equal(t, "Buy oat milk", rows[0].Title)
	require.False(t, rows[0].Done)

	resp = h.do(http.MethodPut, "/api/todos/"+created.ID, `{"done":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows = h.list()
	require.True(t, rows[0].Done)
	require.Equal(t, "Buy oat milk", rows[0].Title)

	resp = h.do(http.MethodDelete, "/api/todos/"+created.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, h.list())

	require.Empty(t, h.broker.Failed())
	var types []string
	for _, env := range h.broker.Events() {
		types = append(types, env.EventType)
	}
	require.Equal(t, []string{
		events.TodoCreatedV0,
		events.TodoRenamedV0,
		events.TodoCompletedV0,
		events.TodoDeletedV0,
	}, types)
}

func TestListOrderedByTitle(t *testing.T) {
	h := newHarness(t, webhookSecret, nil)
	for _, title := range []string{"Walk dog", "Buy milk", "Call mom"} {
		h.create(title, "")
	}

	var titles []string
	for _, row := range h.list() {
		titles = append(titles, row.Title)
	}
	require.Equal(t, []string{"Buy milk", "Call mom", "Walk dog"}, titles)
}

func TestDuplicateDeliveriesConverge(t *testing.T) {
	h := newHarness(t, webhookSecret, nil)
	h.broker.DuplicateDeliveries = true

	todo := h.create("Buy milk", "")
	h.do(http.MethodPut, "/api/todos/"+todo.ID, `{"done":true}`)
	h.do(http.MethodPut, "/api/todos/"+todo.ID, `{"done":false}`)
	h.do(http.MethodPut, "/api/todos/"+todo.ID, `{"done":true}`)

	rows := h.list()
	require.Len(t, rows, 1)
	require.True(t, rows[0].Done)
	require.Empty(t, h.broker.Failed())
}

func TestWrongSecretNeverReachesReadModel(t *testing.T) {
	h := newHarness(t, "not-the-secret", nil)

	h.create("Buy milk", "")

	require.Empty(t, h.list())
	require.Len(t, h.broker.Failed(), 1)
	require.Zero(t, h.store.Len())
}

func TestUnregisteredEventIsAcknowledged(t *testing.T) {
	h := newHarness(t, webhookSecret, nil)
	h.create("Buy milk", "")
	before := h.list()

	body, err := json.Marshal(contracts.Envelope{
		EventID:   "evt-archive",
		FlowType:  "todo-lists",
		EventType: "todo-list.archived.v1",
		Payload:   json.RawMessage(`{"id":"list-1"}`),
	})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, h.server.URL+"/api/transformer", bytes.NewReader(body))
	require.NoError(t, err)
	auth.SetSecret(req, webhookSecret)
	resp, err := h.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	text, _ := io.ReadAll(resp.Body)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "OK", string(text))
	require.Equal(t, before, h.list())
}

func TestProjectionFailureIsRedelivered(t *testing.T) {
	h := newHarness(t, webhookSecret, nil)
	h.store.FailWith(errors.New("read-model offline"))

	todo := h.create("Buy milk", "")
	require.Len(t, h.broker.Failed(), 1)

	h.store.FailWith(nil)
	h.broker.Redeliver(context.Background())

	require.Empty(t, h.broker.Failed())
	rows := h.list()
	require.Len(t, rows, 1)
	require.Equal(t, todo.ID, rows[0].ID)
}

func TestReadModelRebuildsFromLog(t *testing.T) {
	h := newHarness(t, webhookSecret, nil)
	a := h.create("Buy milk", "2L")
	b := h.create("Walk dog", "")
	h.do(http.MethodPut, "/api/todos/"+a.ID, `{"title":"Buy oat milk","done":true}`)
	h.do(http.MethodDelete, "/api/todos/"+b.ID, "")
	want := h.list()

	rebuilt := projection.NewMemoryStore()
	fresh, err := New(Options{
		Log:           eventlog.NewClient(eventlog.NewMemoryBroker(), events.NewTodoRegistry(), nil, messaging.Namespace{}, nil),
		Todos:         rebuilt,
		Store:         rebuilt,
		WebhookSecret: webhookSecret,
	})
	require.NoError(t, err)
	require.NoError(t, h.broker.Replay(context.Background(), fresh.Router.Dispatch))

	got, err := rebuilt.ListTodos(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestStrictPolicyRejectsUpdatesToUnknownTodos(t *testing.T) {
	h := newHarness(t, webhookSecret, func(o *Options) { o.Missing = projection.ReportMissing })

	resp := h.do(http.MethodPut, "/api/todos/ghost", `{"title":"x"}`)

	// The command is accepted; only the projection reports the inconsistency.
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, h.broker.Failed(), 1)
	require.Empty(t, h.list())
}

func TestRenameDeliveredBeforeCreateIsLost(t *testing.T) {
	h := newHarness(t, webhookSecret, nil)
	h.broker.Reorder = true

	todo := h.create("Buy milk", "")
	resp := h.do(http.MethodPut, "/api/todos/"+todo.ID, `{"title":"Buy oat milk"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The rename hit a missing row and was ignored, then the create landed.
	// Nothing replays the rename, so the read-model keeps the old title
	// while the log holds both events in order.
	require.Empty(t, h.broker.Failed())
	todos := h.list()
	require.Len(t, todos, 1)
	require.Equal(t, "Buy milk", todos[0].Title)

	log := h.broker.Events()
	require.Len(t, log, 2)
	require.Equal(t, events.TodoCreatedV0, log[0].EventType)
	require.Equal(t, events.TodoRenamedV0, log[1].EventType)
}

type settleCounter struct {
	acks, terms, naks int
}

func (c *settleCounter) Ack(...nats.AckOpt) error  { c.acks++; return nil }
func (c *settleCounter) Term(...nats.AckOpt) error { c.terms++; return nil }
func (c *settleCounter) NakWithDelay(time.Duration, ...nats.AckOpt) error {
	c.naks++
	return nil
}

func TestStrictMissingRowDoesNotBlockTheShard(t *testing.T) {
	h := newHarness(t, webhookSecret, func(o *Options) { o.Missing = projection.ReportMissing })

	resp := h.do(http.MethodPut, "/api/todos/ghost", `{"done":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	failed := h.broker.Failed()
	require.Len(t, failed, 1)
	data, err := json.Marshal(failed[0])
	require.NoError(t, err)

	// Redeliver the way JetStream would until the relay settles the event
	// for good.
	deliverer := relay.NewService(h.server.URL+"/api/transformer", webhookSecret, 2*time.Second, time.Second, logging.Discard())
	consumer := relay.NewConsumer(nil, messaging.Namespace{Tenant: "acme", DataCore: "todo-app"}, deliverer, 4*time.Second, logging.Discard())
	settled := &settleCounter{}
	for attempt := uint64(1); attempt <= 200 && settled.acks+settled.terms == 0; attempt++ {
		d := relay.Delivery{Data: data, Attempt: attempt, StreamSequence: 1}
		consumer.Settle(settled, d, deliverer.Deliver(context.Background(), d))
	}

	require.Equal(t, 1, settled.terms)
	require.Zero(t, settled.acks)
	require.Zero(t, settled.naks)
	require.Empty(t, h.list())
}

func TestHealthAndMetrics(t *testing.T) {
	var ready atomic.Bool
	h := newHarness(t, webhookSecret, func(o *Options) {
		o.Ready = []ReadyCheck{func(context.Context) error {
			if !ready.Load() {
				return errors.New("postgres not reachable")
			}
			return nil
		}}
	})

	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", "").StatusCode)
	require.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, "/readyz", "").StatusCode)
	ready.Store(true)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/readyz", "").StatusCode)

	h.create("Buy milk", "")
	resp := h.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	for _, name := range []string{
		"todo_events_appended_total",
		"todo_webhook_deliveries_total",
		"todo_events_dispatched_total",
		"todo_relay_deliveries_total",
	} {
		require.Contains(t, string(body), name)
	}
}

func TestUnknownPathIsNotFound(t *testing.T) {
	h := newHarness(t, webhookSecret, nil)
	require.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/api/other", "{}").StatusCode)
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New(Options{Store: projection.NewMemoryStore()})
	require.Error(t, err)
}
