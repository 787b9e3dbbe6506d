package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nuid"
	"github.com/todo-1m/todo-pathways/internal/contracts"
	"github.com/todo-1m/todo-pathways/internal/events"
	"github.com/todo-1m/todo-pathways/internal/messaging"
	"github.com/todo-1m/todo-pathways/internal/platform/logging"
	"github.com/todo-1m/todo-pathways/internal/platform/metrics"
)

var ErrBrokerUnavailable = errors.New("event broker unavailable")
var ErrFlowTypeRequired = errors.New("flow type is required")

// BrokerUnavailableError means the broker did not accept the append; nothing
// was recorded and the whole command may be retried.
type BrokerUnavailableError struct {
	Err error
}

func (e *BrokerUnavailableError) Error() string {
	return ErrBrokerUnavailable.Error() + ": " + e.Err.Error()
}

func (e *BrokerUnavailableError) Unwrap() error { return e.Err }

func (e *BrokerUnavailableError) Is(target error) bool { return target == ErrBrokerUnavailable }

// Broker durably stores an envelope and fans it out asynchronously. Publish
// returns once the write is accepted.
type Broker interface {
	Publish(ctx context.Context, env contracts.Envelope) error
}

var appendsTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "todo_events_appended_total",
	Help: "Events submitted to the broker by event type and outcome.",
}, []string{"event_type", "outcome"})

func init() {
	metrics.Default.MustRegister(appendsTotal)
}

// Client appends validated events to the broker. The log is append-only:
// corrections are new events, never edits.
type Client struct {
	Broker    Broker
	Registry  *events.Registry
	State     StateStore
	Namespace messaging.Namespace
	Now       func() time.Time
	NewID     func() string
	Logger    *slog.Logger
}

func NewClient(broker Broker, registry *events.Registry, state StateStore, ns messaging.Namespace, logger *slog.Logger) *Client {
	return &Client{
		Broker:    broker,
		Registry:  registry,
		State:     state,
		Namespace: ns,
		Now:       func() time.Time { return time.Now().UTC() },
		NewID:     nuid.Next,
		Logger:    logging.OrDefault(logger),
	}
}

// Append validates payload against eventType's schema and submits it. Invalid
// payloads fail with *events.SchemaValidationError before the broker is called.
func (c *Client) Append(ctx context.Context, flowType, eventType string, payload any) (contracts.Envelope, error) {
	if strings.TrimSpace(flowType) == "" {
		return contracts.Envelope{}, ErrFlowTypeRequired
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return contracts.Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	if _, err := c.Registry.Validate(eventType, raw); err != nil {
		appendsTotal.WithLabelValues(eventType, "invalid").Inc()
		return contracts.Envelope{}, err
	}

	now := c.Now()
	env := contracts.Envelope{
		EventID:    c.NewID(),
		TimeBucket: contracts.TimeBucket(now),
		Tenant:     c.Namespace.Tenant,
		DataCoreID: c.Namespace.DataCore,
		FlowType:   flowType,
		EventType:  eventType,
		Payload:    raw,
		ValidTime:  now,
	}

	if err := c.Broker.Publish(ctx, env); err != nil {
		appendsTotal.WithLabelValues(eventType, "unavailable").Inc()
		var unavailable *BrokerUnavailableError
		if errors.As(err, &unavailable) {
			return contracts.Envelope{}, err
		}
		return contracts.Envelope{}, &BrokerUnavailableError{Err: err}
	}

	appendsTotal.WithLabelValues(eventType, "ok").Inc()
	c.Logger.Debug("event appended", "event_id", env.EventID, "flow_type", flowType, "event_type", eventType)
	return env, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(payload)
	}
}
