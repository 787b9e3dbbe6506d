package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/todo-1m/todo-pathways/internal/contracts"
	"github.com/todo-1m/todo-pathways/internal/events"
	"github.com/todo-1m/todo-pathways/internal/platform/logging"
	"github.com/todo-1m/todo-pathways/internal/platform/metrics"
)

var ErrDuplicateRoute = errors.New("handler already registered")

// Key is the (flowType, eventType) address of a handler.
type Key struct {
	FlowType  string
	EventType string
}

func (k Key) String() string { return k.FlowType + "/" + k.EventType }

type handlerFunc func(ctx context.Context, env contracts.Envelope, payload any) error

var dispatchesTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "todo_events_dispatched_total",
	Help: "Delivered events by flow type, event type and dispatch outcome.",
}, []string{"flow_type", "event_type", "outcome"})

func init() {
	metrics.Default.MustRegister(dispatchesTotal)
}

// Builder collects handlers at process start. Build freezes them into a
// Router; there is no way to add a handler afterwards.
type Builder struct {
	registry *events.Registry
	routes   map[Key]handlerFunc
	errs     []error
}

func NewBuilder(registry *events.Registry) *Builder {
	return &Builder{registry: registry, routes: map[Key]handlerFunc{}}
}

// Handle registers fn for (flowType, eventType). fn receives the payload
// decoded by the event type's schema.
func Handle[P any](b *Builder, flowType, eventType string, fn func(ctx context.Context, env contracts.Envelope, payload P) error) {
	key := Key{FlowType: flowType, EventType: eventType}
	if _, exists := b.routes[key]; exists {
		b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrDuplicateRoute, key))
		return
	}
	if _, ok := b.registry.Lookup(eventType); !ok {
		b.errs = append(b.errs, fmt.Errorf("%w: %s", events.ErrUnknownEventType, key))
		return
	}
	b.routes[key] = func(ctx context.Context, env contracts.Envelope, payload any) error {
		p, ok := payload.(P)
		if !ok {
			return fmt.Errorf("%s: payload decoded to %T", key, payload)
		}
		return fn(ctx, env, p)
	}
}

func (b *Builder) Build(logger *slog.Logger) (*Router, error) {
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	routes := make(map[Key]handlerFunc, len(b.routes))
	for k, h := range b.routes {
		routes[k] = h
	}
	return &Router{registry: b.registry, routes: routes, logger: logging.OrDefault(logger)}, nil
}

// Router dispatches delivered envelopes to their handler. It is immutable and
// safe for concurrent use.
type Router struct {
	registry *events.Registry
	routes   map[Key]handlerFunc
	logger   *slog.Logger
}

// Dispatch runs the handler registered for env. Envelopes with no handler
// succeed without effect so older deployments tolerate newer event types.
// Schema failures surface as *events.SchemaValidationError; handler errors
// are returned unchanged.
func (r *Router) Dispatch(ctx context.Context, env contracts.Envelope) error {
	key := Key{FlowType: env.FlowType, EventType: env.EventType}
	h, ok := r.routes[key]
	if !ok {
		dispatchesTotal.WithLabelValues(env.FlowType, env.EventType, "ignored").Inc()
		r.logger.Debug("no handler for event", "route", key.String(), "event_id", env.EventID)
		return nil
	}

	payload, err := r.registry.Validate(env.EventType, env.Payload)
	if err != nil {
		dispatchesTotal.WithLabelValues(env.FlowType, env.EventType, "invalid").Inc()
		return err
	}
	if err := h(ctx, env, payload); err != nil {
		dispatchesTotal.WithLabelValues(env.FlowType, env.EventType, "failed").Inc()
		return err
	}
	dispatchesTotal.WithLabelValues(env.FlowType, env.EventType, "handled").Inc()
	return nil
}

func (r *Router) Routes() []Key {
	out := make([]Key, 0, len(r.routes))
	for k := range r.routes {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
