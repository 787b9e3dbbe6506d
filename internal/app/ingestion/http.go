package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/todo-1m/todo-pathways/internal/app/projection"
	"github.com/todo-1m/todo-pathways/internal/contracts"
	"github.com/todo-1m/todo-pathways/internal/eventlog"
	"github.com/todo-1m/todo-pathways/internal/events"
	"github.com/todo-1m/todo-pathways/internal/platform/auth"
	"github.com/todo-1m/todo-pathways/internal/platform/logging"
	"github.com/todo-1m/todo-pathways/internal/platform/metrics"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidEnvelope = errors.New("invalid event envelope")
)

const maxBodyBytes = 1 << 20

// Dispatcher applies one delivered envelope. *router.Router satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, env contracts.Envelope) error
}

var deliveriesTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "todo_webhook_deliveries_total",
	Help: "Webhook deliveries by outcome.",
}, []string{"outcome"})

func init() {
	metrics.Default.MustRegister(deliveriesTotal)
}

// Handler is the broker-facing webhook. A 200 tells the broker the event is
// applied; a 500 asks it to redeliver; 400, 401 and 409 are final.
type Handler struct {
	Dispatcher Dispatcher
	Secret     string
	State      eventlog.StateStore
	Logger     *slog.Logger
}

func NewHandler(dispatcher Dispatcher, secret string, state eventlog.StateStore, logger *slog.Logger) *Handler {
	return &Handler{
		Dispatcher: dispatcher,
		Secret:     secret,
		State:      state,
		Logger:     logging.OrDefault(logger),
	}
}

// Mount registers the webhook routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/api/transformer", h.handleTransformer)
	r.Post("/api/transformer/", h.handleTransformer)
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

func (h *Handler) handleTransformer(w http.ResponseWriter, r *http.Request) {
	if !auth.SecretMatches(h.Secret, auth.SecretFromRequest(r)) {
		deliveriesTotal.WithLabelValues("unauthorized").Inc()
		h.Logger.Warn("webhook secret mismatch", "remote_addr", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, ErrUnauthorized.Error())
		return
	}

	env, err := decodeEnvelope(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		deliveriesTotal.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log := h.Logger.With("event_id", env.EventID, "flow_type", env.FlowType, "event_type", env.EventType)

	key := eventlog.StateKey{FlowType: env.FlowType, EventType: env.EventType, Key: env.EventID}
	if h.State != nil && env.EventID != "" {
		processed, err := h.State.IsProcessed(r.Context(), key)
		if err != nil {
			// The handlers are idempotent, so a state store outage only costs
			// a redundant write.
			log.Warn("processing state lookup failed", "err", err)
		} else if processed {
			deliveriesTotal.WithLabelValues("duplicate").Inc()
			log.Info("duplicate delivery acknowledged")
			writeOK(w)
			return
		}
	}

	if err := h.Dispatcher.Dispatch(r.Context(), env); err != nil {
		var invalid *events.SchemaValidationError
		if errors.As(err, &invalid) {
			deliveriesTotal.WithLabelValues("invalid").Inc()
			log.Warn("delivered payload failed validation", "err", err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, projection.ErrTodoMissing) {
			// Events for one id arrive in order, so a missing row stays missing.
			deliveriesTotal.WithLabelValues("missing").Inc()
			log.Warn("event targets a todo that is not in the read-model", "err", err)
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		deliveriesTotal.WithLabelValues("failed").Inc()
		log.Error("event handler failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.State != nil && env.EventID != "" {
		if err := h.State.SetProcessed(r.Context(), key); err != nil {
			log.Warn("processing state update failed", "err", err)
		}
	}
	deliveriesTotal.WithLabelValues("ok").Inc()
	writeOK(w)
}

func decodeEnvelope(body io.Reader) (contracts.Envelope, error) {
	var env contracts.Envelope
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		return contracts.Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	env.FlowType = strings.TrimSpace(env.FlowType)
	env.EventType = strings.TrimSpace(env.EventType)
	switch {
	case env.FlowType == "":
		return contracts.Envelope{}, fmt.Errorf("%w: flowType is required", ErrInvalidEnvelope)
	case env.EventType == "":
		return contracts.Envelope{}, fmt.Errorf("%w: eventType is required", ErrInvalidEnvelope)
	}
	return env, nil
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
