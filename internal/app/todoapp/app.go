package todoapp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/todo-1m/todo-pathways/internal/app/commandapi"
	"github.com/todo-1m/todo-pathways/internal/app/ingestion"
	"github.com/todo-1m/todo-pathways/internal/app/projection"
	"github.com/todo-1m/todo-pathways/internal/app/router"
	"github.com/todo-1m/todo-pathways/internal/eventlog"
	"github.com/todo-1m/todo-pathways/internal/events"
	"github.com/todo-1m/todo-pathways/internal/platform/logging"
	"github.com/todo-1m/todo-pathways/internal/platform/metrics"
)

const readinessTimeout = 1500 * time.Millisecond

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

// Options are the explicitly owned collaborators of the todo-api process.
// Both sides meet only at the broker and the read-model schema.
type Options struct {
	Log           commandapi.Appender
	Todos         commandapi.TodoLister
	Store         projection.Store
	State         eventlog.StateStore
	WebhookSecret string
	AllowedOrigin string
	Missing       projection.MissingRowPolicy
	Ready         []ReadyCheck
	Logger        *slog.Logger
}

type App struct {
	Router  *router.Router
	Handler http.Handler
}

// New registers the projections, freezes the router and builds the HTTP
// surface: command API, webhook, health and metrics.
func New(opts Options) (*App, error) {
	if opts.WebhookSecret == "" {
		return nil, errors.New("webhook secret is required")
	}
	logger := logging.OrDefault(opts.Logger)

	builder := router.NewBuilder(events.NewTodoRegistry())
	projection.NewProjector(opts.Store, opts.Missing, logger.With("component", "projection")).Register(builder)
	dispatcher, err := builder.Build(logger.With("component", "router"))
	if err != nil {
		return nil, err
	}

	commands := commandapi.NewHandler(
		commandapi.NewService(opts.Log),
		opts.Todos,
		opts.AllowedOrigin,
		logger.With("component", "commandapi"),
	)
	webhook := ingestion.NewHandler(dispatcher, opts.WebhookSecret, opts.State, logger.With("component", "ingestion"))

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		for _, check := range opts.Ready {
			if err := check(ctx); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		writeText(w, http.StatusOK, "ok")
	})
	r.Method(http.MethodGet, "/metrics", metrics.DefaultHandler())
	webhook.Mount(r)
	commands.Mount(r)

	return &App{Router: dispatcher, Handler: r}, nil
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
