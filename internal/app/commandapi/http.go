package commandapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/todo-1m/todo-pathways/internal/contracts"
	"github.com/todo-1m/todo-pathways/internal/events"
	"github.com/todo-1m/todo-pathways/internal/platform/logging"
)

// TodoLister reads the read-model. *query.TodoRepository satisfies it.
type TodoLister interface {
	ListTodos(ctx context.Context) ([]contracts.Todo, error)
}

type Handler struct {
	Service       *Service
	Todos         TodoLister
	AllowedOrigin string
	Logger        *slog.Logger
}

func NewHandler(service *Service, todos TodoLister, allowedOrigin string, logger *slog.Logger) *Handler {
	return &Handler{
		Service:       service,
		Todos:         todos,
		AllowedOrigin: allowedOrigin,
		Logger:        logging.OrDefault(logger),
	}
}

// Mount registers the todo routes on r with permissive CORS. It can share r
// with other handlers regardless of mount order.
func (h *Handler) Mount(r chi.Router) {
	// A sub-router, so chi's own 404 and 405 answers carry CORS headers too.
	r.Route("/api/todos", func(sub chi.Router) {
		sub.Use(h.corsMiddleware)
		sub.Options("/", handlePreflight)
		sub.Options("/{id}", handlePreflight)

		sub.Get("/", h.handleList)
		sub.Post("/", h.handleCreate)
		sub.Put("/{id}", h.handleUpdate)
		sub.Delete("/{id}", h.handleDelete)
	})
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

func handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type successResponse struct {
	Success bool `json:"success"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	todos, err := h.Todos.ListTodos(r.Context())
	if err != nil {
		h.Logger.Error("list todos failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, todos)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateTodoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	todo, err := h.Service.Create(r.Context(), req)
	if err != nil {
		h.writeCommandError(w, "create todo", err)
		return
	}
	h.Logger.Info("todo create accepted", "todo_id", todo.ID)
	writeJSON(w, http.StatusCreated, todo)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req UpdateTodoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if err := h.Service.Update(r.Context(), id, req); err != nil {
		h.writeCommandError(w, "update todo", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Service.Delete(r.Context(), id); err != nil {
		h.writeCommandError(w, "delete todo", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) writeCommandError(w http.ResponseWriter, op string, err error) {
	var invalid *events.SchemaValidationError
	switch {
	case errors.Is(err, ErrTitleRequired), errors.Is(err, ErrIDRequired), errors.Is(err, ErrNoChanges):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		// Broker errors land here; nothing was recorded and the caller may retry.
		h.Logger.Error(op+" failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin, Access-Control-Request-Headers")
		w.Header().Set("Access-Control-Allow-Origin", h.allowedOriginForRequest(r.Header.Get("Origin")))
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers"))
		if requestHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowedOriginForRequest(requestOrigin string) string {
	allowed := strings.TrimSpace(h.AllowedOrigin)
	if allowed == "" || allowed == "*" {
		return "*"
	}

	origin := strings.TrimSpace(requestOrigin)
	if origin == "" {
		return allowed
	}
	if origin == allowed || isEquivalentLoopbackOrigin(origin, allowed) {
		return origin
	}
	return allowed
}

func isEquivalentLoopbackOrigin(originA, originB string) bool {
	a, err := url.Parse(originA)
	if err != nil {
		return false
	}
	b, err := url.Parse(originB)
	if err != nil {
		return false
	}
	if !isLoopbackHost(a.Hostname()) || !isLoopbackHost(b.Hostname()) {
		return false
	}
	return a.Port() == b.Port() && strings.EqualFold(a.Scheme, b.Scheme)
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
