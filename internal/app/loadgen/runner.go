package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/todo-1m/todo-pathways/internal/platform/logging"
	"github.com/todo-1m/todo-pathways/internal/platform/metrics"
)

var (
	requestsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "todo_loadgen_requests_total",
		Help: "HTTP requests sent to the command API by the load driver.",
	}, []string{"endpoint", "method", "status", "outcome"})

	actionsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "todo_loadgen_actions_total",
		Help: "Simulated client actions by outcome.",
	}, []string{"action", "outcome"})

	clientsGauge = metrics.NewGauge(metrics.Opts{
		Name: "todo_loadgen_virtual_clients",
		Help: "Virtual clients currently sending commands.",
	})
)

func init() {
	metrics.Default.MustRegister(requestsTotal, actionsTotal, clientsGauge)
}

type Config struct {
	APIBase        string
	Clients        int
	Rate           float64
	RampUp         time.Duration
	RequestTimeout time.Duration
}

type Summary struct {
	Success int64
	Errors  int64
}

// Runner drives the command API with virtual clients, each creating,
// renaming, toggling and deleting its own to-dos at a fixed rate.
type Runner struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	seed   int64

	requestsSuccess atomic.Int64
	requestsError   atomic.Int64
	activeClients   atomic.Int64
}

func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	cfg.APIBase = strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	transport := &http.Transport{
		MaxIdleConns:        max(cfg.Clients, 1) * 4,
		MaxIdleConnsPerHost: max(cfg.Clients, 1) * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Runner{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		logger: logging.OrDefault(logger),
		seed:   time.Now().UnixNano(),
	}
}

type virtualClient struct {
	index int
	rng   *rand.Rand

	mu    sync.Mutex
	todos map[string]bool
}

// WaitReady polls /readyz until it answers 200 or timeout elapses.
func (r *Runner) WaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.APIBase+"/readyz", nil)
		if err != nil {
			return err
		}
		resp, err := r.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("status=%d", resp.StatusCode)
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return fmt.Errorf("todo-api not ready: %w", lastErr)
}

// Run blocks until ctx is done and every client has stopped.
func (r *Runner) Run(ctx context.Context) Summary {
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Clients; i++ {
		c := &virtualClient{
			index: i,
			rng:   rand.New(rand.NewSource(r.seed + int64(i*7))),
			todos: map[string]bool{},
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runClient(ctx, c)
		}()
	}
	wg.Wait()
	return r.Summary()
}

func (r *Runner) Summary() Summary {
	return Summary{Success: r.requestsSuccess.Load(), Errors: r.requestsError.Load()}
}

// LogProgress logs request counters every interval until ctx is done.
func (r *Runner) LogProgress(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.logger.Info("load progress",
				"success_requests", r.requestsSuccess.Load(),
				"error_requests", r.requestsError.Load(),
				"active_clients", r.activeClients.Load(),
			)
		}
	}
}

func (r *Runner) runClient(ctx context.Context, c *virtualClient) {
	if r.cfg.RampUp > 0 {
		delay := time.Duration(float64(r.cfg.RampUp) / float64(max(r.cfg.Clients, 1)) * float64(c.index))
		if !sleep(ctx, delay) {
			return
		}
	}

	clientsGauge.Inc()
	r.activeClients.Add(1)
	defer clientsGauge.Dec()
	defer r.activeClients.Add(-1)

	interval := time.Second
	if r.cfg.Rate > 0 {
		interval = max(time.Duration(float64(time.Second)/r.cfg.Rate), 5*time.Millisecond)
	}
	if !sleep(ctx, time.Duration(c.rng.Int63n(int64(interval)))) {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.step(ctx, c)
		}
	}
}

// step performs one action: mostly creates until the client owns a few
// to-dos, then a mix of renames, toggles and deletes.
func (r *Runner) step(ctx context.Context, c *virtualClient) {
	id, done, ok := c.pick()
	choice := c.rng.Float64()
	switch {
	case !ok || choice < 0.40:
		r.create(ctx, c)
	case choice < 0.65:
		r.rename(ctx, c, id)
	case choice < 0.90:
		r.toggle(ctx, c, id, !done)
	default:
		r.delete(ctx, c, id)
	}
}

func (r *Runner) create(ctx context.Context, c *virtualClient) {
	var created struct {
		ID string `json:"id"`
	}
	err := r.requestJSON(ctx, "create", http.MethodPost, "/api/todos", map[string]string{
		"title": fmt.Sprintf("Load todo %d-%d", c.index, c.rng.Intn(1_000_000)),
	}, &created, http.StatusCreated)
	if err != nil || created.ID == "" {
		actionsTotal.WithLabelValues("create", "error").Inc()
		return
	}
	c.set(created.ID, false)
	actionsTotal.WithLabelValues("create", "success").Inc()
}

func (r *Runner) rename(ctx context.Context, c *virtualClient, id string) {
	err := r.requestJSON(ctx, "update", http.MethodPut, "/api/todos/"+id, map[string]string{
		"title": fmt.Sprintf("Renamed todo %d", c.rng.Intn(1_000_000)),
	}, nil, http.StatusOK)
	if err != nil {
		actionsTotal.WithLabelValues("rename", "error").Inc()
		return
	}
	actionsTotal.WithLabelValues("rename", "success").Inc()
}

func (r *Runner) toggle(ctx context.Context, c *virtualClient, id string, done bool) {
	err := r.requestJSON(ctx, "update", http.MethodPut, "/api/todos/"+id, map[string]bool{"done": done}, nil, http.StatusOK)
	if err != nil {
		actionsTotal.WithLabelValues("toggle", "error").Inc()
		return
	}
	c.set(id, done)
	actionsTotal.WithLabelValues("toggle", "success").Inc()
}

func (r *Runner) delete(ctx context.Context, c *virtualClient, id string) {
	if err := r.requestJSON(ctx, "delete", http.MethodDelete, "/api/todos/"+id, nil, nil, http.StatusOK); err != nil {
		actionsTotal.WithLabelValues("delete", "error").Inc()
		return
	}
	c.remove(id)
	actionsTotal.WithLabelValues("delete", "success").Inc()
}

func (r *Runner) requestJSON(ctx context.Context, endpoint, method, path string, payload, out any, expected int) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.APIBase+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a failed request.
			return err
		}
		requestsTotal.WithLabelValues(endpoint, method, "0", "error").Inc()
		r.requestsError.Add(1)
		return err
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	if err != nil && ctx.Err() != nil {
		return err
	}
	if err != nil || resp.StatusCode != expected {
		requestsTotal.WithLabelValues(endpoint, method, status, "error").Inc()
		r.requestsError.Add(1)
		if err != nil {
			return err
		}
		return fmt.Errorf("unexpected status=%d body=%s", resp.StatusCode, truncate(string(raw), 240))
	}
	requestsTotal.WithLabelValues(endpoint, method, status, "success").Inc()
	r.requestsSuccess.Add(1)
	if out != nil && len(raw) > 0 {
		return json.Unmarshal(raw, out)
	}
	return nil
}

// pick returns a random owned to-do and the done state last written to it.
func (c *virtualClient) pick() (string, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.todos) == 0 {
		return "", false, false
	}
	n := c.rng.Intn(len(c.todos))
	for id, done := range c.todos {
		if n == 0 {
			return id, done, true
		}
		n--
	}
	return "", false, false
}

func (c *virtualClient) set(id string, done bool) {
	c.mu.Lock()
	c.todos[id] = done
	c.mu.Unlock()
}

func (c *virtualClient) remove(id string) {
	c.mu.Lock()
	delete(c.todos, id)
	c.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func truncate(value string, n int) string {
	if len(value) <= n {
		return value
	}
	return value[:n] + "..."
}
