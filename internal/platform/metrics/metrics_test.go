package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterVecRender(t *testing.T) {
	reg := NewRegistry()
	vec := NewCounterVec(Opts{Name: "todo_test_total", Help: "Test counter."}, []string{"event_type", "outcome"})
	reg.MustRegister(vec)

	vec.WithLabelValues("todo-item.created.v0", "ok").Inc()
	vec.WithLabelValues("todo-item.created.v0", "ok").Inc()
	vec.WithLabelValues("todo-item.deleted.v0", `bad"quote`).Add(3)
	vec.WithLabelValues("missing-label").Inc()
	vec.WithLabelValues("todo-item.created.v0", "ok").Add(-1)

	if got := vec.Value("todo-item.created.v0", "ok"); got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}

	out := reg.Render()
	for _, want := range []string{
		"# TYPE todo_test_total counter\n",
		`todo_test_total{event_type="todo-item.created.v0",outcome="ok"} 2` + "\n",
		`todo_test_total{event_type="todo-item.deleted.v0",outcome="bad\"quote"} 3` + "\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("render missing %q:\n%s", want, out)
		}
	}
}

func TestGaugeAndHandler(t *testing.T) {
	reg := NewRegistry()
	g := NewGauge(Opts{Name: "todo_inflight", Help: "In flight."})
	reg.MustRegister(g)
	g.Inc()
	g.Inc()
	g.Dec()

	rr := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rr.Body.String(), "todo_inflight 1\n") {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type: %q", ct)
	}
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(NewGauge(Opts{Name: "dup"}))
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	reg.MustRegister(NewGauge(Opts{Name: "dup"}))
}
