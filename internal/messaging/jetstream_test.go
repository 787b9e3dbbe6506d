package messaging

import "testing"

func TestNamespaceNames(t *testing.T) {
	ns := Namespace{Tenant: "acme", DataCore: "todo-app"}
	if err := ns.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if got := ns.StreamName(); got != "EVENTS_ACME_TODO-APP" {
		t.Fatalf("unexpected stream name: %q", got)
	}
	if got := ns.ShardSubject(7); got != "events.acme.todo-app.7" {
		t.Fatalf("unexpected shard subject: %q", got)
	}
	if got := ns.AllSubjects(); got != "events.acme.todo-app.>" {
		t.Fatalf("unexpected wildcard subject: %q", got)
	}
	if got := RelayConsumerName(3); got != "webhook-relay-3" {
		t.Fatalf("unexpected consumer name: %q", got)
	}
}

func TestNamespaceValidate(t *testing.T) {
	for _, ns := range []Namespace{
		{Tenant: "", DataCore: "todo-app"},
		{Tenant: "acme", DataCore: ""},
		{Tenant: "ac.me", DataCore: "todo-app"},
		{Tenant: "acme", DataCore: "todo app"},
		{Tenant: "acme", DataCore: "todo>"},
	} {
		if err := ns.Validate(); err == nil {
			t.Errorf("expected %+v to be rejected", ns)
		}
	}
}
