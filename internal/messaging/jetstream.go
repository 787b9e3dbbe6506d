package messaging

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// DuplicateWindow is how long JetStream remembers Nats-Msg-Id values to
// reject duplicate appends.
const DuplicateWindow = 10 * time.Minute

// Namespace scopes the event log to one tenant's data core.
type Namespace struct {
	Tenant   string
	DataCore string
}

func (n Namespace) Validate() error {
	for name, v := range map[string]string{"tenant": n.Tenant, "data core": n.DataCore} {
		if v == "" {
			return fmt.Errorf("%s is required", name)
		}
		if strings.ContainsAny(v, ".*> \t") {
			return fmt.Errorf("%s %q must not contain '.', '*', '>' or whitespace", name, v)
		}
	}
	return nil
}

// StreamName is e.g. EVENTS_ACME_TODO-APP.
func (n Namespace) StreamName() string {
	return strings.ToUpper("EVENTS_" + n.Tenant + "_" + n.DataCore)
}

// SubjectPrefix is e.g. events.acme.todo-app.
func (n Namespace) SubjectPrefix() string {
	return "events." + n.Tenant + "." + n.DataCore
}

// ShardSubject is the subject all events of one shard are appended to.
func (n Namespace) ShardSubject(shard int) string {
	return n.SubjectPrefix() + "." + strconv.Itoa(shard)
}

func (n Namespace) AllSubjects() string {
	return n.SubjectPrefix() + ".>"
}

// EnsureEventStream creates (or validates) the namespace's event stream.
// Events are kept by limits, never by interest: the log is the source of truth.
func EnsureEventStream(js nats.JetStreamContext, ns Namespace) error {
	if err := ns.Validate(); err != nil {
		return err
	}
	if _, err := js.StreamInfo(ns.StreamName()); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		if _, addErr := js.AddStream(&nats.StreamConfig{
			Name:       ns.StreamName(),
			Subjects:   []string{ns.AllSubjects()},
			Retention:  nats.LimitsPolicy,
			Storage:    nats.FileStorage,
			Replicas:   1,
			Duplicates: DuplicateWindow,
		}); addErr != nil {
			return addErr
		}
	}
	return nil
}

// RelayConsumerName is the durable consumer delivering one shard to the webhook.
func RelayConsumerName(shard int) string {
	return "webhook-relay-" + strconv.Itoa(shard)
}
