package eventlog

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/todo-1m/todo-pathways/internal/contracts"
	"github.com/todo-1m/todo-pathways/internal/events"
	"github.com/todo-1m/todo-pathways/internal/messaging"
	"github.com/todo-1m/todo-pathways/internal/platform/logging"
	"github.com/todo-1m/todo-pathways/internal/sharding"
)

const (
	HeaderFlowType  = "Flow-Type"
	HeaderEventType = "Event-Type"
)

// JetStreamBroker appends envelopes to the namespace's stream. Events for one
// to-do id always land on the same shard subject, which keeps them ordered.
type JetStreamBroker struct {
	JS        nats.JetStreamContext
	Namespace messaging.Namespace
	Logger    *slog.Logger
}

func NewJetStreamBroker(js nats.JetStreamContext, ns messaging.Namespace, logger *slog.Logger) *JetStreamBroker {
	return &JetStreamBroker{JS: js, Namespace: ns, Logger: logging.OrDefault(logger)}
}

func (b *JetStreamBroker) Publish(ctx context.Context, env contracts.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(b.Namespace.ShardSubject(sharding.GetShardID(partitionKey(env))))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, env.EventID)
	msg.Header.Set(HeaderFlowType, env.FlowType)
	msg.Header.Set(HeaderEventType, env.EventType)

	ack, err := b.JS.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return &BrokerUnavailableError{Err: err}
	}
	if ack.Duplicate {
		b.Logger.Info("broker dropped duplicate append", "event_id", env.EventID, "stream", ack.Stream)
	}
	return nil
}

func partitionKey(env contracts.Envelope) string {
	if key := events.PartitionKey(env.Payload); key != "" {
		return key
	}
	return env.EventID
}
