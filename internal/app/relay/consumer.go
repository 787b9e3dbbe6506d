package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/todo-1m/todo-pathways/internal/messaging"
	"github.com/todo-1m/todo-pathways/internal/platform/logging"
	"github.com/todo-1m/todo-pathways/internal/sharding"
)

const DefaultMaxDeliver = 20

// Acker settles one JetStream delivery. *nats.Msg satisfies it.
type Acker interface {
	Ack(opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
}

// Consumer runs one durable consumer per shard. MaxAckPending=1 keeps each
// shard in order: the next event of a shard is only delivered once the
// previous one was acked or terminated.
type Consumer struct {
	JS        nats.JetStreamContext
	Namespace messaging.Namespace
	Service   *Service
	AckWait   time.Duration

	// MaxDeliver caps deliveries of one event. The last failed attempt is
	// terminated so the shard moves on. Zero means DefaultMaxDeliver.
	MaxDeliver int

	// DrainTimeout bounds how long Run waits for in-flight deliveries on
	// shutdown. Zero returns as soon as draining has started.
	DrainTimeout time.Duration
	Logger       *slog.Logger
}

func NewConsumer(js nats.JetStreamContext, ns messaging.Namespace, service *Service, ackWait time.Duration, logger *slog.Logger) *Consumer {
	return &Consumer{
		JS:        js,
		Namespace: ns,
		Service:   service,
		AckWait:   ackWait,
		Logger:    logging.OrDefault(logger),
	}
}

// Run subscribes every shard and blocks until ctx is done, then drains the
// subscriptions so in-flight deliveries finish.
func (c *Consumer) Run(ctx context.Context) error {
	deliverCtx := context.WithoutCancel(ctx)
	subs := make([]*nats.Subscription, 0, sharding.ShardCount)
	drain := func() {
		for _, sub := range subs {
			_ = sub.Drain()
		}
	}

	for _, shard := range sharding.Shards() {
		sub, err := c.JS.Subscribe(c.Namespace.ShardSubject(shard), func(msg *nats.Msg) {
			c.handle(deliverCtx, msg)
		},
			nats.Durable(messaging.RelayConsumerName(shard)),
			nats.BindStream(c.Namespace.StreamName()),
			nats.ManualAck(),
			nats.MaxAckPending(1),
			nats.AckWait(c.AckWait),
			nats.MaxDeliver(c.maxDeliver()),
			nats.DeliverAll(),
		)
		if err != nil {
			drain()
			return fmt.Errorf("subscribe shard %d: %w", shard, err)
		}
		subs = append(subs, sub)
	}
	c.Logger.Info("relay consuming", "stream", c.Namespace.StreamName(), "shards", len(subs), "webhook", c.Service.URL)

	<-ctx.Done()
	drain()
	c.waitDrained(subs)
	return nil
}

func (c *Consumer) maxDeliver() int {
	if c.MaxDeliver <= 0 {
		return DefaultMaxDeliver
	}
	return c.MaxDeliver
}

func (c *Consumer) waitDrained(subs []*nats.Subscription) {
	deadline := time.Now().Add(c.DrainTimeout)
	for time.Now().Before(deadline) {
		pending := 0
		for _, sub := range subs {
			if sub.IsValid() {
				pending++
			}
		}
		if pending == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (c *Consumer) handle(ctx context.Context, msg *nats.Msg) {
	d := Delivery{Data: msg.Data, Attempt: 1}
	if meta, err := msg.Metadata(); err == nil {
		d.Attempt = meta.NumDelivered
		d.StreamSequence = meta.Sequence.Stream
	}
	c.Settle(msg, d, c.Service.Deliver(ctx, d))
}

// Settle acks a delivered event, terminates one the webhook will never
// accept or that has used up its deliveries, and asks for redelivery with
// backoff otherwise.
func (c *Consumer) Settle(msg Acker, d Delivery, err error) {
	log := c.Logger.With("stream_seq", d.StreamSequence, "attempt", d.Attempt)
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			log.Warn("ack failed", "err", ackErr)
		}
	case errors.Is(err, ErrPermanentDelivery):
		log.Error("dropping undeliverable event", "err", err)
		_ = msg.Term()
	case d.Attempt >= uint64(c.maxDeliver()):
		log.Error("giving up on event after max deliveries", "err", err, "max_deliver", c.maxDeliver())
		_ = msg.Term()
	default:
		delay := c.Service.Backoff(d.Attempt)
		log.Warn("delivery failed, will retry", "err", err, "delay", delay)
		_ = msg.NakWithDelay(delay)
	}
}
