package eventlog

import (
	"context"
	"sync"

	"github.com/todo-1m/todo-pathways/internal/contracts"
)

// DeliverFunc pushes one envelope to a consumer, e.g. the webhook.
type DeliverFunc func(ctx context.Context, env contracts.Envelope) error

// MemoryBroker is an in-process broker that delivers synchronously on
// Publish. Failed deliveries are kept for Redeliver, and DuplicateDeliveries
// delivers every event twice, so tests can exercise at-least-once delivery.
//
// Reorder swaps each pair of consecutive deliveries: an event is held until
// the next Publish, which delivers the newer event first. Flush delivers a
// held event. The log itself stays in append order.
type MemoryBroker struct {
	DuplicateDeliveries bool
	Reorder             bool

	mu          sync.Mutex
	log         []contracts.Envelope
	subscribers []DeliverFunc
	failed      []contracts.Envelope
	held        *contracts.Envelope
	unavailable error
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{}
}

func (b *MemoryBroker) Subscribe(fn DeliverFunc) {
	b.mu.Lock()
	b.subscribers = append(b.subscribers, fn)
	b.mu.Unlock()
}

// FailAppends makes Publish return err until called again with nil.
func (b *MemoryBroker) FailAppends(err error) {
	b.mu.Lock()
	b.unavailable = err
	b.mu.Unlock()
}

func (b *MemoryBroker) Publish(ctx context.Context, env contracts.Envelope) error {
	b.mu.Lock()
	if b.unavailable != nil {
		err := b.unavailable
		b.mu.Unlock()
		return &BrokerUnavailableError{Err: err}
	}
	b.log = append(b.log, env)
	subscribers := append([]DeliverFunc(nil), b.subscribers...)
	var older *contracts.Envelope
	if b.Reorder {
		if b.held == nil {
			held := env
			b.held = &held
			b.mu.Unlock()
			return nil
		}
		older, b.held = b.held, nil
	}
	b.mu.Unlock()

	b.deliver(ctx, env, subscribers)
	if older != nil {
		b.deliver(ctx, *older, subscribers)
	}
	return nil
}

// Flush delivers the event Reorder is holding back, if any.
func (b *MemoryBroker) Flush(ctx context.Context) {
	b.mu.Lock()
	held := b.held
	b.held = nil
	subscribers := append([]DeliverFunc(nil), b.subscribers...)
	b.mu.Unlock()

	if held != nil {
		b.deliver(ctx, *held, subscribers)
	}
}

func (b *MemoryBroker) deliver(ctx context.Context, env contracts.Envelope, subscribers []DeliverFunc) {
	times := 1
	if b.DuplicateDeliveries {
		times = 2
	}
	for _, fn := range subscribers {
		for i := 0; i < times; i++ {
			if err := fn(ctx, env); err != nil {
				b.mu.Lock()
				b.failed = append(b.failed, env)
				b.mu.Unlock()
				break
			}
		}
	}
}

// Events returns the log in append order.
func (b *MemoryBroker) Events() []contracts.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]contracts.Envelope(nil), b.log...)
}

func (b *MemoryBroker) Failed() []contracts.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]contracts.Envelope(nil), b.failed...)
}

// Redeliver retries every failed delivery once, in original order.
func (b *MemoryBroker) Redeliver(ctx context.Context) {
	b.mu.Lock()
	pending := b.failed
	b.failed = nil
	subscribers := append([]DeliverFunc(nil), b.subscribers...)
	b.mu.Unlock()

	for _, env := range pending {
		b.deliver(ctx, env, subscribers)
	}
}

// Replay delivers the whole log to fn in append order, as a rebuild of the
// read-model from empty state would.
func (b *MemoryBroker) Replay(ctx context.Context, fn DeliverFunc) error {
	for _, env := range b.Events() {
		if err := fn(ctx, env); err != nil {
			return err
		}
	}
	return nil
}
