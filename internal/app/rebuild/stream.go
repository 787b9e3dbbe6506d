package rebuild

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/todo-1m/todo-pathways/internal/messaging"
)

// StreamSource reads a namespace's stream through an ordered ephemeral
// consumer, from the first message up to the last one stored when it was
// opened. Events appended later are left to the relay.
type StreamSource struct {
	sub  *nats.Subscription
	last uint64
	done bool
}

func OpenStream(js nats.JetStreamContext, ns messaging.Namespace) (*StreamSource, error) {
	info, err := js.StreamInfo(ns.StreamName())
	if err != nil {
		return nil, err
	}
	if info.State.Msgs == 0 {
		return &StreamSource{done: true}, nil
	}
	sub, err := js.SubscribeSync(ns.AllSubjects(),
		nats.OrderedConsumer(),
		nats.DeliverAll(),
		nats.BindStream(ns.StreamName()),
	)
	if err != nil {
		return nil, err
	}
	return &StreamSource{sub: sub, last: info.State.LastSeq}, nil
}

func (s *StreamSource) Next(ctx context.Context) (Record, bool, error) {
	if s.done {
		return Record{}, false, nil
	}
	msg, err := s.sub.NextMsgWithContext(ctx)
	if err != nil {
		return Record{}, false, err
	}
	meta, err := msg.Metadata()
	if err != nil {
		return Record{}, false, err
	}
	if meta.Sequence.Stream >= s.last {
		s.done = true
	}
	return Record{Data: msg.Data, Seq: meta.Sequence.Stream}, true, nil
}

func (s *StreamSource) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
}
