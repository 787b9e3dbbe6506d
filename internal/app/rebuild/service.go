package rebuild

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/todo-1m/todo-pathways/internal/contracts"
	"github.com/todo-1m/todo-pathways/internal/events"
	"github.com/todo-1m/todo-pathways/internal/platform/logging"
)

var ErrInvalidEventPayload = errors.New("invalid event payload")

// Dispatcher applies one stored envelope. *router.Router satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, env contracts.Envelope) error
}

// Resetter empties the read-model before a replay.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Record is one stored event and its position in the log.
type Record struct {
	Data []byte
	Seq  uint64
}

// Source yields the log in append order. ok is false once it is exhausted.
type Source interface {
	Next(ctx context.Context) (rec Record, ok bool, err error)
}

type Stats struct {
	Applied uint64
	Skipped uint64
	LastSeq uint64
}

// Service rebuilds the read-model from the event log. It must not run while
// the webhook relay is delivering to the same read-model.
type Service struct {
	Dispatcher Dispatcher
	ReadModel  Resetter
	Logger     *slog.Logger
}

func NewService(dispatcher Dispatcher, readModel Resetter, logger *slog.Logger) *Service {
	return &Service{Dispatcher: dispatcher, ReadModel: readModel, Logger: logging.OrDefault(logger)}
}

// Handle applies one stored event. Events the current schemas reject come
// back as ErrInvalidEventPayload.
func (s *Service) Handle(ctx context.Context, rec Record) error {
	var env contracts.Envelope
	if err := json.Unmarshal(rec.Data, &env); err != nil {
		return fmt.Errorf("%w: seq %d: %v", ErrInvalidEventPayload, rec.Seq, err)
	}
	if err := s.Dispatcher.Dispatch(ctx, env); err != nil {
		var invalid *events.SchemaValidationError
		if errors.As(err, &invalid) {
			return fmt.Errorf("%w: seq %d: %v", ErrInvalidEventPayload, rec.Seq, err)
		}
		return fmt.Errorf("apply seq %d: %w", rec.Seq, err)
	}
	return nil
}

// Replay empties the read-model and applies every record of src in order.
// Invalid records are skipped; any other failure stops the replay.
func (s *Service) Replay(ctx context.Context, src Source) (Stats, error) {
	var stats Stats
	if err := s.ReadModel.Reset(ctx); err != nil {
		return stats, fmt.Errorf("reset read-model: %w", err)
	}
	for {
		rec, ok, err := src.Next(ctx)
		if err != nil {
			return stats, err
		}
		if !ok {
			return stats, nil
		}
		stats.LastSeq = rec.Seq
		if err := s.Handle(ctx, rec); err != nil {
			if errors.Is(err, ErrInvalidEventPayload) {
				s.Logger.Warn("skipping invalid stored event", "err", err)
				stats.Skipped++
				continue
			}
			return stats, err
		}
		stats.Applied++
	}
}
