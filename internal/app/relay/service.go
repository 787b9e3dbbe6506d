package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/todo-1m/todo-pathways/internal/contracts"
	"github.com/todo-1m/todo-pathways/internal/platform/auth"
	"github.com/todo-1m/todo-pathways/internal/platform/logging"
	"github.com/todo-1m/todo-pathways/internal/platform/metrics"
)

// ErrPermanentDelivery marks a delivery the webhook will never accept, such
// as a bad secret or a malformed event. Retrying it is pointless.
var ErrPermanentDelivery = errors.New("permanent delivery failure")

const (
	MetadataDeliveryAttempt = "deliveryAttempt"
	MetadataStreamSequence  = "streamSequence"

	baseBackoff       = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
	maxErrorBytes     = 512
)

// StatusError is a non-2xx webhook response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned %d: %s", e.StatusCode, e.Body)
}

// Is reports 4xx responses other than 408 and 429 as permanent.
func (e *StatusError) Is(target error) bool {
	return target == ErrPermanentDelivery && permanentStatus(e.StatusCode)
}

func permanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

var (
	deliveriesTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "todo_relay_deliveries_total",
		Help: "Webhook deliveries attempted by the relay, by outcome.",
	}, []string{"outcome"})
	inFlight = metrics.NewGauge(metrics.Opts{
		Name: "todo_relay_in_flight",
		Help: "Webhook deliveries currently in flight.",
	})
)

func init() {
	metrics.Default.MustRegister(deliveriesTotal, inFlight)
}

// Delivery is one broker delivery of a stored envelope.
type Delivery struct {
	Data           []byte
	Attempt        uint64
	StreamSequence uint64
}

// Service pushes stored envelopes to the webhook.
type Service struct {
	Client     *http.Client
	URL        string
	Secret     string
	MaxBackoff time.Duration
	Logger     *slog.Logger
}

func NewService(url, secret string, timeout, maxBackoff time.Duration, logger *slog.Logger) *Service {
	return &Service{
		Client:     &http.Client{Timeout: timeout},
		URL:        url,
		Secret:     secret,
		MaxBackoff: maxBackoff,
		Logger:     logging.OrDefault(logger),
	}
}

// Deliver POSTs d to the webhook. It returns nil once the webhook answered
// 2xx, an error matching ErrPermanentDelivery when redelivery cannot help,
// and any other error when the event should be retried.
func (s *Service) Deliver(ctx context.Context, d Delivery) error {
	inFlight.Inc()
	defer inFlight.Dec()

	body, err := annotate(d)
	if err != nil {
		deliveriesTotal.WithLabelValues("malformed").Inc()
		return fmt.Errorf("%w: %v", ErrPermanentDelivery, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanentDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	auth.SetSecret(req, s.Secret)

	resp, err := s.Client.Do(req)
	if err != nil {
		deliveriesTotal.WithLabelValues("unreachable").Inc()
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		deliveriesTotal.WithLabelValues("delivered").Inc()
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
	statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	if permanentStatus(resp.StatusCode) {
		deliveriesTotal.WithLabelValues("rejected").Inc()
	} else {
		deliveriesTotal.WithLabelValues("failed").Inc()
	}
	return statusErr
}

// Backoff is the redelivery delay after the given attempt: 500ms doubling
// per attempt, capped at MaxBackoff.
func (s *Service) Backoff(attempt uint64) time.Duration {
	limit := s.MaxBackoff
	if limit <= 0 {
		limit = defaultMaxBackoff
	}
	d := baseBackoff
	for i := uint64(1); i < attempt && d < limit; i++ {
		d *= 2
	}
	return min(d, limit)
}

// annotate stamps retry bookkeeping into the envelope's metadata, keeping
// whatever metadata the envelope already carries.
func annotate(d Delivery) ([]byte, error) {
	var env contracts.Envelope
	if err := json.Unmarshal(d.Data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Metadata == nil {
		env.Metadata = map[string]any{}
	}
	env.Metadata[MetadataDeliveryAttempt] = d.Attempt
	env.Metadata[MetadataStreamSequence] = d.StreamSequence
	return json.Marshal(env)
}
