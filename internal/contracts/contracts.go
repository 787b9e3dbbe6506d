package contracts

import (
	"encoding/json"
	"time"
)

// Envelope is the event shape appended to the broker and pushed back to the
// webhook. Payload stays raw until the schema registry decodes it.
type Envelope struct {
	EventID    string          `json:"eventId"`
	TimeBucket string          `json:"timeBucket"`
	Tenant     string          `json:"tenant"`
	DataCoreID string          `json:"dataCoreId"`
	FlowType   string          `json:"flowType"`
	EventType  string          `json:"eventType"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	ValidTime  time.Time       `json:"validTime"`
}

// TimeBucket buckets events by UTC hour, e.g. 20260209220000.
func TimeBucket(t time.Time) string {
	return t.UTC().Format("2006010215") + "0000"
}

// Todo is a read-model row.
type Todo struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Done        bool    `json:"done"`
}
