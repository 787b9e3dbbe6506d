package eventlog

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createPathwayStateSQL = `
CREATE TABLE IF NOT EXISTS pathway_state (
  flow_type text NOT NULL,
  event_type text NOT NULL,
  state_key text NOT NULL,
  processed_at timestamptz NOT NULL,
  expires_at timestamptz NOT NULL,
  PRIMARY KEY (flow_type, event_type, state_key)
)`

const createPathwayStateExpiryIndexSQL = `
CREATE INDEX IF NOT EXISTS pathway_state_expires_at_idx ON pathway_state (expires_at)`

const isProcessedSQL = `
SELECT EXISTS (
  SELECT 1 FROM pathway_state
  WHERE flow_type = $1 AND event_type = $2 AND state_key = $3 AND expires_at > $4
)`

const setProcessedSQL = `
INSERT INTO pathway_state (flow_type, event_type, state_key, processed_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (flow_type, event_type, state_key) DO UPDATE
SET processed_at = EXCLUDED.processed_at,
    expires_at = EXCLUDED.expires_at
`

const purgeExpiredStateSQL = `DELETE FROM pathway_state WHERE expires_at <= $1`

// PostgresStateStore keeps processing state across restarts.
type PostgresStateStore struct {
	Pool *pgxpool.Pool
	TTL  time.Duration
	Now  func() time.Time
}

func NewPostgresStateStore(pool *pgxpool.Pool, ttl time.Duration) *PostgresStateStore {
	return &PostgresStateStore{
		Pool: pool,
		TTL:  ttl,
		Now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *PostgresStateStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, createPathwayStateSQL); err != nil {
		return err
	}
	_, err := s.Pool.Exec(ctx, createPathwayStateExpiryIndexSQL)
	return err
}

func (s *PostgresStateStore) IsProcessed(ctx context.Context, key StateKey) (bool, error) {
	var processed bool
	err := s.Pool.QueryRow(ctx, isProcessedSQL, key.FlowType, key.EventType, key.Key, s.Now()).Scan(&processed)
	return processed, err
}

func (s *PostgresStateStore) SetProcessed(ctx context.Context, key StateKey) error {
	now := s.Now()
	_, err := s.Pool.Exec(ctx, setProcessedSQL, key.FlowType, key.EventType, key.Key, now, now.Add(s.TTL))
	return err
}

// PurgeExpired deletes expired entries and returns how many were removed.
func (s *PostgresStateStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.Pool.Exec(ctx, purgeExpiredStateSQL, s.Now())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
