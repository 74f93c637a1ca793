package storage

import (
	"context"
	"fmt"
)

// The partial unique index on PENDING executions is the storage-level
// enforcement of at-most-one in-flight attempt per trigger.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS triggers (
    id          TEXT PRIMARY KEY,
    owner       TEXT NOT NULL,
    symbol      TEXT NOT NULL,
    side        TEXT NOT NULL,
    amount      NUMERIC NOT NULL,
    predicate   JSONB NOT NULL,
    status      TEXT NOT NULL DEFAULT 'ACTIVE',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS triggers_status_idx ON triggers (status);

CREATE TABLE IF NOT EXISTS executions (
    id              TEXT PRIMARY KEY,
    trigger_id      TEXT NOT NULL REFERENCES triggers (id),
    symbol          TEXT NOT NULL,
    side            TEXT NOT NULL,
    amount          NUMERIC NOT NULL,
    observed_price  NUMERIC NOT NULL,
    status          TEXT NOT NULL,
    tx_reference    TEXT,
    error_detail    TEXT,
    executed_at     TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS executions_one_pending_per_trigger
    ON executions (trigger_id) WHERE status = 'PENDING';

CREATE INDEX IF NOT EXISTS executions_trigger_idx ON executions (trigger_id);
`

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
