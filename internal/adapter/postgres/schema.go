package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied when DB_BOOTSTRAP is set. The subscription service owns
// subscribers in production; the table is created here so a fresh database
// can run the whole pipeline.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS subscribers (
		id          BIGSERIAL PRIMARY KEY,
		phone       TEXT        NOT NULL,
		location_id TEXT        NOT NULL DEFAULT '',
		is_active   BOOLEAN     NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS pending_deliveries (
		id              BIGSERIAL PRIMARY KEY,
		subscriber_id   BIGINT      NOT NULL REFERENCES subscribers (id),
		severity        TEXT        NOT NULL,
		water_level     INTEGER     NOT NULL,
		message         TEXT        NOT NULL,
		delivery_status SMALLINT    NOT NULL DEFAULT 0,
		attempt_count   INTEGER     NOT NULL DEFAULT 0,
		sent_at         TIMESTAMPTZ,
		error_message   TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		claimed_at      TIMESTAMPTZ,
		claimed_by      TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS pending_deliveries_status_id_idx
		ON pending_deliveries (delivery_status, id)`,
	`CREATE INDEX IF NOT EXISTS pending_deliveries_sent_idx
		ON pending_deliveries (severity, sent_at)
		WHERE delivery_status = 1`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
