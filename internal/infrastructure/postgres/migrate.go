package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies the schema idempotently at boot. Statements are ordered so
// FK targets exist before their referrers.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS drops (
			id UUID PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			total_stock INT NOT NULL CHECK (total_stock >= 1),
			available_stock INT NOT NULL CHECK (available_stock >= 0),
			claim_window_start TIMESTAMPTZ NOT NULL,
			claim_window_end TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK (available_stock <= total_stock),
			CHECK (claim_window_end > claim_window_start)
		);`,

		`CREATE TABLE IF NOT EXISTS waitlist (
			user_id UUID NOT NULL,
			drop_id UUID NOT NULL REFERENCES drops(id) ON DELETE CASCADE,
			priority_score INT NOT NULL,
			signup_latency_ms INT NOT NULL DEFAULT 0,
			account_age_days INT NOT NULL DEFAULT 0,
			rapid_action_count INT NOT NULL DEFAULT 0,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
			PRIMARY KEY (user_id, drop_id)
		);`,

		`CREATE TABLE IF NOT EXISTS claims (
			user_id UUID NOT NULL,
			drop_id UUID NOT NULL REFERENCES drops(id) ON DELETE CASCADE,
			claim_code TEXT NOT NULL UNIQUE,
			claimed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, drop_id)
		);`,

		`CREATE TABLE IF NOT EXISTS outbox (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			message_id UUID NOT NULL,
			trace_id TEXT NOT NULL DEFAULT '',
			routing_key TEXT NOT NULL,
			payload JSONB NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			status TEXT NOT NULL DEFAULT 'pending',
			attempt INT NOT NULL DEFAULT 0,
			next_retry_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_error TEXT
		);`,

		// rank query: score DESC, joined_at ASC within a drop
		`CREATE INDEX IF NOT EXISTS idx_waitlist_drop_order ON waitlist (drop_id, priority_score DESC, joined_at ASC);`,
		`CREATE INDEX IF NOT EXISTS idx_waitlist_user ON waitlist (user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_claims_user ON claims (user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_claims_drop ON claims (drop_id);`,
		`CREATE INDEX IF NOT EXISTS idx_drops_window_start ON drops (claim_window_start);`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (status, next_retry_at);`,
	}

	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
