package database

import (
	"context"
	"database/sql"
	"fmt"
)

// subscriptionsDDL creates the only table this service owns. The schedules
// and parking_regulations tables are loaded by the dataset import.
const subscriptionsDDL = `
CREATE TABLE IF NOT EXISTS subscriptions (
    device_token      TEXT        NOT NULL,
    platform          TEXT        NOT NULL DEFAULT '',
    subscription_type TEXT        NOT NULL DEFAULT 'sweeping',
    target_id         BIGINT      NOT NULL,
    lead_minutes      INTEGER     NOT NULL DEFAULT 60,
    last_notified_at  TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT subscriptions_device_target_key UNIQUE (device_token, target_id)
);
CREATE INDEX IF NOT EXISTS subscriptions_device_token_idx ON subscriptions (device_token);
`

// EnsureSchema creates the subscriptions table if it does not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, subscriptionsDDL); err != nil {
		return fmt.Errorf("failed to ensure subscriptions schema: %w", err)
	}
	return nil
}
