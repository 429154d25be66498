package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sweep_notifier/internal/domain/subscription"
)

const subscriptionColumns = `device_token, platform, subscription_type, target_id, lead_minutes,
               last_notified_at, created_at, updated_at`

type PostgresSubscriptionRepository struct {
	db *sql.DB
}

func NewPostgresSubscriptionRepository(db *sql.DB) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{db: db}
}

func scanSubscription(row rowScanner) (*subscription.Record, error) {
	r := &subscription.Record{}
	var subType string
	err := row.Scan(&r.DeviceToken, &r.Platform, &subType, &r.TargetID, &r.LeadMinutes,
		&r.LastNotifiedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Type = subscription.Type(subType)
	return r, nil
}

func (r *PostgresSubscriptionRepository) List(ctx context.Context) ([]*subscription.Record, error) {
	query := `SELECT ` + subscriptionColumns + `
               FROM subscriptions ORDER BY device_token, target_id`
	return r.query(ctx, query)
}

func (r *PostgresSubscriptionRepository) ListByDeviceToken(ctx context.Context, deviceToken string) ([]*subscription.Record, error) {
	query := `SELECT ` + subscriptionColumns + `
               FROM subscriptions WHERE device_token = $1 ORDER BY target_id`
	return r.query(ctx, query, deviceToken)
}

func (r *PostgresSubscriptionRepository) query(ctx context.Context, query string, args ...any) ([]*subscription.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying subscriptions: %w", err)
	}
	defer rows.Close()

	var records []*subscription.Record
	for rows.Next() {
		rec, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning subscription row: %w", err)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscription rows: %w", err)
	}
	return records, nil
}

// Upsert replaces every field of an existing row for the same device and
// target, so re-subscribing also clears last_notified_at.
func (r *PostgresSubscriptionRepository) Upsert(ctx context.Context, rec *subscription.Record) error {
	query := `INSERT INTO subscriptions (device_token, platform, subscription_type, target_id, lead_minutes, last_notified_at, created_at, updated_at)
               VALUES ($1, $2, $3, $4, $5, NULL, $6, NOW())
               ON CONFLICT (device_token, target_id) DO UPDATE
               SET platform = EXCLUDED.platform,
                   subscription_type = EXCLUDED.subscription_type,
                   lead_minutes = EXCLUDED.lead_minutes,
                   last_notified_at = NULL,
                   created_at = EXCLUDED.created_at,
                   updated_at = NOW()
               RETURNING created_at, updated_at`
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	err := r.db.QueryRowContext(ctx, query, rec.DeviceToken, rec.Platform, string(rec.Type), rec.TargetID, rec.LeadMinutes, createdAt).
		Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error upserting subscription: %w", err)
	}
	rec.LastNotifiedAt = sql.NullTime{}
	return nil
}

func (r *PostgresSubscriptionRepository) MarkNotified(ctx context.Context, deviceToken string, targetID int64, at time.Time) error {
	query := `UPDATE subscriptions SET last_notified_at = $3, updated_at = NOW()
               WHERE device_token = $1 AND target_id = $2`
	return r.execOne(ctx, "marking subscription notified", query, deviceToken, targetID, at)
}

func (r *PostgresSubscriptionRepository) Delete(ctx context.Context, deviceToken string, targetID int64) error {
	query := `DELETE FROM subscriptions WHERE device_token = $1 AND target_id = $2`
	return r.execOne(ctx, "deleting subscription", query, deviceToken, targetID)
}

// Claim is a compare-and-set on last_notified_at; the row lock taken by the
// UPDATE serializes concurrent passes.
func (r *PostgresSubscriptionRepository) Claim(ctx context.Context, deviceToken string, targetID int64, at time.Time) (bool, error) {
	query := `UPDATE subscriptions SET last_notified_at = $3, updated_at = NOW()
               WHERE device_token = $1 AND target_id = $2
                 AND (last_notified_at IS NULL OR last_notified_at < $3)`
	res, err := r.db.ExecContext(ctx, query, deviceToken, targetID, at)
	if err != nil {
		return false, fmt.Errorf("error claiming subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error checking claimed rows: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresSubscriptionRepository) ReleaseClaim(ctx context.Context, deviceToken string, targetID int64, claimed time.Time, previous sql.NullTime) error {
	query := `UPDATE subscriptions SET last_notified_at = $4, updated_at = NOW()
               WHERE device_token = $1 AND target_id = $2 AND last_notified_at = $3`
	if _, err := r.db.ExecContext(ctx, query, deviceToken, targetID, claimed, previous); err != nil {
		return fmt.Errorf("error releasing subscription claim: %w", err)
	}
	return nil
}

func (r *PostgresSubscriptionRepository) execOne(ctx context.Context, action, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error %s: %w", action, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking rows affected while %s: %w", action, err)
	}
	if n == 0 {
		return subscription.ErrSubscriptionNotFound
	}
	return nil
}
