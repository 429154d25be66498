package subscription

import (
	"context"
	"database/sql"
	"time"
)

// Repository defines persistence for subscription records.
type Repository interface {
	List(ctx context.Context) ([]*Record, error)
	ListByDeviceToken(ctx context.Context, deviceToken string) ([]*Record, error)
	// Upsert inserts or replaces the record keyed by (DeviceToken, TargetID),
	// clearing LastNotifiedAt.
	Upsert(ctx context.Context, r *Record) error
	MarkNotified(ctx context.Context, deviceToken string, targetID int64, at time.Time) error
	Delete(ctx context.Context, deviceToken string, targetID int64) error

	// Claim sets last_notified_at to at only if it is NULL or earlier than at.
	// It reports false when another pass already holds the claim.
	Claim(ctx context.Context, deviceToken string, targetID int64, at time.Time) (bool, error)
	// ReleaseClaim restores previous if the stored value is still claimed.
	ReleaseClaim(ctx context.Context, deviceToken string, targetID int64, claimed time.Time, previous sql.NullTime) error
}
