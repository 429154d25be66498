package subscription

import (
	"database/sql"
	"errors"
	"time"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

// Type selects which calculator drives a subscription.
type Type string

const (
	TypeSweeping Type = "sweeping" // TargetID is a schedules.block_sweep_id
	TypeTiming   Type = "timing"   // TargetID is a parking_regulations.id
)

func (t Type) Valid() bool {
	return t == TypeSweeping || t == TypeTiming
}

// Record is one device's interest in one schedule or regulation.
// Corresponds to the 'subscriptions' table, unique on (device_token, target_id).
type Record struct {
	DeviceToken string
	Platform    string // "ios", "android", "web"
	Type        Type
	TargetID    int64
	LeadMinutes int
	// CreatedAt doubles as the "parked at" instant for timing subscriptions.
	CreatedAt      time.Time
	LastNotifiedAt sql.NullTime
	UpdatedAt      time.Time
}

// Lead returns LeadMinutes as a duration.
func (r *Record) Lead() time.Duration {
	return time.Duration(r.LeadMinutes) * time.Minute
}
