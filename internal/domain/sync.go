package domain

import (
	"time"

	"github.com/google/uuid"
)

// SyncEventType enumerates the cross-device notification kinds.
type SyncEventType string

const (
	SyncLogin    SyncEventType = "login"
	SyncLogout   SyncEventType = "logout"
	SyncRefresh  SyncEventType = "refresh"
	SyncConflict SyncEventType = "conflict"
)

// SyncEvent is one delivery of a cross-device notification to one target
// device. Fan-out materializes a row per target at creation time, which makes
// the per-device at-least-once invariant a simple row predicate: the row is
// visible to its target until that target marks it processed.
type SyncEvent struct {
	EventID        uuid.UUID
	IdentityID     uuid.UUID
	OriginDeviceID uuid.UUID
	TargetDeviceID uuid.UUID
	EventType      SyncEventType
	Payload        map[string]any
	ProcessedAt    *time.Time
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// SyncConfig is the per-identity client synchronization tuning.
// It only shapes client polling; server state stays authoritative regardless.
type SyncConfig struct {
	IdentityID          uuid.UUID `json:"-"`
	PollIntervalSeconds int       `json:"poll_interval_seconds"`
	PushEnabled         bool      `json:"push_enabled"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// DefaultSyncConfig returns the tuning used before an identity customizes it.
func DefaultSyncConfig(identityID uuid.UUID) SyncConfig {
	return SyncConfig{
		IdentityID:          identityID,
		PollIntervalSeconds: 30,
		PushEnabled:         true,
	}
}
