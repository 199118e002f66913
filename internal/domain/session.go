package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle position of a session at a point in time.
// Expired is terminal; Expiring only widens client behavior (refresh prompts),
// the server-side validity window is unchanged by it.
type SessionState string

const (
	SessionActive   SessionState = "active"
	SessionExpiring SessionState = "expiring"
	SessionExpired  SessionState = "expired"
)

// Session models one authenticated login instance bound to a device.
// CreatedAt doubles as issued-at and never moves; refresh only extends ExpiresAt.
type Session struct {
	SessionID      uuid.UUID
	IdentityID     uuid.UUID
	DeviceID       uuid.UUID
	IPAddress      string
	UserAgent      string
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
	RevokedAt      *time.Time
}

// StateAt computes the state machine position using the warning threshold.
func (s Session) StateAt(now time.Time, warningThreshold time.Duration) SessionState {
	if !now.Before(s.ExpiresAt) {
		return SessionExpired
	}
	if !now.Before(s.ExpiresAt.Add(-warningThreshold)) {
		return SessionExpiring
	}
	return SessionActive
}

// Live reports whether the session is usable: not revoked and not expired.
func (s Session) Live(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
