package domain

import "time"

// TrialRecord is the quota aggregate for one anonymous fingerprint.
// Remaining is only ever mutated through conditional updates in the store, so
// the [0, Total] invariant holds under concurrent consumes.
type TrialRecord struct {
	Fingerprint  string
	Remaining    int
	Total        int
	LastUsedAt   *time.Time
	LastResetAt  time.Time
	BlockedUntil *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BlockedAt reports whether the record sits inside an active block window.
func (r TrialRecord) BlockedAt(now time.Time) bool {
	return r.BlockedUntil != nil && r.BlockedUntil.After(now)
}

// ResetDueAt reports whether the rolling reset window has elapsed.
// Reset eligibility is independent of block state.
func (r TrialRecord) ResetDueAt(now time.Time, interval time.Duration) bool {
	return now.Sub(r.LastResetAt) >= interval
}

// TrialAction is one immutable metered-action entry in a record's log.
// Denied attempts are appended too (with a denial action type) so the
// rate-limit window sees hammering, not only successful consumption.
type TrialAction struct {
	ID          int64
	Fingerprint string
	ActionType  string
	Metadata    map[string]any
	ClientIP    string
	CreatedAt   time.Time
}

// DeniedActionType derives the log entry type for a denied attempt.
func DeniedActionType(actionType string) string {
	return actionType + ":denied"
}

// TrialStatus is the client-facing snapshot mirrored into cache and cookie.
// It is a TTL-bounded hint; the server response is authoritative on every write.
type TrialStatus struct {
	Fingerprint string     `json:"fingerprint"`
	Remaining   int        `json:"remaining"`
	Total       int        `json:"total"`
	Blocked     bool       `json:"blocked"`
	NextResetAt *time.Time `json:"next_reset_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
