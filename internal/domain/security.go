package domain

import (
	"time"

	"github.com/google/uuid"
)

// SecurityEventType enumerates the append-only log entry kinds.
type SecurityEventType string

const (
	EventLoginSuccess     SecurityEventType = "login_success"
	EventLoginFailure     SecurityEventType = "login_failure"
	EventLogout           SecurityEventType = "logout"
	EventSessionRefresh   SecurityEventType = "session_refresh"
	EventTrialConsumed    SecurityEventType = "trial_consumed"
	EventTrialDenied      SecurityEventType = "trial_denied"
	EventConflictDetected SecurityEventType = "conflict_detected"
	EventAnomaly          SecurityEventType = "anomaly"
)

// SecurityEvent is one immutable entry in the security log.
// IdentityID is nil for anonymous (fingerprint-only) events.
type SecurityEvent struct {
	ID          int64
	IdentityID  *uuid.UUID
	Fingerprint string
	EventType   SecurityEventType
	RiskScore   int
	IPAddress   string
	UserAgent   string
	Context     map[string]any
	CreatedAt   time.Time
}

// AlertStatus tracks the operator/user response to a flagged anomaly.
type AlertStatus string

const (
	AlertOpen          AlertStatus = "open"
	AlertAcknowledged  AlertStatus = "acknowledged"
	AlertResolved      AlertStatus = "resolved"
	AlertFalsePositive AlertStatus = "false_positive"
)

// SecurityAlert is a flagged anomaly awaiting explicit response.
// Alerts are only mutated through status transitions and never auto-deleted.
type SecurityAlert struct {
	AlertID    uuid.UUID
	IdentityID *uuid.UUID
	EventType  string
	RiskScore  int
	Status     AlertStatus
	Context    map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CanTransitionTo enforces the one-way alert lifecycle: open may be
// acknowledged or closed, acknowledged may only be closed.
func (a SecurityAlert) CanTransitionTo(next AlertStatus) bool {
	switch a.Status {
	case AlertOpen:
		return next == AlertAcknowledged || next == AlertResolved || next == AlertFalsePositive
	case AlertAcknowledged:
		return next == AlertResolved || next == AlertFalsePositive
	default:
		return false
	}
}
