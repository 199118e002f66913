package application

import (
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/domain"
)

type Config struct {
	TrialTotal              int
	TrialMaxActionsPerHour  int
	TrialBlockDuration      time.Duration
	TrialResetInterval      time.Duration
	TrialStatusCacheTTL     time.Duration
	SoftKeyMaxPerHour       int
	SessionMaxAge           time.Duration
	SessionWarningThreshold time.Duration
	TokenTTL                time.Duration
	ConflictWindow          time.Duration
	SuspicionRiskThreshold  int
	SyncEventTTL            time.Duration
}

type TrialConsumeRequest struct {
	Fingerprint string         `json:"fingerprint"`
	Action      string         `json:"action"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Components  map[string]any `json:"components,omitempty"`
	ClientIP    string         `json:"-"`
	UserAgent   string         `json:"-"`
}

type TrialConsumeResponse struct {
	Success     bool       `json:"success"`
	Remaining   int        `json:"remaining"`
	Blocked     bool       `json:"blocked,omitempty"`
	RateLimited bool       `json:"rate_limited,omitempty"`
	NextResetAt *time.Time `json:"next_reset_at,omitempty"`
	Code        string     `json:"code,omitempty"`
}

type CreateSessionRequest struct {
	IdentityID  uuid.UUID      `json:"identity_id"`
	Fingerprint string         `json:"fingerprint"`
	DeviceLabel string         `json:"device_label"`
	IPAddress   string         `json:"ip_address"`
	UserAgent   string         `json:"user_agent"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type CreateSessionResponse struct {
	Token     string         `json:"token"`
	SessionID uuid.UUID      `json:"session_id"`
	DeviceID  uuid.UUID      `json:"device_id"`
	ExpiresAt time.Time      `json:"expires_at"`
	ExpiresIn int64          `json:"expires_in"`
	NewDevice bool           `json:"new_device"`
	Conflicts []ConflictItem `json:"conflicts,omitempty"`
}

type RefreshResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn int64     `json:"expires_in"`
}

type SessionStatusResponse struct {
	State            domain.SessionState `json:"state"`
	ExpiresAt        time.Time           `json:"expires_at"`
	SecondsRemaining int64               `json:"seconds_remaining"`
	RefreshAdvised   bool                `json:"refresh_advised"`
}

type SessionItem struct {
	SessionID      uuid.UUID  `json:"session_id"`
	DeviceID       uuid.UUID  `json:"device_id"`
	IPAddress      string     `json:"ip_address"`
	State          string     `json:"state"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	IsCurrent      bool       `json:"is_current"`
}

type DeviceItem struct {
	DeviceID    uuid.UUID `json:"device_id"`
	Label       string    `json:"label"`
	Trusted     bool      `json:"trusted"`
	Active      bool      `json:"active"`
	IsCurrent   bool      `json:"is_current"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

type ConflictItem struct {
	Type       domain.ConflictType `json:"type"`
	DeviceID   uuid.UUID           `json:"device_id"`
	RiskScore  int                 `json:"risk_score"`
	Reason     string              `json:"reason"`
	DetectedAt time.Time           `json:"detected_at"`
}

// ActionResult is the uniform envelope for device and sync management actions.
type ActionResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

type SyncEventItem struct {
	EventID        uuid.UUID            `json:"event_id"`
	OriginDeviceID uuid.UUID            `json:"origin_device_id"`
	EventType      domain.SyncEventType `json:"event_type"`
	Payload        map[string]any       `json:"payload,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

type AlertItem struct {
	AlertID   uuid.UUID          `json:"alert_id"`
	EventType string             `json:"event_type"`
	RiskScore int                `json:"risk_score"`
	Status    domain.AlertStatus `json:"status"`
	Context   map[string]any     `json:"context,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

type SyncStatusResponse struct {
	SecurityAlerts []AlertItem       `json:"security_alerts"`
	PendingEvents  []SyncEventItem   `json:"pending_events"`
	SyncConfig     domain.SyncConfig `json:"sync_config"`
}

type CleanupResult struct {
	SessionsDeleted     int64 `json:"sessions_deleted"`
	SyncEventsDeleted   int64 `json:"sync_events_deleted"`
	TrialActionsDeleted int64 `json:"trial_actions_deleted"`
}
