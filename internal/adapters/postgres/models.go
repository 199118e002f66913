package postgres

import (
	"time"

	"github.com/google/uuid"
)

type trialRecordModel struct {
	Fingerprint  string     `gorm:"column:fingerprint;primaryKey"`
	Remaining    int        `gorm:"column:remaining"`
	Total        int        `gorm:"column:total"`
	LastUsedAt   *time.Time `gorm:"column:last_used_at"`
	LastResetAt  time.Time  `gorm:"column:last_reset_at"`
	BlockedUntil *time.Time `gorm:"column:blocked_until"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
}

func (trialRecordModel) TableName() string { return "trial_records" }

type trialActionModel struct {
	ID          int64     `gorm:"column:id;primaryKey"`
	Fingerprint string    `gorm:"column:fingerprint"`
	ActionType  string    `gorm:"column:action_type"`
	Metadata    *string   `gorm:"column:metadata;type:jsonb"`
	IPAddress   *string   `gorm:"column:ip_address"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (trialActionModel) TableName() string { return "trial_actions" }

type sessionModel struct {
	SessionID      uuid.UUID  `gorm:"column:session_id;type:uuid;default:gen_random_uuid();primaryKey"`
	IdentityID     uuid.UUID  `gorm:"column:identity_id"`
	DeviceID       uuid.UUID  `gorm:"column:device_id"`
	IPAddress      *string    `gorm:"column:ip_address"`
	UserAgent      string     `gorm:"column:user_agent"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	LastActivityAt time.Time  `gorm:"column:last_activity_at"`
	ExpiresAt      time.Time  `gorm:"column:expires_at"`
	RevokedAt      *time.Time `gorm:"column:revoked_at"`
}

func (sessionModel) TableName() string { return "sessions" }

type deviceModel struct {
	DeviceID      uuid.UUID `gorm:"column:device_id;type:uuid;default:gen_random_uuid();primaryKey"`
	IdentityID    uuid.UUID `gorm:"column:identity_id"`
	SignatureHash string    `gorm:"column:signature_hash"`
	Label         string    `gorm:"column:label"`
	Trusted       bool      `gorm:"column:trusted"`
	Active        bool      `gorm:"column:active"`
	FirstSeenAt   time.Time `gorm:"column:first_seen_at"`
	LastSeenAt    time.Time `gorm:"column:last_seen_at"`
}

func (deviceModel) TableName() string { return "devices" }

type syncEventModel struct {
	ID             int64      `gorm:"column:id;primaryKey"`
	EventID        uuid.UUID  `gorm:"column:event_id"`
	IdentityID     uuid.UUID  `gorm:"column:identity_id"`
	OriginDeviceID uuid.UUID  `gorm:"column:origin_device_id"`
	TargetDeviceID uuid.UUID  `gorm:"column:target_device_id"`
	EventType      string     `gorm:"column:event_type"`
	Payload        *string    `gorm:"column:payload;type:jsonb"`
	ProcessedAt    *time.Time `gorm:"column:processed_at"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	ExpiresAt      time.Time  `gorm:"column:expires_at"`
}

func (syncEventModel) TableName() string { return "sync_events" }

type syncConfigModel struct {
	IdentityID          uuid.UUID `gorm:"column:identity_id;type:uuid;primaryKey"`
	PollIntervalSeconds int       `gorm:"column:poll_interval_seconds"`
	PushEnabled         bool      `gorm:"column:push_enabled"`
	UpdatedAt           time.Time `gorm:"column:updated_at"`
}

func (syncConfigModel) TableName() string { return "sync_configs" }

type securityEventModel struct {
	ID          int64      `gorm:"column:id;primaryKey"`
	IdentityID  *uuid.UUID `gorm:"column:identity_id"`
	Fingerprint *string    `gorm:"column:fingerprint"`
	EventType   string     `gorm:"column:event_type"`
	RiskScore   int        `gorm:"column:risk_score"`
	IPAddress   *string    `gorm:"column:ip_address"`
	UserAgent   string     `gorm:"column:user_agent"`
	Context     *string    `gorm:"column:context;type:jsonb"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
}

func (securityEventModel) TableName() string { return "security_events" }

type securityAlertModel struct {
	AlertID    uuid.UUID  `gorm:"column:alert_id;type:uuid;primaryKey"`
	IdentityID *uuid.UUID `gorm:"column:identity_id"`
	EventType  string     `gorm:"column:event_type"`
	RiskScore  int        `gorm:"column:risk_score"`
	Status     string     `gorm:"column:status"`
	Context    *string    `gorm:"column:context;type:jsonb"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at"`
}

func (securityAlertModel) TableName() string { return "security_alerts" }

type identityOutboxModel struct {
	OutboxID       uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload;type:jsonb"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (identityOutboxModel) TableName() string { return "identity_outbox" }

type identityIdempotencyModel struct {
	IdempotencyKey string    `gorm:"column:idempotency_key;primaryKey"`
	RequestHash    string    `gorm:"column:request_hash"`
	Status         string    `gorm:"column:status"`
	ResponseCode   int       `gorm:"column:response_code"`
	ResponseBody   *string   `gorm:"column:response_body;type:jsonb"`
	ExpiresAt      time.Time `gorm:"column:expires_at"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (identityIdempotencyModel) TableName() string { return "identity_idempotency" }
