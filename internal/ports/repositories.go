package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/domain"
)

// TrialRepository owns durable per-fingerprint quota state.
// ConsumeOne is the only mutation of Remaining; it must be a single conditional
// update whose affected-row count decides success, because two tabs racing for
// the last unit must never both win.
type TrialRepository interface {
	GetOrCreate(ctx context.Context, fingerprint string, total int, now time.Time) (domain.TrialRecord, error)
	Get(ctx context.Context, fingerprint string) (domain.TrialRecord, error)
	// ConsumeOne atomically decrements Remaining when it is still positive.
	// applied == false means the quota was already exhausted at commit time.
	ConsumeOne(ctx context.Context, fingerprint string, now time.Time) (applied bool, remaining int, err error)
	// Reset restores Remaining = Total only when the reset interval has elapsed,
	// making a reset on a fresh record a no-op.
	Reset(ctx context.Context, fingerprint string, resetBefore time.Time, now time.Time) (applied bool, err error)
	SetBlockedUntil(ctx context.Context, fingerprint string, until, now time.Time) error
	AppendAction(ctx context.Context, action domain.TrialAction) error
	CountActionsSince(ctx context.Context, fingerprint string, since time.Time) (int, error)
	DeleteActionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionCreateParams captures metadata required to create a session record.
type SessionCreateParams struct {
	IdentityID uuid.UUID
	DeviceID   uuid.UUID
	IPAddress  string
	UserAgent  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// SessionRepository manages persistent session lifecycle.
// Extend and Revoke are conditional updates so refresh is idempotent under
// retry and revocation happens at most once.
type SessionRepository interface {
	Create(ctx context.Context, params SessionCreateParams) (domain.Session, error)
	GetByID(ctx context.Context, sessionID uuid.UUID) (domain.Session, error)
	ListByIdentity(ctx context.Context, identityID uuid.UUID, limit, offset int) ([]domain.Session, error)
	TouchActivity(ctx context.Context, sessionID uuid.UUID, touchedAt time.Time) error
	// Extend moves ExpiresAt forward only while the session is still live.
	Extend(ctx context.Context, sessionID uuid.UUID, newExpiry, now time.Time) (bool, error)
	RevokeByID(ctx context.Context, sessionID uuid.UUID, revokedAt time.Time) error
	RevokeByDevice(ctx context.Context, deviceID uuid.UUID, revokedAt time.Time) (int64, error)
	CountLiveByDevice(ctx context.Context, deviceID uuid.UUID, now time.Time) (int64, error)
	// DeleteExpiredBefore removes sessions strictly older than their recorded
	// expiry. The expiry timestamp is the sole predicate, which makes the sweep
	// idempotent and safe to run from concurrent workers.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeviceUpsertParams identifies a device by its (identity, signature) key.
type DeviceUpsertParams struct {
	IdentityID    uuid.UUID
	SignatureHash string
	Label         string
	SeenAt        time.Time
}

// DeviceRegistry is the per-identity set of known devices.
// Devices deactivate rather than delete so signature history survives.
type DeviceRegistry interface {
	// UpsertBySignature reactivates or creates the device for the signature and
	// bumps LastSeenAt. created reports a first login from this signature.
	UpsertBySignature(ctx context.Context, params DeviceUpsertParams) (device domain.Device, created bool, err error)
	GetByID(ctx context.Context, identityID, deviceID uuid.UUID) (domain.Device, error)
	ListActiveByIdentity(ctx context.Context, identityID uuid.UUID) ([]domain.Device, error)
	SetTrusted(ctx context.Context, identityID, deviceID uuid.UUID, trusted bool, at time.Time) error
	Deactivate(ctx context.Context, identityID, deviceID uuid.UUID, at time.Time) error
	TouchSeen(ctx context.Context, deviceID uuid.UUID, at time.Time) error
}

// SyncEventRepository stores materialized per-target notification deliveries.
type SyncEventRepository interface {
	// CreateForTargets writes one delivery row per target device.
	CreateForTargets(ctx context.Context, event domain.SyncEvent, targets []uuid.UUID) error
	ListPending(ctx context.Context, identityID, targetDeviceID uuid.UUID, limit int) ([]domain.SyncEvent, error)
	// MarkProcessed flips the processed flag once; replays report applied == false.
	MarkProcessed(ctx context.Context, eventID, targetDeviceID uuid.UUID, at time.Time) (applied bool, err error)
	DeleteProcessedOrExpired(ctx context.Context, now time.Time) (int64, error)
}

// SyncConfigRepository persists per-identity client sync tuning.
type SyncConfigRepository interface {
	Get(ctx context.Context, identityID uuid.UUID) (domain.SyncConfig, error)
	Upsert(ctx context.Context, config domain.SyncConfig) error
}

// SecurityEventRepository is the append-only authentication event log.
type SecurityEventRepository interface {
	Append(ctx context.Context, event domain.SecurityEvent) (int64, error)
	ListByIdentity(ctx context.Context, identityID uuid.UUID, limit, offset int, since *time.Time) ([]domain.SecurityEvent, error)
}

// SecurityAlertRepository owns flagged anomalies and their lifecycle.
type SecurityAlertRepository interface {
	Create(ctx context.Context, alert domain.SecurityAlert) (domain.SecurityAlert, error)
	GetByID(ctx context.Context, alertID uuid.UUID) (domain.SecurityAlert, error)
	ListOpenByIdentity(ctx context.Context, identityID uuid.UUID, limit int) ([]domain.SecurityAlert, error)
	// UpdateStatus applies a lifecycle transition guarded by the current status.
	UpdateStatus(ctx context.Context, alertID uuid.UUID, from, to domain.AlertStatus, at time.Time) (applied bool, err error)
}

// OutboxEvent is the write-side event payload prior to storage.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

// OutboxRecord is durable outbox state including retry/claim metadata.
type OutboxRecord struct {
	OutboxID       uuid.UUID
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

// OutboxRepository controls the publish-retry workflow for platform events.
// The claim token fences concurrent workers off each other's batches.
type OutboxRepository interface {
	Enqueue(ctx context.Context, event OutboxEvent) error
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
}

const (
	IdempotencyStatusPending   = "PENDING"
	IdempotencyStatusCompleted = "COMPLETED"
)

// IdempotencyRecord tracks a previously accepted mutating request so internal
// gateway retries of session creation replay the stored response.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	Status       string
	ResponseCode int
	ResponseBody []byte
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IdempotencyRepository enforces idempotent mutation semantics.
type IdempotencyRepository interface {
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)
	Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error
	Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error
}
