package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/domain"
)

// TrialStatusCache mirrors the last known trial status for optimistic UI reads.
// Entries are overwritten wholesale on every authoritative write, never merged
// field by field; the durable record always wins on disagreement.
type TrialStatusCache interface {
	Put(ctx context.Context, status domain.TrialStatus, ttl time.Duration) error
	Get(ctx context.Context, fingerprint string) (*domain.TrialStatus, error)
	Invalidate(ctx context.Context, fingerprint string) error
}

// SessionRevocationStore keeps revocation markers with token-aligned TTL.
// This gives immediate logout semantics without a session lookup on every call.
type SessionRevocationStore interface {
	MarkRevoked(ctx context.Context, sessionID uuid.UUID, expiresAt time.Time) error
	IsRevoked(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

// AnonymousRateLimiter is the stricter volatile limiter applied to
// low-confidence (soft-key) fingerprints before any durable state is touched.
type AnonymousRateLimiter interface {
	// Hit records one attempt and returns the attempt count inside the window.
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}
