package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/ports"
)

type Service struct {
	cfg         Config
	trials      ports.TrialRepository
	sessions    ports.SessionRepository
	devices     ports.DeviceRegistry
	syncEvents  ports.SyncEventRepository
	syncConfigs ports.SyncConfigRepository
	events      ports.SecurityEventRepository
	alerts      ports.SecurityAlertRepository
	outbox      ports.OutboxRepository
	idempotency ports.IdempotencyRepository
	trialCache  ports.TrialStatusCache
	revocations ports.SessionRevocationStore
	softLimiter ports.AnonymousRateLimiter
	notifier    ports.SyncNotifier
	tokenSigner ports.TokenSigner
	logger      *slog.Logger
	nowFn       func() time.Time
}

type Dependencies struct {
	Config      Config
	Trials      ports.TrialRepository
	Sessions    ports.SessionRepository
	Devices     ports.DeviceRegistry
	SyncEvents  ports.SyncEventRepository
	SyncConfigs ports.SyncConfigRepository
	Events      ports.SecurityEventRepository
	Alerts      ports.SecurityAlertRepository
	Outbox      ports.OutboxRepository
	Idempotency ports.IdempotencyRepository
	TrialCache  ports.TrialStatusCache
	Revocations ports.SessionRevocationStore
	SoftLimiter ports.AnonymousRateLimiter
	Notifier    ports.SyncNotifier
	TokenSigner ports.TokenSigner
	Logger      *slog.Logger
}

func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:         deps.Config,
		trials:      deps.Trials,
		sessions:    deps.Sessions,
		devices:     deps.Devices,
		syncEvents:  deps.SyncEvents,
		syncConfigs: deps.SyncConfigs,
		events:      deps.Events,
		alerts:      deps.Alerts,
		outbox:      deps.Outbox,
		idempotency: deps.Idempotency,
		trialCache:  deps.TrialCache,
		revocations: deps.Revocations,
		softLimiter: deps.SoftLimiter,
		notifier:    deps.Notifier,
		tokenSigner: deps.TokenSigner,
		logger:      logger.With("service", "M09-Identity-Consistency-Service", "layer", "application"),
		nowFn:       func() time.Time { return time.Now().UTC() },
	}
}

// logSecurityEvent appends to the security log best-effort. Log failures must
// never block the primary consume/login path; they are logged and swallowed.
func (s *Service) logSecurityEvent(ctx context.Context, event domain.SecurityEvent) {
	event.CreatedAt = s.nowFn()
	if _, err := s.events.Append(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "security event append failed",
			"operation", "log_security_event",
			"outcome", "failure",
			"event_type", event.EventType,
			"error", err,
		)
	}
}

// enqueueOutbox stages a platform event best-effort alongside the primary write.
func (s *Service) enqueueOutbox(ctx context.Context, eventType, partitionKey string, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.outbox.Enqueue(ctx, ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    eventType,
		PartitionKey: partitionKey,
		Payload:      raw,
		OccurredAt:   s.nowFn(),
	}); err != nil {
		s.logger.WarnContext(ctx, "outbox enqueue failed",
			"operation", "enqueue_outbox",
			"outcome", "failure",
			"event_type", eventType,
			"error", err,
		)
	}
}

func hashRequest(req any) string {
	raw, _ := json.Marshal(req)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// notifyIdentity pushes a payload to the identity's connected clients.
// Push is cooperative; polling remains the safety net, so failures are ignored.
func (s *Service) notifyIdentity(identityID uuid.UUID, kind string, body map[string]any) {
	if s.notifier == nil {
		return
	}
	msg := map[string]any{"kind": kind}
	for k, v := range body {
		msg[k] = v
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.notifier.Notify(identityID.String(), raw)
}
