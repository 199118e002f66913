package application

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/ports"
)

// fakeClock is a controllable time source shared by a test's service and fakes.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeTrialRepo mirrors the durable trial tables in memory. ConsumeOne holds
// the mutex across check-and-decrement, matching the single-statement
// conditional update of the real adapter.
type fakeTrialRepo struct {
	mu      sync.Mutex
	records map[string]*domain.TrialRecord
	actions []domain.TrialAction
	nextID  int64

	failConsume bool
	failCount   int // CountActionsSince failures remaining
}

func newFakeTrialRepo() *fakeTrialRepo {
	return &fakeTrialRepo{records: map[string]*domain.TrialRecord{}}
}

func (r *fakeTrialRepo) GetOrCreate(_ context.Context, fingerprint string, total int, now time.Time) (domain.TrialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[fingerprint]; ok {
		return *rec, nil
	}
	rec := &domain.TrialRecord{
		Fingerprint: fingerprint,
		Remaining:   total,
		Total:       total,
		LastResetAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.records[fingerprint] = rec
	return *rec, nil
}

func (r *fakeTrialRepo) Get(_ context.Context, fingerprint string) (domain.TrialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[fingerprint]
	if !ok {
		return domain.TrialRecord{}, domain.ErrNotFound
	}
	return *rec, nil
}

func (r *fakeTrialRepo) ConsumeOne(_ context.Context, fingerprint string, now time.Time) (bool, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failConsume {
		return false, 0, errors.New("connection reset")
	}
	rec, ok := r.records[fingerprint]
	if !ok || rec.Remaining <= 0 {
		return false, 0, nil
	}
	rec.Remaining--
	rec.LastUsedAt = &now
	rec.UpdatedAt = now
	return true, rec.Remaining, nil
}

func (r *fakeTrialRepo) Reset(_ context.Context, fingerprint string, resetBefore, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[fingerprint]
	if !ok || rec.LastResetAt.After(resetBefore) {
		return false, nil
	}
	rec.Remaining = rec.Total
	rec.LastResetAt = now
	rec.UpdatedAt = now
	return true, nil
}

func (r *fakeTrialRepo) SetBlockedUntil(_ context.Context, fingerprint string, until, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[fingerprint]
	if !ok {
		return domain.ErrNotFound
	}
	rec.BlockedUntil = &until
	rec.UpdatedAt = now
	return nil
}

func (r *fakeTrialRepo) AppendAction(_ context.Context, action domain.TrialAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	action.ID = r.nextID
	r.actions = append(r.actions, action)
	return nil
}

func (r *fakeTrialRepo) CountActionsSince(_ context.Context, fingerprint string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCount > 0 {
		r.failCount--
		return 0, errors.New("connection reset")
	}
	n := 0
	for _, a := range r.actions {
		if a.Fingerprint == fingerprint && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *fakeTrialRepo) DeleteActionsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.actions[:0]
	var deleted int64
	for _, a := range r.actions {
		if a.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, a)
	}
	r.actions = kept
	return deleted, nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[uuid.UUID]*domain.Session{}}
}

func (r *fakeSessionRepo) Create(_ context.Context, params ports.SessionCreateParams) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := &domain.Session{
		SessionID:      uuid.New(),
		IdentityID:     params.IdentityID,
		DeviceID:       params.DeviceID,
		IPAddress:      params.IPAddress,
		UserAgent:      params.UserAgent,
		CreatedAt:      params.CreatedAt,
		LastActivityAt: params.CreatedAt,
		ExpiresAt:      params.ExpiresAt,
	}
	r.sessions[sess.SessionID] = sess
	return *sess, nil
}

func (r *fakeSessionRepo) GetByID(_ context.Context, sessionID uuid.UUID) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return *sess, nil
}

func (r *fakeSessionRepo) ListByIdentity(_ context.Context, identityID uuid.UUID, limit, offset int) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Session
	for _, sess := range r.sessions {
		if sess.IdentityID == identityID {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) TouchActivity(_ context.Context, sessionID uuid.UUID, touchedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[sessionID]; ok {
		sess.LastActivityAt = touchedAt
	}
	return nil
}

func (r *fakeSessionRepo) Extend(_ context.Context, sessionID uuid.UUID, newExpiry, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	if !ok || sess.RevokedAt != nil || !now.Before(sess.ExpiresAt) {
		return false, nil
	}
	sess.ExpiresAt = newExpiry
	return true, nil
}

func (r *fakeSessionRepo) RevokeByID(_ context.Context, sessionID uuid.UUID, revokedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	if sess.RevokedAt == nil {
		sess.RevokedAt = &revokedAt
	}
	return nil
}

func (r *fakeSessionRepo) RevokeByDevice(_ context.Context, deviceID uuid.UUID, revokedAt time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, sess := range r.sessions {
		if sess.DeviceID == deviceID && sess.RevokedAt == nil {
			sess.RevokedAt = &revokedAt
			n++
		}
	}
	return n, nil
}

func (r *fakeSessionRepo) CountLiveByDevice(_ context.Context, deviceID uuid.UUID, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, sess := range r.sessions {
		if sess.DeviceID == deviceID && sess.Live(now) {
			n++
		}
	}
	return n, nil
}

func (r *fakeSessionRepo) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, sess := range r.sessions {
		if !cutoff.Before(sess.ExpiresAt) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

type fakeDeviceRegistry struct {
	mu      sync.Mutex
	devices map[uuid.UUID]*domain.Device
}

func newFakeDeviceRegistry() *fakeDeviceRegistry {
	return &fakeDeviceRegistry{devices: map[uuid.UUID]*domain.Device{}}
}

func (r *fakeDeviceRegistry) UpsertBySignature(_ context.Context, params ports.DeviceUpsertParams) (domain.Device, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.IdentityID == params.IdentityID && d.SignatureHash == params.SignatureHash {
			d.Active = true
			d.LastSeenAt = params.SeenAt
			return *d, false, nil
		}
	}
	d := &domain.Device{
		DeviceID:      uuid.New(),
		IdentityID:    params.IdentityID,
		SignatureHash: params.SignatureHash,
		Label:         params.Label,
		Active:        true,
		FirstSeenAt:   params.SeenAt,
		LastSeenAt:    params.SeenAt,
	}
	r.devices[d.DeviceID] = d
	return *d, true, nil
}

func (r *fakeDeviceRegistry) GetByID(_ context.Context, identityID, deviceID uuid.UUID) (domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok || d.IdentityID != identityID {
		return domain.Device{}, domain.ErrNotFound
	}
	return *d, nil
}

func (r *fakeDeviceRegistry) ListActiveByIdentity(_ context.Context, identityID uuid.UUID) ([]domain.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Device
	for _, d := range r.devices {
		if d.IdentityID == identityID && d.Active {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *fakeDeviceRegistry) SetTrusted(_ context.Context, identityID, deviceID uuid.UUID, trusted bool, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok || d.IdentityID != identityID {
		return domain.ErrNotFound
	}
	d.Trusted = trusted
	return nil
}

func (r *fakeDeviceRegistry) Deactivate(_ context.Context, identityID, deviceID uuid.UUID, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok || d.IdentityID != identityID {
		return domain.ErrNotFound
	}
	d.Active = false
	return nil
}

func (r *fakeDeviceRegistry) TouchSeen(_ context.Context, deviceID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[deviceID]; ok {
		d.LastSeenAt = at
	}
	return nil
}

// seed inserts a device row directly, bypassing upsert deduplication.
func (r *fakeDeviceRegistry) seed(d domain.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := d
	r.devices[d.DeviceID] = &cp
}

// backdateSeen rewinds a device's LastSeenAt for conflict-window tests.
func (r *fakeDeviceRegistry) backdateSeen(deviceID uuid.UUID, to time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[deviceID]; ok {
		d.LastSeenAt = to
	}
}

type syncDelivery struct {
	event  domain.SyncEvent
	target uuid.UUID
}

type fakeSyncEventRepo struct {
	mu   sync.Mutex
	rows []*syncDelivery
}

func newFakeSyncEventRepo() *fakeSyncEventRepo {
	return &fakeSyncEventRepo{}
}

func (r *fakeSyncEventRepo) CreateForTargets(_ context.Context, event domain.SyncEvent, targets []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, target := range targets {
		ev := event
		ev.TargetDeviceID = target
		r.rows = append(r.rows, &syncDelivery{event: ev, target: target})
	}
	return nil
}

func (r *fakeSyncEventRepo) ListPending(_ context.Context, identityID, targetDeviceID uuid.UUID, limit int) ([]domain.SyncEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SyncEvent
	for _, row := range r.rows {
		if row.event.IdentityID == identityID && row.target == targetDeviceID && row.event.ProcessedAt == nil {
			out = append(out, row.event)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeSyncEventRepo) MarkProcessed(_ context.Context, eventID, targetDeviceID uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.event.EventID == eventID && row.target == targetDeviceID && row.event.ProcessedAt == nil {
			row.event.ProcessedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeSyncEventRepo) DeleteProcessedOrExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rows[:0]
	var deleted int64
	for _, row := range r.rows {
		if row.event.ProcessedAt != nil || !now.Before(row.event.ExpiresAt) {
			deleted++
			continue
		}
		kept = append(kept, row)
	}
	r.rows = kept
	return deleted, nil
}

type fakeSyncConfigRepo struct {
	mu      sync.Mutex
	configs map[uuid.UUID]domain.SyncConfig
}

func newFakeSyncConfigRepo() *fakeSyncConfigRepo {
	return &fakeSyncConfigRepo{configs: map[uuid.UUID]domain.SyncConfig{}}
}

func (r *fakeSyncConfigRepo) Get(_ context.Context, identityID uuid.UUID) (domain.SyncConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[identityID]
	if !ok {
		return domain.SyncConfig{}, domain.ErrNotFound
	}
	return cfg, nil
}

func (r *fakeSyncConfigRepo) Upsert(_ context.Context, config domain.SyncConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[config.IdentityID] = config
	return nil
}

type fakeSecurityEventRepo struct {
	mu     sync.Mutex
	events []domain.SecurityEvent
}

func newFakeSecurityEventRepo() *fakeSecurityEventRepo {
	return &fakeSecurityEventRepo{}
}

func (r *fakeSecurityEventRepo) Append(_ context.Context, event domain.SecurityEvent) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ID = int64(len(r.events) + 1)
	r.events = append(r.events, event)
	return event.ID, nil
}

func (r *fakeSecurityEventRepo) ListByIdentity(_ context.Context, identityID uuid.UUID, limit, offset int, since *time.Time) ([]domain.SecurityEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SecurityEvent
	for _, e := range r.events {
		if e.IdentityID == nil || *e.IdentityID != identityID {
			continue
		}
		if since != nil && e.CreatedAt.Before(*since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *fakeSecurityEventRepo) byType(eventType domain.SecurityEventType) []domain.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SecurityEvent
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeAlertRepo struct {
	mu     sync.Mutex
	alerts map[uuid.UUID]*domain.SecurityAlert
}

func newFakeAlertRepo() *fakeAlertRepo {
	return &fakeAlertRepo{alerts: map[uuid.UUID]*domain.SecurityAlert{}}
}

func (r *fakeAlertRepo) Create(_ context.Context, alert domain.SecurityAlert) (domain.SecurityAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if alert.AlertID == uuid.Nil {
		alert.AlertID = uuid.New()
	}
	r.alerts[alert.AlertID] = &alert
	return alert, nil
}

func (r *fakeAlertRepo) GetByID(_ context.Context, alertID uuid.UUID) (domain.SecurityAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[alertID]
	if !ok {
		return domain.SecurityAlert{}, domain.ErrNotFound
	}
	return *a, nil
}

func (r *fakeAlertRepo) ListOpenByIdentity(_ context.Context, identityID uuid.UUID, limit int) ([]domain.SecurityAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SecurityAlert
	for _, a := range r.alerts {
		if a.IdentityID != nil && *a.IdentityID == identityID && a.Status == domain.AlertOpen {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeAlertRepo) UpdateStatus(_ context.Context, alertID uuid.UUID, from, to domain.AlertStatus, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[alertID]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = at
	return true, nil
}

type fakeOutboxRepo struct {
	mu      sync.Mutex
	records []ports.OutboxRecord
}

func newFakeOutboxRepo() *fakeOutboxRepo { return &fakeOutboxRepo{} }

func (r *fakeOutboxRepo) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, ports.OutboxRecord{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      event.Payload,
		CreatedAt:    event.OccurredAt,
	})
	return nil
}

func (r *fakeOutboxRepo) ClaimUnpublished(_ context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ports.OutboxRecord
	for i := range r.records {
		rec := &r.records[i]
		if rec.PublishedAt == nil && rec.ClaimToken == nil {
			rec.ClaimToken = &claimToken
			rec.ClaimUntil = &claimUntil
			out = append(out, *rec)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeOutboxRepo) MarkPublished(_ context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		rec := &r.records[i]
		if rec.OutboxID == outboxID && rec.ClaimToken != nil && *rec.ClaimToken == claimToken {
			rec.PublishedAt = &at
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *fakeOutboxRepo) MarkFailed(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		rec := &r.records[i]
		if rec.OutboxID == outboxID {
			rec.RetryCount++
			rec.LastError = &errMsg
			rec.LastErrorAt = &at
			rec.ClaimToken = nil
			rec.ClaimUntil = nil
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *fakeOutboxRepo) MarkDeadLettered(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		rec := &r.records[i]
		if rec.OutboxID == outboxID {
			rec.LastError = &errMsg
			rec.DeadLetteredAt = &at
			return nil
		}
	}
	return domain.ErrNotFound
}

type fakeIdempotencyRepo struct {
	mu      sync.Mutex
	records map[string]*ports.IdempotencyRecord
}

func newFakeIdempotencyRepo() *fakeIdempotencyRepo {
	return &fakeIdempotencyRepo{records: map[string]*ports.IdempotencyRecord{}}
}

func (r *fakeIdempotencyRepo) Get(_ context.Context, key string) (*ports.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeIdempotencyRepo) Reserve(_ context.Context, key, requestHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[key]; ok {
		return domain.ErrIdempotencyConflict
	}
	r.records[key] = &ports.IdempotencyRecord{Key: key, RequestHash: requestHash, Status: ports.IdempotencyStatusPending, ExpiresAt: expiresAt}
	return nil
}

func (r *fakeIdempotencyRepo) Complete(_ context.Context, key string, responseCode int, responseBody []byte, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok || rec.Status != ports.IdempotencyStatusPending {
		return domain.ErrNotFound
	}
	rec.Status = ports.IdempotencyStatusCompleted
	rec.ResponseCode = responseCode
	rec.ResponseBody = responseBody
	rec.UpdatedAt = at
	return nil
}

type fakeTrialCache struct {
	mu      sync.Mutex
	entries map[string]domain.TrialStatus
}

func newFakeTrialCache() *fakeTrialCache {
	return &fakeTrialCache{entries: map[string]domain.TrialStatus{}}
}

func (c *fakeTrialCache) Put(_ context.Context, status domain.TrialStatus, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[status.Fingerprint] = status
	return nil
}

func (c *fakeTrialCache) Get(_ context.Context, fingerprint string) (*domain.TrialStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.entries[fingerprint]
	if !ok {
		return nil, nil
	}
	return &status, nil
}

func (c *fakeTrialCache) Invalidate(_ context.Context, fingerprint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, fingerprint)
	return nil
}

type fakeRevocationStore struct {
	mu      sync.Mutex
	revoked map[uuid.UUID]bool
}

func newFakeRevocationStore() *fakeRevocationStore {
	return &fakeRevocationStore{revoked: map[uuid.UUID]bool{}}
}

func (s *fakeRevocationStore) MarkRevoked(_ context.Context, sessionID uuid.UUID, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[sessionID] = true
	return nil
}

func (s *fakeRevocationStore) IsRevoked(_ context.Context, sessionID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoked[sessionID], nil
}

type fakeRateLimiter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newFakeRateLimiter() *fakeRateLimiter {
	return &fakeRateLimiter{counts: map[string]int64{}}
}

func (l *fakeRateLimiter) Hit(_ context.Context, key string, _ time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[key]++
	return l.counts[key], nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{messages: map[string][][]byte{}}
}

func (n *fakeNotifier) Notify(identityID string, payload []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages[identityID] = append(n.messages[identityID], payload)
}

// fakeSigner round-trips claims through base64 JSON. Forgery resistance is the
// real signer's concern, not the application layer's.
type fakeSigner struct{}

func (fakeSigner) Sign(claims ports.SessionClaims) (string, error) {
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func (fakeSigner) ParseAndValidate(token string) (ports.SessionClaims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ports.SessionClaims{}, fmt.Errorf("malformed token: %w", err)
	}
	var claims ports.SessionClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return ports.SessionClaims{}, fmt.Errorf("malformed token: %w", err)
	}
	return claims, nil
}

func (fakeSigner) PublicJWKs() ([]map[string]any, error) {
	return nil, nil
}

// testEnv bundles a service wired to fakes plus handles to the fakes
// themselves so tests can seed and inspect state.
type testEnv struct {
	svc         *Service
	clock       *fakeClock
	trials      *fakeTrialRepo
	sessions    *fakeSessionRepo
	devices     *fakeDeviceRegistry
	syncEvents  *fakeSyncEventRepo
	syncConfigs *fakeSyncConfigRepo
	events      *fakeSecurityEventRepo
	alerts      *fakeAlertRepo
	outbox      *fakeOutboxRepo
	trialCache  *fakeTrialCache
	revocations *fakeRevocationStore
	softLimiter *fakeRateLimiter
	notifier    *fakeNotifier
}

func testConfig() Config {
	return Config{
		TrialTotal:              5,
		TrialMaxActionsPerHour:  10,
		TrialBlockDuration:      24 * time.Hour,
		TrialResetInterval:      168 * time.Hour,
		TrialStatusCacheTTL:     5 * time.Minute,
		SoftKeyMaxPerHour:       3,
		SessionMaxAge:           24 * time.Hour,
		SessionWarningThreshold: 5 * time.Minute,
		TokenTTL:                time.Hour,
		ConflictWindow:          30 * time.Second,
		SuspicionRiskThreshold:  60,
		SyncEventTTL:            24 * time.Hour,
	}
}

func newTestEnv() *testEnv {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	env := &testEnv{
		clock:       clock,
		trials:      newFakeTrialRepo(),
		sessions:    newFakeSessionRepo(),
		devices:     newFakeDeviceRegistry(),
		syncEvents:  newFakeSyncEventRepo(),
		syncConfigs: newFakeSyncConfigRepo(),
		events:      newFakeSecurityEventRepo(),
		alerts:      newFakeAlertRepo(),
		outbox:      newFakeOutboxRepo(),
		trialCache:  newFakeTrialCache(),
		revocations: newFakeRevocationStore(),
		softLimiter: newFakeRateLimiter(),
		notifier:    newFakeNotifier(),
	}
	env.svc = NewService(Dependencies{
		Config:      testConfig(),
		Trials:      env.trials,
		Sessions:    env.sessions,
		Devices:     env.devices,
		SyncEvents:  env.syncEvents,
		SyncConfigs: env.syncConfigs,
		Events:      env.events,
		Alerts:      env.alerts,
		Outbox:      env.outbox,
		Idempotency: newFakeIdempotencyRepo(),
		TrialCache:  env.trialCache,
		Revocations: env.revocations,
		SoftLimiter: env.softLimiter,
		Notifier:    env.notifier,
		TokenSigner: fakeSigner{},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	env.svc.nowFn = clock.Now
	return env
}

// login creates a session for the identity from the given fingerprint and
// user agent, returning the response for token and device handles.
func (env *testEnv) login(t interface{ Fatalf(string, ...any) }, identityID uuid.UUID, fingerprint, userAgent string) CreateSessionResponse {
	resp, err := env.svc.CreateSession(context.Background(), CreateSessionRequest{
		IdentityID:  identityID,
		Fingerprint: fingerprint,
		IPAddress:   "203.0.113.10",
		UserAgent:   userAgent,
	}, "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return resp
}
