package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/ports"
)

// CreateSession registers the login's device, opens the session window, runs
// conflict detection and fans login sync events to the identity's other
// devices. It is called by the internal gateway after the external OAuth
// collaborator has authenticated the identity. Gateway retries carrying the
// same Idempotency-Key replay the stored response instead of opening a
// second session.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest, idempotencyKey string) (CreateSessionResponse, error) {
	if req.IdentityID == uuid.Nil {
		return CreateSessionResponse{}, fmt.Errorf("%w: identity_id is required", domain.ErrInvalidInput)
	}
	now := s.nowFn()

	if idempotencyKey != "" {
		if rec, err := s.idempotency.Get(ctx, idempotencyKey); err == nil && rec != nil && rec.Status == ports.IdempotencyStatusCompleted {
			var cached CreateSessionResponse
			if json.Unmarshal(rec.ResponseBody, &cached) == nil {
				return cached, nil
			}
		}
		if err := s.idempotency.Reserve(ctx, idempotencyKey, hashRequest(req), now.Add(24*time.Hour)); err != nil {
			return CreateSessionResponse{}, fmt.Errorf("%w: %v", domain.ErrIdempotencyConflict, err)
		}
	}

	device, created, err := s.devices.UpsertBySignature(ctx, ports.DeviceUpsertParams{
		IdentityID:    req.IdentityID,
		SignatureHash: domain.DeviceSignature(req.Fingerprint, req.UserAgent),
		Label:         deviceLabel(req.DeviceLabel, req.UserAgent),
		SeenAt:        now,
	})
	if err != nil {
		return CreateSessionResponse{}, fmt.Errorf("%w: upsert device: %v", domain.ErrStorage, err)
	}

	session, err := s.sessions.Create(ctx, ports.SessionCreateParams{
		IdentityID: req.IdentityID,
		DeviceID:   device.DeviceID,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
		ExpiresAt:  now.Add(s.cfg.SessionMaxAge),
		CreatedAt:  now,
	})
	if err != nil {
		return CreateSessionResponse{}, fmt.Errorf("%w: create session: %v", domain.ErrStorage, err)
	}

	riskScore := domain.ScoreRisk(domain.RiskContext{
		UserAgent:   req.UserAgent,
		Fingerprint: req.Fingerprint,
		IPAddress:   req.IPAddress,
		KnownDevice: !created,
	})
	s.logSecurityEvent(ctx, domain.SecurityEvent{
		IdentityID:  &req.IdentityID,
		Fingerprint: req.Fingerprint,
		EventType:   domain.EventLoginSuccess,
		RiskScore:   riskScore,
		IPAddress:   req.IPAddress,
		UserAgent:   req.UserAgent,
		Context:     map[string]any{"device_id": device.DeviceID.String(), "new_device": created},
	})

	// Conflict detection is auxiliary: its failure never blocks the login.
	conflicts, detectErr := s.DetectConflicts(ctx, req.IdentityID, device.DeviceID, riskScore)
	if detectErr != nil {
		s.logger.WarnContext(ctx, "conflict detection failed",
			"operation", "create_session", "outcome", "failure", "error", detectErr)
		conflicts = nil
	}
	for _, c := range conflicts {
		if handleErr := s.handleConflict(ctx, req.IdentityID, device.DeviceID, c); handleErr != nil {
			s.logger.WarnContext(ctx, "conflict handling failed",
				"operation", "create_session", "outcome", "failure", "error", handleErr)
		}
	}

	s.fanOutSyncEvent(ctx, req.IdentityID, device.DeviceID, domain.SyncLogin, map[string]any{
		"device_id": device.DeviceID.String(),
		"ip":        req.IPAddress,
	})
	s.enqueueOutbox(ctx, "identity.session.created", req.IdentityID.String(), map[string]any{
		"identity_id": req.IdentityID.String(),
		"session_id":  session.SessionID.String(),
		"device_id":   device.DeviceID.String(),
		"new_device":  created,
	})

	token, err := s.tokenSigner.Sign(ports.SessionClaims{
		IdentityID: req.IdentityID,
		SessionID:  session.SessionID,
		DeviceID:   device.DeviceID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.cfg.TokenTTL),
	})
	if err != nil {
		return CreateSessionResponse{}, fmt.Errorf("sign session token: %w", err)
	}

	resp := CreateSessionResponse{
		Token:     token,
		SessionID: session.SessionID,
		DeviceID:  device.DeviceID,
		ExpiresAt: session.ExpiresAt,
		ExpiresIn: int64(s.cfg.SessionMaxAge.Seconds()),
		NewDevice: created,
		Conflicts: toConflictItems(conflicts),
	}
	if idempotencyKey != "" {
		body, _ := json.Marshal(resp)
		_ = s.idempotency.Complete(ctx, idempotencyKey, 201, body, s.nowFn())
	}
	return resp, nil
}

// Refresh extends a live session's expiry window. Refresh is never granted to
// a session past its hard expiry; there is no sliding resurrection. The
// conditional extend makes concurrent refreshes converge on the same window.
func (s *Service) Refresh(ctx context.Context, token string) (RefreshResponse, error) {
	claims, session, err := s.authenticate(ctx, token)
	if err != nil {
		return RefreshResponse{}, err
	}

	now := s.nowFn()
	newExpiry := now.Add(s.cfg.SessionMaxAge)
	applied, err := s.sessions.Extend(ctx, session.SessionID, newExpiry, now)
	if err != nil {
		return RefreshResponse{}, fmt.Errorf("%w: extend session: %v", domain.ErrStorage, err)
	}
	if !applied {
		return RefreshResponse{}, domain.ErrSessionExpired
	}
	_ = s.sessions.TouchActivity(ctx, session.SessionID, now)
	_ = s.devices.TouchSeen(ctx, session.DeviceID, now)

	s.logSecurityEvent(ctx, domain.SecurityEvent{
		IdentityID: &claims.IdentityID,
		EventType:  domain.EventSessionRefresh,
		IPAddress:  session.IPAddress,
		UserAgent:  session.UserAgent,
		Context:    map[string]any{"session_id": session.SessionID.String()},
	})
	s.fanOutSyncEvent(ctx, claims.IdentityID, session.DeviceID, domain.SyncRefresh, map[string]any{
		"session_id": session.SessionID.String(),
		"expires_at": newExpiry,
	})

	newToken, err := s.tokenSigner.Sign(ports.SessionClaims{
		IdentityID: claims.IdentityID,
		SessionID:  claims.SessionID,
		DeviceID:   claims.DeviceID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.cfg.TokenTTL),
	})
	if err != nil {
		return RefreshResponse{}, fmt.Errorf("sign refreshed token: %w", err)
	}

	return RefreshResponse{
		Token:     newToken,
		ExpiresAt: newExpiry,
		ExpiresIn: int64(s.cfg.SessionMaxAge.Seconds()),
	}, nil
}

// SessionStatus reports the lifecycle position for client polling. Clients in
// the expiring window are advised to refresh; clients past expiry re-authenticate.
func (s *Service) SessionStatus(ctx context.Context, token string) (SessionStatusResponse, error) {
	claims, err := s.tokenSigner.ParseAndValidate(token)
	if err != nil {
		return SessionStatusResponse{}, domain.ErrNotAuthenticated
	}
	session, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return SessionStatusResponse{}, domain.ErrNotAuthenticated
	}
	if session.RevokedAt != nil {
		return SessionStatusResponse{}, domain.ErrSessionRevoked
	}

	now := s.nowFn()
	state := session.StateAt(now, s.cfg.SessionWarningThreshold)
	remaining := int64(session.ExpiresAt.Sub(now).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return SessionStatusResponse{
		State:            state,
		ExpiresAt:        session.ExpiresAt,
		SecondsRemaining: remaining,
		RefreshAdvised:   state == domain.SessionExpiring,
	}, nil
}

// Logout revokes the current session. When the device holds no other live
// session it is deactivated, keeping the inactive-implies-invalidated invariant.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, session, err := s.authenticate(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrSessionExpired) {
			// Logging out an expired session is a no-op, not a failure.
			return nil
		}
		return err
	}

	now := s.nowFn()
	if err := s.sessions.RevokeByID(ctx, session.SessionID, now); err != nil {
		return fmt.Errorf("%w: revoke session: %v", domain.ErrStorage, err)
	}
	_ = s.revocations.MarkRevoked(ctx, session.SessionID, session.ExpiresAt)
	s.deactivateDeviceIfIdle(ctx, claims.IdentityID, session.DeviceID)

	s.logSecurityEvent(ctx, domain.SecurityEvent{
		IdentityID: &claims.IdentityID,
		EventType:  domain.EventLogout,
		IPAddress:  session.IPAddress,
		UserAgent:  session.UserAgent,
		Context:    map[string]any{"session_id": session.SessionID.String()},
	})
	s.fanOutSyncEvent(ctx, claims.IdentityID, session.DeviceID, domain.SyncLogout, map[string]any{
		"device_id": session.DeviceID.String(),
	})
	return nil
}

// ListSessions returns the identity's sessions with their computed states.
func (s *Service) ListSessions(ctx context.Context, token string) ([]SessionItem, error) {
	claims, _, err := s.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListByIdentity(ctx, claims.IdentityID, 100, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", domain.ErrStorage, err)
	}

	now := s.nowFn()
	items := make([]SessionItem, 0, len(sessions))
	for _, it := range sessions {
		state := string(it.StateAt(now, s.cfg.SessionWarningThreshold))
		if it.RevokedAt != nil {
			state = "revoked"
		}
		items = append(items, SessionItem{
			SessionID:      it.SessionID,
			DeviceID:       it.DeviceID,
			IPAddress:      it.IPAddress,
			State:          state,
			CreatedAt:      it.CreatedAt,
			LastActivityAt: it.LastActivityAt,
			ExpiresAt:      it.ExpiresAt,
			RevokedAt:      it.RevokedAt,
			IsCurrent:      it.SessionID == claims.SessionID,
		})
	}
	return items, nil
}

// ValidateSession authenticates a bearer token against server-side state.
func (s *Service) ValidateSession(ctx context.Context, token string) (ports.SessionClaims, error) {
	claims, _, err := s.authenticate(ctx, token)
	return claims, err
}

// CleanupExpired removes sessions and short-lived rows strictly older than
// their recorded expiry. The expiry timestamp is the sole predicate, so the
// sweep is idempotent and safe under concurrent workers.
func (s *Service) CleanupExpired(ctx context.Context) (CleanupResult, error) {
	now := s.nowFn()
	result := CleanupResult{}

	deleted, err := s.sessions.DeleteExpiredBefore(ctx, now)
	if err != nil {
		return result, fmt.Errorf("%w: sweep sessions: %v", domain.ErrStorage, err)
	}
	result.SessionsDeleted = deleted

	deleted, err = s.syncEvents.DeleteProcessedOrExpired(ctx, now)
	if err != nil {
		return result, fmt.Errorf("%w: sweep sync events: %v", domain.ErrStorage, err)
	}
	result.SyncEventsDeleted = deleted

	// Trial actions only feed the trailing rate window and audit review; rows
	// past the reset interval no longer influence either.
	deleted, err = s.trials.DeleteActionsBefore(ctx, now.Add(-s.cfg.TrialResetInterval))
	if err != nil {
		return result, fmt.Errorf("%w: sweep trial actions: %v", domain.ErrStorage, err)
	}
	result.TrialActionsDeleted = deleted

	return result, nil
}

// authenticate resolves a bearer token to live claims plus the session row.
func (s *Service) authenticate(ctx context.Context, token string) (ports.SessionClaims, domain.Session, error) {
	claims, err := s.tokenSigner.ParseAndValidate(token)
	if err != nil {
		return ports.SessionClaims{}, domain.Session{}, domain.ErrNotAuthenticated
	}
	if revoked, _ := s.revocations.IsRevoked(ctx, claims.SessionID); revoked {
		return ports.SessionClaims{}, domain.Session{}, domain.ErrSessionRevoked
	}
	session, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return ports.SessionClaims{}, domain.Session{}, domain.ErrNotAuthenticated
	}
	if session.IdentityID != claims.IdentityID {
		return ports.SessionClaims{}, domain.Session{}, domain.ErrNotAuthenticated
	}
	if session.RevokedAt != nil {
		return ports.SessionClaims{}, domain.Session{}, domain.ErrSessionRevoked
	}
	if !s.nowFn().Before(session.ExpiresAt) {
		return ports.SessionClaims{}, domain.Session{}, domain.ErrSessionExpired
	}
	return claims, session, nil
}

// deactivateDeviceIfIdle deactivates a device once it holds no live session.
// Revocation of remaining rows happens first so the invariant never observes
// an inactive device with a live session.
func (s *Service) deactivateDeviceIfIdle(ctx context.Context, identityID, deviceID uuid.UUID) {
	now := s.nowFn()
	live, err := s.sessions.CountLiveByDevice(ctx, deviceID, now)
	if err != nil || live > 0 {
		return
	}
	if _, err := s.sessions.RevokeByDevice(ctx, deviceID, now); err != nil {
		return
	}
	if err := s.devices.Deactivate(ctx, identityID, deviceID, now); err != nil {
		s.logger.WarnContext(ctx, "device deactivation failed",
			"operation", "logout", "outcome", "failure", "device_id", deviceID, "error", err)
	}
}

func deviceLabel(label, userAgent string) string {
	if label != "" {
		return label
	}
	if len(userAgent) > 64 {
		return userAgent[:64]
	}
	if userAgent == "" {
		return "unknown device"
	}
	return userAgent
}

func toConflictItems(conflicts []domain.Conflict) []ConflictItem {
	if len(conflicts) == 0 {
		return nil
	}
	items := make([]ConflictItem, 0, len(conflicts))
	for _, c := range conflicts {
		items = append(items, ConflictItem{
			Type:       c.Type,
			DeviceID:   c.DeviceID,
			RiskScore:  c.RiskScore,
			Reason:     c.Reason,
			DetectedAt: c.DetectedAt,
		})
	}
	return items
}
