package application

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/domain"
)

// DetectConflicts compares the candidate device against the identity's other
// active devices. A second untrusted device acting within the conflict window
// is a concurrent login; a never-seen signature with a high advisory risk
// score is a suspicious login. Detection is advisory: it flags conflicts but
// never terminates sessions on its own.
func (s *Service) DetectConflicts(ctx context.Context, identityID, candidateDeviceID uuid.UUID, riskScore int) ([]domain.Conflict, error) {
	candidate, err := s.devices.GetByID(ctx, identityID, candidateDeviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: load candidate device: %v", domain.ErrStorage, err)
	}
	others, err := s.devices.ListActiveByIdentity(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %v", domain.ErrStorage, err)
	}

	now := s.nowFn()
	var conflicts []domain.Conflict
	for _, other := range others {
		if other.DeviceID == candidate.DeviceID {
			continue
		}
		// A trusted device with the candidate's signature is the same physical
		// machine re-registering; that never counts as concurrent use.
		if other.Trusted && other.SignatureHash == candidate.SignatureHash {
			continue
		}
		if now.Sub(other.LastSeenAt) <= s.cfg.ConflictWindow {
			conflicts = append(conflicts, domain.Conflict{
				Type:       domain.ConflictConcurrentLogin,
				DeviceID:   other.DeviceID,
				RiskScore:  riskScore,
				Reason:     "another device was active within the concurrency window",
				DetectedAt: now,
			})
		}
	}

	// First sighting of the signature: FirstSeenAt has not diverged from
	// LastSeenAt yet. Combined with an elevated risk score that is the
	// sharp-deviation signal, independent of any concurrent peer.
	if riskScore >= s.cfg.SuspicionRiskThreshold &&
		!candidate.Trusted &&
		candidate.FirstSeenAt.Equal(candidate.LastSeenAt) {
		conflicts = append(conflicts, domain.Conflict{
			Type:       domain.ConflictSuspiciousLogin,
			DeviceID:   candidate.DeviceID,
			RiskScore:  riskScore,
			Reason:     "new device signature with elevated risk score",
			DetectedAt: now,
		})
	}
	return conflicts, nil
}

// HandleConflicts re-runs detection for the named device against current
// server state and records every conflict found. The sync fan-out targets all
// of the identity's devices, the named one included, so its tabs learn they
// are contested. Sessions stay live; termination is the user's call.
func (s *Service) HandleConflicts(ctx context.Context, identityID, conflictingDeviceID uuid.UUID) ([]domain.Conflict, error) {
	if _, err := s.devices.GetByID(ctx, identityID, conflictingDeviceID); err != nil {
		return nil, fmt.Errorf("%w: device %s", domain.ErrNotFound, conflictingDeviceID)
	}
	conflicts, err := s.DetectConflicts(ctx, identityID, conflictingDeviceID, s.deviceRiskScore(ctx, identityID, conflictingDeviceID))
	if err != nil {
		return nil, err
	}
	for _, c := range conflicts {
		if err := s.handleConflict(ctx, identityID, uuid.Nil, c); err != nil {
			return nil, err
		}
	}
	return conflicts, nil
}

// deviceRiskScore rescores a device from its most recent session's request
// attributes. No session means nothing to score.
func (s *Service) deviceRiskScore(ctx context.Context, identityID, deviceID uuid.UUID) int {
	sessions, err := s.sessions.ListByIdentity(ctx, identityID, 100, 0)
	if err != nil {
		return 0
	}
	for _, sess := range sessions {
		if sess.DeviceID == deviceID {
			return domain.ScoreRisk(domain.RiskContext{
				UserAgent:   sess.UserAgent,
				IPAddress:   sess.IPAddress,
				KnownDevice: true,
			})
		}
	}
	return 0
}

// handleConflict records one detected conflict: an append to the security
// log, an open SecurityAlert and a conflict sync event to the identity's
// devices. Every conflict opens an alert; the risk score grades it, it does
// not gate it.
func (s *Service) handleConflict(ctx context.Context, identityID, originDeviceID uuid.UUID, conflict domain.Conflict) error {
	s.logSecurityEvent(ctx, domain.SecurityEvent{
		IdentityID: &identityID,
		EventType:  domain.EventConflictDetected,
		RiskScore:  conflict.RiskScore,
		Context: map[string]any{
			"conflict_type": string(conflict.Type),
			"device_id":     conflict.DeviceID.String(),
			"reason":        conflict.Reason,
		},
	})

	if _, err := s.alerts.Create(ctx, domain.SecurityAlert{
		AlertID:    uuid.New(),
		IdentityID: &identityID,
		EventType:  string(domain.EventConflictDetected),
		RiskScore:  conflict.RiskScore,
		Status:     domain.AlertOpen,
		Context: map[string]any{
			"conflict_type": string(conflict.Type),
			"device_id":     conflict.DeviceID.String(),
		},
		CreatedAt: s.nowFn(),
	}); err != nil {
		return fmt.Errorf("%w: create alert: %v", domain.ErrStorage, err)
	}

	s.fanOutSyncEvent(ctx, identityID, originDeviceID, domain.SyncConflict, map[string]any{
		"conflict_type": string(conflict.Type),
		"device_id":     conflict.DeviceID.String(),
		"risk_score":    conflict.RiskScore,
	})
	return nil
}

// DetectConflictsAction is the sync-action surface over DetectConflicts. With
// no target the caller's own device is the candidate.
func (s *Service) DetectConflictsAction(ctx context.Context, token string, targetDeviceID uuid.UUID) (ActionResult, error) {
	claims, session, err := s.authenticate(ctx, token)
	if err != nil {
		return ActionResult{}, err
	}
	candidate := claims.DeviceID
	if targetDeviceID != uuid.Nil {
		candidate = targetDeviceID
	}
	risk := domain.ScoreRisk(domain.RiskContext{
		UserAgent:   session.UserAgent,
		IPAddress:   session.IPAddress,
		KnownDevice: true,
	})
	conflicts, err := s.DetectConflicts(ctx, claims.IdentityID, candidate, risk)
	if err != nil {
		return ActionResult{}, err
	}
	return ActionResult{
		Success: true,
		Message: fmt.Sprintf("%d conflict(s) detected", len(conflicts)),
		Data:    map[string]any{"conflicts": toConflictItems(conflicts)},
	}, nil
}

// HandleConflictsAction resolves the bearer then delegates to HandleConflicts.
func (s *Service) HandleConflictsAction(ctx context.Context, token string, conflictDeviceID uuid.UUID) (ActionResult, error) {
	claims, _, err := s.authenticate(ctx, token)
	if err != nil {
		return ActionResult{}, err
	}
	if conflictDeviceID == uuid.Nil {
		return ActionResult{}, fmt.Errorf("%w: conflict_device_id is required", domain.ErrInvalidInput)
	}
	conflicts, err := s.HandleConflicts(ctx, claims.IdentityID, conflictDeviceID)
	if err != nil {
		return ActionResult{}, err
	}
	return ActionResult{
		Success: true,
		Message: fmt.Sprintf("%d conflict(s) handled", len(conflicts)),
		Data:    map[string]any{"conflicts": toConflictItems(conflicts)},
	}, nil
}

// ListDevices returns the identity's active devices.
func (s *Service) ListDevices(ctx context.Context, token string) ([]DeviceItem, error) {
	claims, _, err := s.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	devices, err := s.devices.ListActiveByIdentity(ctx, claims.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %v", domain.ErrStorage, err)
	}
	items := make([]DeviceItem, 0, len(devices))
	for _, d := range devices {
		items = append(items, DeviceItem{
			DeviceID:    d.DeviceID,
			Label:       d.Label,
			Trusted:     d.Trusted,
			Active:      d.Active,
			IsCurrent:   d.DeviceID == claims.DeviceID,
			FirstSeenAt: d.FirstSeenAt,
			LastSeenAt:  d.LastSeenAt,
		})
	}
	return items, nil
}

// LogoutDevice revokes every session of one device and deactivates it.
// The caller may target its own device; that is an ordinary logout.
func (s *Service) LogoutDevice(ctx context.Context, token string, deviceID uuid.UUID) (ActionResult, error) {
	claims, _, err := s.authenticate(ctx, token)
	if err != nil {
		return ActionResult{}, err
	}
	revoked, err := s.forceLogoutDevice(ctx, claims.IdentityID, deviceID)
	if err != nil {
		return ActionResult{}, err
	}
	s.fanOutSyncEvent(ctx, claims.IdentityID, claims.DeviceID, domain.SyncLogout, map[string]any{
		"device_id": deviceID.String(),
		"forced":    true,
	})
	return ActionResult{
		Success: true,
		Message: "device logged out",
		Data:    map[string]any{"device_id": deviceID.String(), "sessions_revoked": revoked},
	}, nil
}

// LogoutOtherDevices revokes every device of the identity except the caller's.
func (s *Service) LogoutOtherDevices(ctx context.Context, token string) (ActionResult, error) {
	claims, _, err := s.authenticate(ctx, token)
	if err != nil {
		return ActionResult{}, err
	}
	devices, err := s.devices.ListActiveByIdentity(ctx, claims.IdentityID)
	if err != nil {
		return ActionResult{}, fmt.Errorf("%w: list devices: %v", domain.ErrStorage, err)
	}

	var loggedOut []string
	for _, d := range devices {
		if d.DeviceID == claims.DeviceID {
			continue
		}
		if _, err := s.forceLogoutDevice(ctx, claims.IdentityID, d.DeviceID); err != nil {
			return ActionResult{}, err
		}
		loggedOut = append(loggedOut, d.DeviceID.String())
	}
	s.fanOutSyncEvent(ctx, claims.IdentityID, claims.DeviceID, domain.SyncLogout, map[string]any{
		"scope":  "others",
		"forced": true,
	})
	return ActionResult{
		Success: true,
		Message: fmt.Sprintf("%d device(s) logged out", len(loggedOut)),
		Data:    map[string]any{"device_ids": loggedOut},
	}, nil
}

// LogoutMultipleDevices revokes a caller-chosen subset of devices. Unknown
// devices in the list are reported, not fatal, so the action stays usable
// from a stale device list.
func (s *Service) LogoutMultipleDevices(ctx context.Context, token string, deviceIDs []uuid.UUID) (ActionResult, error) {
	claims, _, err := s.authenticate(ctx, token)
	if err != nil {
		return ActionResult{}, err
	}
	if len(deviceIDs) == 0 {
		return ActionResult{}, fmt.Errorf("%w: device_ids is required", domain.ErrInvalidInput)
	}

	var loggedOut, skipped []string
	for _, id := range deviceIDs {
		if _, err := s.devices.GetByID(ctx, claims.IdentityID, id); err != nil {
			skipped = append(skipped, id.String())
			continue
		}
		if _, err := s.forceLogoutDevice(ctx, claims.IdentityID, id); err != nil {
			return ActionResult{}, err
		}
		loggedOut = append(loggedOut, id.String())
	}
	s.fanOutSyncEvent(ctx, claims.IdentityID, claims.DeviceID, domain.SyncLogout, map[string]any{
		"scope":  "selected",
		"forced": true,
	})
	data := map[string]any{"device_ids": loggedOut}
	if len(skipped) > 0 {
		data["skipped"] = skipped
	}
	return ActionResult{
		Success: true,
		Message: fmt.Sprintf("%d device(s) logged out", len(loggedOut)),
		Data:    data,
	}, nil
}

// TrustDevice marks a device trusted, exempting its signature from concurrent
// login conflicts.
func (s *Service) TrustDevice(ctx context.Context, token string, deviceID uuid.UUID) (ActionResult, error) {
	return s.setDeviceTrust(ctx, token, deviceID, true)
}

// UntrustDevice clears the trusted mark.
func (s *Service) UntrustDevice(ctx context.Context, token string, deviceID uuid.UUID) (ActionResult, error) {
	return s.setDeviceTrust(ctx, token, deviceID, false)
}

func (s *Service) setDeviceTrust(ctx context.Context, token string, deviceID uuid.UUID, trusted bool) (ActionResult, error) {
	claims, _, err := s.authenticate(ctx, token)
	if err != nil {
		return ActionResult{}, err
	}
	if _, err := s.devices.GetByID(ctx, claims.IdentityID, deviceID); err != nil {
		return ActionResult{}, fmt.Errorf("%w: device %s", domain.ErrNotFound, deviceID)
	}
	if err := s.devices.SetTrusted(ctx, claims.IdentityID, deviceID, trusted, s.nowFn()); err != nil {
		return ActionResult{}, fmt.Errorf("%w: set trusted: %v", domain.ErrStorage, err)
	}
	verb := "trusted"
	if !trusted {
		verb = "untrusted"
	}
	return ActionResult{
		Success: true,
		Message: "device " + verb,
		Data:    map[string]any{"device_id": deviceID.String(), "trusted": trusted},
	}, nil
}

// forceLogoutDevice revokes the device's sessions then deactivates it, in that
// order so an inactive device never holds a live session.
func (s *Service) forceLogoutDevice(ctx context.Context, identityID, deviceID uuid.UUID) (int64, error) {
	device, err := s.devices.GetByID(ctx, identityID, deviceID)
	if err != nil {
		return 0, fmt.Errorf("%w: device %s", domain.ErrNotFound, deviceID)
	}

	now := s.nowFn()
	sessions, err := s.sessions.ListByIdentity(ctx, identityID, 200, 0)
	if err == nil {
		for _, sess := range sessions {
			if sess.DeviceID == device.DeviceID && sess.Live(now) {
				_ = s.revocations.MarkRevoked(ctx, sess.SessionID, sess.ExpiresAt)
			}
		}
	}
	revoked, err := s.sessions.RevokeByDevice(ctx, deviceID, now)
	if err != nil {
		return 0, fmt.Errorf("%w: revoke device sessions: %v", domain.ErrStorage, err)
	}
	if err := s.devices.Deactivate(ctx, identityID, deviceID, now); err != nil {
		return revoked, fmt.Errorf("%w: deactivate device: %v", domain.ErrStorage, err)
	}

	s.logSecurityEvent(ctx, domain.SecurityEvent{
		IdentityID: &identityID,
		EventType:  domain.EventLogout,
		Context:    map[string]any{"device_id": deviceID.String(), "forced": true, "sessions_revoked": revoked},
	})
	return revoked, nil
}
