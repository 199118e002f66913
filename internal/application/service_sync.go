package application

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/domain"
)

// fanOutSyncEvent materializes one delivery row per active device of the
// identity except the origin, then pushes a hint to connected clients. Fan-out
// is best-effort from the caller's perspective; the caller's primary write has
// already committed.
func (s *Service) fanOutSyncEvent(ctx context.Context, identityID, originDeviceID uuid.UUID, eventType domain.SyncEventType, payload map[string]any) {
	devices, err := s.devices.ListActiveByIdentity(ctx, identityID)
	if err != nil {
		s.logger.WarnContext(ctx, "sync fan-out failed",
			"operation", "fan_out_sync", "outcome", "failure", "event_type", eventType, "error", err)
		return
	}
	targets := make([]uuid.UUID, 0, len(devices))
	for _, d := range devices {
		if d.DeviceID != originDeviceID {
			targets = append(targets, d.DeviceID)
		}
	}
	if len(targets) == 0 {
		return
	}

	now := s.nowFn()
	event := domain.SyncEvent{
		EventID:        uuid.New(),
		IdentityID:     identityID,
		OriginDeviceID: originDeviceID,
		EventType:      eventType,
		Payload:        payload,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.SyncEventTTL),
	}
	if err := s.syncEvents.CreateForTargets(ctx, event, targets); err != nil {
		s.logger.WarnContext(ctx, "sync fan-out failed",
			"operation", "fan_out_sync", "outcome", "failure", "event_type", eventType, "error", err)
		return
	}

	s.notifyIdentity(identityID, "sync_event", map[string]any{
		"event_id":   event.EventID.String(),
		"event_type": string(eventType),
	})
}

// SyncStatus aggregates everything a client polls for in one round trip:
// open alerts, the device's pending sync events and the identity's sync tuning.
func (s *Service) SyncStatus(ctx context.Context, token string) (SyncStatusResponse, error) {
	claims, _, err := s.authenticate(ctx, token)
	if err != nil {
		return SyncStatusResponse{}, err
	}

	alerts, err := s.alerts.ListOpenByIdentity(ctx, claims.IdentityID, 50)
	if err != nil {
		return SyncStatusResponse{}, fmt.Errorf("%w: list alerts: %v", domain.ErrStorage, err)
	}
	pending, err := s.syncEvents.ListPending(ctx, claims.IdentityID, claims.DeviceID, 100)
	if err != nil {
		return SyncStatusResponse{}, fmt.Errorf("%w: list pending events: %v", domain.ErrStorage, err)
	}
	cfg, err := s.syncConfigs.Get(ctx, claims.IdentityID)
	if err != nil {
		cfg = domain.DefaultSyncConfig(claims.IdentityID)
	}

	resp := SyncStatusResponse{
		SecurityAlerts: make([]AlertItem, 0, len(alerts)),
		PendingEvents:  make([]SyncEventItem, 0, len(pending)),
		SyncConfig:     cfg,
	}
	for _, a := range alerts {
		resp.SecurityAlerts = append(resp.SecurityAlerts, AlertItem{
			AlertID:   a.AlertID,
			EventType: a.EventType,
			RiskScore: a.RiskScore,
			Status:    a.Status,
			Context:   a.Context,
			CreatedAt: a.CreatedAt,
		})
	}
	for _, e := range pending {
		resp.PendingEvents = append(resp.PendingEvents, SyncEventItem{
			EventID:        e.EventID,
			OriginDeviceID: e.OriginDeviceID,
			EventType:      e.EventType,
			Payload:        e.Payload,
			CreatedAt:      e.CreatedAt,
		})
	}
	return resp, nil
}

// CreateSyncEvent lets a client broadcast an application-level event to the
// identity's other devices through the same delivery machinery.
func (s *Service) CreateSyncEvent(ctx context.Context, token string, eventType domain.SyncEventType, payload map[string]any) (ActionResult, error) {
	claims, _, err := s.authenticate(ctx, token)
	if err != nil {
		return ActionResult{}, err
	}
	switch eventType {
	case domain.SyncLogin, domain.SyncLogout, domain.SyncRefresh, domain.SyncConflict:
	default:
		return ActionResult{}, fmt.Errorf("%w: unknown event type %q", domain.ErrInvalidInput, eventType)
	}
	s.fanOutSyncEvent(ctx, claims.IdentityID, claims.DeviceID, eventType, payload)
	return ActionResult{
		Success: true,
		Message: "sync event created",
		Data:    map[string]any{"event_type": string(eventType)},
	}, nil
}

// ProcessSyncEvent acknowledges one delivery for the calling device. The flag
// flips at most once; acknowledging an already-processed or foreign delivery
// reports success=false rather than an error, since replays are expected.
func (s *Service) ProcessSyncEvent(ctx context.Context, token string, eventID uuid.UUID) (ActionResult, error) {
	claims, _, err := s.authenticate(ctx, token)
	if err != nil {
		return ActionResult{}, err
	}
	applied, err := s.syncEvents.MarkProcessed(ctx, eventID, claims.DeviceID, s.nowFn())
	if err != nil {
		return ActionResult{}, fmt.Errorf("%w: mark processed: %v", domain.ErrStorage, err)
	}
	if !applied {
		return ActionResult{
			Success: false,
			Message: "event already processed or not pending for this device",
			Data:    map[string]any{"event_id": eventID.String()},
		}, nil
	}
	return ActionResult{
		Success: true,
		Message: "event processed",
		Data:    map[string]any{"event_id": eventID.String()},
	}, nil
}

// UpdateSyncConfig stores the identity's client polling preferences.
func (s *Service) UpdateSyncConfig(ctx context.Context, token string, pollIntervalSeconds *int, pushEnabled *bool) (domain.SyncConfig, error) {
	claims, _, err := s.authenticate(ctx, token)
	if err != nil {
		return domain.SyncConfig{}, err
	}
	cfg, err := s.syncConfigs.Get(ctx, claims.IdentityID)
	if err != nil {
		cfg = domain.DefaultSyncConfig(claims.IdentityID)
	}
	if pollIntervalSeconds != nil {
		if *pollIntervalSeconds < 5 || *pollIntervalSeconds > 3600 {
			return domain.SyncConfig{}, fmt.Errorf("%w: poll_interval_seconds must be in [5, 3600]", domain.ErrInvalidInput)
		}
		cfg.PollIntervalSeconds = *pollIntervalSeconds
	}
	if pushEnabled != nil {
		cfg.PushEnabled = *pushEnabled
	}
	cfg.UpdatedAt = s.nowFn()
	if err := s.syncConfigs.Upsert(ctx, cfg); err != nil {
		return domain.SyncConfig{}, fmt.Errorf("%w: upsert sync config: %v", domain.ErrStorage, err)
	}
	return cfg, nil
}
