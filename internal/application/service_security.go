package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/domain"
)

// SecurityEvents lists the identity's security log entries, newest first.
func (s *Service) SecurityEvents(ctx context.Context, token string, limit, offset int, since *time.Time) ([]domain.SecurityEvent, error) {
	claims, _, err := s.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	events, err := s.events.ListByIdentity(ctx, claims.IdentityID, limit, offset, since)
	if err != nil {
		return nil, fmt.Errorf("%w: list security events: %v", domain.ErrStorage, err)
	}
	return events, nil
}

// AcknowledgeAlert moves an open alert to acknowledged.
func (s *Service) AcknowledgeAlert(ctx context.Context, token string, alertID uuid.UUID) (ActionResult, error) {
	return s.transitionAlert(ctx, token, alertID, domain.AlertAcknowledged)
}

// ResolveAlert closes an alert as handled.
func (s *Service) ResolveAlert(ctx context.Context, token string, alertID uuid.UUID) (ActionResult, error) {
	return s.transitionAlert(ctx, token, alertID, domain.AlertResolved)
}

// DismissAlert closes an alert as a false positive.
func (s *Service) DismissAlert(ctx context.Context, token string, alertID uuid.UUID) (ActionResult, error) {
	return s.transitionAlert(ctx, token, alertID, domain.AlertFalsePositive)
}

func (s *Service) transitionAlert(ctx context.Context, token string, alertID uuid.UUID, to domain.AlertStatus) (ActionResult, error) {
	claims, _, err := s.authenticate(ctx, token)
	if err != nil {
		return ActionResult{}, err
	}
	alert, err := s.alerts.GetByID(ctx, alertID)
	if err != nil {
		return ActionResult{}, fmt.Errorf("%w: alert %s", domain.ErrNotFound, alertID)
	}
	if alert.IdentityID == nil || *alert.IdentityID != claims.IdentityID {
		return ActionResult{}, domain.ErrForbidden
	}
	if !alert.CanTransitionTo(to) {
		return ActionResult{}, fmt.Errorf("%w: alert is %s, cannot become %s", domain.ErrInvalidInput, alert.Status, to)
	}

	applied, err := s.alerts.UpdateStatus(ctx, alertID, alert.Status, to, s.nowFn())
	if err != nil {
		return ActionResult{}, fmt.Errorf("%w: update alert: %v", domain.ErrStorage, err)
	}
	if !applied {
		// A concurrent transition won the guarded update.
		return ActionResult{}, fmt.Errorf("%w: alert status changed concurrently", domain.ErrInvalidInput)
	}
	return ActionResult{
		Success: true,
		Message: "alert " + string(to),
		Data:    map[string]any{"alert_id": alertID.String(), "status": string(to)},
	}, nil
}
