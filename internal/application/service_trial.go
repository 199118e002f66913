package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/domain"
)

// ConsumeTrial executes the metered-action algorithm for one fingerprint:
// reset check, block check, rate-limit window, exhaustion, then the atomic
// decrement. Block state is checked before the remaining count, so a blocked
// fingerprint with quota left is still denied.
func (s *Service) ConsumeTrial(ctx context.Context, req TrialConsumeRequest) (TrialConsumeResponse, error) {
	validation := domain.ValidateFingerprint(req.Fingerprint, req.Components)
	if !validation.IsValid {
		return TrialConsumeResponse{}, fmt.Errorf("%w: %s", domain.ErrInvalidFingerprint, strings.Join(validation.Reasons, "; "))
	}
	if strings.TrimSpace(req.Action) == "" {
		return TrialConsumeResponse{}, fmt.Errorf("%w: action is required", domain.ErrInvalidInput)
	}

	now := s.nowFn()

	// Low-confidence fingerprints are usable soft keys but run under a
	// stricter volatile limiter before any durable state is touched.
	if validation.LowTrust() && s.softLimiter != nil {
		count, err := s.softLimiter.Hit(ctx, "trial:soft:"+req.Fingerprint, time.Hour)
		if err == nil && count > int64(s.cfg.SoftKeyMaxPerHour) {
			return TrialConsumeResponse{
				Success:     false,
				RateLimited: true,
				Code:        domain.CodeRateLimited,
			}, nil
		}
	}

	record, err := s.getOrCreateRecord(ctx, req.Fingerprint, now)
	if err != nil {
		return TrialConsumeResponse{}, err
	}

	// Lazy reset, independent of block state.
	if record.ResetDueAt(now, s.cfg.TrialResetInterval) {
		applied, resetErr := s.trials.Reset(ctx, req.Fingerprint, now.Add(-s.cfg.TrialResetInterval), now)
		if resetErr != nil {
			return TrialConsumeResponse{}, fmt.Errorf("%w: reset trial: %v", domain.ErrStorage, resetErr)
		}
		if applied {
			record.Remaining = record.Total
			record.LastResetAt = now
		}
	}

	nextReset := record.LastResetAt.Add(s.cfg.TrialResetInterval)

	if record.BlockedAt(now) {
		s.logTrialDenied(ctx, req, domain.CodeBlockedDevice, record.Remaining)
		resp := TrialConsumeResponse{
			Success:     false,
			Remaining:   record.Remaining,
			Blocked:     true,
			NextResetAt: record.BlockedUntil,
			Code:        domain.CodeBlockedDevice,
		}
		s.refreshTrialCache(ctx, req.Fingerprint, record.Remaining, true, record.BlockedUntil)
		return resp, nil
	}

	windowCount, err := s.countActionsWithRetry(ctx, req.Fingerprint, now.Add(-time.Hour))
	if err != nil {
		return TrialConsumeResponse{}, err
	}
	if windowCount >= s.cfg.TrialMaxActionsPerHour {
		resp := TrialConsumeResponse{
			Success:     false,
			Remaining:   record.Remaining,
			RateLimited: true,
			Code:        domain.CodeRateLimited,
		}
		// Exceeding the limit (not merely meeting it) escalates to a block.
		if windowCount > s.cfg.TrialMaxActionsPerHour {
			until := now.Add(s.cfg.TrialBlockDuration)
			if blockErr := s.trials.SetBlockedUntil(ctx, req.Fingerprint, until, now); blockErr != nil {
				s.logger.WarnContext(ctx, "failed to set block window",
					"operation", "consume_trial", "outcome", "failure", "error", blockErr)
			} else {
				resp.Blocked = true
				resp.NextResetAt = &until
				resp.Code = domain.CodeBlockedDevice
			}
		}
		s.appendDeniedAction(ctx, req, now)
		s.logTrialDenied(ctx, req, resp.Code, record.Remaining)
		s.refreshTrialCache(ctx, req.Fingerprint, record.Remaining, resp.Blocked, resp.NextResetAt)
		return resp, nil
	}

	if record.Remaining == 0 {
		s.appendDeniedAction(ctx, req, now)
		s.logTrialDenied(ctx, req, domain.CodeTrialExhausted, 0)
		s.refreshTrialCache(ctx, req.Fingerprint, 0, false, &nextReset)
		return TrialConsumeResponse{
			Success:     false,
			Remaining:   0,
			NextResetAt: &nextReset,
			Code:        domain.CodeTrialExhausted,
		}, nil
	}

	// The conditional decrement decides success; it is never retried so a
	// failure can not turn into a silent double consumption.
	applied, remaining, err := s.trials.ConsumeOne(ctx, req.Fingerprint, now)
	if err != nil {
		return TrialConsumeResponse{}, fmt.Errorf("%w: consume decrement: %v", domain.ErrStorage, err)
	}
	if !applied {
		// Lost the race for the last unit.
		s.logTrialDenied(ctx, req, domain.CodeTrialExhausted, 0)
		s.refreshTrialCache(ctx, req.Fingerprint, 0, false, &nextReset)
		return TrialConsumeResponse{
			Success:     false,
			Remaining:   0,
			NextResetAt: &nextReset,
			Code:        domain.CodeTrialExhausted,
		}, nil
	}

	if appendErr := s.trials.AppendAction(ctx, domain.TrialAction{
		Fingerprint: req.Fingerprint,
		ActionType:  req.Action,
		Metadata:    req.Metadata,
		ClientIP:    req.ClientIP,
		CreatedAt:   now,
	}); appendErr != nil {
		s.logger.WarnContext(ctx, "trial action append failed",
			"operation", "consume_trial", "outcome", "failure", "error", appendErr)
	}

	s.logSecurityEvent(ctx, domain.SecurityEvent{
		Fingerprint: req.Fingerprint,
		EventType:   domain.EventTrialConsumed,
		RiskScore: domain.ScoreRisk(domain.RiskContext{
			UserAgent:   req.UserAgent,
			Fingerprint: req.Fingerprint,
			IPAddress:   req.ClientIP,
			KnownDevice: true,
		}),
		IPAddress: req.ClientIP,
		UserAgent: req.UserAgent,
		Context:   map[string]any{"action": req.Action, "remaining": remaining},
	})
	s.refreshTrialCache(ctx, req.Fingerprint, remaining, false, &nextReset)

	return TrialConsumeResponse{
		Success:     true,
		Remaining:   remaining,
		NextResetAt: &nextReset,
	}, nil
}

// TrialStatus returns the authoritative quota snapshot for a fingerprint.
// Unknown fingerprints report a full, unblocked budget.
func (s *Service) TrialStatus(ctx context.Context, fingerprint string) (domain.TrialStatus, error) {
	if validation := domain.ValidateFingerprint(fingerprint, nil); !validation.IsValid {
		return domain.TrialStatus{}, fmt.Errorf("%w: %s", domain.ErrInvalidFingerprint, strings.Join(validation.Reasons, "; "))
	}

	now := s.nowFn()
	record, err := s.trials.Get(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.TrialStatus{
				Fingerprint: fingerprint,
				Remaining:   s.cfg.TrialTotal,
				Total:       s.cfg.TrialTotal,
				UpdatedAt:   now,
			}, nil
		}
		return domain.TrialStatus{}, fmt.Errorf("%w: read trial record: %v", domain.ErrStorage, err)
	}

	remaining := record.Remaining
	if record.ResetDueAt(now, s.cfg.TrialResetInterval) {
		remaining = record.Total
	}
	nextReset := record.LastResetAt.Add(s.cfg.TrialResetInterval)
	status := domain.TrialStatus{
		Fingerprint: fingerprint,
		Remaining:   remaining,
		Total:       record.Total,
		Blocked:     record.BlockedAt(now),
		NextResetAt: &nextReset,
		UpdatedAt:   now,
	}
	if status.Blocked {
		status.NextResetAt = record.BlockedUntil
	}
	if s.trialCache != nil {
		_ = s.trialCache.Put(ctx, status, s.cfg.TrialStatusCacheTTL)
	}
	return status, nil
}

// ResetTrial restores a record's full budget once the reset interval has
// elapsed. Calling it on a fresh record is a no-op.
func (s *Service) ResetTrial(ctx context.Context, fingerprint string) (bool, error) {
	now := s.nowFn()
	applied, err := s.trials.Reset(ctx, fingerprint, now.Add(-s.cfg.TrialResetInterval), now)
	if err != nil {
		return false, fmt.Errorf("%w: reset trial: %v", domain.ErrStorage, err)
	}
	if applied {
		s.refreshTrialCache(ctx, fingerprint, s.cfg.TrialTotal, false, nil)
	}
	return applied, nil
}

func (s *Service) getOrCreateRecord(ctx context.Context, fingerprint string, now time.Time) (domain.TrialRecord, error) {
	record, err := s.trials.GetOrCreate(ctx, fingerprint, s.cfg.TrialTotal, now)
	if err == nil {
		return record, nil
	}
	// Idempotent read/upsert path: one retry per the storage policy.
	record, retryErr := s.trials.GetOrCreate(ctx, fingerprint, s.cfg.TrialTotal, now)
	if retryErr != nil {
		return domain.TrialRecord{}, fmt.Errorf("%w: load trial record: %v", domain.ErrStorage, err)
	}
	return record, nil
}

func (s *Service) countActionsWithRetry(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	count, err := s.trials.CountActionsSince(ctx, fingerprint, since)
	if err == nil {
		return count, nil
	}
	count, retryErr := s.trials.CountActionsSince(ctx, fingerprint, since)
	if retryErr != nil {
		return 0, fmt.Errorf("%w: count trial actions: %v", domain.ErrStorage, err)
	}
	return count, nil
}

func (s *Service) appendDeniedAction(ctx context.Context, req TrialConsumeRequest, now time.Time) {
	if err := s.trials.AppendAction(ctx, domain.TrialAction{
		Fingerprint: req.Fingerprint,
		ActionType:  domain.DeniedActionType(req.Action),
		Metadata:    req.Metadata,
		ClientIP:    req.ClientIP,
		CreatedAt:   now,
	}); err != nil {
		s.logger.WarnContext(ctx, "denied action append failed",
			"operation", "consume_trial", "outcome", "failure", "error", err)
	}
}

func (s *Service) logTrialDenied(ctx context.Context, req TrialConsumeRequest, code string, remaining int) {
	s.logSecurityEvent(ctx, domain.SecurityEvent{
		Fingerprint: req.Fingerprint,
		EventType:   domain.EventTrialDenied,
		RiskScore: domain.ScoreRisk(domain.RiskContext{
			UserAgent:   req.UserAgent,
			Fingerprint: req.Fingerprint,
			IPAddress:   req.ClientIP,
			KnownDevice: true,
		}),
		IPAddress: req.ClientIP,
		UserAgent: req.UserAgent,
		Context:   map[string]any{"action": req.Action, "code": code, "remaining": remaining},
	})
	if code == domain.CodeBlockedDevice {
		s.enqueueOutbox(ctx, "identity.trial.blocked", req.Fingerprint, map[string]any{
			"fingerprint": req.Fingerprint,
			"action":      req.Action,
		})
	}
}

// refreshTrialCache overwrites the cached hint wholesale; hints are never
// merged field by field with durable state.
func (s *Service) refreshTrialCache(ctx context.Context, fingerprint string, remaining int, blocked bool, nextResetAt *time.Time) {
	if s.trialCache == nil {
		return
	}
	_ = s.trialCache.Put(ctx, domain.TrialStatus{
		Fingerprint: fingerprint,
		Remaining:   remaining,
		Total:       s.cfg.TrialTotal,
		Blocked:     blocked,
		NextResetAt: nextResetAt,
		UpdatedAt:   s.nowFn(),
	}, s.cfg.TrialStatusCacheTTL)
}
