package postgres

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/domain"
	"gorm.io/gorm"
)

func toDomainTrialRecord(row trialRecordModel) domain.TrialRecord {
	return domain.TrialRecord{
		Fingerprint:  row.Fingerprint,
		Remaining:    row.Remaining,
		Total:        row.Total,
		LastUsedAt:   row.LastUsedAt,
		LastResetAt:  row.LastResetAt,
		BlockedUntil: row.BlockedUntil,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

func toDomainTrialAction(row trialActionModel) domain.TrialAction {
	return domain.TrialAction{
		ID:          row.ID,
		Fingerprint: row.Fingerprint,
		ActionType:  row.ActionType,
		Metadata:    fromJSONMap(row.Metadata),
		ClientIP:    derefString(row.IPAddress),
		CreatedAt:   row.CreatedAt,
	}
}

func toDomainSession(row sessionModel) domain.Session {
	return domain.Session{
		SessionID:      row.SessionID,
		IdentityID:     row.IdentityID,
		DeviceID:       row.DeviceID,
		IPAddress:      derefString(row.IPAddress),
		UserAgent:      row.UserAgent,
		CreatedAt:      row.CreatedAt,
		LastActivityAt: row.LastActivityAt,
		ExpiresAt:      row.ExpiresAt,
		RevokedAt:      row.RevokedAt,
	}
}

func toDomainDevice(row deviceModel) domain.Device {
	return domain.Device{
		DeviceID:      row.DeviceID,
		IdentityID:    row.IdentityID,
		SignatureHash: row.SignatureHash,
		Label:         row.Label,
		Trusted:       row.Trusted,
		Active:        row.Active,
		FirstSeenAt:   row.FirstSeenAt,
		LastSeenAt:    row.LastSeenAt,
	}
}

func toDomainSyncEvent(row syncEventModel) domain.SyncEvent {
	return domain.SyncEvent{
		EventID:        row.EventID,
		IdentityID:     row.IdentityID,
		OriginDeviceID: row.OriginDeviceID,
		TargetDeviceID: row.TargetDeviceID,
		EventType:      domain.SyncEventType(row.EventType),
		Payload:        fromJSONMap(row.Payload),
		ProcessedAt:    row.ProcessedAt,
		CreatedAt:      row.CreatedAt,
		ExpiresAt:      row.ExpiresAt,
	}
}

func toDomainSecurityEvent(row securityEventModel) domain.SecurityEvent {
	return domain.SecurityEvent{
		ID:          row.ID,
		IdentityID:  row.IdentityID,
		Fingerprint: derefString(row.Fingerprint),
		EventType:   domain.SecurityEventType(row.EventType),
		RiskScore:   row.RiskScore,
		IPAddress:   derefString(row.IPAddress),
		UserAgent:   row.UserAgent,
		Context:     fromJSONMap(row.Context),
		CreatedAt:   row.CreatedAt,
	}
}

func toDomainSecurityAlert(row securityAlertModel) domain.SecurityAlert {
	return domain.SecurityAlert{
		AlertID:    row.AlertID,
		IdentityID: row.IdentityID,
		EventType:  row.EventType,
		RiskScore:  row.RiskScore,
		Status:     domain.AlertStatus(row.Status),
		Context:    fromJSONMap(row.Context),
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
}

func nullableString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func toJSONMap(m map[string]any) *string {
	if len(m) == 0 {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	s := string(raw)
	return &s
}

func fromJSONMap(v *string) map[string]any {
	if v == nil || *v == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(*v), &m); err != nil {
		return nil
	}
	return m
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
