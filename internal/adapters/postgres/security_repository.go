package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/domain"
	"gorm.io/gorm"
)

type securityEventRepository struct {
	db *gorm.DB
}

func (r *securityEventRepository) Append(ctx context.Context, event domain.SecurityEvent) (int64, error) {
	rec := securityEventModel{
		IdentityID:  event.IdentityID,
		Fingerprint: nullableString(event.Fingerprint),
		EventType:   string(event.EventType),
		RiskScore:   event.RiskScore,
		IPAddress:   nullableString(event.IPAddress),
		UserAgent:   event.UserAgent,
		Context:     toJSONMap(event.Context),
		CreatedAt:   event.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return 0, err
	}
	return rec.ID, nil
}

func (r *securityEventRepository) ListByIdentity(ctx context.Context, identityID uuid.UUID, limit, offset int, since *time.Time) ([]domain.SecurityEvent, error) {
	query := r.db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset)
	if since != nil {
		query = query.Where("created_at >= ?", *since)
	}
	var rows []securityEventModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.SecurityEvent, 0, len(rows))
	for _, row := range rows {
		result = append(result, toDomainSecurityEvent(row))
	}
	return result, nil
}

type securityAlertRepository struct {
	db *gorm.DB
}

func (r *securityAlertRepository) Create(ctx context.Context, alert domain.SecurityAlert) (domain.SecurityAlert, error) {
	if alert.AlertID == uuid.Nil {
		alert.AlertID = uuid.New()
	}
	rec := securityAlertModel{
		AlertID:    alert.AlertID,
		IdentityID: alert.IdentityID,
		EventType:  alert.EventType,
		RiskScore:  alert.RiskScore,
		Status:     string(alert.Status),
		Context:    toJSONMap(alert.Context),
		CreatedAt:  alert.CreatedAt,
		UpdatedAt:  alert.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return domain.SecurityAlert{}, err
	}
	return toDomainSecurityAlert(rec), nil
}

func (r *securityAlertRepository) GetByID(ctx context.Context, alertID uuid.UUID) (domain.SecurityAlert, error) {
	var row securityAlertModel
	if err := r.db.WithContext(ctx).Where("alert_id = ?", alertID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.SecurityAlert{}, domain.ErrNotFound
		}
		return domain.SecurityAlert{}, err
	}
	return toDomainSecurityAlert(row), nil
}

func (r *securityAlertRepository) ListOpenByIdentity(ctx context.Context, identityID uuid.UUID, limit int) ([]domain.SecurityAlert, error) {
	var rows []securityAlertModel
	err := r.db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Where("status = ?", string(domain.AlertOpen)).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]domain.SecurityAlert, 0, len(rows))
	for _, row := range rows {
		result = append(result, toDomainSecurityAlert(row))
	}
	return result, nil
}

// UpdateStatus is guarded by the current status so concurrent transitions
// resolve to exactly one winner.
func (r *securityAlertRepository) UpdateStatus(ctx context.Context, alertID uuid.UUID, from, to domain.AlertStatus, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&securityAlertModel{}).
		Where("alert_id = ?", alertID).
		Where("status = ?", string(from)).
		Updates(map[string]any{
			"status":     string(to),
			"updated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
