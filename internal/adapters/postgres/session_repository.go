package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/ports"
	"gorm.io/gorm"
)

type sessionRepository struct {
	db *gorm.DB
}

func (r *sessionRepository) Create(ctx context.Context, params ports.SessionCreateParams) (domain.Session, error) {
	rec := sessionModel{
		IdentityID:     params.IdentityID,
		DeviceID:       params.DeviceID,
		IPAddress:      nullableString(params.IPAddress),
		UserAgent:      params.UserAgent,
		CreatedAt:      params.CreatedAt,
		LastActivityAt: params.CreatedAt,
		ExpiresAt:      params.ExpiresAt,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return domain.Session{}, err
	}
	return toDomainSession(rec), nil
}

func (r *sessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (domain.Session, error) {
	var rec sessionModel
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Session{}, domain.ErrNotFound
		}
		return domain.Session{}, err
	}
	return toDomainSession(rec), nil
}

func (r *sessionRepository) ListByIdentity(ctx context.Context, identityID uuid.UUID, limit, offset int) ([]domain.Session, error) {
	var rows []sessionModel
	query := r.db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset)
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.Session, 0, len(rows))
	for _, item := range rows {
		result = append(result, toDomainSession(item))
	}
	return result, nil
}

func (r *sessionRepository) TouchActivity(ctx context.Context, sessionID uuid.UUID, touchedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("session_id = ?", sessionID).
		Update("last_activity_at", touchedAt).Error
}

// Extend only advances the expiry of a session that is still live at `now`.
// Expired or revoked sessions fall through with zero rows affected, which is
// how refresh refuses to resurrect a dead session.
func (r *sessionRepository) Extend(ctx context.Context, sessionID uuid.UUID, newExpiry, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("session_id = ?", sessionID).
		Where("revoked_at IS NULL").
		Where("expires_at > ?", now).
		Updates(map[string]any{
			"expires_at":       newExpiry,
			"last_activity_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *sessionRepository) RevokeByID(ctx context.Context, sessionID uuid.UUID, revokedAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("session_id = ?", sessionID).
		Where("revoked_at IS NULL").
		Update("revoked_at", revokedAt)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var exists int64
		if err := r.db.WithContext(ctx).Model(&sessionModel{}).Where("session_id = ?", sessionID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return domain.ErrNotFound
		}
	}
	return nil
}

func (r *sessionRepository) RevokeByDevice(ctx context.Context, deviceID uuid.UUID, revokedAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("device_id = ?", deviceID).
		Where("revoked_at IS NULL").
		Update("revoked_at", revokedAt)
	return res.RowsAffected, res.Error
}

func (r *sessionRepository) CountLiveByDevice(ctx context.Context, deviceID uuid.UUID, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("device_id = ?", deviceID).
		Where("revoked_at IS NULL").
		Where("expires_at > ?", now).
		Count(&count).Error
	return count, err
}

func (r *sessionRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at <= ?", cutoff).
		Delete(&sessionModel{})
	return res.RowsAffected, res.Error
}
