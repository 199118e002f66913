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

type deviceRegistry struct {
	db *gorm.DB
}

// UpsertBySignature resolves the (identity, signature) key in a transaction so
// two simultaneous logins from the same machine converge on one device row.
func (r *deviceRegistry) UpsertBySignature(ctx context.Context, params ports.DeviceUpsertParams) (domain.Device, bool, error) {
	var (
		row     deviceModel
		created bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("identity_id = ?", params.IdentityID).
			Where("signature_hash = ?", params.SignatureHash).
			Take(&row).Error
		if err == nil {
			return tx.Model(&deviceModel{}).
				Where("device_id = ?", row.DeviceID).
				Updates(map[string]any{
					"active":       true,
					"last_seen_at": params.SeenAt,
				}).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		row = deviceModel{
			IdentityID:    params.IdentityID,
			SignatureHash: params.SignatureHash,
			Label:         params.Label,
			Active:        true,
			FirstSeenAt:   params.SeenAt,
			LastSeenAt:    params.SeenAt,
		}
		if insertErr := tx.Create(&row).Error; insertErr != nil {
			// A concurrent login inserted the same signature first.
			if isUniqueViolation(insertErr) {
				if retryErr := tx.Where("identity_id = ?", params.IdentityID).
					Where("signature_hash = ?", params.SignatureHash).
					Take(&row).Error; retryErr != nil {
					return retryErr
				}
				return tx.Model(&deviceModel{}).
					Where("device_id = ?", row.DeviceID).
					Updates(map[string]any{
						"active":       true,
						"last_seen_at": params.SeenAt,
					}).Error
			}
			return insertErr
		}
		created = true
		return nil
	})
	if err != nil {
		return domain.Device{}, false, err
	}

	row.Active = true
	row.LastSeenAt = params.SeenAt
	return toDomainDevice(row), created, nil
}

func (r *deviceRegistry) GetByID(ctx context.Context, identityID, deviceID uuid.UUID) (domain.Device, error) {
	var row deviceModel
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Where("identity_id = ?", identityID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Device{}, domain.ErrNotFound
		}
		return domain.Device{}, err
	}
	return toDomainDevice(row), nil
}

func (r *deviceRegistry) ListActiveByIdentity(ctx context.Context, identityID uuid.UUID) ([]domain.Device, error) {
	var rows []deviceModel
	err := r.db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Where("active = ?", true).
		Order("last_seen_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]domain.Device, 0, len(rows))
	for _, row := range rows {
		result = append(result, toDomainDevice(row))
	}
	return result, nil
}

func (r *deviceRegistry) SetTrusted(ctx context.Context, identityID, deviceID uuid.UUID, trusted bool, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&deviceModel{}).
		Where("device_id = ?", deviceID).
		Where("identity_id = ?", identityID).
		Updates(map[string]any{
			"trusted":      trusted,
			"last_seen_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *deviceRegistry) Deactivate(ctx context.Context, identityID, deviceID uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&deviceModel{}).
		Where("device_id = ?", deviceID).
		Where("identity_id = ?", identityID).
		Updates(map[string]any{
			"active":       false,
			"last_seen_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *deviceRegistry) TouchSeen(ctx context.Context, deviceID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&deviceModel{}).
		Where("device_id = ?", deviceID).
		Update("last_seen_at", at).Error
}
