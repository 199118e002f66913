package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type syncEventRepository struct {
	db *gorm.DB
}

// CreateForTargets materializes one delivery row per target device in a single
// insert. Each target acknowledges its own row, so per-device delivery state
// never needs a join.
func (r *syncEventRepository) CreateForTargets(ctx context.Context, event domain.SyncEvent, targets []uuid.UUID) error {
	if len(targets) == 0 {
		return nil
	}
	payload := toJSONMap(event.Payload)
	rows := make([]syncEventModel, 0, len(targets))
	for _, target := range targets {
		rows = append(rows, syncEventModel{
			EventID:        event.EventID,
			IdentityID:     event.IdentityID,
			OriginDeviceID: event.OriginDeviceID,
			TargetDeviceID: target,
			EventType:      string(event.EventType),
			Payload:        payload,
			CreatedAt:      event.CreatedAt,
			ExpiresAt:      event.ExpiresAt,
		})
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

func (r *syncEventRepository) ListPending(ctx context.Context, identityID, targetDeviceID uuid.UUID, limit int) ([]domain.SyncEvent, error) {
	now := time.Now().UTC()
	var rows []syncEventModel
	err := r.db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Where("target_device_id = ?", targetDeviceID).
		Where("processed_at IS NULL").
		Where("expires_at > ?", now).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make([]domain.SyncEvent, 0, len(rows))
	for _, row := range rows {
		result = append(result, toDomainSyncEvent(row))
	}
	return result, nil
}

// MarkProcessed flips the per-target flag at most once; the predicate scopes
// the update to the acknowledging device's own delivery row.
func (r *syncEventRepository) MarkProcessed(ctx context.Context, eventID, targetDeviceID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&syncEventModel{}).
		Where("event_id = ?", eventID).
		Where("target_device_id = ?", targetDeviceID).
		Where("processed_at IS NULL").
		Update("processed_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *syncEventRepository) DeleteProcessedOrExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("processed_at IS NOT NULL OR expires_at <= ?", now).
		Delete(&syncEventModel{})
	return res.RowsAffected, res.Error
}

type syncConfigRepository struct {
	db *gorm.DB
}

func (r *syncConfigRepository) Get(ctx context.Context, identityID uuid.UUID) (domain.SyncConfig, error) {
	var row syncConfigModel
	if err := r.db.WithContext(ctx).Where("identity_id = ?", identityID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.SyncConfig{}, domain.ErrNotFound
		}
		return domain.SyncConfig{}, err
	}
	return domain.SyncConfig{
		IdentityID:          row.IdentityID,
		PollIntervalSeconds: row.PollIntervalSeconds,
		PushEnabled:         row.PushEnabled,
		UpdatedAt:           row.UpdatedAt,
	}, nil
}

func (r *syncConfigRepository) Upsert(ctx context.Context, config domain.SyncConfig) error {
	row := syncConfigModel{
		IdentityID:          config.IdentityID,
		PollIntervalSeconds: config.PollIntervalSeconds,
		PushEnabled:         config.PushEnabled,
		UpdatedAt:           config.UpdatedAt,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identity_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"poll_interval_seconds", "push_enabled", "updated_at"}),
		}).
		Create(&row).Error
}
