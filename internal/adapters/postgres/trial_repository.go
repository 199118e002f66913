package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type trialRepository struct {
	db *gorm.DB
}

func (r *trialRepository) GetOrCreate(ctx context.Context, fingerprint string, total int, now time.Time) (domain.TrialRecord, error) {
	rec := trialRecordModel{
		Fingerprint: fingerprint,
		Remaining:   total,
		Total:       total,
		LastResetAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// DO NOTHING keeps the existing row authoritative; the follow-up read
	// returns whichever insert won.
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "fingerprint"}},
			DoNothing: true,
		}).
		Create(&rec).Error; err != nil && !isUniqueViolation(err) {
		return domain.TrialRecord{}, err
	}

	var row trialRecordModel
	if err := r.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).Take(&row).Error; err != nil {
		return domain.TrialRecord{}, err
	}
	return toDomainTrialRecord(row), nil
}

func (r *trialRepository) Get(ctx context.Context, fingerprint string) (domain.TrialRecord, error) {
	var row trialRecordModel
	if err := r.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.TrialRecord{}, domain.ErrNotFound
		}
		return domain.TrialRecord{}, err
	}
	return toDomainTrialRecord(row), nil
}

// ConsumeOne is the single conditional decrement deciding quota consumption.
// Remaining never goes below zero because the predicate re-checks it at
// commit time; the affected-row count distinguishes winning from losing.
func (r *trialRepository) ConsumeOne(ctx context.Context, fingerprint string, now time.Time) (bool, int, error) {
	res := r.db.WithContext(ctx).
		Model(&trialRecordModel{}).
		Where("fingerprint = ?", fingerprint).
		Where("remaining > 0").
		Updates(map[string]any{
			"remaining":    gorm.Expr("remaining - 1"),
			"last_used_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, 0, res.Error
	}
	if res.RowsAffected == 0 {
		return false, 0, nil
	}

	var row trialRecordModel
	if err := r.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).Take(&row).Error; err != nil {
		return true, 0, err
	}
	return true, row.Remaining, nil
}

func (r *trialRepository) Reset(ctx context.Context, fingerprint string, resetBefore, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&trialRecordModel{}).
		Where("fingerprint = ?", fingerprint).
		Where("last_reset_at <= ?", resetBefore).
		Updates(map[string]any{
			"remaining":     gorm.Expr("total"),
			"last_reset_at": now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *trialRepository) SetBlockedUntil(ctx context.Context, fingerprint string, until, now time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&trialRecordModel{}).
		Where("fingerprint = ?", fingerprint).
		Updates(map[string]any{
			"blocked_until": until,
			"updated_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *trialRepository) AppendAction(ctx context.Context, action domain.TrialAction) error {
	rec := trialActionModel{
		Fingerprint: action.Fingerprint,
		ActionType:  action.ActionType,
		Metadata:    toJSONMap(action.Metadata),
		IPAddress:   nullableString(action.ClientIP),
		CreatedAt:   action.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *trialRepository) CountActionsSince(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&trialActionModel{}).
		Where("fingerprint = ?", fingerprint).
		Where("created_at >= ?", since).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *trialRepository) DeleteActionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&trialActionModel{})
	return res.RowsAffected, res.Error
}
