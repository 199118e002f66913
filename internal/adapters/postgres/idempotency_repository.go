package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/ports"
	"gorm.io/gorm"
)

// idempotencyRepository stores gateway retry keys for session creation. A key
// moves PENDING -> COMPLETED exactly once; replays read the stored response.
type idempotencyRepository struct {
	db *gorm.DB
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (*ports.IdempotencyRecord, error) {
	var row identityIdempotencyModel
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}

	rec := ports.IdempotencyRecord{
		Key:          row.IdempotencyKey,
		RequestHash:  row.RequestHash,
		Status:       row.Status,
		ResponseCode: row.ResponseCode,
		ExpiresAt:    row.ExpiresAt,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	if row.ResponseBody != nil {
		rec.ResponseBody = []byte(*row.ResponseBody)
	}
	return &rec, nil
}

// Reserve claims the key for the caller. The primary-key insert is the race
// arbiter: a concurrent retry loses with a unique violation.
func (r *idempotencyRepository) Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error {
	row := identityIdempotencyModel{
		IdempotencyKey: key,
		RequestHash:    requestHash,
		Status:         ports.IdempotencyStatusPending,
		ExpiresAt:      expiresAt,
	}
	err := r.db.WithContext(ctx).Create(&row).Error
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return domain.ErrIdempotencyConflict
	}
	return err
}

// Complete stores the response against a still-pending reservation. A key
// that is already completed (or was never reserved) is left untouched.
func (r *idempotencyRepository) Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error {
	var body *string
	if len(responseBody) > 0 {
		raw := string(responseBody)
		body = &raw
	}
	res := r.db.WithContext(ctx).
		Model(&identityIdempotencyModel{}).
		Where("idempotency_key = ? AND status = ?", key, ports.IdempotencyStatusPending).
		Updates(map[string]any{
			"status":        ports.IdempotencyStatusCompleted,
			"response_code": responseCode,
			"response_body": body,
			"updated_at":    at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
