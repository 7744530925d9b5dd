package postgres

import (
	"context"
	"errors"

	"github.com/soulline/backend/internal/models"
	"github.com/soulline/backend/internal/utils"
	"gorm.io/gorm"
)

type RateRepository interface {
	// Resolve returns the consultant's published credits-per-minute for the
	// given mode.
	Resolve(ctx context.Context, consultantID string, mode models.SessionMode) (int64, error)
}

type rateRepo struct {
	db *gorm.DB
}

func NewRateRepo(db *gorm.DB) RateRepository {
	return &rateRepo{db: db}
}

func (r *rateRepo) Resolve(ctx context.Context, consultantID string, mode models.SessionMode) (int64, error) {
	var row models.ConsultantRate
	err := r.db.WithContext(ctx).
		Where("consultant_id = ? AND mode = ?", consultantID, mode).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, utils.ErrNotFound
	}
	return row.PricePerMinute, err
}
