package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/soulline/backend/internal/models"
	"github.com/soulline/backend/internal/utils"
	"gorm.io/gorm"
)

type SessionRepository interface {
	Create(ctx context.Context, s *models.Session) error
	GetByRequestID(ctx context.Context, requestID string) (*models.Session, error)
	// MarkActive records the first activation. StartedAt is only written
	// once; re-entry into a booking keeps the original start.
	MarkActive(ctx context.Context, requestID string, startedAt time.Time) error
	// MarkEnded is terminal for the stored row; the lifecycle controller
	// decides whether a booking may re-enter afterwards.
	MarkEnded(ctx context.Context, requestID string, endedAt time.Time) error
	// Reopen flips an ended booking session back to pending for re-entry
	// within its booked window.
	Reopen(ctx context.Context, requestID string) error
	// SetModeAndRate applies the voice to video upgrade.
	SetModeAndRate(ctx context.Context, requestID string, mode models.SessionMode, pricePerMinute int64) error
	// ListExpiredBookings returns booking sessions whose window has passed
	// without reaching a terminal state.
	ListExpiredBookings(ctx context.Context, now time.Time, limit int) ([]models.Session, error)
}

type sessionRepo struct {
	db *gorm.DB
}

func NewSessionRepo(db *gorm.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) Create(ctx context.Context, s *models.Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *sessionRepo) GetByRequestID(ctx context.Context, requestID string) (*models.Session, error) {
	var s models.Session
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &s, err
}

func (r *sessionRepo) MarkActive(ctx context.Context, requestID string, startedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("request_id = ?", requestID).
		Updates(map[string]any{
			"status":     models.StatusActive,
			"started_at": gorm.Expr("COALESCE(started_at, ?)", startedAt.UTC()),
			"ended_at":   nil,
		}).Error
}

func (r *sessionRepo) MarkEnded(ctx context.Context, requestID string, endedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("request_id = ?", requestID).
		Updates(map[string]any{
			"status":   models.StatusEnded,
			"ended_at": endedAt.UTC(),
		}).Error
}

func (r *sessionRepo) Reopen(ctx context.Context, requestID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("request_id = ? AND kind = ?", requestID, models.KindBooking).
		Updates(map[string]any{
			"status":   models.StatusPending,
			"ended_at": nil,
		}).Error
}

func (r *sessionRepo) ListExpiredBookings(ctx context.Context, now time.Time, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Session
	err := r.db.WithContext(ctx).
		Where("kind = ? AND status <> ? AND booked_end < ?", models.KindBooking, models.StatusEnded, now.UTC()).
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *sessionRepo) SetModeAndRate(ctx context.Context, requestID string, mode models.SessionMode, pricePerMinute int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("request_id = ?", requestID).
		Updates(map[string]any{
			"mode":             mode,
			"price_per_minute": pricePerMinute,
		}).Error
}
