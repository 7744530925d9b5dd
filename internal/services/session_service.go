package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/soulline/backend/internal/models"
	"github.com/soulline/backend/internal/repositories/postgres"
	"github.com/soulline/backend/internal/utils"
)

type CreateSessionInput struct {
	RequestID    string
	CustomerID   string
	ConsultantID string
	Mode         models.SessionMode
	Kind         models.SessionKind
	BookedStart  *time.Time
	BookedEnd    *time.Time
}

type SessionService interface {
	Create(ctx context.Context, in CreateSessionInput) (*models.Session, error)
	GetByRequestID(ctx context.Context, requestID string) (*models.Session, error)
	MarkActive(ctx context.Context, requestID string, startedAt time.Time) error
	MarkEnded(ctx context.Context, requestID string, endedAt time.Time) error
	Reopen(ctx context.Context, requestID string) error
	// UpgradeToVideo re-resolves the consultant's video rate and applies the
	// monotonic voice to video mode change. The caller must be the session's
	// customer. Returns the updated session.
	UpgradeToVideo(ctx context.Context, requestID, callerID string) (*models.Session, error)
}

type sessionService struct {
	sessions postgres.SessionRepository
	rates    postgres.RateRepository
}

func NewSessionService(sessions postgres.SessionRepository, rates postgres.RateRepository) SessionService {
	return &sessionService{sessions: sessions, rates: rates}
}

func (s *sessionService) Create(ctx context.Context, in CreateSessionInput) (*models.Session, error) {
	const op = "SessionService.Create"

	if in.RequestID == "" || in.CustomerID == "" || in.ConsultantID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "request_id, customer_id and consultant_id are required", nil)
	}
	switch in.Mode {
	case models.ModeChat, models.ModeVoice, models.ModeVideo:
	default:
		return nil, utils.E(utils.CodeInvalidArgument, op, "mode must be chat, voice or video", nil)
	}
	if in.Kind == "" {
		in.Kind = models.KindInstant
	}
	if in.Kind == models.KindBooking && (in.BookedStart == nil || in.BookedEnd == nil) {
		return nil, utils.E(utils.CodeInvalidArgument, op, "booking sessions require a booked window", nil)
	}

	price, err := s.rates.Resolve(ctx, in.ConsultantID, in.Mode)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "consultant has no published rate for this mode", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to resolve rate", err)
	}

	sess := &models.Session{
		ID:             uuid.NewString(),
		RequestID:      in.RequestID,
		RoomName:       uuid.NewString(),
		CustomerID:     in.CustomerID,
		ConsultantID:   in.ConsultantID,
		Mode:           in.Mode,
		Kind:           in.Kind,
		PricePerMinute: price,
		Status:         models.StatusPending,
		BookedStart:    in.BookedStart,
		BookedEnd:      in.BookedEnd,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create session", err)
	}
	return sess, nil
}

func (s *sessionService) GetByRequestID(ctx context.Context, requestID string) (*models.Session, error) {
	const op = "SessionService.GetByRequestID"

	if requestID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "request_id is required", nil)
	}
	out, err := s.sessions.GetByRequestID(ctx, requestID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get session", err)
	}
	return out, nil
}

func (s *sessionService) MarkActive(ctx context.Context, requestID string, startedAt time.Time) error {
	const op = "SessionService.MarkActive"
	if err := s.sessions.MarkActive(ctx, requestID, startedAt); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to mark session active", err)
	}
	return nil
}

func (s *sessionService) MarkEnded(ctx context.Context, requestID string, endedAt time.Time) error {
	const op = "SessionService.MarkEnded"
	if err := s.sessions.MarkEnded(ctx, requestID, endedAt); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to mark session ended", err)
	}
	return nil
}

func (s *sessionService) Reopen(ctx context.Context, requestID string) error {
	const op = "SessionService.Reopen"
	if err := s.sessions.Reopen(ctx, requestID); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to reopen session", err)
	}
	return nil
}

func (s *sessionService) UpgradeToVideo(ctx context.Context, requestID, callerID string) (*models.Session, error) {
	const op = "SessionService.UpgradeToVideo"

	sess, err := s.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if callerID != sess.CustomerID {
		return nil, utils.E(utils.CodeForbidden, op, "only the customer may upgrade the call", nil)
	}
	if sess.Status == models.StatusEnded && !sess.Reenterable(time.Now().UTC()) {
		return nil, utils.E(utils.CodeSessionCompleted, op, "session already completed", nil)
	}
	switch sess.Mode {
	case models.ModeVideo:
		return nil, utils.E(utils.CodeConflict, op, "session is already video", nil)
	case models.ModeChat:
		return nil, utils.E(utils.CodeInvalidArgument, op, "chat sessions cannot upgrade to video", nil)
	}

	price, err := s.rates.Resolve(ctx, sess.ConsultantID, models.ModeVideo)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "consultant has no video rate", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to resolve video rate", err)
	}

	if err := s.sessions.SetModeAndRate(ctx, requestID, models.ModeVideo, price); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to upgrade session", err)
	}

	sess.Mode = models.ModeVideo
	sess.PricePerMinute = price
	return sess, nil
}
