package workers

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/soulline/backend/internal/models"
	"github.com/soulline/backend/internal/realtime"
	"github.com/soulline/backend/internal/repositories/postgres"
)

// BookingSweeper ends booking sessions whose window passed without a clean
// hangup. Live rooms are closed through the hub so both parties get the
// session_ended notice; dead ones are marked ended directly.
type BookingSweeper struct {
	Sessions postgres.SessionRepository
	Hub      *realtime.Hub
	Logger   *logrus.Logger

	Interval time.Duration
	Batch    int
}

func (w *BookingSweeper) Start(ctx context.Context) error {
	if w.Sessions == nil || w.Hub == nil {
		return errors.New("BookingSweeper missing dependency: Sessions/Hub must be set")
	}
	if w.Interval <= 0 {
		w.Interval = time.Minute
	}
	if w.Batch <= 0 {
		w.Batch = 100
	}
	if w.Logger == nil {
		w.Logger = logrus.New()
	}

	go w.run(ctx)
	return nil
}

func (w *BookingSweeper) run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *BookingSweeper) sweep(ctx context.Context) {
	now := time.Now().UTC()
	stale, err := w.Sessions.ListExpiredBookings(ctx, now, w.Batch)
	if err != nil {
		w.Logger.WithError(err).Warn("booking sweep query failed")
		return
	}

	for _, sess := range stale {
		log := w.Logger.WithFields(logrus.Fields{
			"request_id": sess.RequestID,
			"booked_end": sess.BookedEnd,
		})

		live, err := w.Hub.ForceClose(sess.RoomName, realtime.EndReasonBookingExpired)
		if err != nil {
			log.WithError(err).Warn("failed to close live room")
			continue
		}
		if live {
			log.Info("expired booking closed via live room")
			continue
		}
		if sess.Status == models.StatusEnded {
			continue
		}
		if err := w.Sessions.MarkEnded(ctx, sess.RequestID, now); err != nil {
			log.WithError(err).Warn("failed to end expired booking")
			continue
		}
		log.Info("expired booking ended")
	}
}
