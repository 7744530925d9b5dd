package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/soulline/backend/config"
	"github.com/soulline/backend/internal/models"
	"github.com/soulline/backend/internal/utils"
)

// Hub is the registry of live rooms. It owns room creation (including the
// booking re-entry decision) and fans shutdown out to every room worker.
type Hub struct {
	cfg  *config.EngineConfig
	deps Deps
	log  *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	rooms  map[string]*Room // keyed by room name
	closed bool
}

func NewHub(cfg *config.EngineConfig, deps Deps) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:    cfg,
		deps:   deps,
		log:    deps.Log,
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]*Room),
	}
}

// Join resolves the session behind requestID, authorizes the identity and
// attaches the client to the live room, creating one when needed.
func (h *Hub) Join(ctx context.Context, requestID string, id Identity, c Client) (*Room, error) {
	const op = "Hub.Join"

	sess, err := h.deps.Sessions.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !sess.IsParty(id.UserID) && id.Role != models.RoleAdmin {
		return nil, utils.E(utils.CodeForbidden, op, "not a party to this session", nil)
	}

	// a room may exit between lookup and attach; retry against a fresh one
	for attempt := 0; attempt < 3; attempt++ {
		room, err := h.roomFor(ctx, sess)
		if err != nil {
			return nil, err
		}
		if err := room.Attach(c); err != nil {
			if errors.Is(err, errRoomClosed) {
				continue
			}
			return nil, err
		}
		return room, nil
	}
	return nil, utils.E(utils.CodeUnavailable, op, "room unavailable, retry", nil)
}

func (h *Hub) roomFor(ctx context.Context, sess *models.Session) (*Room, error) {
	const op = "Hub.roomFor"

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, utils.E(utils.CodeUnavailable, op, "server shutting down", nil)
	}

	if room, ok := h.rooms[sess.RoomName]; ok {
		select {
		case <-room.Done():
			delete(h.rooms, sess.RoomName)
		default:
			return room, nil
		}
	}

	if sess.Status == models.StatusEnded {
		if !sess.Reenterable(time.Now().UTC()) {
			return nil, utils.E(utils.CodeSessionCompleted, op, "session already completed", nil)
		}
		// booking inside its window: back to pending, presence and balance
		// get re-validated before billing re-arms
		if err := h.deps.Sessions.Reopen(ctx, sess.RequestID); err != nil {
			return nil, err
		}
		sess.Status = models.StatusPending
		sess.EndedAt = nil
	}

	snapshot := *sess // the room worker owns its own copy
	room := newRoom(&snapshot, h.cfg, h.deps)
	h.rooms[sess.RoomName] = room

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		room.run(h.ctx)
		h.mu.Lock()
		if h.rooms[room.Name()] == room {
			delete(h.rooms, room.Name())
		}
		h.mu.Unlock()
	}()
	return room, nil
}

// NotifyUpgrade pushes a committed voice to video upgrade into the live
// room, if any. The persisted session already carries the new rate; a dead
// room simply picks it up on recreation.
func (h *Hub) NotifyUpgrade(roomName string, pricePerMinute int64) error {
	h.mu.Lock()
	room := h.rooms[roomName]
	h.mu.Unlock()

	if room == nil {
		return nil
	}
	if err := room.Upgrade(pricePerMinute); err != nil && !errors.Is(err, errRoomClosed) {
		return err
	}
	return nil
}

// ForceClose ends a live room administratively. Returns false when no live
// room exists for the name.
func (h *Hub) ForceClose(roomName, reason string) (bool, error) {
	h.mu.Lock()
	room := h.rooms[roomName]
	h.mu.Unlock()

	if room == nil {
		return false, nil
	}
	if err := room.ForceClose(reason); err != nil {
		if errors.Is(err, errRoomClosed) {
			return false, nil
		}
		return true, err
	}
	return true, nil
}

// Shutdown force-ends every live room and waits for the workers, bounded by
// ctx.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	h.closed = true
	n := len(h.rooms)
	h.mu.Unlock()

	h.log.WithField("rooms", n).Info("hub shutting down")
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		h.log.Warn("hub shutdown timed out waiting for rooms")
	}
}
