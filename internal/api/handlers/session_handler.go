package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/soulline/backend/internal/models"
	"github.com/soulline/backend/internal/realtime"
	"github.com/soulline/backend/internal/services"
	"github.com/soulline/backend/internal/utils"
)

type SessionHandler struct {
	sessions services.SessionService
	messages services.MessageService
	hub      *realtime.Hub
}

func NewSessionHandler(sessions services.SessionService, messages services.MessageService, hub *realtime.Hub) *SessionHandler {
	return &SessionHandler{sessions: sessions, messages: messages, hub: hub}
}

type SessionResponse struct {
	RequestID      string `json:"request_id"`
	RoomName       string `json:"room_name"`
	Mode           string `json:"mode"`
	Kind           string `json:"kind"`
	PricePerMinute int64  `json:"price_per_minute"`
	Status         string `json:"status"`
	StartedAt      string `json:"started_at,omitempty"`
	EndedAt        string `json:"ended_at,omitempty"`
}

func sessionResponse(s *models.Session) SessionResponse {
	out := SessionResponse{
		RequestID:      s.RequestID,
		RoomName:       s.RoomName,
		Mode:           string(s.Mode),
		Kind:           string(s.Kind),
		PricePerMinute: s.PricePerMinute,
		Status:         string(s.Status),
	}
	if s.StartedAt != nil {
		out.StartedAt = s.StartedAt.UTC().Format(time.RFC3339)
	}
	if s.EndedAt != nil {
		out.EndedAt = s.EndedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// authorize loads the session and checks the caller is a party or admin.
func (h *SessionHandler) authorize(c *gin.Context, op string) (*models.Session, bool) {
	userID, ok := requireUserID(c)
	if !ok {
		return nil, false
	}

	sess, err := h.sessions.GetByRequestID(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}

	role, _ := c.Get("role")
	if !sess.IsParty(userID) && role != string(models.RoleAdmin) {
		writeError(c, utils.E(utils.CodeForbidden, op, "forbidden", nil))
		return nil, false
	}
	return sess, true
}

func (h *SessionHandler) Get(c *gin.Context) {
	sess, ok := h.authorize(c, "SessionHandler.Get")
	if !ok {
		return
	}

	// a completed instant session is permanently gone
	if sess.Status == models.StatusEnded && !sess.Reenterable(time.Now().UTC()) {
		writeError(c, utils.E(utils.CodeSessionCompleted, "SessionHandler.Get", "session already completed", nil))
		return
	}

	c.JSON(http.StatusOK, sessionResponse(sess))
}

func (h *SessionHandler) Messages(c *gin.Context) {
	sess, ok := h.authorize(c, "SessionHandler.Messages")
	if !ok {
		return
	}

	limit := 0
	if v := c.Query("limit"); v != "" {
		// ignore junk, the service clamps defaults
		limit = atoiOrZero(v)
	}

	msgs, err := h.messages.History(c.Request.Context(), sess.RequestID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *SessionHandler) UpgradeToVideo(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	sess, err := h.sessions.UpgradeToVideo(c.Request.Context(), c.Param("request_id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	// the live room applies the new rate from the next tick onward
	if err := h.hub.NotifyUpgrade(sess.RoomName, sess.PricePerMinute); err != nil {
		writeError(c, utils.E(utils.CodeInternal, "SessionHandler.UpgradeToVideo", "failed to notify live room", err))
		return
	}

	c.JSON(http.StatusOK, sessionResponse(sess))
}

type CreateSessionRequest struct {
	RequestID    string `json:"request_id" binding:"required"`
	CustomerID   string `json:"customer_id" binding:"required"`
	ConsultantID string `json:"consultant_id" binding:"required"`
	Mode         string `json:"mode" binding:"required"` // chat|voice|video
	Kind         string `json:"kind"`                    // instant|booking
	BookedStart  string `json:"booked_start,omitempty"`  // RFC3339
	BookedEnd    string `json:"booked_end,omitempty"`
}

// Create registers a session for an approved, paid request. Admin only; the
// request approval flow lives outside this service.
func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.Create", "invalid request body", err))
		return
	}

	in := services.CreateSessionInput{
		RequestID:    req.RequestID,
		CustomerID:   req.CustomerID,
		ConsultantID: req.ConsultantID,
		Mode:         models.SessionMode(req.Mode),
		Kind:         models.SessionKind(req.Kind),
	}
	if req.BookedStart != "" {
		t, err := time.Parse(time.RFC3339, req.BookedStart)
		if err != nil {
			writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.Create", "invalid booked_start", err))
			return
		}
		in.BookedStart = &t
	}
	if req.BookedEnd != "" {
		t, err := time.Parse(time.RFC3339, req.BookedEnd)
		if err != nil {
			writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.Create", "invalid booked_end", err))
			return
		}
		in.BookedEnd = &t
	}

	sess, err := h.sessions.Create(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sessionResponse(sess))
}

// ForceClose ends a live session administratively.
func (h *SessionHandler) ForceClose(c *gin.Context) {
	sess, err := h.sessions.GetByRequestID(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	live, err := h.hub.ForceClose(sess.RoomName, realtime.EndReasonForceClosed)
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, "SessionHandler.ForceClose", "failed to close room", err))
		return
	}
	if !live {
		// no live room; persist the terminal state directly
		if sess.Status == models.StatusEnded {
			writeError(c, utils.E(utils.CodeSessionCompleted, "SessionHandler.ForceClose", "session already completed", nil))
			return
		}
		if err := h.sessions.MarkEnded(c.Request.Context(), sess.RequestID, time.Now().UTC()); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func atoiOrZero(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
		if n > 1000 {
			return 1000
		}
	}
	return n
}
