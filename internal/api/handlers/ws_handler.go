package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/soulline/backend/config"
	"github.com/soulline/backend/internal/realtime"
	"github.com/soulline/backend/internal/utils"
)

// WSHandler is the connection gateway: it upgrades the socket, demands a
// join_session frame carrying the bearer token, authorizes the identity
// against the session's parties and binds the connection to the room. Any
// disconnect, graceful or abrupt, releases presence.
type WSHandler struct {
	hub      *realtime.Hub
	verifier realtime.TokenVerifier
	cfg      *config.EngineConfig
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(hub *realtime.Hub, verifier realtime.TokenVerifier, cfg *config.EngineConfig, log *logrus.Logger) *WSHandler {
	return &WSHandler{
		hub:      hub,
		verifier: verifier,
		cfg:      cfg,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return cfg.OriginAllowed(r.Header.Get("Origin"))
			},
		},
	}
}

func (h *WSHandler) Session(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	// the first frame must be join_session, inside the join deadline
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.JoinDeadline))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}

	var frame realtime.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != realtime.EvtJoinSession {
		h.reject(conn, realtime.ErrCodeInvalid, "expected join_session")
		return
	}
	if frame.RequestID == "" {
		h.reject(conn, realtime.ErrCodeInvalid, "requestId is required")
		return
	}

	id, err := h.verifier.Verify(frame.Token)
	if err != nil {
		h.reject(conn, realtime.ErrCodeUnauthorized, "invalid or expired token")
		return
	}

	client := realtime.NewWSClient(id, conn, h.cfg.SendBuffer, h.cfg.WriteTimeout)

	room, err := h.hub.Join(c.Request.Context(), frame.RequestID, id, client)
	if err != nil {
		h.reject(conn, wsErrorCode(err), "join rejected")
		// the client owns a writer goroutine; release it along with the socket
		client.Kick("join rejected")
		return
	}

	h.log.WithFields(logrus.Fields{
		"user_id":    id.UserID,
		"request_id": frame.RequestID,
	}).Info("client joined session")

	// presence is released on every exit path
	defer func() {
		room.Detach(client)
		client.Kick("connection closed")
	}()

	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, rerr := conn.ReadMessage()
		if rerr != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

		var f realtime.ClientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			client.Send(realtime.ServerEvent{
				Type: realtime.EvtError, Code: realtime.ErrCodeInvalid, Message: "invalid json",
			})
			continue
		}

		if f.Type == realtime.EvtLeaveSession {
			return
		}
		room.Dispatch(client, f)
	}
}

// reject writes one error frame straight on the raw connection and lets the
// deferred close tear it down.
func (h *WSHandler) reject(conn *websocket.Conn, code, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteJSON(realtime.ServerEvent{Type: realtime.EvtError, Code: code, Message: message})
}

func wsErrorCode(err error) string {
	var ae *utils.AppError
	if errors.As(err, &ae) {
		switch ae.Code {
		case utils.CodeUnauthorized:
			return realtime.ErrCodeUnauthorized
		case utils.CodeForbidden:
			return realtime.ErrCodeForbidden
		case utils.CodeSessionCompleted:
			return realtime.ErrCodeSessionCompleted
		case utils.CodeNotFound:
			return realtime.ErrCodeInvalid
		}
	}
	return realtime.ErrCodeUnavailable
}
