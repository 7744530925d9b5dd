package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulline/backend/config"
	"github.com/soulline/backend/internal/models"
	"github.com/soulline/backend/internal/queue"
	"github.com/soulline/backend/internal/realtime"
	"github.com/soulline/backend/internal/utils"
)

type wsSessions struct{ sess models.Session }

func (s *wsSessions) GetByRequestID(_ context.Context, requestID string) (*models.Session, error) {
	if requestID != s.sess.RequestID {
		return nil, utils.E(utils.CodeNotFound, "wsSessions.GetByRequestID", "session not found", utils.ErrNotFound)
	}
	cp := s.sess
	return &cp, nil
}

func (s *wsSessions) MarkActive(context.Context, string, time.Time) error { return nil }
func (s *wsSessions) MarkEnded(context.Context, string, time.Time) error  { return nil }
func (s *wsSessions) Reopen(context.Context, string) error                { return nil }

type wsLedger struct{}

func (wsLedger) Debit(context.Context, string, int64, string, string, string) (int64, error) {
	return 0, nil
}
func (wsLedger) Credit(context.Context, string, int64, string, string, string) (int64, error) {
	return 0, nil
}
func (wsLedger) Balance(context.Context, string) (int64, error) { return 1000, nil }

type wsMessages struct{}

func (wsMessages) Append(context.Context, *models.ChatMessage) error { return nil }

type wsDeduper struct{}

func (wsDeduper) Duplicate(context.Context, string, string, string) (bool, error) {
	return false, nil
}

// tokenMap verifies tokens by lookup instead of signature.
type tokenMap map[string]realtime.Identity

func (m tokenMap) Verify(raw string) (realtime.Identity, error) {
	if id, ok := m[raw]; ok {
		return id, nil
	}
	return realtime.Identity{}, utils.E(utils.CodeUnauthorized, "tokenMap.Verify", "invalid token", nil)
}

func wsTestServer(t *testing.T) (wsURL string, hub *realtime.Hub) {
	return wsTestServerCfg(t, nil)
}

func wsTestServerCfg(t *testing.T, tweak func(*config.EngineConfig)) (wsURL string, hub *realtime.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := &config.EngineConfig{
		TickPeriod:        time.Minute,
		CommissionPercent: 20,
		PresenceGrace:     time.Second,
		DedupWindow:       time.Second,
		JoinDeadline:      time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      time.Second,
		SendBuffer:        32,
		MaxMessageLen:     200,
	}
	if tweak != nil {
		tweak(cfg)
	}
	sessions := &wsSessions{sess: models.Session{
		ID:             "sess-1",
		RequestID:      "req-1",
		RoomName:       "room-1",
		CustomerID:     "cust-1",
		ConsultantID:   "cons-1",
		Mode:           models.ModeVoice,
		Kind:           models.KindInstant,
		PricePerMinute: 10,
		Status:         models.StatusPending,
	}}
	hub = realtime.NewHub(cfg, realtime.Deps{
		Ledger:   wsLedger{},
		Sessions: sessions,
		Messages: wsMessages{},
		Dedup:    wsDeduper{},
		Events:   queue.NopPublisher{},
		Log:      log,
	})

	verifier := tokenMap{
		"tok-customer":   {UserID: "cust-1", Role: models.RoleCustomer},
		"tok-consultant": {UserID: "cons-1", Role: models.RoleConsultant},
		"tok-stranger":   {UserID: "someone-else", Role: models.RoleCustomer},
	}

	r := gin.New()
	r.GET("/ws", NewWSHandler(hub, verifier, cfg, log).Session)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		hub.Shutdown(ctx)
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", hub
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, f realtime.ClientFrame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(f))
}

func readEvent(t *testing.T, conn *websocket.Conn) realtime.ServerEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev realtime.ServerEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

// waitFor reads events until one of the wanted type arrives.
func waitFor(t *testing.T, conn *websocket.Conn, typ string) realtime.ServerEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev := readEvent(t, conn)
		if ev.Type == typ {
			return ev
		}
	}
	t.Fatalf("no %s event received", typ)
	return realtime.ServerEvent{}
}

func TestWSJoinAndChat(t *testing.T) {
	url, _ := wsTestServer(t)

	customer := dialWS(t, url)
	sendFrame(t, customer, realtime.ClientFrame{
		Type: realtime.EvtJoinSession, Token: "tok-customer", RequestID: "req-1",
	})
	ev := waitFor(t, customer, realtime.EvtPresence)
	require.NotNil(t, ev.Count)
	assert.Equal(t, 1, *ev.Count)

	consultant := dialWS(t, url)
	sendFrame(t, consultant, realtime.ClientFrame{
		Type: realtime.EvtJoinSession, Token: "tok-consultant", RequestID: "req-1",
	})
	waitFor(t, consultant, realtime.EvtPresence)

	sendFrame(t, consultant, realtime.ClientFrame{
		Type: realtime.EvtChatMessage, Message: "hello from the consultant",
	})

	chat := waitFor(t, customer, realtime.EvtChatMessage)
	assert.Equal(t, "cons-1", chat.SenderID)
	assert.Equal(t, "hello from the consultant", chat.Message)
	assert.NotEmpty(t, chat.CreatedAt)
}

func TestWSLeaveReleasesPresence(t *testing.T) {
	url, _ := wsTestServer(t)

	customer := dialWS(t, url)
	sendFrame(t, customer, realtime.ClientFrame{
		Type: realtime.EvtJoinSession, Token: "tok-customer", RequestID: "req-1",
	})
	waitFor(t, customer, realtime.EvtPresence)

	consultant := dialWS(t, url)
	sendFrame(t, consultant, realtime.ClientFrame{
		Type: realtime.EvtJoinSession, Token: "tok-consultant", RequestID: "req-1",
	})
	waitFor(t, consultant, realtime.EvtPresence)

	sendFrame(t, consultant, realtime.ClientFrame{Type: realtime.EvtLeaveSession})

	// the remaining side observes the drop back to one
	for {
		ev := waitFor(t, customer, realtime.EvtPresence)
		require.NotNil(t, ev.Count)
		if *ev.Count == 1 {
			return
		}
	}
}

func TestWSRejections(t *testing.T) {
	testCases := []struct {
		name     string
		frame    realtime.ClientFrame
		wantCode string
	}{
		{
			name:     "first frame not join_session",
			frame:    realtime.ClientFrame{Type: realtime.EvtChatMessage, Message: "hi"},
			wantCode: realtime.ErrCodeInvalid,
		},
		{
			name:     "missing request id",
			frame:    realtime.ClientFrame{Type: realtime.EvtJoinSession, Token: "tok-customer"},
			wantCode: realtime.ErrCodeInvalid,
		},
		{
			name:     "bad token",
			frame:    realtime.ClientFrame{Type: realtime.EvtJoinSession, Token: "tok-bogus", RequestID: "req-1"},
			wantCode: realtime.ErrCodeUnauthorized,
		},
		{
			name:     "stranger",
			frame:    realtime.ClientFrame{Type: realtime.EvtJoinSession, Token: "tok-stranger", RequestID: "req-1"},
			wantCode: realtime.ErrCodeForbidden,
		},
		{
			name:     "unknown session",
			frame:    realtime.ClientFrame{Type: realtime.EvtJoinSession, Token: "tok-customer", RequestID: "req-404"},
			wantCode: realtime.ErrCodeInvalid,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			url, _ := wsTestServer(t)
			conn := dialWS(t, url)

			sendFrame(t, conn, tc.frame)

			ev := readEvent(t, conn)
			assert.Equal(t, realtime.EvtError, ev.Type)
			assert.Equal(t, tc.wantCode, ev.Code)
		})
	}
}

func TestWSRejectedJoinReleasesWriter(t *testing.T) {
	url, _ := wsTestServer(t)

	before := runtime.NumGoroutine()
	for i := 0; i < 10; i++ {
		conn := dialWS(t, url)
		sendFrame(t, conn, realtime.ClientFrame{
			Type: realtime.EvtJoinSession, Token: "tok-stranger", RequestID: "req-1",
		})
		ev := readEvent(t, conn)
		assert.Equal(t, realtime.ErrCodeForbidden, ev.Code)
		conn.Close()
	}

	// every rejected join must tear down the per-connection writer
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, 2*time.Second, 20*time.Millisecond, "writer goroutines left running after rejected joins")
}

func TestWSUpgradeChecksOrigin(t *testing.T) {
	url, _ := wsTestServerCfg(t, func(c *config.EngineConfig) {
		c.AllowedOrigins = []string{"https://app.soulline.io"}
	})

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://app.soulline.io"}})
	require.NoError(t, err)
	conn.Close()
}
