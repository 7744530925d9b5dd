package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulline/backend/internal/models"
	"github.com/soulline/backend/internal/services"
	"github.com/soulline/backend/internal/utils"
)

// stubSessionService serves a single canned session.
type stubSessionService struct {
	sess *models.Session
}

func (s *stubSessionService) Create(_ context.Context, in services.CreateSessionInput) (*models.Session, error) {
	return &models.Session{
		ID:             "new-id",
		RequestID:      in.RequestID,
		RoomName:       "new-room",
		CustomerID:     in.CustomerID,
		ConsultantID:   in.ConsultantID,
		Mode:           in.Mode,
		Kind:           in.Kind,
		PricePerMinute: 10,
		Status:         models.StatusPending,
	}, nil
}

func (s *stubSessionService) GetByRequestID(_ context.Context, requestID string) (*models.Session, error) {
	if s.sess == nil || s.sess.RequestID != requestID {
		return nil, utils.E(utils.CodeNotFound, "stub", "session not found", utils.ErrNotFound)
	}
	cp := *s.sess
	return &cp, nil
}

func (s *stubSessionService) MarkActive(context.Context, string, time.Time) error { return nil }

func (s *stubSessionService) MarkEnded(context.Context, string, time.Time) error { return nil }

func (s *stubSessionService) Reopen(context.Context, string) error { return nil }

func (s *stubSessionService) UpgradeToVideo(_ context.Context, requestID, callerID string) (*models.Session, error) {
	sess, err := s.GetByRequestID(context.Background(), requestID)
	if err != nil {
		return nil, err
	}
	if callerID != sess.CustomerID {
		return nil, utils.E(utils.CodeForbidden, "stub", "only the customer may upgrade the call", nil)
	}
	sess.Mode = models.ModeVideo
	sess.PricePerMinute = 25
	return sess, nil
}

type stubMessageService struct{ history []models.ChatMessage }

func (s *stubMessageService) Append(context.Context, *models.ChatMessage) error { return nil }

func (s *stubMessageService) History(context.Context, string, int) ([]models.ChatMessage, error) {
	return s.history, nil
}

// identityWriter plants the auth context the JWT middleware would set.
func identityWriter(userID string, role models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Set("user_id", userID)
			c.Set("role", string(role))
		}
		c.Next()
	}
}

func activeSession() *models.Session {
	now := time.Now().UTC()
	return &models.Session{
		ID:             "sess-1",
		RequestID:      "req-1",
		RoomName:       "room-1",
		CustomerID:     "cust-1",
		ConsultantID:   "cons-1",
		Mode:           models.ModeVoice,
		Kind:           models.KindInstant,
		PricePerMinute: 10,
		Status:         models.StatusActive,
		StartedAt:      &now,
	}
}

func sessionRouter(svc *stubSessionService, msgs *stubMessageService, userID string, role models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewSessionHandler(svc, msgs, nil)

	r := gin.New()
	r.Use(identityWriter(userID, role))
	r.GET("/sessions/:request_id", h.Get)
	r.GET("/sessions/:request_id/messages", h.Messages)
	r.POST("/sessions", h.Create)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var out APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestSessionGet(t *testing.T) {
	testCases := []struct {
		name       string
		userID     string
		role       models.UserRole
		path       string
		mutateSess func(*models.Session)
		wantStatus int
		wantCode   utils.Code
	}{
		{
			name:       "customer reads own session",
			userID:     "cust-1",
			role:       models.RoleCustomer,
			path:       "/sessions/req-1",
			wantStatus: http.StatusOK,
		},
		{
			name:       "admin reads any session",
			userID:     "staff-1",
			role:       models.RoleAdmin,
			path:       "/sessions/req-1",
			wantStatus: http.StatusOK,
		},
		{
			name:       "stranger forbidden",
			userID:     "someone-else",
			role:       models.RoleCustomer,
			path:       "/sessions/req-1",
			wantStatus: http.StatusForbidden,
			wantCode:   utils.CodeForbidden,
		},
		{
			name:       "anonymous unauthorized",
			userID:     "",
			path:       "/sessions/req-1",
			wantStatus: http.StatusUnauthorized,
			wantCode:   utils.CodeUnauthorized,
		},
		{
			name:       "unknown session",
			userID:     "cust-1",
			role:       models.RoleCustomer,
			path:       "/sessions/req-404",
			wantStatus: http.StatusNotFound,
			wantCode:   utils.CodeNotFound,
		},
		{
			name:   "ended instant session is gone",
			userID: "cust-1",
			role:   models.RoleCustomer,
			path:   "/sessions/req-1",
			mutateSess: func(s *models.Session) {
				now := time.Now().UTC()
				s.Status = models.StatusEnded
				s.EndedAt = &now
			},
			wantStatus: http.StatusGone,
			wantCode:   utils.CodeSessionCompleted,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sess := activeSession()
			if tc.mutateSess != nil {
				tc.mutateSess(sess)
			}
			r := sessionRouter(&stubSessionService{sess: sess}, &stubMessageService{}, tc.userID, tc.role)

			w := doJSON(t, r, http.MethodGet, tc.path, nil)
			assert.Equal(t, tc.wantStatus, w.Code)
			if tc.wantCode != "" {
				assert.Equal(t, tc.wantCode, decodeError(t, w).Code)
			}
		})
	}
}

func TestSessionGetPayload(t *testing.T) {
	r := sessionRouter(&stubSessionService{sess: activeSession()}, &stubMessageService{}, "cust-1", models.RoleCustomer)

	w := doJSON(t, r, http.MethodGet, "/sessions/req-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var out SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "req-1", out.RequestID)
	assert.Equal(t, "room-1", out.RoomName)
	assert.Equal(t, "voice", out.Mode)
	assert.Equal(t, int64(10), out.PricePerMinute)
	assert.Equal(t, "active", out.Status)
	assert.NotEmpty(t, out.StartedAt)
	assert.Empty(t, out.EndedAt)
}

func TestSessionMessages(t *testing.T) {
	msgs := &stubMessageService{history: []models.ChatMessage{
		{RequestID: "req-1", SenderID: "cust-1", Message: "hello"},
		{RequestID: "req-1", SenderID: "cons-1", Message: "hi"},
	}}
	r := sessionRouter(&stubSessionService{sess: activeSession()}, msgs, "cons-1", models.RoleConsultant)

	w := doJSON(t, r, http.MethodGet, "/sessions/req-1/messages?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Messages []models.ChatMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Len(t, out.Messages, 2)
}

func TestSessionCreate(t *testing.T) {
	r := sessionRouter(&stubSessionService{}, &stubMessageService{}, "staff-1", models.RoleAdmin)

	w := doJSON(t, r, http.MethodPost, "/sessions", CreateSessionRequest{
		RequestID:    "req-9",
		CustomerID:   "cust-9",
		ConsultantID: "cons-9",
		Mode:         "voice",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var out SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "req-9", out.RequestID)
	assert.Equal(t, "pending", out.Status)
}

func TestSessionCreateValidation(t *testing.T) {
	r := sessionRouter(&stubSessionService{}, &stubMessageService{}, "staff-1", models.RoleAdmin)

	testCases := []struct {
		name string
		body any
	}{
		{name: "missing fields", body: gin.H{"request_id": "req-9"}},
		{name: "bad booked_start", body: gin.H{
			"request_id": "req-9", "customer_id": "c", "consultant_id": "k",
			"mode": "voice", "booked_start": "yesterday",
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/sessions", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestAtoiOrZero(t *testing.T) {
	assert.Equal(t, 0, atoiOrZero(""))
	assert.Equal(t, 0, atoiOrZero("abc"))
	assert.Equal(t, 0, atoiOrZero("-5"))
	assert.Equal(t, 42, atoiOrZero("42"))
	assert.Equal(t, 1000, atoiOrZero("99999"))
}
