package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loggerRouter(buf *bytes.Buffer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	l := logrus.New()
	l.SetOutput(buf)
	l.SetFormatter(&logrus.JSONFormatter{})

	r := gin.New()
	r.Use(RequestLogger(l))
	r.GET("/sessions/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	})
	return r
}

func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestRequestLoggerAssignsRequestID(t *testing.T) {
	var buf bytes.Buffer
	r := loggerRouter(&buf)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/abc", nil))

	reqID := w.Header().Get("X-Request-Id")
	assert.NotEmpty(t, reqID)

	entry := lastLogLine(t, &buf)
	assert.Equal(t, reqID, entry["request_id"])
	assert.Equal(t, "/sessions/:id", entry["path"])
	assert.Equal(t, float64(http.StatusOK), entry["status"])
	assert.Positive(t, entry["bytes"])
}

func TestRequestLoggerEchoesCallerRequestID(t *testing.T) {
	var buf bytes.Buffer
	r := loggerRouter(&buf)

	req := httptest.NewRequest(http.MethodGet, "/sessions/abc", nil)
	req.Header.Set("X-Request-Id", "caller-supplied")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "caller-supplied", w.Header().Get("X-Request-Id"))
	assert.Equal(t, "caller-supplied", lastLogLine(t, &buf)["request_id"])
}

func TestRequestLoggerFallsBackToRawPath(t *testing.T) {
	var buf bytes.Buffer
	r := loggerRouter(&buf)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/no/such/route", nil))

	entry := lastLogLine(t, &buf)
	assert.Equal(t, "/no/such/route", entry["path"])
	assert.Equal(t, float64(http.StatusNotFound), entry["status"])
	assert.Equal(t, "warning", entry["level"])
}
