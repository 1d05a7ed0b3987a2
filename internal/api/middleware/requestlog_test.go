package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(buf *bytes.Buffer) *gin.Engine {
	log := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	router := gin.New()
	router.Use(RequestID(), AccessLog(log, "/render/", "/static/"), Recovery(log))
	router.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })
	router.GET("/render/status", func(c *gin.Context) { c.String(http.StatusOK, "fragment") })
	router.GET("/boom", func(c *gin.Context) { c.String(http.StatusInternalServerError, "boom") })
	router.GET("/panic", func(c *gin.Context) { panic("handler exploded") })
	return router
}

func TestRequestIDGenerated(t *testing.T) {
	var buf bytes.Buffer
	w := httptest.NewRecorder()
	newRouter(&buf).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))

	id := w.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, w.Body.String())
}

func TestRequestIDPropagated(t *testing.T) {
	var buf bytes.Buffer
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	newRouter(&buf).ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "abc-123", line["request_id"])
	assert.Equal(t, "/ok", line["path"])
	assert.Equal(t, float64(http.StatusOK), line["status"])
	assert.Equal(t, "INFO", line["level"])
}

func TestAccessLogLevels(t *testing.T) {
	var buf bytes.Buffer
	router := newRouter(&buf)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/render/status", nil))
	assert.Empty(t, buf.String(), "quiet routes log at debug")

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &line))
	assert.Equal(t, "ERROR", line["level"])
}

func TestRecoveryLogsPanicAndRequest(t *testing.T) {
	var buf bytes.Buffer
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(RequestIDHeader, "req-7")
	w := httptest.NewRecorder()
	newRouter(&buf).ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var recovered, access map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &recovered))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &access))

	assert.Equal(t, "panic recovered", recovered["msg"])
	assert.Equal(t, "handler exploded", recovered["panic"])
	assert.Equal(t, "req-7", recovered["request_id"])
	assert.Contains(t, recovered["stack"], "runtime/debug.Stack")

	assert.Equal(t, "request", access["msg"])
	assert.Equal(t, "/panic", access["path"])
	assert.Equal(t, float64(http.StatusInternalServerError), access["status"])
	assert.Equal(t, "ERROR", access["level"])
}
