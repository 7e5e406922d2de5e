package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"worldvote/shared/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newRouter(log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.GinZapLogger(log))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/state", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	return r
}

func TestGinZapLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	r := newRouter(zap.New(core))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, 0, logs.Len(), "health check paths are not logged")

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/state?x=1", nil)
	req.Header.Set("X-Request-ID", "req-42")
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	entries := logs.TakeAll()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "Request completed", entries[0].Message)
		assert.Equal(t, "/state?x=1", entries[0].ContextMap()["path"])
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	entries = logs.TakeAll()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "Server error", entries[0].Message)
	}
}
