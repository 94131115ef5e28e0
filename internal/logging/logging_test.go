package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestL_BeforeInit(t *testing.T) {
	assert.NotNil(t, L())
	assert.NotNil(t, Named("test"))
}

func TestInit(t *testing.T) {
	require.NoError(t, Init(Config{Level: "debug", Format: "json"}))
	assert.True(t, L().Core().Enabled(-1))

	// unknown levels fall back to info
	require.NoError(t, Init(Config{Level: "loud", Format: "console"}))
	assert.False(t, L().Core().Enabled(-1))
}

func TestMiddleware_RequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())

	var sawLogger bool
	r.GET("/ping", func(c *gin.Context) {
		sawLogger = FromGin(c) != nil
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.True(t, sawLogger)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}
