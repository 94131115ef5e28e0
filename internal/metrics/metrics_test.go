package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(Handler()))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	RecordOperation("list", "ok", time.Millisecond)
	RecordImport(true)
	SetEntries(3)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, `markdok_http_requests_total{method="GET",route="/ping",status="204"} 1`)
	assert.Contains(t, body, `markdok_operations_total{op="list",result="ok"}`)
	assert.Contains(t, body, `markdok_imported_entries_total{kind="directory"}`)
	assert.Contains(t, body, "markdok_entries 3")
}
