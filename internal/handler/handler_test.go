package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CageChen/markdok/internal/docs"
	"github.com/CageChen/markdok/internal/markdown"
	"github.com/CageChen/markdok/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, *docs.Service, *WSHandler) {
	t.Helper()
	svc := docs.NewService(store.NewMemory(), markdown.NewParser(""))
	require.NoError(t, svc.EnsureRoot(context.Background()))

	ws := NewWSHandler()
	svc.OnChange(ws.OnChange)

	r := gin.New()
	Register(r, svc, ws)
	return r, svc, ws
}

func do(r http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCreateAndList(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/create-directory?path=/docs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Directory created successfully!", decode(t, w)["message"])

	w = do(r, http.MethodPost, "/api/create-file?path=/docs/a.md", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "File created successfully!", decode(t, w)["message"])

	w = do(r, http.MethodPost, "/api/create-file?path=/docs/a.md", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "File or directory with this name already exists.", decode(t, w)["error"])

	w = do(r, http.MethodGet, "/api/list", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var items []docs.Item
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, docs.Item{Name: "docs", Path: "/docs", IsDirectory: true}, items[0])

	w = do(r, http.MethodGet, "/api/list?path=/empty", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestViewRawSave(t *testing.T) {
	r, _, _ := newTestRouter(t)
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/create-file?path=/a.md", nil).Code)

	w := do(r, http.MethodPost, "/api/save", SaveRequest{Path: "/a.md", Content: "# Title\n\n## Section\n"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "File saved successfully!", decode(t, w)["message"])

	w = do(r, http.MethodGet, "/api/raw?path=/a.md", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# Title\n\n## Section\n", w.Body.String())
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/markdown"))

	w = do(r, http.MethodGet, "/api/view?path=a.md", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp FileResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "/a.md", resp.Path)
	assert.Equal(t, "Title", resp.Title)
	assert.Contains(t, resp.HTML, "<h2")
	assert.Len(t, resp.TOC, 2)
}

func TestErrorStatuses(t *testing.T) {
	r, _, _ := newTestRouter(t)
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/create-directory?path=/dir", nil).Code)

	tests := []struct {
		name   string
		method string
		target string
		body   interface{}
		status int
		msg    string
	}{
		{"view missing", http.MethodGet, "/api/view?path=/nope.md", nil, http.StatusNotFound, "File not found."},
		{"view directory", http.MethodGet, "/api/view?path=/dir", nil, http.StatusBadRequest, "Cannot render a directory."},
		{"raw directory", http.MethodGet, "/api/raw?path=/dir", nil, http.StatusBadRequest, "Cannot read a directory."},
		{"save directory", http.MethodPost, "/api/save", SaveRequest{Path: "/dir", Content: "x"}, http.StatusBadRequest, "Cannot save content to a directory."},
		{"delete root", http.MethodDelete, "/api/delete?path=/", nil, http.StatusBadRequest, "Cannot delete the root directory."},
		{"delete missing", http.MethodDelete, "/api/delete?path=/ghost", nil, http.StatusNotFound, "File or directory not found."},
		{"move root", http.MethodPost, "/api/move", MoveRequest{Source: "/", Destination: "/dir"}, http.StatusBadRequest, "Cannot move the root directory."},
		{"move missing", http.MethodPost, "/api/move", MoveRequest{Source: "/ghost", Destination: "/dir"}, http.StatusNotFound, "Source file not found."},
		{"move into itself", http.MethodPost, "/api/move", MoveRequest{Source: "/dir", Destination: "/dir/sub"}, http.StatusBadRequest, "Cannot move a directory into itself."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.msg, decode(t, w)["error"])
		})
	}
}

func TestBadBody(t *testing.T) {
	r, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/move", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMoveAndDelete(t *testing.T) {
	r, svc, _ := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, svc.CreateDirectory(ctx, "/a"))
	require.NoError(t, svc.CreateFile(ctx, "/a/x.md"))
	require.NoError(t, svc.CreateDirectory(ctx, "/b"))

	w := do(r, http.MethodPost, "/api/move", MoveRequest{Source: "/a", Destination: "/b"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Moved successfully!", decode(t, w)["message"])

	content, err := svc.Read(ctx, "/b/a/x.md")
	require.NoError(t, err)
	assert.Equal(t, docs.NewFileContent, content)

	w = do(r, http.MethodDelete, "/api/delete?path=/b", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Deleted successfully!", decode(t, w)["message"])

	_, err = svc.Read(ctx, "/b/a/x.md")
	assert.ErrorIs(t, err, docs.ErrNotFound)
}

// brokenStore fails every lookup.
type brokenStore struct {
	*store.Memory
}

func (brokenStore) Get(context.Context, string) (*store.Entry, error) {
	return nil, errors.New("connection refused")
}

func (b brokenStore) Atomic(_ context.Context, fn func(tx store.Store) error) error {
	return fn(b)
}

func TestStorageFailureIs500(t *testing.T) {
	svc := docs.NewService(brokenStore{store.NewMemory()}, markdown.NewParser(""))
	r := gin.New()
	Register(r, svc, nil)

	for _, target := range []string{"/api/raw?path=/a.md", "/api/view?path=/a.md"} {
		w := do(r, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code, target)
		assert.Equal(t, "storage failure", decode(t, w)["error"], target)
	}

	w := do(r, http.MethodDelete, "/api/delete?path=/a.md", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(docs.ErrStorageFailure))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
	assert.Equal(t, http.StatusConflict, statusFor(docs.ErrAlreadyExists))
}

func TestWebSocketChangeFeed(t *testing.T) {
	r, svc, ws := newTestRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return ws.Clients() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, svc.CreateFile(context.Background(), "/hello.md"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type    string      `json:"type"`
		Payload docs.Change `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "fileChange", msg.Type)
	assert.Equal(t, docs.Change{Op: docs.ChangeCreate, Path: "/hello.md"}, msg.Payload)

	conn.Close()
	assert.Eventually(t, func() bool { return ws.Clients() == 0 }, time.Second, 10*time.Millisecond)
}
