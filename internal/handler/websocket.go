package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/CageChen/markdok/internal/docs"
	"github.com/CageChen/markdok/internal/logging"
	"github.com/CageChen/markdok/internal/metrics"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// wsClient serializes writes; a gorilla connection allows one writer at a time.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHandler pushes namespace changes to connected browsers
type WSHandler struct {
	clients *xsync.Map[uint64, *wsClient]
	nextID  atomic.Uint64
	log     *zap.Logger
}

// NewWSHandler creates a new WebSocket handler
func NewWSHandler() *WSHandler {
	return &WSHandler{
		clients: xsync.NewMap[uint64, *wsClient](),
		log:     logging.Named("ws"),
	}
}

// HandleWS handles WebSocket upgrade and connection
func (h *WSHandler) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	id := h.nextID.Add(1)
	h.clients.Store(id, &wsClient{conn: conn})
	metrics.SetWSClients(h.clients.Size())
	defer func() {
		h.removeClient(id)
		_ = conn.Close()
	}()

	// Keep connection alive; incoming messages are ignored
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Clients returns the number of connected clients.
func (h *WSHandler) Clients() int {
	return h.clients.Size()
}

// OnChange broadcasts a committed namespace change.
func (h *WSHandler) OnChange(change docs.Change) {
	h.broadcast(WSMessage{Type: "fileChange", Payload: change})
}

func (h *WSHandler) removeClient(id uint64) {
	if _, ok := h.clients.LoadAndDelete(id); ok {
		metrics.SetWSClients(h.clients.Size())
	}
}

func (h *WSHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.clients.Range(func(id uint64, client *wsClient) bool {
		if err := client.write(data); err != nil {
			h.log.Debug("dropping client", zap.Uint64("id", id), zap.Error(err))
			h.removeClient(id)
		}
		return true
	})
}
