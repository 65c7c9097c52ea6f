package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/handtrack/internal/hand"
	"github.com/ayusman/handtrack/internal/tracker"
)

const writeWait = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// handMessage is the JSON sent to WebSocket clients for every cycle.
type handMessage struct {
	Cycle     uint64         `json:"cycle"`
	Timestamp int64          `json:"timestamp"`
	Hand      *hand.Position `json:"hand"`
	Static    bool           `json:"static,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// HandHub broadcasts every tracker result to connected WebSocket clients.
// It is a tracker.Reporter.
type HandHub struct {
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewHandHub creates an empty hub.
func NewHandHub(logger *slog.Logger) *HandHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &HandHub{
		clients: make(map[*websocket.Conn]bool),
		logger:  logger,
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *HandHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", "err", err)
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Clients returns the number of connected clients.
func (h *HandHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Report sends the result to all clients. Clients whose write fails are
// closed; their read loop then unregisters them.
func (h *HandHub) Report(r tracker.Result) {
	h.mu.RLock()
	if len(h.clients) == 0 {
		h.mu.RUnlock()
		return
	}
	h.mu.RUnlock()

	msg := handMessage{
		Cycle:     r.Cycle,
		Timestamp: r.Time.UnixMilli(),
		Hand:      r.Hand,
		Static:    r.Static,
	}
	if r.Err != nil && !tracker.IsKind(r.Err, tracker.NoHandDetected) {
		msg.Error = r.Err.Error()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("dropping websocket client", "remote", conn.RemoteAddr().String(), "err", err)
			conn.Close()
		}
	}
}
