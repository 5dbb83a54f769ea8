// WebSocket hub broadcasting positive-EV results to subscribers.
package ev

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/oddsedge/ev-engine/internal/metrics"
	"github.com/oddsedge/ev-engine/internal/model"
)

// ResultMessage is the JSON message pushed to WebSocket clients when a
// calculation finds a positive edge.
type ResultMessage struct {
	Type            string  `json:"type"` // "ev_result"
	ID              string  `json:"id"`
	OfferID         string  `json:"offer_id"`
	Participant     string  `json:"participant"`
	Market          string  `json:"market"`
	Sportsbook      string  `json:"sportsbook"`
	Side            string  `json:"side"`
	Line            float64 `json:"line"`
	American        string  `json:"american"`
	EVPercent       float64 `json:"ev_percent"`
	TrueProbability float64 `json:"true_probability"`
}

// Hub manages WebSocket connections and fans results out to every
// connected client. Broadcasts are dropped, never blocked on, so a slow
// subscriber cannot stall a calculation.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's event loop. Must be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client connected", "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case msg := <-h.broadcast:
			var dead []*websocket.Conn
			h.mu.RLock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					dead = append(dead, conn)
				}
			}
			h.mu.RUnlock()
			if len(dead) > 0 {
				h.mu.Lock()
				for _, conn := range dead {
					conn.Close()
					delete(h.clients, conn)
				}
				h.mu.Unlock()
			}
		}
	}
}

// BroadcastResult pushes one result to all clients.
func (h *Hub) BroadcastResult(offerID string, res *model.EVResult) {
	msg := ResultMessage{
		Type:            "ev_result",
		ID:              uuid.New().String(),
		OfferID:         offerID,
		Participant:     res.Participant,
		Market:          res.Market,
		Sportsbook:      res.Sportsbook,
		Side:            res.Side,
		Line:            res.Line,
		American:        res.American,
		EVPercent:       res.EVPercent,
		TrueProbability: res.TrueProbability,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full to avoid blocking the calculation path.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- conn

	// Read pump: keep the connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker keeps the connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
