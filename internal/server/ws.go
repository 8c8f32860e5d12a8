package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"sonyctl/internal/dispatch"
)

const (
	clientBuffer = 16
	writeTimeout = 5 * time.Second
)

type wsClient struct {
	send chan []byte
}

// Hub fans dispatch outcomes out to every connected websocket client
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	logger  zerolog.Logger
}

// NewHub creates an empty hub
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		logger:  log,
	}
}

// Broadcast queues o for every client. Clients that are not keeping up miss
// the message instead of stalling the dispatcher.
func (h *Hub) Broadcast(o dispatch.Outcome) {
	msg, err := json.Marshal(o)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode outcome")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn().Msg("Dropped status update for slow websocket client")
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams outcomes until the client leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // allow any origin
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	client := &wsClient{send: make(chan []byte, clientBuffer)}
	h.register(client)
	defer h.unregister(client)

	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("Websocket client connected")

	// incoming messages are ignored; the context ends when the peer closes
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug().Str("remote", r.RemoteAddr).Msg("Websocket client disconnected")
			return
		case msg := <-client.send:
			if err := write(ctx, conn, msg); err != nil {
				h.logger.Debug().Err(err).Msg("Websocket write failed")
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}
