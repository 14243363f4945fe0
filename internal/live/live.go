// Package live streams store changes and persistence failures to
// connected browsers over a websocket.
package live

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kidandcat/teamsync/internal/auth"
	"github.com/kidandcat/teamsync/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = pingPeriod * 2
)

// Message is one frame sent to a client.
type Message struct {
	Type string `json:"type"` // "change" or "error"
	*store.Event
	Error string `json:"error,omitempty"`
}

type Hub struct {
	store    *store.Store
	auth     *auth.Manager
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[chan Message]struct{}
}

func NewHub(s *store.Store, am *auth.Manager, log zerolog.Logger) *Hub {
	return &Hub{
		store:   s,
		auth:    am,
		log:     log.With().Str("component", "live").Logger(),
		clients: make(map[chan Message]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Start fans store changes and persistence errors out to every client
// until ctx ends. The hub becomes the only reader of the store's error
// channel.
func (h *Hub) Start(ctx context.Context) {
	events, unsubscribe := h.store.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				h.broadcast(Message{Type: "change", Event: &e})
			case err := <-h.store.Errors():
				h.broadcast(Message{Type: "error", Error: err.Error()})
			}
		}
	}()
}

func (h *Hub) broadcast(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- m:
		default:
		}
	}
}

func (h *Hub) join() chan Message {
	ch := make(chan Message, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) leave(ch chan Message) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// ServeHTTP upgrades an authenticated request and writes messages until
// the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := h.auth.CurrentUser(r)
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := h.join()
	defer h.leave(ch)
	h.log.Debug().Str("user", user.ID).Msg("live client connected")

	// the read loop only exists to notice the client going away
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case m := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
