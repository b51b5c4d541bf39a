package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SSEEvent represents a server-sent event
type SSEEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const clientBuffer = 64

// SSEHub fans events out to SSE and websocket clients. Slow clients are
// dropped rather than blocking the batch.
type SSEHub struct {
	clients map[chan SSEEvent]bool
	mu      sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// NewSSEHub creates a new SSE hub
func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients: make(map[chan SSEEvent]bool),
		done:    make(chan struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every client
func (h *SSEHub) Run(ctx context.Context) {
	<-ctx.Done()
	h.once.Do(func() { close(h.done) })
	h.mu.Lock()
	for client := range h.clients {
		close(client)
		delete(h.clients, client)
	}
	h.mu.Unlock()
}

func (h *SSEHub) register() chan SSEEvent {
	client := make(chan SSEEvent, clientBuffer)
	h.mu.Lock()
	select {
	case <-h.done:
		close(client)
	default:
		h.clients[client] = true
	}
	h.mu.Unlock()
	return client
}

func (h *SSEHub) unregister(client chan SSEEvent) {
	h.mu.Lock()
	if h.clients[client] {
		delete(h.clients, client)
		close(client)
	}
	h.mu.Unlock()
}

// Broadcast sends an event to all clients without blocking
func (h *SSEHub) Broadcast(event SSEEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client <- event:
		default:
			close(client)
			delete(h.clients, client)
		}
	}
}

// Clients returns the number of connected clients
func (h *SSEHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		client := s.sseHub.register()
		defer s.sseHub.unregister(client)

		// current state first so late clients are not blank
		writeSSE(w, SSEEvent{Type: "status", Data: s.live.Status()})
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case event, ok := <-client:
				if !ok {
					return
				}
				writeSSE(w, event)
				flusher.Flush()
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event SSEEvent) {
	data, _ := json.Marshal(event)
	fmt.Fprintf(w, "event: %s\n", event.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// wsHandler streams the same events as /api/events over a websocket.
// Clients may send {"type":"abort"} to cancel the batch.
func (s *Server) wsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		client := s.sseHub.register()
		defer s.sseHub.unregister(client)

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				_, message, err := conn.ReadMessage()
				if err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						s.log.Debug("websocket read error", "error", err)
					}
					return
				}
				var cmd struct {
					Type string `json:"type"`
				}
				if json.Unmarshal(message, &cmd) == nil && cmd.Type == "abort" {
					s.live.Abort()
				}
			}
		}()

		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()

		send := func(event SSEEvent) error {
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			return conn.WriteJSON(event)
		}
		if err := send(SSEEvent{Type: "status", Data: s.live.Status()}); err != nil {
			return
		}

		for {
			select {
			case <-closed:
				return
			case event, ok := <-client:
				if !ok {
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
					return
				}
				if err := send(event); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
