package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/enrolytics/enrolytics/internal/metrics"
)

// Run lifecycle event types pushed to WebSocket subscribers.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
)

// RunEvent is one lifecycle notification.
type RunEvent struct {
	Type             string    `json:"type"`
	RunID            string    `json:"run_id,omitempty"`
	Regions          int       `json:"regions,omitempty"`
	ConsensusFlagged int       `json:"consensus_flagged,omitempty"`
	Error            string    `json:"error,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

const (
	subscriberBuffer = 16
	writeTimeout     = 10 * time.Second
)

type subscriber struct {
	ch chan RunEvent
}

// eventHub fans run events out to subscribers. Publishing never
// blocks: a subscriber whose buffer is full is dropped.
type eventHub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[*subscriber]struct{})}
}

func (h *eventHub) subscribe() *subscriber {
	sub := &subscriber{ch: make(chan RunEvent, subscriberBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// unsubscribe removes a subscriber and closes its channel. Safe to
// call more than once.
func (h *eventHub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
	h.mu.Unlock()
}

func (h *eventHub) publish(ev RunEvent) {
	h.mu.Lock()
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			delete(h.subs, sub)
			close(sub.ch)
		}
	}
	h.mu.Unlock()
}

// shutdown disconnects every subscriber.
func (h *eventHub) shutdown() {
	h.mu.Lock()
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
	h.mu.Unlock()
}

func (h *eventHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// defaultOrigins are the development front-end origins accepted when
// no allow list is configured.
var defaultOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// newUpgrader builds an upgrader accepting the configured origins. An
// empty list falls back to the development defaults, "*" accepts
// anything, and requests without an Origin header (non-browser
// clients) are always accepted.
func newUpgrader(allowed []string) websocket.Upgrader {
	if len(allowed) == 0 {
		allowed = defaultOrigins
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, a := range allowed {
				if a == "*" || strings.EqualFold(a, origin) {
					return true
				}
			}
			return false
		},
	}
}

// handleEventsWS upgrades the connection and streams run lifecycle
// events until the client disconnects or the hub drops it.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := s.hub.subscribe()
	metrics.WebSocketConnections.Inc()
	s.log.Info("websocket subscriber connected", zap.String("remote", r.RemoteAddr))

	defer func() {
		metrics.WebSocketConnections.Dec()
		s.log.Info("websocket subscriber disconnected", zap.String("remote", r.RemoteAddr))
	}()

	// Write pump. Closing the connection on exit unblocks the read
	// loop when the hub dropped this subscriber.
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer conn.Close()
		for ev := range sub.ch {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			metrics.WebSocketEventsSent.Inc()
		}
	}()

	// Read loop exists only to observe the close; payloads are ignored.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.hub.unsubscribe(sub)
	<-done
}
