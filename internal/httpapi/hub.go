package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Answer is one assistant reply pushed to live feed subscribers.
type Answer struct {
	SessionKey string    `json:"session_id"`
	Question   string    `json:"question"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

type subscriber struct {
	out chan Answer
	// done is closed by the read pump on disconnect so the write loop
	// unwinds without waiting for the next publish.
	done chan struct{}
}

// Hub fans answers out to websocket subscribers per session key. Writes are
// single-threaded per connection; a saturated subscriber drops messages
// rather than stalling the publisher.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
	log  zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subs: make(map[string]map[*subscriber]struct{}),
		log:  log.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Publish(sessionKey string, answer Answer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[sessionKey] {
		select {
		case sub.out <- answer:
		default:
			h.log.Warn().Str("session_key", sessionKey).Msg("slow answer subscriber, dropping")
		}
	}
}

func (h *Hub) subscribe(sessionKey string) *subscriber {
	sub := &subscriber{out: make(chan Answer, 16), done: make(chan struct{})}
	h.mu.Lock()
	if h.subs[sessionKey] == nil {
		h.subs[sessionKey] = make(map[*subscriber]struct{})
	}
	h.subs[sessionKey][sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sessionKey string, sub *subscriber) {
	h.mu.Lock()
	if set, ok := h.subs[sessionKey]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sessionKey)
		}
	}
	h.mu.Unlock()
}

// Subscribers reports live connection count for a session. Test helper.
func (h *Hub) Subscribers(sessionKey string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionKey])
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// Only same-origin browsers may watch a session's answers
			// unless explicitly opened up; non-browser clients omit Origin
			// and are allowed.
			if s.cfg.AllowAnyOrigin {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		},
	}
}

func (s *Server) handleAnswersWS(w http.ResponseWriter, r *http.Request) {
	sessionKey := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionKey == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}

	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.hub.subscribe(sessionKey)
	defer s.hub.unsubscribe(sessionKey, sub)

	// Reads only carry pings; the feed is one-way.
	go func() {
		defer close(sub.done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		select {
		case <-sub.done:
			return
		case answer := <-sub.out:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(answer); err != nil {
				return
			}
		}
	}
}
