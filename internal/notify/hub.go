package notify

import (
	"log/slog"
	"sync"

	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
)

// Conn is the slice of a websocket connection the hub needs. Satisfied by
// *websocket.Conn.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Session is one rider's connected subscription socket. Writes are
// serialized through the mutex because gorilla/websocket allows only one
// concurrent writer.
type Session struct {
	conn Conn
	mu   sync.Mutex
}

func (s *Session) Send(req *models.RideRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(req)
}

// Hub tracks connected rider sessions keyed by rider identity. A rider can
// hold several sessions (two browser tabs); updates go to all of them.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{sessions: make(map[string]map[*Session]struct{}), logger: logger}
}

func (h *Hub) Add(riderID string, conn Conn) *Session {
	s := &Session{conn: conn}
	h.mu.Lock()
	if h.sessions[riderID] == nil {
		h.sessions[riderID] = make(map[*Session]struct{})
	}
	h.sessions[riderID][s] = struct{}{}
	h.mu.Unlock()
	observability.RiderSessionsActive.Inc()
	return s
}

func (h *Hub) Remove(riderID string, s *Session) {
	h.mu.Lock()
	if m, ok := h.sessions[riderID]; ok {
		if _, ok := m[s]; ok {
			delete(m, s)
			observability.RiderSessionsActive.Dec()
		}
		if len(m) == 0 {
			delete(h.sessions, riderID)
		}
	}
	h.mu.Unlock()
	_ = s.conn.Close()
}

// Deliver pushes a record snapshot to every session of the rider. Failed
// sends are logged and left for the session's read loop to reap.
func (h *Hub) Deliver(riderID string, req *models.RideRequest) {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions[riderID]))
	for s := range h.sessions[riderID] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		if err := s.Send(req); err != nil && h.logger != nil {
			h.logger.Warn("rider session send failed", "rider_id", riderID, "error", err)
		}
	}
}
