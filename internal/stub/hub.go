package stub

import (
	"net/http"
	"sync"
	"time"

	"github.com/docforge/toolkit-client/internal/events"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type session struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	// queued frames of a polling session
	queue []events.Frame
}

// hub tracks the connected push sessions, keyed by the id handed out in the handshake.
type hub struct {
	lock     sync.Mutex
	sessions map[string]*session
}

func newHub() *hub {
	return &hub{sessions: map[string]*session{}}
}

func (h *hub) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// registered before the handshake so events for a job submitted right
	// after it are not lost
	s := &session{id: uuid.NewString(), conn: conn}
	h.lock.Lock()
	h.sessions[s.id] = s
	h.lock.Unlock()

	hs, _ := events.NewFrame(events.HandshakeEventName, map[string]string{"sid": s.id})
	if err := s.write(hs); err != nil {
		h.remove(s.id)
		return
	}
	zap.S().Named("stub").Debugw("websocket session opened", "sid", s.id)

	go func() {
		// the client never sends anything; reading detects the close
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		h.remove(s.id)
	}()
}

func (h *hub) openPolling() string {
	s := &session{id: uuid.NewString()}
	h.lock.Lock()
	h.sessions[s.id] = s
	h.lock.Unlock()
	return s.id
}

// drain returns and forgets the frames queued for a polling session.
func (h *hub) drain(sid string) ([]events.Frame, bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	s, ok := h.sessions[sid]
	if !ok || s.conn != nil {
		return nil, false
	}
	frames := s.queue
	s.queue = nil
	if frames == nil {
		frames = []events.Frame{}
	}
	return frames, true
}

// emit sends a frame to one session. Unknown ids are ignored: the client may
// have submitted without a live channel.
func (h *hub) emit(sid string, f events.Frame) {
	h.lock.Lock()
	s, ok := h.sessions[sid]
	if ok && s.conn == nil {
		s.queue = append(s.queue, f)
	}
	h.lock.Unlock()

	if !ok || s.conn == nil {
		return
	}
	if err := s.write(f); err != nil {
		zap.S().Named("stub").Debugw("dropping session", "sid", sid, "error", err)
		h.remove(sid)
	}
}

func (h *hub) remove(sid string) {
	h.lock.Lock()
	s, ok := h.sessions[sid]
	delete(h.sessions, sid)
	h.lock.Unlock()
	if ok && s.conn != nil {
		_ = s.conn.Close()
	}
}

// dropAll closes every session, as a backend restart would.
func (h *hub) dropAll() {
	h.lock.Lock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.lock.Unlock()
	for _, id := range ids {
		h.remove(id)
	}
}

func (h *hub) ids() []string {
	h.lock.Lock()
	defer h.lock.Unlock()
	out := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		out = append(out, id)
	}
	return out
}

func (s *session) write(f events.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(f)
}
