package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orbital-run/jobctl/logbus"
)

// writeWait bounds how long a write to a slow client may block before the
// connection is torn down; mirrors the teacher's writePump deadline.
const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (s *Server) logsUpgrader() websocket.Upgrader {
	u := upgrader
	u.CheckOrigin = func(r *http.Request) bool {
		if len(s.cfg.CORSOrigins) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, allowed := range s.cfg.CORSOrigins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		return false
	}
	return u
}

// handleLogsWS upgrades to a WebSocket and streams log/step events appended
// after connection time. It replays no history: a client that needs earlier
// entries reads them from the logs endpoint and deduplicates on seq.
func (s *Server) handleLogsWS(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	conn, err := s.logsUpgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", map[string]interface{}{"run_id": runID, "error": err.Error()})
		return
	}

	sub := s.bus.Subscribe(runID)
	defer sub.Close()

	done := make(chan struct{})
	go s.wsReadPump(conn, done)
	s.wsWritePump(conn, sub, done)
}

// wsReadPump only watches for client-initiated close; the protocol is
// server-to-client push only.
func (s *Server) wsReadPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) wsWritePump(conn *websocket.Conn, sub *logbus.Subscription, done chan struct{}) {
	defer conn.Close()
	for {
		select {
		case <-done:
			return
		case event, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseMessageTooBig, "backlog overflow"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			var payload interface{}
			switch {
			case event.Log != nil:
				payload = map[string]interface{}{"type": "log", "data": runLogEntryDTO(event.Log)}
			case event.Step != nil:
				payload = map[string]interface{}{"type": "step", "data": event.Step}
			}
			if err := conn.WriteJSON(payload); err != nil {
				return
			}
		}
	}
}
