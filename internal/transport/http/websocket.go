package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Observers are read-only; any origin may subscribe.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// writeTimeout bounds a single send so a wedged peer fails fast instead of
// stalling its pump goroutine.
const writeTimeout = 10 * time.Second

// wsSink adapts a WebSocket connection to the fanout.Sink capability. The
// fan-out pump is the only writer, which satisfies gorilla's single-writer
// requirement.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(payload []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSink) Close() error {
	return s.conn.Close()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	id, err := s.fan.Attach(&wsSink{conn: conn})
	if err != nil {
		s.log.WithError(err).Error("observer attach failed")
		conn.Close()
		return
	}

	// Inbound frames are discarded; the read loop only notices disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.fan.Detach(id)
}
