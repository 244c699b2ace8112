package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxMessageSize = 4096

// handleSnapshotStream pushes every snapshot to the client, starting with
// the latest one. Client messages are ignored apart from control frames.
func (s *Server) handleSnapshotStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.ex.Subscribe()
	defer s.ex.Unsubscribe(sub)

	readDone := make(chan struct{})
	go s.readPump(conn, readDone)

	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-sub.C():
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "exchange closed"))
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				s.logger.Debug("snapshot write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closed:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-readDone:
			return
		}
	}
}

// readPump drains the connection so pongs and close frames are processed.
func (s *Server) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
