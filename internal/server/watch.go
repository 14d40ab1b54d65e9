package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/docingest/internal/service"
)

const watchWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleQueueWatch streams queue stats over a websocket. A message is sent
// on connect and whenever the counts change, until the client goes away.
func (s *Server) handleQueueWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// The read loop only notices the client closing the connection.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.WatchInterval)
	defer ticker.Stop()

	var last *service.QueueStats
	for {
		stats, err := s.api.QueueStats(r.Context())
		if err != nil {
			s.logger.Error("queue watch failed", "error", err)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()),
				time.Now().Add(watchWriteTimeout))
			return
		}
		if last == nil || *last != stats {
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
			if err := conn.WriteJSON(stats); err != nil {
				return
			}
			last = &stats
		}

		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
