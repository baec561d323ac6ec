package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"genie/internal/async"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
	streamPongWait   = 60 * time.Second
	streamReadLimit  = 512
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is handled at the middleware layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStream upgrades the connection and relays pipeline progress
// events until the client disconnects. An optional user_id query
// parameter filters the feed.
func (s *Server) handleStream(c *gin.Context) {
	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := s.deps.Hub.Subscribe(c.Query("user_id"))
	defer s.deps.Hub.Unsubscribe(sub)

	// The reader exists only to notice the close handshake and pongs.
	done := make(chan struct{})
	async.Go(s.logger, "stream-reader", func() {
		defer close(done)
		conn.SetReadLimit(streamReadLimit)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case ev := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
