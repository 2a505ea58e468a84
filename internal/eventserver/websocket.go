package eventserver

import (
	"compress/flate"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
)

// localUpgrader allows all origins; used in local mode where the server is
// only reachable from localhost.
var localUpgrader = websocket.Upgrader{
	CheckOrigin:       func(_ *http.Request) bool { return true },
	EnableCompression: true,
}

// saasUpgrader validates that the Origin header matches the request Host to
// prevent cross-site WebSocket hijacking in SaaS mode.
var saasUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
	EnableCompression: true,
}

// handleWebSocket upgrades the connection and registers a client with the
// hub so it receives every broadcast event for every watched repository.
// WebSocket upgrades go through the rate limiter to prevent resource
// exhaustion.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := getClientIP(r)
	if !s.rateLimiter.allow(ip) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	up := localUpgrader
	if s.mode == ModeSaaS {
		up = saasUpgrader
	}

	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	conn.EnableWriteCompression(true)
	if err := conn.SetCompressionLevel(flate.BestSpeed); err != nil {
		s.logger.Error("failed to set compression level", "err", err)
	}
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.logger.Error("failed to set read deadline", "addr", conn.RemoteAddr(), "err", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.logger.Info("websocket client connected", "addr", conn.RemoteAddr())

	c := s.notifier.h.register()
	defer s.notifier.h.unregister(c)

	done := make(chan struct{})
	go clientReadPump(conn, done)
	clientWritePump(conn, c, done)
}

// clientReadPump drains and discards client messages, only to notice a
// closed connection. The event feed is one-directional; clients never send
// commands over it, so anything read is ignored.
func clientReadPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// clientWritePump relays broadcast messages from c.send to the WebSocket
// connection, sending periodic pings to keep the connection alive and
// detect a dead peer within pongWait. Runs on the calling goroutine so
// handleWebSocket can unregister the client once it returns.
func clientWritePump(conn *websocket.Conn, c *client, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
