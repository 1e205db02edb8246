package controller

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard only listens; events carry no private data.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebSocket streams balance.updated events to a dashboard until it disconnects.
//
// Server sends:
// - {"type": "balance.updated", "payload": {"id": "...", "peer_id": "...", "hostname": "...", "balance": "...", "timestamp": "..."}}
//
// Messages sent by the client are ignored.
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Warn("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	logger := c.App.Logger.With(zap.String("remote_addr", r.RemoteAddr))
	logger.Debug("WebSocket client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := c.App.Hub.Subscribe()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer recoverInto(logger, "ping ticker", cancel)
		c.sendPings(ctx, conn)
	}()
	go func() {
		defer wg.Done()
		defer recoverInto(logger, "message writer", cancel)
		writeMessages(logger, conn, sub.Send)
		// unblock the reader when the write side fails first
		cancel()
		_ = conn.Close()
	}()

	readUntilClosed(ctx, logger, conn)

	cancel()
	c.App.Hub.Unsubscribe(sub)
	_ = conn.Close()
	wg.Wait()

	logger.Debug("WebSocket client disconnected")
}

func recoverInto(logger *zap.Logger, where string, cancel context.CancelFunc) {
	if rec := recover(); rec != nil {
		logger.Error("Panic in websocket goroutine",
			zap.String("goroutine", where),
			zap.Any("panic", rec),
			zap.String("stack", string(debug.Stack())))
		cancel()
	}
}

// sendPings sends WebSocket ping frames; the client's pongs extend the read deadline.
func (c *Controller) sendPings(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				c.App.Logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// writeMessages forwards hub messages until the subscription is closed.
func writeMessages(logger *zap.Logger, conn *websocket.Conn, send <-chan []byte) {
	for msg := range send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			logger.Debug("Failed to write WebSocket message", zap.Error(err))
			return
		}
	}
}

// readUntilClosed drains client frames so control frames are processed and
// returns once the connection fails or ctx is done.
func readUntilClosed(ctx context.Context, logger *zap.Logger, conn *websocket.Conn) {
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}
