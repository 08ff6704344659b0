package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"hwcast/internal/broadcast"
	"hwcast/internal/metrics"
	"hwcast/internal/models"
	"hwcast/internal/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
	readLimit  = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from other origins
	},
}

// ConnectionHandler streams snapshots from a broadcaster to websocket clients.
// Every connection gets its own subscriber and goroutines, so a stalled peer
// only ever blocks itself.
type ConnectionHandler struct {
	feed       *broadcast.Broadcaster[models.HardwareSnapshot]
	logger     *utils.Logger
	metrics    *metrics.Telemetry
	pingPeriod time.Duration
}

func NewConnectionHandler(feed *broadcast.Broadcaster[models.HardwareSnapshot], logger *utils.Logger, tm *metrics.Telemetry) *ConnectionHandler {
	return &ConnectionHandler{
		feed:       feed,
		logger:     logger.With("ws"),
		metrics:    tm,
		pingPeriod: pingPeriod,
	}
}

// HandleWebSocket upgrades the request and serves it until the peer leaves or
// the feed closes. A failed handshake only affects this request.
func (h *ConnectionHandler) HandleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.metrics.ObserveConnection(metrics.ConnRejected)
			h.logger.Warnf("WebSocket upgrade error from %s: %v", c.ClientIP(), err)
			return
		}
		h.metrics.ObserveConnection(metrics.ConnAccepted)
		h.Serve(c.Request.Context(), conn, c.ClientIP())
	}
}

// Serve forwards each received snapshot as one JSON text frame. It returns
// when a write fails, the peer goes away, ctx ends or the feed closes; none of
// these is reported as an error.
func (h *ConnectionHandler) Serve(ctx context.Context, conn *websocket.Conn, remote string) {
	sub := h.feed.Subscribe()
	h.metrics.ConnectionOpened()
	h.logger.Infof("WebSocket client connected: %s", remote)

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		sub.Close()
		conn.Close()
		h.metrics.ConnectionClosed()
		h.logger.Infof("WebSocket client disconnected: %s", remote)
	}()

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go h.readPump(conn, cancel)
	go h.pingPump(ctx, conn)

	for {
		snap, seq, err := sub.Receive(ctx)
		if errors.Is(err, broadcast.ErrClosed) {
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
		if err != nil {
			return
		}

		payload, err := json.Marshal(snap)
		if err != nil {
			h.logger.Errorf("encode snapshot #%d: %v", seq, err)
			continue
		}
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			h.logger.Debugf("WebSocket set write deadline error: %v", err)
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Debugf("WebSocket write error for %s: %v", remote, err)
			return
		}
	}
}

// readPump discards inbound frames; its only job is noticing the peer leave
// and servicing pongs and close frames.
func (h *ConnectionHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived, websocket.CloseNormalClosure) {
				h.logger.Debugf("WebSocket error: %v", err)
			}
			return
		}
	}
}

func (h *ConnectionHandler) pingPump(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.logger.Debugf("WebSocket ping error: %v", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
