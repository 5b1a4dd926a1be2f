package ws

import (
	"context"
	"errors"
	nethttp "net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dragons-keep/server"
	"dragons-keep/server/internal/telemetry"
	"dragons-keep/server/logging"
)

const (
	// DefaultWriteWait bounds a single frame write.
	DefaultWriteWait = 10 * time.Second
	// DefaultPongWait is how long a connection may stay silent before it is dropped.
	DefaultPongWait = 60 * time.Second

	maxMessageBytes = 64 << 10
)

// HandlerConfig wires the relay's collaborators and transport timings.
type HandlerConfig struct {
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
	WriteWait time.Duration
	PongWait  time.Duration
	Clock     func() time.Time
}

// Handler upgrades HTTP requests to relay sessions.
type Handler struct {
	hub       *server.Hub
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	publisher logging.Publisher
	writeWait time.Duration
	pongWait  time.Duration
	now       func() time.Time
	upgrader  websocket.Upgrader
}

// NewHandler constructs a relay handler for the given hub.
func NewHandler(hub *server.Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	writeWait := cfg.WriteWait
	if writeWait <= 0 {
		writeWait = DefaultWriteWait
	}
	pongWait := cfg.PongWait
	if pongWait <= 0 {
		pongWait = DefaultPongWait
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Handler{
		hub:       hub,
		logger:    logger,
		metrics:   metrics,
		publisher: publisher,
		writeWait: writeWait,
		pongWait:  pongWait,
		now:       now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
	}
}

// Handle upgrades the request and runs the session until the client goes away.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	// Room mutations outlive the request so a dropped client never aborts one.
	ctx := context.WithoutCancel(r.Context())
	connID := uuid.NewString()
	sub := h.hub.Register(ctx, connID)
	sess := newSession(h, conn, sub)

	go h.writePump(conn, sub)
	sess.run(ctx)
}

// writePump is the only writer on conn. It drains the subscriber queue and
// keeps the connection alive with pings.
func (h *Handler) writePump(conn *websocket.Conn, sub *server.Subscriber) {
	ticker := time.NewTicker(h.pingPeriod())
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame := <-sub.Outbound():
			conn.SetWriteDeadline(h.now().Add(h.writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Printf("write to %s failed: %v", sub.ID(), err)
				sub.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(h.now().Add(h.writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sub.Close()
				return
			}
		case <-sub.Done():
			h.flush(conn, sub)
			conn.SetWriteDeadline(h.now().Add(h.writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes frames that were queued before the subscriber closed.
func (h *Handler) flush(conn *websocket.Conn, sub *server.Subscriber) {
	for {
		select {
		case frame := <-sub.Outbound():
			conn.SetWriteDeadline(h.now().Add(h.writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (h *Handler) pingPeriod() time.Duration {
	return h.pongWait * 9 / 10
}

func isExpectedClose(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway || closeErr.Code == websocket.CloseNoStatusReceived
	}
	return false
}
