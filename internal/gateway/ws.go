package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fixmarket/pulse/internal/delivery"
	"github.com/fixmarket/pulse/internal/observability"
	"github.com/fixmarket/pulse/pkg/models"
)

const (
	wsMaxPayloadBytes = 1 << 16
	wsSendBuffer      = 64
	wsPingInterval    = 30 * time.Second
	wsPongWait        = 75 * time.Second
	wsWriteWait       = 10 * time.Second
)

// wsFrame is the inbound client frame. Clients only ever send small control
// frames; domain events arrive through the internal API.
type wsFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId,omitempty"`
	SenderID  string `json:"senderId,omitempty"`
}

// wsConn adapts one websocket to the delivery.Transport contract. Writes go
// through a bounded channel so a slow client surfaces as ErrBackpressure
// instead of blocking the registry.
type wsConn struct {
	conn   *websocket.Conn
	send   chan models.Event
	done   chan struct{}
	closed sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn: conn,
		send: make(chan models.Event, wsSendBuffer),
		done: make(chan struct{}),
	}
}

func (c *wsConn) Write(event models.Event) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	case c.send <- event:
		return nil
	default:
		return delivery.ErrBackpressure
	}
}

func (c *wsConn) Close() error {
	c.closed.Do(func() { close(c.done) })
	return c.conn.Close()
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case event := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := c.conn.WriteJSON(event); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// wsHandler upgrades authenticated requests and binds the socket into the
// registry.
type wsHandler struct {
	service  *Service
	registry *delivery.Registry
	verifier *Verifier
	logger   *observability.Logger
	upgrader websocket.Upgrader
}

func newWSHandler(service *Service, registry *delivery.Registry, verifier *Verifier, logger *observability.Logger) *wsHandler {
	return &wsHandler{
		service:  service,
		registry: registry,
		verifier: verifier,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.verifier.UserFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx := observability.AddUserID(context.Background(), userID)
	transport := newWSConn(conn)
	go transport.writePump()

	sessionID, err := h.registry.Register(ctx, userID, transport)
	if err != nil {
		h.logger.Warn(ctx, "registration failed", "error", err)
		_ = transport.Close()
		return
	}
	ctx = observability.AddSessionID(ctx, sessionID)

	h.readPump(ctx, userID, transport)
	h.registry.Unregister(ctx, userID, transport)
}

func (h *wsHandler) readPump(ctx context.Context, userID string, transport *wsConn) {
	conn := transport.conn
	conn.SetReadLimit(wsMaxPayloadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		h.registry.Touch(userID)
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.registry.Touch(userID)
		if messageType != websocket.TextMessage {
			continue
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Debug(ctx, "unreadable client frame", "error", err)
			continue
		}

		switch frame.Type {
		case "message:read":
			if frame.MessageID != "" && frame.SenderID != "" {
				h.service.MarkMessageRead(ctx, frame.SenderID, frame.MessageID)
			}
		case "ping":
			// Activity already recorded above.
		default:
			h.logger.Debug(ctx, "unknown client frame", "frame_type", frame.Type)
		}
	}
}
