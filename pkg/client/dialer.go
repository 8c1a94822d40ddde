package client

import (
	"context"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fixmarket/pulse/pkg/models"
)

func defaultRand() float64 { return rand.Float64() }

const (
	dialTimeout  = 10 * time.Second
	probeTimeout = 5 * time.Second
)

// WebSocketDial returns a DialFunc that attaches to the engine's websocket
// endpoint with the given bearer token.
func WebSocketDial(url, token string) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
		header := http.Header{}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
		conn, resp, err := dialer.DialContext(ctx, url, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return &wsClientConn{conn: conn}, nil
	}
}

// wsClientConn adapts a gorilla websocket to the controller's Conn.
type wsClientConn struct {
	conn *websocket.Conn
}

func (c *wsClientConn) ReadEvent() (models.Event, error) {
	var event models.Event
	if err := c.conn.ReadJSON(&event); err != nil {
		return models.Event{}, err
	}
	return event, nil
}

// Ping writes a control frame; the server's pong resets its idle clock, and a
// write failure means the transport is dead.
func (c *wsClientConn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(probeTimeout))
}

func (c *wsClientConn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(probeTimeout))
	return c.conn.Close()
}
