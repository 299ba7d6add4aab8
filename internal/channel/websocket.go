package channel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketOptions tunes the websocket transport.
type WebsocketOptions struct {
	HandshakeTimeout time.Duration // dial + upgrade
	WriteTimeout     time.Duration // per frame
	PongWait         time.Duration // read deadline, extended on every pong
	PingInterval     time.Duration // must be shorter than PongWait
	ReadLimit        int64         // max inbound frame size in bytes, 0 for no limit
}

// DefaultWebsocketOptions returns the options used when none are given.
func DefaultWebsocketOptions() *WebsocketOptions {
	return &WebsocketOptions{
		HandshakeTimeout: 30 * time.Second,
		WriteTimeout:     10 * time.Second,
		PongWait:         60 * time.Second,
		PingInterval:     54 * time.Second,
		ReadLimit:        4 << 20,
	}
}

// WebsocketDialer is the production Dialer backed by gorilla/websocket.
type WebsocketDialer struct {
	dialer  *websocket.Dialer
	options *WebsocketOptions
}

// NewWebsocketDialer creates a dialer; nil options selects the defaults.
func NewWebsocketDialer(options *WebsocketOptions) *WebsocketDialer {
	if options == nil {
		options = DefaultWebsocketOptions()
	}
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: options.HandshakeTimeout,
		},
		options: options,
	}
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("websocket dial failed: %w", ErrUnauthorized)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	if d.options.ReadLimit > 0 {
		conn.SetReadLimit(d.options.ReadLimit)
	}
	_ = conn.SetReadDeadline(time.Now().Add(d.options.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(d.options.PongWait))
	})

	wc := &wsConn{conn: conn, options: d.options, done: make(chan struct{})}
	go wc.pingLoop()
	return wc, nil
}

type wsConn struct {
	conn      *websocket.Conn
	options   *WebsocketOptions
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *wsConn) pingLoop() {
	if c.options.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.options.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
