package backend

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"

	"adbdash/internal/adb"

	"github.com/gorilla/websocket"
)

// WebSocketBackend is a device tunneled through a WebSocket proxy that
// relays the ADB byte stream in binary frames.
type WebSocketBackend struct {
	URL         string
	DisplayName string
	Dialer      *websocket.Dialer
}

func (b *WebSocketBackend) Serial() string { return b.URL }
func (b *WebSocketBackend) Kind() Kind     { return KindWebSocket }

func (b *WebSocketBackend) Name() string {
	if b.DisplayName != "" {
		return b.DisplayName
	}
	return redactURL(b.URL)
}

// Connect opens the WebSocket and runs the ADB handshake over it.
func (b *WebSocketBackend) Connect(ctx context.Context, opts adb.Options) (Session, error) {
	dialer := b.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	target := b.Name()
	ws, resp, err := dialer.DialContext(ctx, b.URL, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, &adb.ConnectionError{Target: target, Err: err}
	}
	opts.Target = target
	s, err := adb.Connect(ctx, newWSConn(ws), opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// redactURL hides the query string, which carries credentials.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}

// wsConn presents a WebSocket as a byte stream. Frame boundaries are
// ignored on read; each Write becomes one binary frame.
type wsConn struct {
	ws *websocket.Conn

	readMu sync.Mutex
	r      io.Reader

	writeMu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	for {
		if c.r == nil {
			kind, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if kind != websocket.BinaryMessage && kind != websocket.TextMessage {
				continue
			}
			c.r = r
		}
		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
