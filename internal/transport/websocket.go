package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketTransport is the plain-websocket variant: connect to
// {ws|wss}://host/mtgox?Currency=<CUR>, and treat every inbound text frame
// whose first byte is '{' as a JSON message; other frames are ignored.
type WebSocketTransport struct {
	url       string
	onConnect func(send func([]byte) error) error // the channel_subscribe hook
	onMessage Handler

	connMu sync.Mutex
	conn   *websocket.Conn

	logger *slog.Logger
}

// NewWebSocket creates a plain-websocket transport. onConnect is invoked
// after every (re)connect, before the read loop starts, and is handed a
// send function bound to the fresh connection.
func NewWebSocket(url string, onConnect func(send func([]byte) error) error, onMessage Handler, logger *slog.Logger) *WebSocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketTransport{
		url:       url,
		onConnect: onConnect,
		onMessage: onMessage,
		logger:    logger.With("component", "transport.websocket"),
	}
}

func (t *WebSocketTransport) Run(ctx context.Context) error {
	return runReconnectLoop(ctx, t.logger, t.connectAndRead)
}

func (t *WebSocketTransport) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()

	defer func() {
		t.connMu.Lock()
		conn.Close()
		t.conn = nil
		t.connMu.Unlock()
	}()

	if t.onConnect != nil {
		if err := t.onConnect(t.Send); err != nil {
			return fmt.Errorf("channel subscribe: %w", err)
		}
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if len(data) > 0 && data[0] == '{' {
			t.onMessage(data)
		}
	}
}

func (t *WebSocketTransport) Send(frame []byte) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}
