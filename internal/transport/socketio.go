package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

const mtgoxNamespace = "/mtgox"

// SocketIOTransport is the Socket.IO 0.9-style variant: an HTTP handshake
// negotiates a session id, then a websocket carries namespace-prefixed
// frames. Pings ("2::") are answered in place; payload frames
// ("4::/mtgox:<json>") are unwrapped and handed to onMessage.
type SocketIOTransport struct {
	httpBaseURL string // e.g. http://host or https://host
	wsBaseURL   string // e.g. ws://host or wss://host
	currency    string
	onConnect   func(send func([]byte) error) error
	onMessage   Handler

	connMu sync.Mutex
	conn   *websocket.Conn

	httpClient *http.Client
	logger     *slog.Logger
}

// NewSocketIO creates a Socket.IO transport. httpBaseURL/wsBaseURL must
// carry matching schemes (http/ws or https/wss) per the single TLS flag
// that selects both.
func NewSocketIO(httpBaseURL, wsBaseURL, currency string, onConnect func(send func([]byte) error) error, onMessage Handler, logger *slog.Logger) *SocketIOTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketIOTransport{
		httpBaseURL: httpBaseURL,
		wsBaseURL:   wsBaseURL,
		currency:    currency,
		onConnect:   onConnect,
		onMessage:   onMessage,
		httpClient:  &http.Client{},
		logger:      logger.With("component", "transport.socketio"),
	}
}

func (t *SocketIOTransport) Run(ctx context.Context) error {
	return runReconnectLoop(ctx, t.logger, t.connectAndRead)
}

// negotiateSession performs the Socket.IO 1 handshake GET and returns the
// session id, the colon-delimited reply's first field.
func (t *SocketIOTransport) negotiateSession(ctx context.Context) (string, error) {
	u := fmt.Sprintf("%s/socket.io/1?Currency=%s", t.httpBaseURL, url.QueryEscape(t.currency))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	fields := strings.Split(string(body), ":")
	if len(fields) == 0 || fields[0] == "" {
		return "", fmt.Errorf("malformed socket.io handshake reply: %q", string(body))
	}
	return fields[0], nil
}

func (t *SocketIOTransport) connectAndRead(ctx context.Context) error {
	sid, err := t.negotiateSession(ctx)
	if err != nil {
		return fmt.Errorf("negotiate session: %w", err)
	}

	wsURL := fmt.Sprintf("%s/socket.io/1/websocket/%s?Currency=%s", t.wsBaseURL, sid, url.QueryEscape(t.currency))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
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

	if err := conn.WriteMessage(websocket.TextMessage, []byte("1::"+mtgoxNamespace)); err != nil {
		return fmt.Errorf("namespace handshake: %w", err)
	}
	// Consume the two handshake acks before entering the steady-state loop.
	for i := 0; i < 2; i++ {
		if _, _, err := conn.ReadMessage(); err != nil {
			return fmt.Errorf("handshake ack %d: %w", i, err)
		}
	}

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

		t.handleFrame(data)
	}
}

func (t *SocketIOTransport) handleFrame(data []byte) {
	s := string(data)
	switch {
	case strings.HasPrefix(s, "2::"):
		if err := t.writeRaw([]byte("2::")); err != nil {
			t.logger.Debug("pong write failed", "error", err)
		}
	case strings.HasPrefix(s, "4::"+mtgoxNamespace+":"):
		payload := s[len("4::"+mtgoxNamespace+":"):]
		if len(payload) > 0 && payload[0] == '{' {
			t.onMessage([]byte(payload))
		}
	default:
		t.logger.Debug("ignoring socket.io frame", "frame", s)
	}
}

// Send wraps frame with the namespace payload prefix required by the
// 4::/mtgox: convention and writes it.
func (t *SocketIOTransport) Send(frame []byte) error {
	return t.writeRaw(append([]byte("4::"+mtgoxNamespace+":"), frame...))
}

func (t *SocketIOTransport) writeRaw(data []byte) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("socket.io not connected")
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}
