package status

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"goxengine/internal/book"
	"goxengine/internal/candle"
	"goxengine/pkg/types"
)

// Provider is the engine-side view the dashboard reads from. It never
// mutates engine state.
type Provider interface {
	Book() *book.OrderBook
	History() *candle.History
	Wallet() types.Wallet
}

// Snapshot is the full read-only state served by /snapshot and sent to a
// client immediately after it connects over /ws.
type Snapshot struct {
	Book    BookEvent    `json:"book"`
	Candles CandleEvent  `json:"candles"`
	Wallet  WalletEvent  `json:"wallet"`
	AsOf    time.Time    `json:"as_of"`
}

// BuildSnapshot reads the provider's current state into a Snapshot.
func BuildSnapshot(p Provider) Snapshot {
	bid, ask := p.Book().TopOfBook()
	return Snapshot{
		Book: BookEvent{
			Bid:  bid,
			Ask:  ask,
			Asks: p.Book().Asks(),
			Bids: p.Book().Bids(),
		},
		Candles: CandleEvent{Candles: p.History().Candles()},
		Wallet:  WalletEvent{Balances: p.Wallet()},
		AsOf:    time.Now(),
	}
}

// Handlers holds the HTTP handler dependencies for the dashboard surface.
type Handlers struct {
	provider       Provider
	hub            *Hub
	allowedOrigins []string
	logger         *slog.Logger
}

// NewHandlers creates a Handlers instance.
func NewHandlers(provider Provider, hub *Hub, allowedOrigins []string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		provider:       provider,
		hub:            hub,
		allowedOrigins: allowedOrigins,
		logger:         logger.With("component", "status-handlers"),
	}
}

// HandleHealth answers /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleSnapshot answers /snapshot with the full current state.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := BuildSnapshot(h.provider)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		h.logger.Error("failed to encode snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// HandleWebSocket upgrades the connection, registers a Client, and sends
// one initial snapshot before handing off to the broadcast loop.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), h.allowedOrigins, req.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn)

	evt := Event{Type: "snapshot", Timestamp: time.Now(), Data: BuildSnapshot(h.provider)}
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal initial snapshot", "error", err)
		return
	}

	select {
	case client.send <- data:
	default:
		h.logger.Warn("failed to send initial snapshot to client")
	}
}

func isOriginAllowed(origin string, allowed []string, reqHost string) bool {
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(allowed) > 0 {
		for _, a := range allowed {
			u, err := url.Parse(a)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
