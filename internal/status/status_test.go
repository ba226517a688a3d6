package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"goxengine/internal/book"
	"goxengine/internal/candle"
	"goxengine/internal/signal"
	"goxengine/pkg/types"
)

type fakeProvider struct {
	book    *book.OrderBook
	history *candle.History
	wallet  types.Wallet
}

func (p *fakeProvider) Book() *book.OrderBook       { return p.book }
func (p *fakeProvider) History() *candle.History    { return p.history }
func (p *fakeProvider) Wallet() types.Wallet        { return p.wallet }

func newFakeProvider() *fakeProvider {
	bus := signal.New(nil)
	caller := signal.NewCallerID()
	b := book.New(bus, caller)
	b.ApplyDepth(types.Bid, 100, 5)
	h := candle.New(60, bus, caller)
	h.AddTrade(1000, 100, 2)
	return &fakeProvider{book: b, history: h, wallet: types.Wallet{"USD": 100}}
}

func TestBuildSnapshotReflectsProviderState(t *testing.T) {
	t.Parallel()

	snap := BuildSnapshot(newFakeProvider())
	if len(snap.Book.Bids) != 1 || snap.Book.Bids[0].Price != 100 {
		t.Fatalf("snap.Book.Bids = %+v", snap.Book.Bids)
	}
	if len(snap.Candles.Candles) != 1 {
		t.Fatalf("snap.Candles = %+v", snap.Candles)
	}
	if snap.Wallet.Balances["USD"] != 100 {
		t.Fatalf("snap.Wallet = %+v", snap.Wallet)
	}
}

func TestHandleSnapshotServesJSON(t *testing.T) {
	t.Parallel()

	handlers := NewHandlers(newFakeProvider(), NewHub(nil), nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/snapshot", nil)
	rec := httptest.NewRecorder()

	handlers.HandleSnapshot(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Book.Bids) != 1 {
		t.Fatalf("snap.Book.Bids = %+v", snap.Book.Bids)
	}
}

func TestHandleHealthReportsOK(t *testing.T) {
	t.Parallel()

	handlers := NewHandlers(newFakeProvider(), NewHub(nil), nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handlers.HandleHealth(rec, req)

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status body = %+v", body)
	}
}

func TestIsOriginAllowedLocalhostDefault(t *testing.T) {
	t.Parallel()

	if !isOriginAllowed("http://localhost:3000", nil, "example.com:8090") {
		t.Fatal("localhost origin should be allowed by default")
	}
	if isOriginAllowed("http://evil.example", nil, "example.com:8090") {
		t.Fatal("unrelated origin should not be allowed by default")
	}
}

func TestIsOriginAllowedExplicitList(t *testing.T) {
	t.Parallel()

	allowed := []string{"https://dash.example.com"}
	if !isOriginAllowed("https://dash.example.com", allowed, "example.com") {
		t.Fatal("explicitly allowed origin was rejected")
	}
	if isOriginAllowed("https://other.example.com", allowed, "example.com") {
		t.Fatal("origin outside the explicit list was accepted")
	}
}

func TestNewBookChangedEventWrapsTopOfBook(t *testing.T) {
	t.Parallel()

	bus := signal.New(nil)
	caller := signal.NewCallerID()
	b := book.New(bus, caller)
	b.ApplyTicker(100, 110)

	evt := NewBookChangedEvent(b)
	data, ok := evt.Data.(BookEvent)
	if !ok {
		t.Fatalf("event data has unexpected type %T", evt.Data)
	}
	if data.Bid != 100 || data.Ask != 110 {
		t.Fatalf("data = %+v", data)
	}
}
