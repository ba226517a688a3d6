package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"goxengine/internal/config"
	"goxengine/internal/signal"
	"goxengine/pkg/types"
)

func testConfig(host string) *config.Config {
	return &config.Config{
		Gox: config.GoxConfig{
			Host:                 host,
			Currency:             "USD",
			UseSSL:               false,
			UsePlainOldWebsocket: true,
			HistoryTimeframe:     60 * time.Second,
		},
	}
}

func newTestEngine(t *testing.T, host string, cred *types.Credential) *Engine {
	t.Helper()
	return New(testConfig(host), cred, signal.New(nil), nil)
}

func TestDispatchTickerUpdatesBook(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, "example.invalid", nil)
	e.dispatch([]byte(`{"ticker":{"sell":{"value_int":"1100","currency":"USD"},"buy":{"value_int":"1000","currency":"USD"}}}`))

	bid, ask := e.Book().TopOfBook()
	if bid != 1000 || ask != 1100 {
		t.Fatalf("TopOfBook() = (%d,%d), want (1000,1100)", bid, ask)
	}
}

func TestDispatchDepthInsertsLevel(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, "example.invalid", nil)
	e.dispatch([]byte(`{"depth":{"currency":"USD","type_str":"ask","price_int":"500","volume_int":"2","total_volume_int":"2"}}`))

	asks := e.Book().Asks()
	if len(asks) != 1 || asks[0].Price != 500 || asks[0].Volume != 2 {
		t.Fatalf("asks = %+v", asks)
	}
}

func TestDispatchPublicTradeUpdatesBookAndHistory(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, "example.invalid", nil)
	e.dispatch([]byte(`{"depth":{"currency":"USD","type_str":"ask","price_int":"500","volume_int":"5","total_volume_int":"5"}}`))
	e.dispatch([]byte(`{"trade":{"price_currency":"USD","date":120,"price_int":"500","amount_int":"2","channel":"dbf1dee9-4f2e-4a08-8cb7-748919a71b21"}}`))

	asks := e.Book().Asks()
	if len(asks) != 1 || asks[0].Volume != 3 {
		t.Fatalf("asks after trade = %+v, want volume 3", asks)
	}
	candles := e.History().Candles()
	if len(candles) != 1 || candles[0].Volume != 2 {
		t.Fatalf("candles = %+v", candles)
	}
}

func TestDispatchOwnTradeDoesNotFeedHistory(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, "example.invalid", nil)
	e.Book().ApplyUserOrder(types.Order{Oid: "abc", Price: 500, Volume: 5, Side: types.Bid, Status: types.StatusOpen})

	e.dispatch([]byte(`{"trade":{"price_currency":"USD","date":120,"price_int":"500","amount_int":"2","channel":"own-trade-echo"}}`))

	owns := e.Book().OwnOrders()
	if len(owns) != 1 || owns[0].Volume != 3 {
		t.Fatalf("own orders = %+v, want volume 3", owns)
	}
	if candles := e.History().Candles(); len(candles) != 0 {
		t.Fatalf("history should not see own trades, got %+v", candles)
	}
}

func TestDispatchUserOrderAppendAndRemove(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, "example.invalid", nil)
	e.dispatch([]byte(`{"user_order":{"oid":"xyz","currency":"USD","price":{"value_int":"100"},"amount":{"value_int":"3"},"type":"bid"}}`))

	owns := e.Book().OwnOrders()
	if len(owns) != 1 || owns[0].Oid != "xyz" || owns[0].Price != 100 {
		t.Fatalf("own orders = %+v", owns)
	}

	e.dispatch([]byte(`{"user_order":{"oid":"xyz","status":"removed"}}`))
	if owns := e.Book().OwnOrders(); len(owns) != 0 {
		t.Fatalf("own orders after removal = %+v, want empty", owns)
	}
}

func TestDispatchMalformedFrameIsDropped(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, "example.invalid", nil)
	e.dispatch([]byte(`not json`))

	if asks := e.Book().Asks(); len(asks) != 0 {
		t.Fatalf("asks = %+v, want untouched", asks)
	}
}

func TestHandleResultOrdersFiltersByCurrency(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, "example.invalid", nil)
	result, err := json.Marshal([]map[string]any{
		{"oid": "a", "currency": "USD", "price": map[string]string{"value_int": "100"}, "amount": map[string]string{"value_int": "1"}, "type": "bid"},
		{"oid": "b", "currency": "EUR", "price": map[string]string{"value_int": "200"}, "amount": map[string]string{"value_int": "1"}, "type": "ask"},
	})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}

	e.handleResult("orders", result)

	owns := e.Book().OwnOrders()
	if len(owns) != 1 || owns[0].Oid != "a" {
		t.Fatalf("own orders = %+v, want only the USD order", owns)
	}
}

func TestHandleResultInfoEmitsWallet(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, "example.invalid", nil)

	var received types.Wallet
	var mu sync.Mutex
	e.bus.Connect(WalletSignal, func(_ string, payload any) {
		mu.Lock()
		defer mu.Unlock()
		received, _ = payload.(types.Wallet)
	})

	result := []byte(`{"Wallets":{"USD":{"Balance":{"value_int":"500"}}}}`)
	e.handleResult("info", result)

	if got := e.Wallet(); got["USD"] != 500 {
		t.Fatalf("wallet = %+v, want USD=500", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if received["USD"] != 500 {
		t.Fatalf("emitted wallet = %+v, want USD=500", received)
	}
}

func TestHandleRemarkResendsBootstrapCallThroughSigner(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, "example.invalid", &types.Credential{Key: []byte("0123456789abcdef"), Secret: []byte("secret-material-long-enough")})

	// StreamingCall will attempt a real send and fail (no live connection);
	// what matters here is that the remark path reaches the signer at all.
	_ = e.signer.StreamingCall("idkey", "private/idkey", nil)
	e.dispatch([]byte(`{"op":"remark","success":false,"id":"idkey"}`))
}

func TestEngineStartSubscribesAndAppliesPushedFrames(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	var subscribeCount int
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for i := 0; i < 3; i++ {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			mu.Lock()
			subscribeCount++
			mu.Unlock()
		}

		conn.WriteMessage(websocket.TextMessage, []byte(`{"ticker":{"sell":{"value_int":"1100","currency":"USD"},"buy":{"value_int":"1000","currency":"USD"}}}`))
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	e := newTestEngine(t, host, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	e.Start(ctx)

	mu.Lock()
	defer mu.Unlock()
	if subscribeCount != 3 {
		t.Fatalf("subscribeCount = %d, want 3 (depth, ticker, trades)", subscribeCount)
	}
	bid, ask := e.Book().TopOfBook()
	if bid != 1000 || ask != 1100 {
		t.Fatalf("TopOfBook() = (%d,%d), want (1000,1100)", bid, ask)
	}
}

func TestCancelByPriceOnlyCancelsMatchingOrders(t *testing.T) {
	t.Parallel()

	var cancelled []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		mu.Lock()
		cancelled = append(cancelled, r.FormValue("oid"))
		mu.Unlock()
		w.Write([]byte(`{"result":"success","return":{}}`))
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	e := newTestEngine(t, host, &types.Credential{Key: []byte("0123456789abcdef"), Secret: []byte("secret-material-long-enough")})

	e.Book().ApplyUserOrder(types.Order{Oid: "keep", Price: 100, Volume: 1, Side: types.Bid, Status: types.StatusOpen})
	e.Book().ApplyUserOrder(types.Order{Oid: "drop-1", Price: 200, Volume: 1, Side: types.Bid, Status: types.StatusOpen})
	e.Book().ApplyUserOrder(types.Order{Oid: "drop-2", Price: 200, Volume: 1, Side: types.Ask, Status: types.StatusOpen})

	e.CancelByPrice(200)

	mu.Lock()
	defer mu.Unlock()
	if len(cancelled) != 2 {
		t.Fatalf("cancelled = %v, want 2 calls", cancelled)
	}
	for _, oid := range cancelled {
		if oid == "keep" {
			t.Fatalf("cancelled the order at the untouched price: %v", cancelled)
		}
	}
}
