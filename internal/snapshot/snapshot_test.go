package snapshot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFullDepthDecodesAsksAndBids(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/2/BTCUSD/money/depth/full" {
			t.Errorf("path = %q, want /api/2/BTCUSD/money/depth/full", r.URL.Path)
		}
		w.Write([]byte(`{"asks":[{"price_int":"100","amount_int":"1"}],"bids":[{"price_int":"90","amount_int":"2"}]}`))
	}))
	defer srv.Close()

	p := New(srv.URL, "BTCUSD", nil, nil)
	snap, err := p.FullDepth(context.Background())
	if err != nil {
		t.Fatalf("FullDepth: %v", err)
	}
	if len(snap.Asks) != 1 || snap.Asks[0].PriceInt != 100 {
		t.Fatalf("asks = %+v", snap.Asks)
	}
	if len(snap.Bids) != 1 || snap.Bids[0].AmountInt != 2 {
		t.Fatalf("bids = %+v", snap.Bids)
	}
}

func TestFullDepthErrorsOnServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New(srv.URL, "BTCUSD", nil, nil)
	if _, err := p.FullDepth(context.Background()); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestRecentTradesDecodesArray(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"price_currency":"USD","date":1000,"price_int":"100","amount_int":"1","channel":"dbf1dee9-4f2e-4a08-8cb7-748919a71b21"}]`))
	}))
	defer srv.Close()

	p := New(srv.URL, "BTCUSD", nil, nil)
	trades, err := p.RecentTrades(context.Background())
	if err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if len(trades) != 1 || trades[0].PriceInt != 100 {
		t.Fatalf("trades = %+v", trades)
	}
	if trades[0].Own() {
		t.Fatal("public trade channel misclassified as own")
	}
}
