package candle

import (
	"reflect"
	"testing"

	"goxengine/internal/signal"
	"goxengine/pkg/types"
)

func newTestHistory(width int64) *History {
	bus := signal.New(nil)
	return New(width, bus, signal.NewCallerID())
}

func TestCandleRollover_S5(t *testing.T) {
	t.Parallel()

	h := newTestHistory(60)
	h.AddTrade(1000, 10, 1) // seed current bucket at 1000
	h.AddTrade(1059, 10, 1) // same bucket, updates current

	candles := h.Candles()
	if len(candles) != 1 {
		t.Fatalf("candles = %+v, want 1 candle before rollover", candles)
	}

	h.AddTrade(1060, 12, 2) // new bucket, prepended

	candles = h.Candles()
	if len(candles) != 2 {
		t.Fatalf("candles = %+v, want 2 candles after rollover", candles)
	}
	newest := candles[0]
	if newest.Open != 12 || newest.High != 12 || newest.Low != 12 || newest.Close != 12 || newest.Volume != 2 {
		t.Fatalf("newest candle = %+v, want OHLC all 12 vol 2", newest)
	}
	if newest.OpenTime != 1020 {
		t.Fatalf("newest.OpenTime = %d, want 1020 (floor(1060/60)*60)", newest.OpenTime)
	}
}

func TestAddTradeUpdatesHighLowClose(t *testing.T) {
	t.Parallel()

	h := newTestHistory(60)
	h.AddTrade(1020, 10, 1)
	h.AddTrade(1030, 15, 1) // higher, same bucket
	h.AddTrade(1040, 5, 1)  // lower, same bucket
	h.AddTrade(1050, 8, 1)  // close

	candles := h.Candles()
	if len(candles) != 1 {
		t.Fatalf("candles = %+v, want 1 candle", candles)
	}
	c := candles[0]
	if c.Open != 10 || c.High != 15 || c.Low != 5 || c.Close != 8 || c.Volume != 4 {
		t.Fatalf("candle = %+v, want open=10 high=15 low=5 close=8 vol=4", c)
	}
}

func TestFullHistoryIdempotentUnderReplay(t *testing.T) {
	t.Parallel()

	trades := []types.TradeMsg{
		{Date: 1000, PriceInt: 10, AmountInt: 1},
		{Date: 1059, PriceInt: 12, AmountInt: 2},
		{Date: 1060, PriceInt: 14, AmountInt: 3},
	}

	h := newTestHistory(60)
	h.ApplyFullHistory(trades)
	first := h.Candles()

	h.ApplyFullHistory(trades)
	second := h.Candles()

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("replaying the same trades produced different candles:\nfirst=%+v\nsecond=%+v", first, second)
	}
}
