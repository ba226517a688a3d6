// Package candle folds the public trade stream into fixed-width OHLCV
// buckets. History is kept newest-first (reverse chronological), matching
// the in-memory window the source keeps — there is no persistence across
// restarts.
package candle

import (
	"sync"

	"goxengine/internal/signal"
	"goxengine/pkg/types"
)

const ChangedSignal = "history.changed"

// History aggregates trades into an in-memory sequence of candles. The
// sequence is not capped; it grows by one candle per new bucket.
type History struct {
	mu       sync.RWMutex
	width    int64 // bucket width in seconds
	candles  []types.Candle // newest first
	bus      *signal.Bus
	caller   signal.CallerID
}

// New creates a History with the given bucket width (e.g. 15*60 seconds).
func New(width int64, bus *signal.Bus, caller signal.CallerID) *History {
	return &History{width: width, bus: bus, caller: caller}
}

// Candles returns a copy of the in-memory candle sequence, newest first.
func (h *History) Candles() []types.Candle {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]types.Candle(nil), h.candles...)
}

func (h *History) bucket(date int64) int64 {
	return (date / h.width) * h.width
}

// AddTrade folds one public trade into the newest candle, or opens a new
// one if the trade falls in a later bucket. Own trades must not be passed
// here — the engine's dispatcher filters them out before calling in.
func (h *History) AddTrade(date, price, volume int64) {
	h.mu.Lock()
	h.addTradeLocked(date, price, volume)
	h.mu.Unlock()

	h.emitChanged()
}

func (h *History) addTradeLocked(date, price, volume int64) {
	b := h.bucket(date)

	if len(h.candles) > 0 && h.candles[0].OpenTime == b {
		c := &h.candles[0]
		if price > c.High {
			c.High = price
		}
		if price < c.Low {
			c.Low = price
		}
		c.Close = price
		c.Volume += volume
		return
	}

	fresh := types.Candle{
		OpenTime: b,
		Open:     price,
		High:     price,
		Low:      price,
		Close:    price,
		Volume:   volume,
	}
	h.candles = append([]types.Candle{fresh}, h.candles...)
}

// ApplyFullHistory discards the in-memory history and replays a fresh trade
// list in arrival order, then emits exactly one changed signal. Open
// question per the source: input is assumed chronological; it is not
// re-sorted here.
func (h *History) ApplyFullHistory(trades []types.TradeMsg) {
	h.mu.Lock()
	h.candles = nil
	for _, tr := range trades {
		h.addTradeLocked(tr.Date, tr.PriceInt, tr.AmountInt)
	}
	h.mu.Unlock()

	h.emitChanged()
}

func (h *History) emitChanged() {
	h.bus.Emit(h.caller, ChangedSignal, ChangedSignal, len(h.Candles()))
}
