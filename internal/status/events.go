package status

import (
	"time"

	"goxengine/internal/book"
	"goxengine/internal/candle"
	"goxengine/pkg/types"
)

// Event is the wrapper for every message broadcast to dashboard clients.
type Event struct {
	Type      string    `json:"type"` // "snapshot", "book", "candle", "wallet"
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// BookEvent mirrors the public side of the order book: top-of-book plus the
// full resting ladders, enough to render a depth chart without exposing the
// own-order list (read-only dashboard, not a trading surface).
type BookEvent struct {
	Bid  int64              `json:"bid"`
	Ask  int64              `json:"ask"`
	Asks []types.PriceLevel `json:"asks"`
	Bids []types.PriceLevel `json:"bids"`
}

// CandleEvent carries the most recent OHLCV history, newest first.
type CandleEvent struct {
	Candles []types.Candle `json:"candles"`
}

// WalletEvent carries the current wallet balances.
type WalletEvent struct {
	Balances types.Wallet `json:"balances"`
}

// NewBookChangedEvent snapshots b into a BookEvent wrapped for broadcast.
func NewBookChangedEvent(b *book.OrderBook) Event {
	bid, ask := b.TopOfBook()
	return Event{
		Type: "book",
		Data: BookEvent{
			Bid:  bid,
			Ask:  ask,
			Asks: b.Asks(),
			Bids: b.Bids(),
		},
	}
}

// NewCandleChangedEvent snapshots h into a CandleEvent wrapped for broadcast.
func NewCandleChangedEvent(h *candle.History) Event {
	return Event{
		Type: "candle",
		Data: CandleEvent{Candles: h.Candles()},
	}
}

// NewWalletChangedEvent wraps a wallet balance map for broadcast.
func NewWalletChangedEvent(w types.Wallet) Event {
	return Event{
		Type: "wallet",
		Data: WalletEvent{Balances: w},
	}
}
