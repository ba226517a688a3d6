// Package book maintains the public order book ladders and the set of own
// open orders for one currency pair, and folds in the reconciliation rules
// between the streaming delta feed, the ticker trims, trade consumption,
// and full-depth REST snapshots.
//
// Asks are kept ascending by price, bids descending, so index 0 is always
// the best price on each side. All mutation paths end with one emission of
// the "orderbook.changed" signal.
package book

import (
	"sync"

	"goxengine/internal/signal"
	"goxengine/pkg/types"
)

const ChangedSignal = "orderbook.changed"

// OrderBook is the engine's single public/own book for the configured
// currency pair. Mutators assume they are called from the dispatcher's
// goroutine (the streaming receive loop or a snapshot-pull goroutine); the
// RWMutex only protects readers (e.g. the optional dashboard) racing a
// writer, not concurrent writers against each other.
type OrderBook struct {
	mu   sync.RWMutex
	asks []types.PriceLevel // ascending by price
	bids []types.PriceLevel // descending by price
	own  []types.Order      // unordered; placeholders (empty Oid) may repeat

	bid int64 // cached top-of-book bid
	ask int64 // cached top-of-book ask

	bus    *signal.Bus
	caller signal.CallerID
}

// New creates an empty order book that emits changes on bus under caller's
// identity (see the signal package for why a caller id is required).
func New(bus *signal.Bus, caller signal.CallerID) *OrderBook {
	return &OrderBook{bus: bus, caller: caller}
}

// Asks returns a copy of the current ask ladder, best price first.
func (b *OrderBook) Asks() []types.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]types.PriceLevel(nil), b.asks...)
}

// Bids returns a copy of the current bid ladder, best price first.
func (b *OrderBook) Bids() []types.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]types.PriceLevel(nil), b.bids...)
}

// TopOfBook returns the cached best bid and ask.
func (b *OrderBook) TopOfBook() (bid, ask int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bid, b.ask
}

// OwnOrders returns a copy of the own-order collection.
func (b *OrderBook) OwnOrders() []types.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]types.Order(nil), b.own...)
}

func (b *OrderBook) emitChanged() {
	b.bus.Emit(b.caller, ChangedSignal, ChangedSignal, nil)
}

// ApplyTicker sets the cached top-of-book and prunes stale levels: any ask
// strictly below the new ask, any bid strictly above the new bid. Ticker
// wins over depth when they disagree, because ticker trims and depth is
// purely additive.
func (b *OrderBook) ApplyTicker(bid, ask int64) {
	b.mu.Lock()
	b.bid, b.ask = bid, ask

	kept := b.asks[:0:0]
	for _, lvl := range b.asks {
		if lvl.Price >= ask {
			kept = append(kept, lvl)
		}
	}
	b.asks = kept

	keptBids := b.bids[:0:0]
	for _, lvl := range b.bids {
		if lvl.Price <= bid {
			keptBids = append(keptBids, lvl)
		}
	}
	b.bids = keptBids
	b.mu.Unlock()

	b.emitChanged()
}

// ApplyDepth applies one delta: overwrite the matching level if
// totalVolume > 0 (inserting it in sorted position if new), or remove the
// matching level if totalVolume == 0. A zero-volume delta at an unknown
// price, or a delta that leaves a known level's volume unchanged, is a
// silent no-op with no changed emission, matching the source's tolerance
// for redundant depth messages.
func (b *OrderBook) ApplyDepth(side types.Side, price, totalVolume int64) {
	b.mu.Lock()
	changed := b.applyDepthLocked(side, price, totalVolume)
	b.mu.Unlock()

	if changed {
		b.emitChanged()
	}
}

func (b *OrderBook) applyDepthLocked(side types.Side, price, totalVolume int64) bool {
	ladder := b.ladderFor(side)

	idx, found := findPrice(*ladder, price)
	if totalVolume == 0 {
		if !found {
			return false
		}
		*ladder = append((*ladder)[:idx], (*ladder)[idx+1:]...)
		return true
	}

	if found {
		if (*ladder)[idx].Volume == totalVolume {
			return false
		}
		(*ladder)[idx].Volume = totalVolume
		return true
	}

	lvl := types.PriceLevel{Price: price, Volume: totalVolume, Side: side}
	insertAt := insertionPoint(*ladder, side, price)
	*ladder = append(*ladder, types.PriceLevel{})
	copy((*ladder)[insertAt+1:], (*ladder)[insertAt:])
	(*ladder)[insertAt] = lvl
	return true
}

func (b *OrderBook) ladderFor(side types.Side) *[]types.PriceLevel {
	if side == types.Ask {
		return &b.asks
	}
	return &b.bids
}

// findPrice returns the index of the level at price, if present.
func findPrice(ladder []types.PriceLevel, price int64) (int, bool) {
	for i, lvl := range ladder {
		if lvl.Price == price {
			return i, true
		}
	}
	return 0, false
}

// insertionPoint finds where a new price belongs to keep asks ascending and
// bids descending, via a linear scan (the ladders are small by construction).
func insertionPoint(ladder []types.PriceLevel, side types.Side, price int64) int {
	if side == types.Ask {
		for i, lvl := range ladder {
			if lvl.Price > price {
				return i
			}
		}
		return len(ladder)
	}
	for i, lvl := range ladder {
		if lvl.Price < price {
			return i
		}
	}
	return len(ladder)
}

// ApplyTrade folds a public trade into the book: decrement the matching
// level's volume on both ladders (the trade carries no side, so only the
// ladder that actually has the price is affected; the other decrement is a
// silent no-op), removing any level that drops to zero or below, then
// refresh the cached top of book.
func (b *OrderBook) ApplyTrade(price, volume int64) {
	b.mu.Lock()
	decrementLadder(&b.asks, price, volume)
	decrementLadder(&b.bids, price, volume)

	if len(b.asks) > 0 {
		b.ask = b.asks[0].Price
	}
	if len(b.bids) > 0 {
		b.bid = b.bids[0].Price
	}
	b.mu.Unlock()

	b.emitChanged()
}

func decrementLadder(ladder *[]types.PriceLevel, price, volume int64) {
	idx, found := findPrice(*ladder, price)
	if !found {
		return
	}
	(*ladder)[idx].Volume -= volume
	if (*ladder)[idx].Volume <= 0 {
		*ladder = append((*ladder)[:idx], (*ladder)[idx+1:]...)
	}
}

// ApplyOwnTrade decrements the matching own-order's volume, removing it
// once it reaches zero or below. The own-trade push carries no side, so
// matching is by price alone against the own-order collection.
func (b *OrderBook) ApplyOwnTrade(price, volume int64) {
	b.mu.Lock()
	for i := range b.own {
		o := &b.own[i]
		if o.Price != price {
			continue
		}
		o.Volume -= volume
		if o.Volume <= 0 {
			b.own = append(b.own[:i], b.own[i+1:]...)
		}
		break
	}
	b.mu.Unlock()

	b.emitChanged()
}

// ApplyUserOrder inserts, updates, or removes an own order by oid. status
// "removed" deletes it; otherwise it is updated in place or appended if not
// yet known. Callers resolve "absence of price means removal" before
// calling this (see engine's dispatcher).
func (b *OrderBook) ApplyUserOrder(o types.Order) {
	b.mu.Lock()
	if o.Status == types.StatusRemoved {
		for i, existing := range b.own {
			if existing.Oid == o.Oid {
				b.own = append(b.own[:i], b.own[i+1:]...)
				break
			}
		}
	} else {
		updated := false
		for i, existing := range b.own {
			if existing.Oid == o.Oid {
				b.own[i] = o
				updated = true
				break
			}
		}
		if !updated {
			b.own = append(b.own, o)
		}
	}
	b.mu.Unlock()

	b.emitChanged()
}

// ApplyFullDepth replaces both ladders from a snapshot. Asks load in the
// snapshot's given (ascending) order; bids load reversed so index 0 is the
// highest bid, matching a snapshot that is handed over lowest-first.
func (b *OrderBook) ApplyFullDepth(asks, bids []types.PriceLevel) {
	b.mu.Lock()
	b.asks = append([]types.PriceLevel(nil), asks...)

	reversed := make([]types.PriceLevel, len(bids))
	for i, lvl := range bids {
		reversed[len(bids)-1-i] = lvl
	}
	b.bids = reversed

	if len(b.asks) > 0 {
		b.ask = b.asks[0].Price
	}
	if len(b.bids) > 0 {
		b.bid = b.bids[0].Price
	}
	b.mu.Unlock()

	b.emitChanged()
}

// ReplaceOwnOrders swaps in a fresh own-order collection, as returned by the
// bootstrap private/orders call. Callers are responsible for filtering to
// the engine's configured currency before calling in.
func (b *OrderBook) ReplaceOwnOrders(orders []types.Order) {
	b.mu.Lock()
	b.own = append([]types.Order(nil), orders...)
	b.mu.Unlock()

	b.emitChanged()
}
