// Package signal implements the engine's named synchronous fan-out bus.
//
// A Signal is a named event: subscribers register a callback taking
// (sender, payload) and Emit calls each subscriber in registration order.
// One application-wide reentrant lock guards emission so that the book and
// candle state, which are not thread-safe on their own, stay effectively
// single-writer without per-field locking — the protocol handler and the
// snapshot puller run on separate goroutines but funnel every mutation
// through Emit.
package signal

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

var callerSeq atomic.Uint64

// CallerID tags the logical thread of execution calling into the bus, so
// that Emit can tell a recursive re-entry (same caller, nested emit) apart
// from a concurrent one (different caller, must block). Obtain one with
// NewCallerID and carry it on a context or goroutine-local value; the bus
// itself holds no goroutine-local state.
type CallerID uint64

// NewCallerID allocates a fresh id for a new logical caller (e.g. once per
// goroutine that drives the dispatcher or a snapshot pull).
func NewCallerID() CallerID {
	return CallerID(callerSeq.Add(1))
}

// Subscriber receives emitted payloads. sender identifies the signal name
// for handlers registered on more than one signal.
type Subscriber func(sender string, payload any)

// Bus is the application-wide signal bus. The zero value is not usable;
// construct with New.
type Bus struct {
	mu     sync.Mutex
	free   *sync.Cond
	holder CallerID // 0 means unheld
	depth  int      // re-entrant emit depth for the current holder

	logger *slog.Logger

	subMu       sync.Mutex
	subscribers map[string][]Subscriber
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		logger:      logger.With("component", "signal"),
		subscribers: make(map[string][]Subscriber),
	}
	b.free = sync.NewCond(&b.mu)
	return b
}

// Connect registers fn to receive every Emit on name, in call order.
func (b *Bus) Connect(name string, fn Subscriber) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subscribers[name] = append(b.subscribers[name], fn)
}

// Emit fans payload out to every subscriber of name under the bus's
// reentrant lock, and reports whether any subscriber was registered.
// caller must be the CallerID of the logical thread performing the emit;
// passing the same CallerID as an in-progress Emit re-enters without
// blocking, modeling the source's threading.RLock() semantics.
func (b *Bus) Emit(caller CallerID, name string, sender string, payload any) bool {
	b.lock(caller)
	defer b.unlock(caller)

	b.subMu.Lock()
	subs := append([]Subscriber(nil), b.subscribers[name]...)
	b.subMu.Unlock()

	for _, sub := range subs {
		b.dispatchOne(sub, sender, payload)
	}

	if len(subs) == 0 {
		b.logger.Debug("signal with no subscriber", "signal", name)
	}
	return len(subs) > 0
}

// dispatchOne invokes a single subscriber, recovering and logging a panic
// so that it never prevents later subscribers from receiving the event —
// the Go analogue of catching and logging a subscriber exception.
func (b *Bus) dispatchOne(sub Subscriber, sender string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("signal subscriber panicked", "signal", sender, "panic", r)
		}
	}()
	sub(sender, payload)
}

func (b *Bus) lock(caller CallerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.holder == caller && b.depth > 0 {
		b.depth++
		return
	}
	for b.holder != 0 {
		b.free.Wait()
	}
	b.holder = caller
	b.depth = 1
}

func (b *Bus) unlock(caller CallerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.holder != caller {
		return
	}
	b.depth--
	if b.depth == 0 {
		b.holder = 0
		b.free.Signal()
	}
}
