// Package strategy provides the hot-reloadable strategy module's stable
// callback contract: a Plugin interface plus a Registry that forwards
// engine signal-bus events to every registered plugin. There is no
// quoting algorithm, inventory tracking, or toxicity scoring here — a
// plugin decides what to do with the book and wallet state it observes.
package strategy

import (
	"fmt"
	"log/slog"
	"sync"

	"goxengine/internal/book"
	"goxengine/internal/candle"
	"goxengine/pkg/types"
)

// Plugin is the stable callback contract the engine exposes to strategy
// modules. OnBeforeUnload is invoked once, synchronously, before the
// registry drops a plugin (Unregister or UnloadAll) so the
// plugin can flush state. OnKey forwards a single keystroke from the
// (out of scope) terminal UI, letting a plugin bind interactive hotkeys.
type Plugin interface {
	Name() string
	OnBeforeUnload()
	OnKey(key rune) error
	OnBookChanged(b *book.OrderBook)
	OnCandleChanged(h *candle.History)
	OnWalletChanged(w types.Wallet)
}

// Registry holds zero or more registered plugins and fans engine events
// out to all of them, in registration order, catching and logging any
// single plugin's panic so it can never take down the others.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger.With("component", "strategy")}
}

// Register adds a plugin. Registration order is preserved for dispatch.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = append(r.plugins, p)
}

// Unregister calls OnBeforeUnload on the named plugin and removes it.
// It reports whether a plugin by that name was found.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.plugins {
		if p.Name() != name {
			continue
		}
		r.callSafely(func() { p.OnBeforeUnload() })
		r.plugins = append(r.plugins[:i], r.plugins[i+1:]...)
		return true
	}
	return false
}

// UnloadAll calls OnBeforeUnload on every registered plugin, in order, and
// empties the registry. The engine and cmd/goxengine do not call it on
// shutdown.
func (r *Registry) UnloadAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.plugins {
		r.callSafely(func() { p.OnBeforeUnload() })
	}
	r.plugins = nil
}

// DispatchKey forwards a keystroke to every registered plugin, collecting
// the first error (if any) without stopping dispatch to the rest.
func (r *Registry) DispatchKey(key rune) error {
	r.mu.RLock()
	plugins := append([]Plugin(nil), r.plugins...)
	r.mu.RUnlock()

	var firstErr error
	for _, p := range plugins {
		plugin := p
		r.callSafely(func() {
			if err := plugin.OnKey(key); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", plugin.Name(), err)
			}
		})
	}
	return firstErr
}

// DispatchBookChanged forwards a book-changed notification to every plugin.
func (r *Registry) DispatchBookChanged(b *book.OrderBook) {
	r.mu.RLock()
	plugins := append([]Plugin(nil), r.plugins...)
	r.mu.RUnlock()

	for _, p := range plugins {
		plugin := p
		r.callSafely(func() { plugin.OnBookChanged(b) })
	}
}

// DispatchCandleChanged forwards a candle-history-changed notification.
func (r *Registry) DispatchCandleChanged(h *candle.History) {
	r.mu.RLock()
	plugins := append([]Plugin(nil), r.plugins...)
	r.mu.RUnlock()

	for _, p := range plugins {
		plugin := p
		r.callSafely(func() { plugin.OnCandleChanged(h) })
	}
}

// DispatchWalletChanged forwards a wallet-changed notification.
func (r *Registry) DispatchWalletChanged(w types.Wallet) {
	r.mu.RLock()
	plugins := append([]Plugin(nil), r.plugins...)
	r.mu.RUnlock()

	for _, p := range plugins {
		plugin := p
		r.callSafely(func() { plugin.OnWalletChanged(w) })
	}
}

func (r *Registry) callSafely(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("strategy plugin panicked", "panic", rec)
		}
	}()
	fn()
}
