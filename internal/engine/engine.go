// Package engine is the central orchestrator: it wires the transport,
// signer, order book, and candle history together and exposes the public
// surface described by the wire protocol — start, place_order, cancel,
// cancel_by_price, and cancel_by_side — plus the dispatcher that fans every
// inbound frame out to the right subsystem.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"goxengine/internal/book"
	"goxengine/internal/candle"
	"goxengine/internal/config"
	"goxengine/internal/ratelimit"
	"goxengine/internal/signal"
	"goxengine/internal/signer"
	"goxengine/internal/snapshot"
	"goxengine/internal/status"
	"goxengine/internal/strategy"
	"goxengine/internal/transport"
	"goxengine/pkg/types"
)

// Signals the engine itself emits, distinct from the book's and history's
// own "orderbook.changed"/"history.changed" signals.
const (
	UserOrderSignal = "engine.user_order"
	WalletSignal    = "engine.wallet"
)

// UserOrderEvent is the payload of UserOrderSignal.
type UserOrderEvent struct {
	Price  int64
	Volume int64
	Side   types.Side
	Oid    string
	Status types.OrderStatus
}

type wireFrame struct {
	Op        string              `json:"op"`
	Id        string              `json:"id"`
	Success   *bool               `json:"success"`
	Result    json.RawMessage     `json:"result"`
	Ticker    *types.TickerMsg    `json:"ticker"`
	Depth     *types.DepthMsg     `json:"depth"`
	Trade     *types.TradeMsg     `json:"trade"`
	Channel   string              `json:"channel"`
	UserOrder *types.UserOrderMsg `json:"user_order"`
	Wallet    json.RawMessage     `json:"wallet"`
}

// Engine orchestrates the transport, the authenticated call multiplexer,
// the order-book maintainer, and the candle aggregator for one currency
// pair.
type Engine struct {
	cfg    *config.Config
	cred   *types.Credential
	logger *slog.Logger

	transport transport.Transport
	signer    *signer.Signer
	puller    *snapshot.Puller

	bus     *signal.Bus
	caller  signal.CallerID
	book    *book.OrderBook
	history *candle.History

	strategies *strategy.Registry

	idkeyMu sync.Mutex
	idkey   string

	walletMu sync.RWMutex
	wallet   types.Wallet

	bootstrapped atomic.Bool
	dashboard    atomic.Pointer[status.Hub]
}

// New wires an Engine from cfg and an already-decrypted credential (nil for
// read-only mode). bus lets the engine share one signal bus with a
// dashboard or other observer; pass signal.New(logger) for a standalone
// engine. The engine allocates its own CallerID.
func New(cfg *config.Config, cred *types.Credential, bus *signal.Bus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	caller := signal.NewCallerID()

	scheme := "ws"
	httpScheme := "http"
	if cfg.Gox.UseSSL {
		scheme = "wss"
		httpScheme = "https"
	}
	httpBaseURL := fmt.Sprintf("%s://%s", httpScheme, cfg.Gox.Host)

	e := &Engine{
		cfg:        cfg,
		cred:       cred,
		logger:     logger.With("component", "engine"),
		bus:        bus,
		caller:     caller,
		book:       book.New(bus, caller),
		history:    candle.New(int64(cfg.Gox.HistoryTimeframe.Seconds()), bus, caller),
		strategies: strategy.NewRegistry(logger),
		wallet:     make(types.Wallet),
		puller:     snapshot.New(httpBaseURL, cfg.Gox.Currency, ratelimit.New(), logger),
	}

	if cfg.Gox.UsePlainOldWebsocket {
		wsURL := fmt.Sprintf("%s://%s/mtgox?Currency=%s", scheme, cfg.Gox.Host, cfg.Gox.Currency)
		e.transport = transport.NewWebSocket(wsURL, e.channelSubscribe, e.dispatch, logger)
	} else {
		wsURL := fmt.Sprintf("%s://%s", scheme, cfg.Gox.Host)
		e.transport = transport.NewSocketIO(httpBaseURL, wsURL, cfg.Gox.Currency, e.channelSubscribe, e.dispatch, logger)
	}

	e.signer = signer.New(cred, cfg.Gox.Currency, httpBaseURL, e.transport, logger)

	bus.Connect(book.ChangedSignal, func(string, any) {
		e.strategies.DispatchBookChanged(e.book)
		if hub := e.dashboard.Load(); hub != nil {
			hub.BroadcastEvent(status.NewBookChangedEvent(e.book))
		}
	})
	bus.Connect(candle.ChangedSignal, func(string, any) {
		e.strategies.DispatchCandleChanged(e.history)
		if hub := e.dashboard.Load(); hub != nil {
			hub.BroadcastEvent(status.NewCandleChangedEvent(e.history))
		}
	})
	bus.Connect(WalletSignal, func(_ string, payload any) {
		wallet, _ := payload.(types.Wallet)
		e.strategies.DispatchWalletChanged(wallet)
		if hub := e.dashboard.Load(); hub != nil {
			hub.BroadcastEvent(status.NewWalletChangedEvent(wallet))
		}
	})

	return e
}

// SetDashboard wires hub to receive every book/candle/wallet change the
// engine emits on its signal bus, in addition to the strategy registry.
// Call it before Start so early events are not missed.
func (e *Engine) SetDashboard(hub *status.Hub) {
	e.dashboard.Store(hub)
}

// Book exposes the order book, satisfying status.Provider.
func (e *Engine) Book() *book.OrderBook { return e.book }

// History exposes the candle history, satisfying status.Provider.
func (e *Engine) History() *candle.History { return e.history }

// Wallet exposes a snapshot of the current wallet balances, satisfying
// status.Provider.
func (e *Engine) Wallet() types.Wallet {
	e.walletMu.RLock()
	defer e.walletMu.RUnlock()
	out := make(types.Wallet, len(e.wallet))
	for k, v := range e.wallet {
		out[k] = v
	}
	return out
}

// Strategies exposes the plugin registry so callers can register plugins
// before calling Start.
func (e *Engine) Strategies() *strategy.Registry { return e.strategies }

// Start launches the transport's reconnecting receive loop and blocks until
// ctx is cancelled; the transport keeps reconnecting until then.
func (e *Engine) Start(ctx context.Context) error {
	return e.transport.Run(ctx)
}

// channelSubscribe is the subscription hook invoked on every (re)connect:
// three unauthenticated subscribes, then three authenticated bootstrap
// calls, then optional snapshot pulls on their own goroutines.
func (e *Engine) channelSubscribe(send func([]byte) error) error {
	for _, channel := range []string{"depth", "ticker", "trades"} {
		frame, err := json.Marshal(map[string]string{"op": "mtgox.subscribe", "type": channel})
		if err != nil {
			return fmt.Errorf("marshal subscribe %s: %w", channel, err)
		}
		if err := send(frame); err != nil {
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}

	if e.cred.HasSecret() {
		for _, reqid := range []string{"info", "orders", "idkey"} {
			if err := e.signer.StreamingCall(reqid, bootstrapEndpoint(reqid), nil); err != nil {
				e.logger.Error("bootstrap call failed", "id", reqid, "error", err)
			}
		}
	}

	if e.cfg.Gox.LoadFullDepth {
		go e.pullFullDepth()
	}
	if e.cfg.Gox.LoadHistory {
		go e.pullHistory()
	}

	return nil
}

func bootstrapEndpoint(reqid string) string {
	switch reqid {
	case "info":
		return "private/info"
	case "orders":
		return "private/orders"
	case "idkey":
		return "private/idkey"
	default:
		return ""
	}
}

func (e *Engine) pullFullDepth() {
	snap, err := e.puller.FullDepth(context.Background())
	if err != nil {
		e.logger.Error("fulldepth snapshot pull failed", "error", err)
		return
	}
	asks := make([]types.PriceLevel, len(snap.Asks))
	for i, a := range snap.Asks {
		asks[i] = types.PriceLevel{Price: a.PriceInt, Volume: a.AmountInt, Side: types.Ask}
	}
	bids := make([]types.PriceLevel, len(snap.Bids))
	for i, b := range snap.Bids {
		bids[i] = types.PriceLevel{Price: b.PriceInt, Volume: b.AmountInt, Side: types.Bid}
	}
	e.book.ApplyFullDepth(asks, bids)
}

func (e *Engine) pullHistory() {
	trades, err := e.puller.RecentTrades(context.Background())
	if err != nil {
		e.logger.Error("recent-trades snapshot pull failed", "error", err)
		return
	}
	e.history.ApplyFullHistory(trades)
}

// dispatch fires every field handler whose key is present in frame.
func (e *Engine) dispatch(raw []byte) {
	var frame wireFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		e.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	if frame.Op == "remark" && frame.Success != nil {
		e.signer.HandleRemark(frame.Id, *frame.Success)
	}
	if frame.Ticker != nil && frame.Ticker.Sell.Currency == e.cfg.Gox.Currency {
		e.book.ApplyTicker(frame.Ticker.Buy.ValueInt, frame.Ticker.Sell.ValueInt)
	}
	if frame.Depth != nil && frame.Depth.Currency == e.cfg.Gox.Currency {
		side := types.Bid
		if frame.Depth.TypeStr == "ask" {
			side = types.Ask
		}
		e.book.ApplyDepth(side, frame.Depth.PriceInt, frame.Depth.TotalVolumeInt)
	}
	if frame.Trade != nil && frame.Trade.PriceCurrency == e.cfg.Gox.Currency {
		if frame.Trade.Channel == "" {
			frame.Trade.Channel = frame.Channel
		}
		if frame.Trade.Own() {
			e.book.ApplyOwnTrade(frame.Trade.PriceInt, frame.Trade.AmountInt)
		} else {
			e.book.ApplyTrade(frame.Trade.PriceInt, frame.Trade.AmountInt)
			e.history.AddTrade(frame.Trade.Date, frame.Trade.PriceInt, frame.Trade.AmountInt)
		}
	}
	if frame.UserOrder != nil {
		e.applyUserOrder(*frame.UserOrder)
	}
	if len(frame.Wallet) > 0 {
		go e.refreshWallet()
	}
	if len(frame.Result) > 0 && frame.Id != "" {
		e.handleResult(frame.Id, frame.Result)
	}
}

func (e *Engine) applyUserOrder(msg types.UserOrderMsg) {
	if msg.Status == "removed" || msg.Price == nil {
		e.book.ApplyUserOrder(types.Order{Oid: msg.Oid, Status: types.StatusRemoved})
		return
	}

	side := types.Bid
	if msg.Type == "ask" {
		side = types.Ask
	}
	var price, volume int64
	if msg.Price != nil {
		price = msg.Price.ValueInt
	}
	if msg.Amount != nil {
		volume = msg.Amount.ValueInt
	}

	e.book.ApplyUserOrder(types.Order{
		Oid:    msg.Oid,
		Price:  price,
		Volume: volume,
		Side:   side,
		Status: types.StatusOpen,
	})
}

func (e *Engine) handleResult(id string, result json.RawMessage) {
	e.signer.HandleResult(id)

	switch id {
	case "idkey":
		var idkey string
		if err := json.Unmarshal(result, &idkey); err != nil {
			e.logger.Error("decode idkey result", "error", err)
			return
		}
		e.idkeyMu.Lock()
		e.idkey = idkey
		e.idkeyMu.Unlock()

		frame, err := json.Marshal(map[string]string{"op": "mtgox.subscribe", "key": idkey})
		if err != nil {
			e.logger.Error("marshal mtgox.subscribe", "error", err)
			return
		}
		if err := e.transport.Send(frame); err != nil {
			e.logger.Error("send mtgox.subscribe", "error", err)
		}

	case "orders":
		var results []types.OrderResult
		if err := json.Unmarshal(result, &results); err != nil {
			e.logger.Error("decode orders result", "error", err)
			return
		}
		orders := make([]types.Order, 0, len(results))
		for _, r := range results {
			if r.Currency != e.cfg.Gox.Currency {
				continue
			}
			side := types.Bid
			if r.Type == "ask" {
				side = types.Ask
			}
			orders = append(orders, types.Order{
				Oid:    r.Oid,
				Price:  r.Price.ValueInt,
				Volume: r.Amount.ValueInt,
				Side:   side,
				Status: types.StatusOpen,
			})
		}
		e.book.ReplaceOwnOrders(orders)

	case "info":
		var info types.InfoResult
		if err := json.Unmarshal(result, &info); err != nil {
			e.logger.Error("decode info result", "error", err)
			return
		}
		e.applyWalletInfo(info)
	}
}

func (e *Engine) refreshWallet() {
	raw, err := e.signer.RestCall(context.Background(), "/api/1/generic/private/info", nil)
	if err != nil {
		e.logger.Error("wallet pull-through failed", "error", err)
		return
	}
	var info types.InfoResult
	if err := json.Unmarshal(raw, &info); err != nil {
		e.logger.Error("decode wallet pull-through", "error", err)
		return
	}
	e.applyWalletInfo(info)
}

func (e *Engine) applyWalletInfo(info types.InfoResult) {
	wallet := make(types.Wallet, len(info.Wallets))
	for currency, w := range info.Wallets {
		wallet[currency] = w.Balance.ValueInt
	}

	e.walletMu.Lock()
	e.wallet = wallet
	e.walletMu.Unlock()

	e.bus.Emit(e.caller, WalletSignal, WalletSignal, wallet)
}

// PlaceOrder issues a signed order-add call. On success it emits
// UserOrderSignal with a "pending" placeholder order carrying the returned
// oid; on failure it returns an empty oid and logs.
func (e *Engine) PlaceOrder(side types.Side, price, volume int64) (string, error) {
	typeParam := "bid"
	if side == types.Ask {
		typeParam = "ask"
	}

	raw, err := e.signer.RestCall(context.Background(), fmt.Sprintf("/api/1/BTC%s/private/order/add", e.cfg.Gox.Currency), map[string]string{
		"type":       typeParam,
		"price_int":  fmt.Sprintf("%d", price),
		"amount_int": fmt.Sprintf("%d", volume),
	})
	if err != nil {
		e.logger.Error("place_order failed", "error", err)
		return "", err
	}

	var add types.OrderAddResult
	if err := json.Unmarshal(raw, &add); err != nil {
		e.logger.Error("decode order/add result", "error", err)
		return "", err
	}

	e.bus.Emit(e.caller, UserOrderSignal, UserOrderSignal, UserOrderEvent{
		Price: price, Volume: volume, Side: side, Oid: add.Return, Status: types.StatusPending,
	})
	return add.Return, nil
}

// Cancel issues a signed order/cancel call. On success it emits
// UserOrderSignal with status "removed".
func (e *Engine) Cancel(oid string) error {
	_, err := e.signer.RestCall(context.Background(), fmt.Sprintf("/api/1/BTC%s/private/order/cancel", e.cfg.Gox.Currency), map[string]string{
		"oid": oid,
	})
	if err != nil {
		e.logger.Error("cancel failed", "oid", oid, "error", err)
		return err
	}

	e.bus.Emit(e.caller, UserOrderSignal, UserOrderSignal, UserOrderEvent{Oid: oid, Status: types.StatusRemoved})
	return nil
}

// CancelByPrice cancels every own order resting at price. Orders are
// iterated in reverse so concurrent removal signals do not invalidate the
// remaining indices.
func (e *Engine) CancelByPrice(price int64) {
	orders := e.book.OwnOrders()
	for i := len(orders) - 1; i >= 0; i-- {
		o := orders[i]
		if o.Price != price || o.Oid == "" {
			continue
		}
		if err := e.Cancel(o.Oid); err != nil {
			e.logger.Error("cancel_by_price failed", "oid", o.Oid, "error", err)
		}
	}
}

// CancelBySide cancels every own order on the given side. A nil side
// cancels every own order regardless of side.
func (e *Engine) CancelBySide(side *types.Side) {
	orders := e.book.OwnOrders()
	for i := len(orders) - 1; i >= 0; i-- {
		o := orders[i]
		if o.Oid == "" {
			continue
		}
		if side != nil && o.Side != *side {
			continue
		}
		if err := e.Cancel(o.Oid); err != nil {
			e.logger.Error("cancel_by_side failed", "oid", o.Oid, "error", err)
		}
	}
}
