// Package snapshot implements the one-shot REST pulls the engine issues on
// startup (and on demand): full order-book depth and recent-trade history,
// used to bootstrap the in-memory book and candle history before streaming
// deltas are applied. The pulls are plain GETs; they carry no Rest-Key or
// Rest-Sign headers.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"goxengine/internal/ratelimit"
	"goxengine/pkg/types"
)

// Puller issues one-shot REST fetches against the exchange's public data
// endpoints. Unlike Signer's RestCall, these reads are unauthenticated.
type Puller struct {
	http     *resty.Client
	currency string
	rl       *ratelimit.Limiters
	logger   *slog.Logger
}

// New creates a Puller against baseURL, e.g. "https://mtgox.com".
func New(baseURL, currency string, rl *ratelimit.Limiters, logger *slog.Logger) *Puller {
	if logger == nil {
		logger = slog.Default()
	}
	if rl == nil {
		rl = ratelimit.New()
	}
	return &Puller{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(15 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				return r.StatusCode() >= 500
			}),
		currency: currency,
		rl:       rl,
		logger:   logger.With("component", "snapshot"),
	}
}

// FullDepth fetches the complete resting order book. Asks are returned in
// the order the server sends them; Bids are caller-ordered by the book
// package (index 0 must end up the highest bid).
func (p *Puller) FullDepth(ctx context.Context) (*types.FullDepthSnapshot, error) {
	if err := p.rl.Snapshot.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.FullDepthSnapshot
	resp, err := p.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get(fmt.Sprintf("/api/2/%s/money/depth/full", p.currency))
	if err != nil {
		return nil, fmt.Errorf("fetch fulldepth: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch fulldepth: status %d: %s", resp.StatusCode(), resp.String())
	}

	p.logger.Debug("fulldepth snapshot fetched", "asks", len(result.Asks), "bids", len(result.Bids))
	return &result, nil
}

// RecentTrades fetches the trade history used to seed candle history before
// live trade pushes resume it.
func (p *Puller) RecentTrades(ctx context.Context) ([]types.TradeMsg, error) {
	if err := p.rl.Snapshot.Wait(ctx); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	resp, err := p.http.R().
		SetContext(ctx).
		SetResult(&raw).
		Get(fmt.Sprintf("/api/2/%s/money/trades/fetch", p.currency))
	if err != nil {
		return nil, fmt.Errorf("fetch trades: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch trades: status %d: %s", resp.StatusCode(), resp.String())
	}

	var trades []types.TradeMsg
	if err := json.Unmarshal(raw, &trades); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}

	p.logger.Debug("recent trades snapshot fetched", "count", len(trades))
	return trades, nil
}
