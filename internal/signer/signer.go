// Package signer implements the engine's authenticated call multiplexer:
// it builds both the streaming signed call and the REST signed call, tracks
// in-flight requests by caller-chosen reqid, and automatically resends
// bootstrap calls the server silently dropped.
package signer

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"goxengine/pkg/types"
)

// bootstrapIDs are the three reqids the server is known to silently drop
// without acting; a remark of failure on one of these triggers exactly one
// automatic resend.
var bootstrapIDs = map[string]bool{"idkey": true, "info": true, "orders": true}

// Sender is the minimal transport capability the signer needs to emit a
// streaming signed call frame.
type Sender interface {
	Send(frame []byte) error
}

// Signer multiplexes authenticated calls over both surfaces described in
// the wire protocol: the streaming duplex transport, and one-shot REST.
type Signer struct {
	cred     *types.Credential
	currency string
	item     string // base asset, "BTC"
	sender   Sender
	http     *resty.Client
	logger   *slog.Logger

	mu        sync.Mutex
	lastNonce int64
	pending   map[string]types.PendingCall
	resent    map[string]bool // bootstrap reqid -> already resent once
}

// New creates a Signer. httpBaseURL is the REST API origin, e.g.
// "https://mtgox.com". cred may be nil, in which case every call errors
// with "don't know secret" and the engine stays in read-only mode.
func New(cred *types.Credential, currency, httpBaseURL string, sender Sender, logger *slog.Logger) *Signer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{
		cred:     cred,
		currency: currency,
		item:     "BTC",
		sender:   sender,
		http:     resty.New().SetBaseURL(httpBaseURL).SetTimeout(10 * time.Second),
		logger:   logger.With("component", "signer"),
		pending:  make(map[string]types.PendingCall),
		resent:   make(map[string]bool),
	}
}

// ErrNoCredential is returned by every authenticated call path when no
// credential is configured.
var ErrNoCredential = fmt.Errorf("don't know secret")

// nextNonce returns a microsecond-resolution nonce, busy-incrementing past
// any nonce already issued this (process, monotonic-clock) lifetime so two
// calls issued within the same microsecond never collide — the wall clock
// alone is not guaranteed to advance between calls.
func (s *Signer) nextNonce() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMicro()
	if now <= s.lastNonce {
		now = s.lastNonce + 1
	}
	s.lastNonce = now
	return now
}

type streamingCallBody struct {
	Id       string            `json:"id"`
	Call     string            `json:"call"`
	Nonce    int64             `json:"nonce"`
	Params   map[string]string `json:"params"`
	Currency string            `json:"currency"`
	Item     string            `json:"item"`
}

// StreamingCall sends one authenticated call over the duplex transport,
// correlated to reqid. The response arrives later as a {result,id} frame
// handled by HandleResult.
func (s *Signer) StreamingCall(reqid, endpoint string, params map[string]string) error {
	if !s.cred.HasSecret() {
		return ErrNoCredential
	}

	body := streamingCallBody{
		Id:       reqid,
		Call:     endpoint,
		Nonce:    s.nextNonce(),
		Params:   params,
		Currency: s.currency,
		Item:     s.item,
	}
	jsonBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal call: %w", err)
	}

	mac := hmac.New(sha512.New, s.cred.Secret)
	mac.Write(jsonBytes)
	sig := mac.Sum(nil)

	payload := append(append(append([]byte(nil), s.cred.Key...), sig...), jsonBytes...)
	b64 := base64.StdEncoding.EncodeToString(payload)

	frame, err := json.Marshal(map[string]string{
		"op":      "call",
		"call":    b64,
		"id":      reqid,
		"context": "mtgox.com",
	})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	s.trackPending(reqid, endpoint, params)
	return s.sender.Send(frame)
}

func (s *Signer) trackPending(reqid, endpoint string, params map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[reqid] = types.PendingCall{Reqid: reqid, Endpoint: endpoint, Params: params, Sent: time.Now()}
}

// RestCall issues a REST signed call: x-www-form-urlencoded params plus a
// microsecond nonce, HMAC-SHA512 over the body bytes, Rest-Key/Rest-Sign
// headers. It returns the decoded JSON reply's "return" field as raw JSON
// when result == "success", and an error otherwise.
func (s *Signer) RestCall(ctx context.Context, endpoint string, params map[string]string) (json.RawMessage, error) {
	if !s.cred.HasSecret() {
		return nil, ErrNoCredential
	}

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	form.Set("nonce", fmt.Sprintf("%d", s.nextNonce()))
	body := form.Encode()

	mac := hmac.New(sha512.New, s.cred.Secret)
	mac.Write([]byte(body))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	var reply struct {
		Result string          `json:"result"`
		Return json.RawMessage `json:"return"`
	}

	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetHeader("Rest-Key", hex.EncodeToString(s.cred.Key)).
		SetHeader("Rest-Sign", sig).
		SetHeader("User-Agent", "goxtool").
		SetBody(body).
		SetResult(&reply).
		Post(endpoint)
	if err != nil {
		return nil, fmt.Errorf("rest call %s: %w", endpoint, err)
	}
	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("rest call %s: status %d", endpoint, resp.StatusCode())
	}
	if reply.Result != "success" {
		return nil, fmt.Errorf("rest call %s failed: %s", endpoint, resp.String())
	}
	return reply.Return, nil
}

// HandleResult removes the pending call matching id, if any. It reports
// whether a pending call was actually resolved, so callers can distinguish
// a genuine reply from an unmatched or stale id.
func (s *Signer) HandleResult(id string) (types.PendingCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
		delete(s.resent, id)
	}
	return call, ok
}

// HandleRemark processes a {op:"remark", success:false, id} frame. When id
// is one of the bootstrap reqids and has not already been resent once, it
// resends the original call reusing the same reqid and reports true.
func (s *Signer) HandleRemark(id string, success bool) bool {
	if success || !bootstrapIDs[id] {
		return false
	}

	s.mu.Lock()
	if s.resent[id] {
		s.mu.Unlock()
		return false
	}
	call, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.resent[id] = true
	s.mu.Unlock()

	s.logger.Warn("bootstrap call silently failed, resending once", "id", id)
	if err := s.StreamingCall(call.Reqid, call.Endpoint, call.Params); err != nil {
		s.logger.Error("bootstrap resend failed", "id", id, "error", err)
		return false
	}
	return true
}
