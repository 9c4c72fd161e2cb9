package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"chainpay-gateway/config"
	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/internal/core/ports"
	"chainpay-gateway/pkg/apperror"
	"chainpay-gateway/pkg/logger"

	"github.com/rs/zerolog"
)

const (
	retryBaseDelay = 250 * time.Millisecond
	eventsPageSize = 50
)

// Client is the HTTP adapter for the ledger RPC node. All reads retry with
// bounded exponential backoff and honor rate-limit hints; after exhaustion
// the stateful reads hand back a nil "unknown" sentinel instead of an error,
// except Tip, whose failure aborts the caller's reconciliation tick.
type Client struct {
	baseURL    string
	contractID string
	asset      AssetInfo
	httpClient *http.Client
	retries    int
	log        zerolog.Logger
}

var _ ports.ChainClient = (*Client)(nil)

// NewClient builds a ledger RPC client from chain configuration.
func NewClient(cfg config.ChainConfig, log zerolog.Logger) *Client {
	retries := cfg.RPCRetries
	if retries < 1 {
		retries = 3
	}
	return &Client{
		baseURL:    cfg.RPCURL,
		contractID: cfg.ContractID(),
		asset: AssetInfo{
			Address:      cfg.AssetAddress,
			ContractName: cfg.AssetContract,
			TokenName:    cfg.AssetName,
		},
		httpClient: &http.Client{Timeout: cfg.RPCTimeout},
		retries:    retries,
		log:        logger.Component(log, "chain_client"),
	}
}

type tipResponse struct {
	TipHeight uint64 `json:"tip_height"`
	TipHash   string `json:"tip_hash"`
}

// Tip returns the canonical chain head. Unlike the other reads its failure
// is surfaced, because no reconciliation decision is safe without it.
func (c *Client) Tip(ctx context.Context) (ports.ChainTip, error) {
	var resp tipResponse
	if err := c.getJSON(ctx, "/v2/info", &resp); err != nil {
		return ports.ChainTip{}, apperror.ErrChainUnavailable(err)
	}
	return ports.ChainTip{Height: resp.TipHeight, Hash: resp.TipHash}, nil
}

type blockResponse struct {
	Height     uint64 `json:"height"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parent_hash"`
}

// BlockHeader fetches one block's header. Unknown height or retry
// exhaustion returns (nil, nil).
func (c *Client) BlockHeader(ctx context.Context, height uint64) (*ports.BlockHeader, error) {
	var resp blockResponse
	err := c.getJSON(ctx, fmt.Sprintf("/v2/blocks/%d", height), &resp)
	if err != nil {
		c.log.Debug().Err(err).Uint64("height", height).Msg("block header unavailable")
		return nil, nil
	}
	return &ports.BlockHeader{Height: resp.Height, Hash: resp.Hash, ParentHash: resp.ParentHash}, nil
}

type eventsPage struct {
	Events []struct {
		TxID       string          `json:"tx_id"`
		TxIndex    int             `json:"tx_index"`
		EventIndex int             `json:"event_index"`
		EventType  string          `json:"event_type"`
		Height     uint64          `json:"block_height"`
		ContractID string          `json:"contract_id"`
		Topic      string          `json:"topic"`
		Value      json.RawMessage `json:"value"`
		Repr       string          `json:"repr"`
	} `json:"events"`
	Total int `json:"total"`
}

// ContractEvents pages through the contract's event log from fromHeight.
// A failed page returns whatever was already collected plus a nil error;
// the sweep covers anything a truncated read misses.
func (c *Client) ContractEvents(ctx context.Context, fromHeight uint64) ([]ports.RawEvent, error) {
	var all []ports.RawEvent
	offset := 0
	for {
		path := fmt.Sprintf("/v2/contracts/%s/events?from_height=%d&limit=%d&offset=%d",
			c.contractID, fromHeight, eventsPageSize, offset)

		var page eventsPage
		if err := c.getJSON(ctx, path, &page); err != nil {
			c.log.Warn().Err(err).Int("offset", offset).Msg("event log page unavailable")
			return all, nil
		}
		for _, e := range page.Events {
			all = append(all, ports.RawEvent{
				TxID:       e.TxID,
				TxIndex:    e.TxIndex,
				EventIndex: e.EventIndex,
				EventType:  e.EventType,
				Height:     e.Height,
				ContractID: e.ContractID,
				Topic:      e.Topic,
				Value:      e.Value,
				Repr:       e.Repr,
			})
		}
		offset += len(page.Events)
		if len(page.Events) < eventsPageSize || offset >= page.Total {
			return all, nil
		}
	}
}

type invoiceStateResponse struct {
	Found          bool   `json:"found"`
	Paid           bool   `json:"paid"`
	Canceled       bool   `json:"canceled"`
	Expired        bool   `json:"expired"`
	AmountPaid     uint64 `json:"amount_paid"`
	RefundedAmount uint64 `json:"refunded_amount"`
	Payer          string `json:"payer"`
	SettlementTxID string `json:"settlement_tx_id"`
}

// InvoiceState reads the ledger's view of one invoice. The indexer endpoint
// is tried first, then the node's read-only call evaluation; both failing
// (or the id being unknown on-chain) yields (nil, nil).
func (c *Client) InvoiceState(ctx context.Context, id domain.LedgerID) (*ports.OnchainInvoice, error) {
	var resp invoiceStateResponse
	err := c.getJSON(ctx, fmt.Sprintf("/v2/contracts/%s/invoices/%s", c.contractID, id.String()), &resp)
	if err != nil {
		err = c.callRead(ctx, "get-invoice", id, &resp)
	}
	if err != nil || !resp.Found {
		return nil, nil
	}
	return &ports.OnchainInvoice{
		Paid:           resp.Paid,
		Canceled:       resp.Canceled,
		Expired:        resp.Expired,
		AmountPaid:     resp.AmountPaid,
		RefundedAmount: resp.RefundedAmount,
		Payer:          resp.Payer,
		SettlementTxID: resp.SettlementTxID,
	}, nil
}

type subscriptionStateResponse struct {
	Found         bool   `json:"found"`
	Active        bool   `json:"active"`
	NextDueHeight uint64 `json:"next_due_height"`
}

// SubscriptionState reads the ledger's view of one subscription, with the
// same endpoint fallback and nil sentinel as InvoiceState.
func (c *Client) SubscriptionState(ctx context.Context, id domain.LedgerID) (*ports.OnchainSubscription, error) {
	var resp subscriptionStateResponse
	err := c.getJSON(ctx, fmt.Sprintf("/v2/contracts/%s/subscriptions/%s", c.contractID, id.String()), &resp)
	if err != nil {
		err = c.callRead(ctx, "get-subscription", id, &resp)
	}
	if err != nil || !resp.Found {
		return nil, nil
	}
	return &ports.OnchainSubscription{Active: resp.Active, NextDueHeight: resp.NextDueHeight}, nil
}

// callRead evaluates a read-only contract function with the id as its single
// buffer argument. Fallback path when the indexer view is unavailable.
func (c *Client) callRead(ctx context.Context, fn string, id domain.LedgerID, out any) error {
	body := map[string]any{"arguments": []string{"0x" + id.String()}}
	path := fmt.Sprintf("/v2/contracts/call-read/%s/%s", c.contractID, fn)
	return c.postJSON(ctx, path, body, out)
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

// FungibleBalance reads a principal's balance of the settlement asset. This
// backs the refund guard, so exhaustion surfaces as a typed error rather
// than a sentinel a caller could mistake for a zero balance.
func (c *Client) FungibleBalance(ctx context.Context, principal string) (uint64, error) {
	path := fmt.Sprintf("/v2/balances/%s?asset=%s", principal, c.asset.String())
	var resp balanceResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return 0, apperror.ErrChainUnavailable(err)
	}
	balance, err := strconv.ParseUint(resp.Balance, 10, 64)
	if err != nil {
		return 0, apperror.ErrChainUnavailable(fmt.Errorf("malformed balance %q: %w", resp.Balance, err))
	}
	return balance, nil
}

type broadcastResponse struct {
	TxID   string `json:"txid"`
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// Broadcast submits a signed transaction and returns its id. A node-side
// rejection (bad nonce, post-condition failure) is distinguished from
// unavailability so callers can decide whether to retry.
func (c *Client) Broadcast(ctx context.Context, rawTx string) (string, error) {
	var resp broadcastResponse
	err := c.postJSON(ctx, "/v2/transactions", map[string]string{"tx": rawTx}, &resp)
	if err != nil {
		var httpErr *httpStatusError
		if errors.As(err, &httpErr) && httpErr.status >= 400 && httpErr.status < 500 {
			return "", apperror.ErrBroadcastRejected(httpErr.body)
		}
		return "", apperror.ErrChainUnavailable(err)
	}
	if resp.Error != "" {
		reason := resp.Error
		if resp.Reason != "" {
			reason = resp.Reason
		}
		return "", apperror.ErrBroadcastRejected(reason)
	}
	if resp.TxID == "" {
		return "", apperror.ErrNoTransactionID()
	}
	return resp.TxID, nil
}

// --- transport plumbing ---

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("rpc status %d: %s", e.status, e.body)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPost, path, payload, out)
}

// doJSON performs the request with bounded retries. Retryable: transport
// errors, 429 and 5xx. 429 honors Retry-After when present.
func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			if hinted := retryAfterHint(lastErr); hinted > delay {
				delay = hinted
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			if out == nil {
				return nil
			}
			return json.Unmarshal(raw, out)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = &rateLimitedError{
				httpStatusError: httpStatusError{status: resp.StatusCode, body: truncate(raw)},
				retryAfter:      parseRetryAfter(resp.Header),
			}
			continue
		default:
			// Client errors are definitive, retrying cannot help.
			return &httpStatusError{status: resp.StatusCode, body: truncate(raw)}
		}
	}
	return fmt.Errorf("rpc retries exhausted for %s %s: %w", method, path, lastErr)
}

type rateLimitedError struct {
	httpStatusError
	retryAfter time.Duration
}

func retryAfterHint(err error) time.Duration {
	var rl *rateLimitedError
	if errors.As(err, &rl) {
		return rl.retryAfter
	}
	return 0
}

func parseRetryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
