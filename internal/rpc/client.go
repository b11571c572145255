package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/loyalpass/loyalpass/internal/chain"
	"github.com/loyalpass/loyalpass/internal/ledger"
)

const (
	commitment = "confirmed"

	// DefaultPollInterval is how often confirmation status is polled.
	DefaultPollInterval = 500 * time.Millisecond

	maxConsecutivePollErrors = 5
)

// Error is a JSON-RPC error object returned by the node.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Endpoint picks the RPC URL: an explicit URL wins, then a Helius URL for network when
// an API key is configured, then the public cluster endpoint.
func Endpoint(network, rpcURL, heliusAPIKey string) string {
	switch {
	case rpcURL != "":
		return rpcURL
	case heliusAPIKey != "":
		return fmt.Sprintf("https://%s.helius-rpc.com/?api-key=%s", network, heliusAPIKey)
	case network == "mainnet":
		return "https://api.mainnet-beta.solana.com"
	default:
		return "https://api.devnet.solana.com"
	}
}

// Client is a Solana JSON-RPC client implementing ledger.Network. It sets no request
// timeout of its own; callers bound every call with their context.
type Client struct {
	endpoint     string
	http         *http.Client
	pollInterval time.Duration
	logger       *slog.Logger
	nextID       atomic.Int64
}

var _ ledger.Network = (*Client)(nil)

// NewClient constructs a client for endpoint.
func NewClient(endpoint string, pollInterval time.Duration, logger *slog.Logger) *Client {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:     endpoint,
		http:         &http.Client{},
		pollInterval: pollInterval,
		logger:       logger,
	}
}

func (c *Client) LatestBlockhash(ctx context.Context) (ledger.Blockhash, error) {
	var result struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getLatestBlockhash", []any{map[string]string{"commitment": commitment}}, &result); err != nil {
		return ledger.Blockhash{}, err
	}
	hash, err := chain.HashFromBase58(result.Value.Blockhash)
	if err != nil {
		return ledger.Blockhash{}, err
	}
	return ledger.Blockhash{Hash: hash, LastValidBlockHeight: result.Value.LastValidBlockHeight}, nil
}

func (c *Client) MinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error) {
	var lamports uint64
	if err := c.call(ctx, "getMinimumBalanceForRentExemption", []any{size}, &lamports); err != nil {
		return 0, err
	}
	return lamports, nil
}

// SendTransaction submits raw bytes with preflight. Node-side errors are definite
// rejections; transport errors are returned unwrapped because delivery is unknown.
func (c *Client) SendTransaction(ctx context.Context, raw []byte) (chain.Signature, error) {
	params := []any{
		base64.StdEncoding.EncodeToString(raw),
		map[string]string{"encoding": "base64", "preflightCommitment": commitment},
	}
	var sig string
	if err := c.call(ctx, "sendTransaction", params, &sig); err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			return chain.Signature{}, fmt.Errorf("%w: %w", ledger.ErrTransactionRejected, err)
		}
		return chain.Signature{}, err
	}
	return chain.SignatureFromBase58(sig)
}

type signatureStatus struct {
	Slot               uint64          `json:"slot"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

func (s *signatureStatus) failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

func (s *signatureStatus) confirmed() bool {
	return s.ConfirmationStatus == "confirmed" || s.ConfirmationStatus == "finalized"
}

// ConfirmTransaction polls until sig reaches confirmed commitment, fails, or the block
// height passes lastValidBlockHeight.
func (c *Client) ConfirmTransaction(ctx context.Context, sig chain.Signature, lastValidBlockHeight uint64) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var failures int
	for {
		done, err := c.pollOnce(ctx, sig, lastValidBlockHeight)
		switch {
		case done:
			return err
		case err != nil:
			failures++
			c.logger.Warn("confirmation poll failed", slog.String("signature", sig.String()), slog.Int("attempt", failures), slog.Any("error", err))
			if failures >= maxConsecutivePollErrors {
				return fmt.Errorf("confirm %s: %w", sig, err)
			}
		default:
			failures = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) pollOnce(ctx context.Context, sig chain.Signature, lastValid uint64) (bool, error) {
	status, err := c.signatureStatus(ctx, sig)
	if err != nil {
		return false, err
	}
	if status != nil {
		if status.failed() {
			return true, fmt.Errorf("%w: %s", ledger.ErrTransactionFailed, string(status.Err))
		}
		if status.confirmed() {
			return true, nil
		}
		return false, nil
	}

	var height uint64
	if err := c.call(ctx, "getBlockHeight", []any{map[string]string{"commitment": commitment}}, &height); err != nil {
		return false, err
	}
	if height <= lastValid {
		return false, nil
	}
	// one more look in case it landed in the final valid block
	status, err = c.signatureStatus(ctx, sig)
	if err != nil {
		return false, err
	}
	if status != nil {
		return false, nil
	}
	return true, fmt.Errorf("%w: block height %d passed %d", ledger.ErrBlockhashExpired, height, lastValid)
}

func (c *Client) signatureStatus(ctx context.Context, sig chain.Signature) (*signatureStatus, error) {
	var result struct {
		Value []*signatureStatus `json:"value"`
	}
	params := []any{[]string{sig.String()}, map[string]bool{"searchTransactionHistory": true}}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return nil, err
	}
	if len(result.Value) == 0 {
		return nil, nil
	}
	return result.Value[0], nil
}

func (c *Client) TokenAccountsByOwner(ctx context.Context, owner, mint chain.PublicKey) ([]ledger.TokenAccountRecord, error) {
	var result struct {
		Value []struct {
			Pubkey  string `json:"pubkey"`
			Account struct {
				Data []string `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	params := []any{
		owner.String(),
		map[string]string{"mint": mint.String()},
		map[string]string{"encoding": "base64", "commitment": commitment},
	}
	if err := c.call(ctx, "getTokenAccountsByOwner", params, &result); err != nil {
		return nil, err
	}
	out := make([]ledger.TokenAccountRecord, 0, len(result.Value))
	for _, v := range result.Value {
		addr, err := chain.PublicKeyFromBase58(v.Pubkey)
		if err != nil {
			return nil, err
		}
		if len(v.Account.Data) == 0 {
			return nil, fmt.Errorf("token account %s: missing data", addr.Short())
		}
		data, err := base64.StdEncoding.DecodeString(v.Account.Data[0])
		if err != nil {
			return nil, fmt.Errorf("token account %s: decode data: %w", addr.Short(), err)
		}
		out = append(out, ledger.TokenAccountRecord{Address: addr, Data: data})
	}
	return out, nil
}

func (c *Client) Balance(ctx context.Context, address chain.PublicKey) (uint64, error) {
	var result struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []any{address.String(), map[string]string{"commitment": commitment}}, &result); err != nil {
		return 0, err
	}
	return result.Value, nil
}

func (c *Client) SignaturesForAddress(ctx context.Context, address chain.PublicKey, limit int) ([]ledger.SignatureInfo, error) {
	var result []struct {
		Signature string          `json:"signature"`
		Slot      uint64          `json:"slot"`
		BlockTime *int64          `json:"blockTime"`
		Err       json.RawMessage `json:"err"`
	}
	params := []any{address.String(), map[string]any{"limit": limit, "commitment": commitment}}
	if err := c.call(ctx, "getSignaturesForAddress", params, &result); err != nil {
		return nil, err
	}
	out := make([]ledger.SignatureInfo, 0, len(result))
	for _, r := range result {
		info := ledger.SignatureInfo{Signature: r.Signature, Slot: r.Slot, BlockTime: r.BlockTime}
		if len(r.Err) > 0 && string(r.Err) != "null" {
			info.Err = string(r.Err)
		}
		out = append(out, info)
	}
	return out, nil
}

func (c *Client) RequestAirdrop(ctx context.Context, address chain.PublicKey, lamports uint64) (chain.Signature, error) {
	var sig string
	if err := c.call(ctx, "requestAirdrop", []any{address.String(), lamports}, &sig); err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			return chain.Signature{}, fmt.Errorf("%w: %w", ledger.ErrTransactionRejected, err)
		}
		return chain.Signature{}, err
	}
	return chain.SignatureFromBase58(sig)
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	id := c.nextID.Add(1)
	buf, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc %s failed: status=%d", method, resp.StatusCode)
	}
	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("rpc %s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc %s: %w", method, rpcResp.Error)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("rpc %s returned empty result", method)
	}
	return json.Unmarshal(rpcResp.Result, out)
}
