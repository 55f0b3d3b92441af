// Package bundler submits ERC-4337 user operations over JSON-RPC.
package bundler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ligun0805/incentiv-bot/internal/userop"
)

type rpcReq struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int64  `json:"id"`
}

type rpcResp struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object returned by the bundler.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("bundler error %d: %s", e.Code, e.Message) }

// Client talks to one bundler endpoint on behalf of one account.
type Client struct {
	URL        string
	EntryPoint common.Address
	Header     http.Header
	Attempts   int
	RetryDelay time.Duration
	Logf       func(string, ...any)
	http       *http.Client
	seq        atomic.Int64
}

func NewClient(url string, entryPoint common.Address, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{
		URL:        url,
		EntryPoint: entryPoint,
		Header:     http.Header{},
		Attempts:   5,
		RetryDelay: 5 * time.Second,
		http:       hc,
	}
}

func (c *Client) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}

// call posts one request. Transport and HTTP failures are retried; JSON-RPC errors are returned as *RPCError.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	attempts := c.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		rerr, err := c.once(ctx, method, params, out)
		if err == nil {
			if rerr != nil {
				return rerr
			}
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logf("%s attempt %d/%d: %v", method, attempt, attempts, err)
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.RetryDelay):
			}
		}
	}
	return fmt.Errorf("%s: %w", method, lastErr)
}

func (c *Client) once(ctx context.Context, method string, params []any, out any) (*RPCError, error) {
	body, err := json.Marshal(rpcReq{Jsonrpc: "2.0", Method: method, Params: params, ID: c.seq.Add(1)})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var jr rpcResp
	if jerr := json.Unmarshal(rb, &jr); jerr != nil {
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(rb)))
		}
		return nil, fmt.Errorf("decode response: %w", jerr)
	}
	if jr.Error != nil {
		return jr.Error, nil
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(jr.Result, out); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	return nil, nil
}

// Quantity accepts "0x.." hex, decimal strings and JSON numbers.
type Quantity struct{ big.Int }

func (q *Quantity) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return fmt.Errorf("empty quantity")
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	if _, ok := q.SetString(s, base); !ok {
		return fmt.Errorf("bad quantity %s", string(b))
	}
	return nil
}

type gasEstimateJSON struct {
	PreVerificationGas   *Quantity `json:"preVerificationGas"`
	VerificationGasLimit *Quantity `json:"verificationGasLimit"`
	CallGasLimit         *Quantity `json:"callGasLimit"`
}

// EstimateUserOperationGas runs eth_estimateUserOperationGas against the configured EntryPoint.
func (c *Client) EstimateUserOperationGas(ctx context.Context, op *userop.UserOperation) (userop.GasEstimate, error) {
	var raw gasEstimateJSON
	if err := c.call(ctx, "eth_estimateUserOperationGas", []any{op, c.EntryPoint}, &raw); err != nil {
		return userop.GasEstimate{}, err
	}
	if raw.PreVerificationGas == nil || raw.VerificationGasLimit == nil || raw.CallGasLimit == nil {
		return userop.GasEstimate{}, fmt.Errorf("eth_estimateUserOperationGas: incomplete result")
	}
	return userop.GasEstimate{
		PreVerificationGas:   new(big.Int).Set(&raw.PreVerificationGas.Int),
		VerificationGasLimit: new(big.Int).Set(&raw.VerificationGasLimit.Int),
		CallGasLimit:         new(big.Int).Set(&raw.CallGasLimit.Int),
	}, nil
}

// SendUserOperation submits a signed operation and returns its user-op hash.
func (c *Client) SendUserOperation(ctx context.Context, op *userop.UserOperation) (common.Hash, error) {
	var hash string
	if err := c.call(ctx, "eth_sendUserOperation", []any{op, c.EntryPoint}, &hash); err != nil {
		return common.Hash{}, err
	}
	if len(strings.TrimPrefix(hash, "0x")) != 64 {
		return common.Hash{}, fmt.Errorf("eth_sendUserOperation: unexpected result %q", hash)
	}
	return common.HexToHash(hash), nil
}
