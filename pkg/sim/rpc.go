package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/odvcencio/inhabit/pkg/errors"
)

// DefaultRequestTimeout bounds a single simulator round trip.
const DefaultRequestTimeout = 30 * time.Second

// RPC is the simulator surface the adapter drives. Split out so tests
// can substitute canned responses.
type RPC interface {
	DryRunTransactionBlock(ctx context.Context, txBytes string) (json.RawMessage, error)
	DevInspectTransactionBlock(ctx context.Context, sender, txBytes string) (json.RawMessage, error)
}

// Client speaks JSON-RPC 2.0 to a fullnode simulator endpoint.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient builds a simulator client for the given endpoint. A zero
// timeout gets the default.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Call performs one JSON-RPC request and returns the raw result.
func (c *Client) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode rpc request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create rpc request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSimExecution, "simulator request failed").
			WithContext("method", method).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSimExecution, "failed to read simulator response").
			WithContext("method", method).
			WithRetryable(true)
	}
	if resp.StatusCode != http.StatusOK {
		e := errors.New(errors.ErrCodeSimExecution,
			fmt.Sprintf("simulator returned status %d", resp.StatusCode)).
			WithContext("method", method).
			WithContext("status_code", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			e = e.WithRetryable(true)
		}
		return nil, e
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSimExecution, "failed to decode simulator response").
			WithContext("method", method)
	}
	if rpcResp.Error != nil {
		return nil, errors.New(errors.ErrCodeSimExecution, rpcResp.Error.Message).
			WithContext("method", method).
			WithContext("rpc_code", rpcResp.Error.Code)
	}
	return rpcResp.Result, nil
}

// DryRunTransactionBlock submits the encoded transaction for an
// authoritative dry run.
func (c *Client) DryRunTransactionBlock(ctx context.Context, txBytes string) (json.RawMessage, error) {
	return c.Call(ctx, "sui_dryRunTransactionBlock", []any{txBytes})
}

// DevInspectTransactionBlock runs the advisory inspection path, which
// tolerates missing gas coins but yields weaker evidence.
func (c *Client) DevInspectTransactionBlock(ctx context.Context, sender, txBytes string) (json.RawMessage, error) {
	return c.Call(ctx, "sui_devInspectTransactionBlock", []any{sender, txBytes})
}
