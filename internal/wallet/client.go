// Package wallet provides a typed client for monero-wallet-rpc and the
// monerod daemon. Calls are JSON-RPC 2.0 over HTTP with digest
// authentication, except the monerod lookups made through daemonPost,
// which post plain JSON to their own endpoints. A process-wide single-permit lock models the daemon's
// one-open-wallet-at-a-time constraint.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/neveko-market/nevekod/pkg/logging"
)

// InvalidVersion is the sentinel returned by a liveness probe when the
// peer's wallet RPC is unreachable.
const InvalidVersion = 0

// Client talks to monero-wallet-rpc and monerod.
type Client struct {
	rpcURL     string
	daemonURL  string
	username   string
	password   string
	httpClient *http.Client
	requestID  atomic.Uint64
	log        *logging.Logger

	// busy is the in-process assertion that at most one wallet file is
	// open in the daemon. OpenWallet acquires the single permit and
	// fails fast when it is held; CloseWallet always releases it.
	busy chan struct{}
}

// Config holds wallet client configuration.
type Config struct {
	RPCURL    string
	DaemonURL string
	Username  string
	Password  string
}

// NewClient creates a wallet client.
func NewClient(cfg *Config) *Client {
	return &Client{
		rpcURL:    cfg.RPCURL,
		daemonURL: cfg.DaemonURL,
		username:  cfg.Username,
		password:  cfg.Password,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		log:  logging.GetDefault().Component("wallet"),
		busy: make(chan struct{}, 1),
	}
}

// IsBusy reports whether a wallet file is currently open.
func (c *Client) IsBusy() bool {
	return len(c.busy) == 1
}

// acquire takes the single wallet permit without blocking.
func (c *Client) acquire() bool {
	select {
	case c.busy <- struct{}{}:
		return true
	default:
		return false
	}
}

// release drops the wallet permit. Releasing an idle permit is a no-op
// so CloseWallet is always safe on error paths.
func (c *Client) release() {
	select {
	case <-c.busy:
	default:
	}
}

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call performs a JSON-RPC method call against the wallet RPC endpoint
// and unmarshals the result into out (when non-nil).
func (c *Client) call(ctx context.Context, method string, params, out interface{}) error {
	return c.callURL(ctx, c.rpcURL+"/json_rpc", method, params, out)
}

// daemonCall performs a JSON-RPC method call against monerod.
func (c *Client) daemonCall(ctx context.Context, method string, params, out interface{}) error {
	return c.callURL(ctx, c.daemonURL+"/json_rpc", method, params, out)
}

func (c *Client) callURL(ctx context.Context, url, method string, params, out interface{}) error {
	id := c.requestID.Add(1)
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	raw, err := c.post(ctx, url, body)
	if err != nil {
		return fmt.Errorf("%s failed: %w", method, err)
	}

	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("rpc error %d on %s: %s", resp.Error.Code, method, resp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("failed to parse %s result: %w", method, err)
		}
	}
	return nil
}

// daemonPost hits a plain (non json_rpc) monerod endpoint.
func (c *Client) daemonPost(ctx context.Context, path string, params, out interface{}) error {
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	raw, err := c.post(ctx, c.daemonURL+path, body)
	if err != nil {
		return fmt.Errorf("%s failed: %w", path, err)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to parse %s response: %w", path, err)
		}
	}
	return nil
}

// post sends the request, answering an HTTP digest challenge when the
// endpoint demands one.
func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && c.username != "" {
		challenge := resp.Header.Get("WWW-Authenticate")
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		auth, err := answerDigest(challenge, c.username, c.password, http.MethodPost, req.URL.RequestURI())
		if err != nil {
			return nil, err
		}
		retry, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		retry.Header.Set("Content-Type", "application/json")
		retry.Header.Set("Authorization", auth)
		resp, err = c.httpClient.Do(retry)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return raw, nil
}
