package i2p

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ProofHeader carries the JWP on authenticated peer calls.
const ProofHeader = "proof"

// GetJSON performs a proxied GET against a peer path, decoding the JSON
// response body into out. An empty jwp omits the proof header.
func GetJSON(ctx context.Context, c *Client, url, jwp string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if jwp != "" {
		req.Header.Set(ProofHeader, jwp)
	}
	resp, err := c.HTTP().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("i2p: peer returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PostJSON performs a proxied POST against a peer path and returns the
// HTTP status. The response body is decoded into out when the peer
// answers 2xx and out is non-nil.
func PostJSON(ctx context.Context, c *Client, url, jwp string, body, out interface{}) (int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if jwp != "" {
		req.Header.Set(ProofHeader, jwp)
	}
	resp, err := c.HTTP().Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
		return resp.StatusCode, nil
	}
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
