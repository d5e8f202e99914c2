// Package i2p provides the hidden-service transport surface: an HTTP
// client routed through the local i2p proxy, the node's own destination,
// and a router connectivity checker.
package i2p

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/neveko-market/nevekod/internal/config"
	"github.com/neveko-market/nevekod/pkg/logging"
)

// Status values surfaced by the connectivity check.
const (
	StatusOpen    = "Open"
	StatusOpening = "Opening"
)

// Client reaches .b32.i2p destinations through the local proxy.
type Client struct {
	proxyURL    string
	destination string
	httpClient  *http.Client
	probeClient *http.Client
	log         *logging.Logger

	mu   sync.RWMutex
	last string
}

// NewClient creates an i2p transport client.
func NewClient(cfg config.I2PConfig) (*Client, error) {
	proxy, err := url.Parse(cfg.ProxyURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		proxyURL:    cfg.ProxyURL,
		destination: cfg.Destination,
		httpClient: &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxy)},
			Timeout:   2 * time.Minute,
		},
		probeClient: &http.Client{Timeout: 10 * time.Second},
		log:         logging.GetDefault().Component("i2p"),
		last:        StatusOpening,
	}, nil
}

// Destination returns this node's own .b32.i2p address.
func (c *Client) Destination() string {
	return c.destination
}

// HTTP returns the proxied client used for all peer calls.
func (c *Client) HTTP() *http.Client {
	return c.httpClient
}

// Status probes the local router proxy and reports Open or Opening.
func (c *Client) Status(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.proxyURL, nil)
	if err != nil {
		return StatusOpening
	}
	resp, err := c.probeClient.Do(req)
	if err != nil {
		c.setLast(StatusOpening)
		return StatusOpening
	}
	resp.Body.Close()
	c.setLast(StatusOpen)
	return StatusOpen
}

// LastStatus returns the most recently observed router state.
func (c *Client) LastStatus() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Client) setLast(s string) {
	c.mu.Lock()
	c.last = s
	c.mu.Unlock()
}

// RunConnectivityCheck probes the router until ctx is cancelled.
func (c *Client) RunConnectivityCheck(ctx context.Context) {
	ticker := time.NewTicker(config.I2PCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := c.Status(ctx)
			c.log.Debug("router connectivity", "status", status)
		}
	}
}
