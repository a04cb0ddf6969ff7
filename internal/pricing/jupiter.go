// Package pricing queries a price oracle and feeds periodic price snapshots
// into the ledger.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Default configuration values.
const (
	DefaultEndpoint    = "https://api.jup.ag/price/v2"
	DefaultTimeout     = 10 * time.Second
	DefaultMaxRetries  = 2
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultBackoffMult = 2.0
	DefaultBatchSize   = 100
)

// PriceOracle returns quote-currency prices keyed by asset id. Ids the
// oracle does not know are absent from the map.
type PriceOracle interface {
	Prices(ctx context.Context, ids []string) (map[string]float64, error)
}

var errRetryable = errors.New("retryable")

// JupiterClient implements PriceOracle against the Jupiter price API.
type JupiterClient struct {
	endpoint    string
	apiKey      string
	client      *http.Client
	batchSize   int
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// JupiterOption configures JupiterClient.
type JupiterOption func(*JupiterClient)

// WithAPIKey sets the x-api-key header.
func WithAPIKey(key string) JupiterOption {
	return func(c *JupiterClient) {
		c.apiKey = key
	}
}

// WithBatchSize sets the maximum ids per request.
func WithBatchSize(n int) JupiterOption {
	return func(c *JupiterClient) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithMaxRetries sets maximum retry attempts per request.
func WithMaxRetries(n int) JupiterOption {
	return func(c *JupiterClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) JupiterOption {
	return func(c *JupiterClient) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) JupiterOption {
	return func(c *JupiterClient) {
		c.client = client
	}
}

// NewJupiterClient creates a price client. An empty endpoint uses
// DefaultEndpoint.
func NewJupiterClient(endpoint string, opts ...JupiterOption) *JupiterClient {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &JupiterClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		batchSize:   DefaultBatchSize,
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ PriceOracle = (*JupiterClient)(nil)

// priceResponse is the price API payload. Unknown ids map to null.
type priceResponse struct {
	Data map[string]*struct {
		ID    string `json:"id"`
		Price string `json:"price"`
	} `json:"data"`
}

// Prices fetches prices for ids, splitting them into batches. Any failed
// batch fails the whole call.
func (c *JupiterClient) Prices(ctx context.Context, ids []string) (map[string]float64, error) {
	out := make(map[string]float64, len(ids))
	for start := 0; start < len(ids); start += c.batchSize {
		end := start + c.batchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := c.fetchBatch(ctx, ids[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *JupiterClient) fetchBatch(ctx context.Context, ids []string, out map[string]float64) error {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("ids", strings.Join(ids, ","))
	u.RawQuery = q.Encode()

	delay := c.retryDelay
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		resp, err := c.attempt(ctx, u.String())
		if errors.Is(err, errRetryable) {
			lastErr = err
			continue
		}
		if err != nil {
			return err
		}
		return mergePrices(resp, out)
	}
	return fmt.Errorf("prices: max retries exceeded: %w", lastErr)
}

func (c *JupiterClient) attempt(ctx context.Context, rawURL string) (*priceResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: http request: %v", errRetryable, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", errRetryable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: HTTP %d", errRetryable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var pr priceResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &pr, nil
}

// mergePrices copies positive, parseable prices into out.
func mergePrices(resp *priceResponse, out map[string]float64) error {
	for id, entry := range resp.Data {
		if entry == nil || entry.Price == "" {
			continue
		}
		d, err := decimal.NewFromString(entry.Price)
		if err != nil {
			return fmt.Errorf("price for %s: %w", id, err)
		}
		if !d.IsPositive() {
			continue
		}
		out[id] = d.InexactFloat64()
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
