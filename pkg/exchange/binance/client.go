// Package binance implements the exchange adapter for Binance spot and USD-M
// futures: REST market data, signed account endpoints, and the multiplexed
// combined stream.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tickwire/tickwire/pkg/config"
	"github.com/tickwire/tickwire/pkg/subkey"
)

// APIError is a non-2xx response from Binance, with the decoded error body
// when one was present.
type APIError struct {
	StatusCode int
	Code       int    // Binance error code, e.g. -1121
	Message    string // Binance error message
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("binance api error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("binance api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the request should be retried. 418 is the
// Binance auto-ban escalation of 429; retrying after backoff is correct for
// both.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429 || e.StatusCode == 418
}

// Client talks to Binance. Safe for concurrent use.
type Client struct {
	cfg        config.ExchangeConfig
	httpClient *http.Client
	signer     *signer // nil when credentials are not configured
	log        *slog.Logger
}

// New builds a client from the exchange section. Credentials are optional;
// without them signed endpoints return exchange.ErrNoCredentials.
func New(cfg config.ExchangeConfig) (*Client, error) {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout.Std()},
		log:        slog.With("component", "binance"),
	}

	if cfg.Signed() {
		s, err := loadSigner(cfg.KeyType, cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load signing key: %w", err)
		}
		c.signer = s
		c.log.Info("Signed endpoints enabled", "key_type", cfg.KeyType)
	}
	return c, nil
}

// Name returns the exchange label used in canonical symbols.
func (c *Client) Name() string { return c.cfg.Name }

func (c *Client) baseURL(market string) string {
	if market == subkey.MarketFutures {
		return c.cfg.FuturesRESTURL
	}
	return c.cfg.RESTURL
}

// canonicalSymbol renders the platform symbol for a native one:
// BTCUSDT on FUTURES becomes BINANCE:BTCUSDT.P.
func (c *Client) canonicalSymbol(market, native string) string {
	s := c.cfg.Name + ":" + native
	if market == subkey.MarketFutures {
		s += "." + subkey.SuffixPerpetual
	}
	return s
}

// doRequest performs one HTTP request. Signed requests get timestamp,
// recvWindow and signature appended; the signature covers the exact encoded
// query string that is sent.
func (c *Client) doRequest(ctx context.Context, method, market, path string, query url.Values, signed bool) ([]byte, error) {
	if query == nil {
		query = url.Values{}
	}

	if signed {
		if c.signer == nil {
			return nil, fmt.Errorf("%s %s: credentials not configured", method, path)
		}
		query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		if c.cfg.RecvWindowMS > 0 {
			query.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindowMS, 10))
		}
	}

	qs := query.Encode()
	fullURL := c.baseURL(market) + path
	if qs != "" {
		fullURL += "?" + qs
	}
	if signed {
		sig, err := c.signer.Sign(qs)
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
		fullURL += "&signature=" + url.QueryEscape(sig)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var wire struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &wire) == nil && wire.Msg != "" {
			apiErr.Code = wire.Code
			apiErr.Message = wire.Msg
		}
		return nil, apiErr
	}
	return body, nil
}

// doWithRetry retries retryable failures with jittered exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, method, market, path string, query url.Values, signed bool) ([]byte, error) {
	var lastErr error
	backoff := 500 * time.Millisecond

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			c.log.Debug("Retrying request", "attempt", attempt, "backoff", jitter, "path", path)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}
			backoff *= 2
		}

		// Signed queries embed a timestamp, so each attempt must be
		// rebuilt rather than replayed.
		attemptQuery := url.Values{}
		for k, vs := range query {
			attemptQuery[k] = vs
		}

		body, err := c.doRequest(ctx, method, market, path, attemptQuery, signed)
		if err == nil {
			return body, nil
		}
		lastErr = err

		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.IsRetryable() {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// get performs a GET with retries and decodes the JSON response.
func (c *Client) get(ctx context.Context, market, path string, query url.Values, signed bool, result any) error {
	body, err := c.doWithRetry(ctx, http.MethodGet, market, path, query, signed)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", path, err)
	}
	return nil
}
