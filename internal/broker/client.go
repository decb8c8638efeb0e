package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/quantpilot/quantpilot/internal/telemetry"
)

const (
	headerAPIKey    = "APCA-API-KEY-ID"
	headerSecretKey = "APCA-API-SECRET-KEY"

	apiNameTrading = "alpaca"
	apiNameData    = "alpaca_data"
)

// ClientConfig configures the broker client
type ClientConfig struct {
	APIKey          string
	SecretKey       string
	BaseURL         string // trading API, ends in /v2
	DataURL         string // market data API
	Timeout         time.Duration
	AllowFractional bool
	RequestsPerSec  float64     // request pacing, 0 = broker default
	Retry           RetryConfig // GET retry budget, zero value = defaults
}

// Client is the typed request layer against the broker. It exclusively
// owns the broker HTTP session and is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	cfg        ClientConfig
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	monitor    *telemetry.RateLimitMonitor
	log        zerolog.Logger

	// asset cache: per-key insert-only, last writer wins
	assetMu    sync.RWMutex
	assetCache map[string]AssetInfo

	// 429 back-pressure: next request waits until deferUntil
	deferMu    sync.Mutex
	deferUntil time.Time
}

// NewClient creates a broker client. The circuit breaker guards the
// transport only; business rejections from the broker do not trip it.
func NewClient(cfg ClientConfig, monitor *telemetry.RateLimitMonitor, log zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("broker credentials missing")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 3 // Alpaca free tier allows 200 req/min
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "broker",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(rps), 5),
		breaker:    breaker,
		monitor:    monitor,
		log:        log.With().Str("component", "broker").Logger(),
		assetCache: make(map[string]AssetInfo),
	}, nil
}

// APIKey exposes the configured key for credential presence checks
func (c *Client) APIKey() string {
	return c.cfg.APIKey
}

// waitForDeferral blocks until a previous 429's Retry-After window has
// passed, or the context expires
func (c *Client) waitForDeferral(ctx context.Context) error {
	c.deferMu.Lock()
	until := c.deferUntil
	c.deferMu.Unlock()

	wait := time.Until(until)
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return &TransportError{Err: ctx.Err()}
	case <-time.After(wait):
		return nil
	}
}

func (c *Client) setDeferral(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	c.deferMu.Lock()
	c.deferUntil = time.Now().Add(retryAfter)
	c.deferMu.Unlock()
}

// do performs one HTTP request against the trading or data API. Every call
// records a telemetry CallEvent regardless of outcome.
func (c *Client) do(ctx context.Context, method, base, path, callType string, query url.Values, body interface{}, out interface{}) error {
	apiName := apiNameTrading
	if base == c.cfg.DataURL {
		apiName = apiNameData
	}

	start := time.Now()
	rlRemaining, err := c.doOnce(ctx, method, base, path, query, body, out)
	latency := time.Since(start)

	if c.monitor != nil {
		c.monitor.RecordCall(apiName, callType, err == nil, latency, rlRemaining)
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, method, base, path string, query url.Values, body interface{}, out interface{}) (*int, error) {
	if err := c.waitForDeferral(ctx); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Err: err}
	}

	reqURL := strings.TrimRight(base, "/") + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(headerAPIKey, c.cfg.APIKey)
	req.Header.Set(headerSecretKey, c.cfg.SecretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// The breaker guards the transport: a received HTTP response of any
	// status counts as success for the breaker.
	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &TransportError{Err: err}
		}
		return nil, &TransportError{Err: err}
	}

	resp := result.(*http.Response)
	defer resp.Body.Close()

	var rlRemaining *int
	if v := resp.Header.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rlRemaining = &n
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return rlRemaining, &TransportError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		c.setDeferral(retryAfter)
		c.log.Warn().Dur("retry_after", retryAfter).Str("path", path).Msg("Broker rate limit hit")
		return rlRemaining, &RateLimitedError{RetryAfter: retryAfter}

	case resp.StatusCode >= 400:
		msg := parseBrokerMessage(data)
		return rlRemaining, &BrokerError{Status: resp.StatusCode, Message: msg}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return rlRemaining, fmt.Errorf("failed to decode broker response: %w", err)
		}
	}
	return rlRemaining, nil
}

// parseBrokerMessage extracts the error message from a broker error body
func parseBrokerMessage(data []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(data))
}

// getTrading issues a GET against the trading API. GETs are idempotent, so
// transport failures and rate limits retry with bounded backoff here; order
// submission never does.
func (c *Client) getTrading(ctx context.Context, path, callType string, query url.Values, out interface{}) error {
	return WithRetry(ctx, c.cfg.Retry, func() error {
		return c.do(ctx, http.MethodGet, c.cfg.BaseURL, path, callType, query, nil, out)
	})
}

// getData issues a GET against the market data API, with the same retry
// budget as getTrading
func (c *Client) getData(ctx context.Context, path, callType string, query url.Values, out interface{}) error {
	return WithRetry(ctx, c.cfg.Retry, func() error {
		return c.do(ctx, http.MethodGet, c.cfg.DataURL, path, callType, query, nil, out)
	})
}
