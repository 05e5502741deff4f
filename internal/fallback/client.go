// Package fallback forwards unanswered position queries to an external
// location service speaking the common geolocate wire format. Results
// are cached in Redis and outbound traffic is rate limited so a busy
// deployment cannot overrun the provider's quota.
package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/meridian-geo/meridian/internal/locate"
	"github.com/meridian-geo/meridian/internal/metrics"
)

const (
	// DefaultTimeout for a single outbound request.
	DefaultTimeout = 5 * time.Second
	// DefaultRateLimit is the outbound requests per second budget.
	DefaultRateLimit = rate.Limit(10.0)
	// DefaultUserAgent identifies us to the provider.
	DefaultUserAgent = "meridian/1.0"
	// MaxRetries for transient errors
	MaxRetries = 2
	// RetryBaseDelay is the initial backoff delay
	RetryBaseDelay = 250 * time.Millisecond
)

var (
	// ErrNotFound means the provider definitively knows no position
	// for the query. Unlike transient errors it is cacheable.
	ErrNotFound = errors.New("fallback: position not found")

	// ErrRateLimited means the outbound budget is exhausted and no
	// request was made.
	ErrRateLimited = errors.New("fallback: outbound rate limit reached")
)

// Client calls the external location service.
type Client struct {
	httpClient *http.Client
	url        string
	userAgent  string
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRateLimit sets a custom outbound limit (requests per second).
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithUserAgent overrides the outbound User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a client for the external location service. The
// url is called as-is and may carry provider credentials in its query
// string.
func NewClient(url string, opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		url:       url,
		userAgent: DefaultUserAgent,
		limiter:   rate.NewLimiter(DefaultRateLimit, 1),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Location is a position in the provider's response.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Response is the provider's answer to a position query.
type Response struct {
	Location Location `json:"location"`
	Accuracy float64  `json:"accuracy"`
	Fallback string   `json:"fallback,omitempty"`
}

// Locate asks the provider for a position. It returns ErrNotFound when
// the provider knows no answer, ErrRateLimited when the outbound
// budget is spent, and a transient error otherwise. The provider never
// sees the client IP, so IP based estimates are disabled outbound.
func (c *Client) Locate(ctx context.Context, query locate.InternalQuery) (*Response, error) {
	if !c.limiter.Allow() {
		metrics.FallbackRequestsTotal.WithLabelValues("ratelimited").Inc()
		return nil, ErrRateLimited
	}

	payload, err := json.Marshal(outboundPayload(query))
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	resp, err := c.doWithRetry(ctx, payload)
	switch {
	case err == nil:
		metrics.FallbackRequestsTotal.WithLabelValues("success").Inc()
	case errors.Is(err, ErrNotFound):
		metrics.FallbackRequestsTotal.WithLabelValues("notfound").Inc()
	default:
		metrics.FallbackRequestsTotal.WithLabelValues("error").Inc()
	}
	return resp, err
}

// doWithRetry executes the HTTP POST with exponential backoff. Only
// network failures and server errors are retried: a 404 is a
// definitive answer and client errors will not improve on retry.
func (c *Client) doWithRetry(ctx context.Context, payload []byte) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			delay := RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(
			ctx, http.MethodPost, c.url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error (%d)", resp.StatusCode)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status code %d: %s",
				resp.StatusCode, string(body))
		}

		var result Response
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		return &result, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Wire format of the common geolocate API.
type wireCell struct {
	RadioType         string `json:"radioType"`
	MobileCountryCode int    `json:"mobileCountryCode"`
	MobileNetworkCode int    `json:"mobileNetworkCode"`
	LocationAreaCode  int    `json:"locationAreaCode"`
	CellID            int    `json:"cellId"`
	SignalStrength    *int   `json:"signalStrength,omitempty"`
	TimingAdvance     *int   `json:"timingAdvance,omitempty"`
	PSC               *int   `json:"psc,omitempty"`
}

type wireWifi struct {
	MACAddress         string `json:"macAddress"`
	SignalStrength     *int   `json:"signalStrength,omitempty"`
	SignalToNoiseRatio *int   `json:"signalToNoiseRatio,omitempty"`
	Channel            *int   `json:"channel,omitempty"`
	Frequency          *int   `json:"frequency,omitempty"`
}

type wireFallbacks struct {
	LACF bool `json:"lacf"`
	IPF  bool `json:"ipf"`
}

type wireQuery struct {
	CellTowers       []wireCell    `json:"cellTowers,omitempty"`
	WifiAccessPoints []wireWifi    `json:"wifiAccessPoints,omitempty"`
	Fallbacks        wireFallbacks `json:"fallbacks"`
	ConsiderIP       bool          `json:"considerIp"`
}

func outboundPayload(query locate.InternalQuery) wireQuery {
	out := wireQuery{
		// our server IP says nothing about the client's position
		ConsiderIP: false,
		Fallbacks:  wireFallbacks{LACF: query.Fallbacks.LACF, IPF: false},
	}
	for _, cell := range query.Cell {
		out.CellTowers = append(out.CellTowers, wireCell{
			RadioType:         cell.Radio.String(),
			MobileCountryCode: cell.MCC,
			MobileNetworkCode: cell.MNC,
			LocationAreaCode:  cell.LAC,
			CellID:            cell.CID,
			SignalStrength:    cell.Signal,
			TimingAdvance:     cell.TA,
			PSC:               cell.PSC,
		})
	}
	for _, wifi := range query.Wifi {
		out.WifiAccessPoints = append(out.WifiAccessPoints, wireWifi{
			MACAddress:         wifi.MAC,
			SignalStrength:     wifi.Signal,
			SignalToNoiseRatio: wifi.SNR,
			Channel:            wifi.Channel,
			Frequency:          wifi.Frequency,
		})
	}
	return out
}
