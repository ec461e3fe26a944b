// Package attribution calls the remote attribution service that matches a
// URL to a link record.
package attribution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sundayezeilo/deeplink/errx"
	"github.com/sundayezeilo/deeplink/internal/idgen"
	"github.com/sundayezeilo/deeplink/link"
)

const (
	SDKName = "deeplink-go"
	Version = "1.0.0"

	DefaultPlatform   = "android"
	DefaultMaxRetries = 3
	DefaultTimeout    = 10 * time.Second

	attributePath = "/links/attribute"

	// maxResponseBytes bounds how much of a response body is read (1MB).
	maxResponseBytes = 1 << 20
)

// DefaultBackoff is the wait before the 2nd, 3rd, ... attempt. Attempts past
// the end of the schedule reuse its last entry.
var DefaultBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Config holds everything the client needs. BaseURL and APIKey are
// required; everything else has a default.
type Config struct {
	BaseURL  string
	APIKey   string
	Platform string

	// MaxRetries is the total number of attempts per Attribute call.
	MaxRetries int
	Backoff    []time.Duration

	// Timeout bounds each HTTP round trip. Ignored when HTTPClient is set.
	Timeout    time.Duration
	HTTPClient *http.Client
	UserAgent  string

	// RequestID generates the X-Request-ID sent with every attempt of one
	// Attribute call. Defaults to UUID v7.
	RequestID func() (string, error)

	// OnRetry, if set, is called before each backoff wait.
	OnRetry func(err error, wait time.Duration)

	// Timer drives backoff waits. Nil uses a real timer.
	Timer  backoff.Timer
	Logger *slog.Logger
}

// Client is safe for concurrent use; it holds no per-call state.
type Client struct {
	endpoint    string
	apiKey      string
	platform    string
	maxAttempts int
	delays      []time.Duration
	httpClient  *http.Client
	userAgent   string
	requestID   func() (string, error)
	onRetry     func(err error, wait time.Duration)
	timer       backoff.Timer
	logger      *slog.Logger
}

type attributeRequest struct {
	URL        string `json:"url"`
	Platform   string `json:"platform"`
	IsDeferred bool   `json:"is_deferred"`
}

type attributeResponse struct {
	Matched    *bool            `json:"matched"`
	Confidence *link.Confidence `json:"confidence"`
	MatchScore *int             `json:"match_score"`
	Link       *link.Data       `json:"link"`
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	const op = "attribution.New"

	endpoint, err := endpointFor(cfg.BaseURL)
	if err != nil {
		return nil, errx.E(op, errx.NotConfigured, err)
	}
	if cfg.APIKey == "" || strings.ContainsAny(cfg.APIKey, " \t\r\n") {
		return nil, errx.New(op, errx.InvalidAPIKey, "api key must be non-empty and contain no whitespace")
	}

	platform := cfg.Platform
	if platform == "" {
		platform = DefaultPlatform
	}

	attempts := cfg.MaxRetries
	if attempts <= 0 {
		attempts = DefaultMaxRetries
	}

	delays := cfg.Backoff
	if len(delays) == 0 {
		delays = DefaultBackoff
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = SDKName + "/" + Version
	}

	requestID := cfg.RequestID
	if requestID == nil {
		requestID = idgen.NewV7().Generate
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint:    endpoint,
		apiKey:      cfg.APIKey,
		platform:    platform,
		maxAttempts: attempts,
		delays:      delays,
		httpClient:  httpClient,
		userAgent:   userAgent,
		requestID:   requestID,
		onRetry:     cfg.OnRetry,
		timer:       cfg.Timer,
		logger:      logger,
	}, nil
}

func endpointFor(baseURL string) (string, error) {
	if baseURL == "" {
		return "", errors.New("base url is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.New("base url scheme must be http or https")
	}
	if u.Host == "" {
		return "", errors.New("base url must include host")
	}
	return strings.TrimRight(baseURL, "/") + attributePath, nil
}

// Attribute asks the service which link rawURL belongs to. Server errors in
// the 5xx range and transport failures are retried; anything else is
// returned on the spot.
func (c *Client) Attribute(ctx context.Context, rawURL string, isDeferred bool) (link.Result, error) {
	const op = "attribution.Client.Attribute"

	if c == nil {
		return link.Result{}, errx.New(op, errx.NotConfigured, "attribution client is not configured")
	}

	body, err := json.Marshal(attributeRequest{
		URL:        rawURL,
		Platform:   c.platform,
		IsDeferred: isDeferred,
	})
	if err != nil {
		return link.Result{}, errx.E(op, errx.Invalid, err)
	}

	requestID, err := c.requestID()
	if err != nil {
		c.logger.WarnContext(ctx, "failed to generate request id", "error", err)
		requestID = ""
	}

	logger := c.logger.With("request_id", requestID, "is_deferred", isDeferred)

	var (
		result  link.Result
		attempt int
	)

	operation := func() error {
		attempt++
		res, err := c.do(ctx, body, requestID)
		if err == nil {
			result, err = decodeResult(rawURL, isDeferred, res)
			if err != nil {
				return backoff.Permanent(err)
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		if !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "attribution attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"wait", wait,
			"error", err,
		)
		if c.onRetry != nil {
			c.onRetry(err, wait)
		}
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(newSchedule(c.delays), uint64(c.maxAttempts-1)),
		ctx,
	)

	if err := backoff.RetryNotifyWithTimer(operation, b, notify, c.timer); err != nil {
		logger.DebugContext(ctx, "attribution failed",
			"attempts", attempt,
			"error_kind", errx.KindOf(err),
			"error", err,
		)
		return link.Result{}, err
	}

	logger.DebugContext(ctx, "attribution completed",
		"attempts", attempt,
		"matched", result.Matched,
	)
	return result, nil
}

// do performs one round trip and returns the raw 2xx body.
func (c *Client) do(ctx context.Context, body []byte, requestID string) ([]byte, error) {
	const op = "attribution.Client.do"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errx.E(op, errx.NotConfigured, err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errx.NetworkError(op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errx.NetworkError(op, fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, errx.ServerError(op, resp.StatusCode, string(data))
	}

	return data, nil
}

func decodeResult(rawURL string, isDeferred bool, data []byte) (link.Result, error) {
	const op = "attribution.decodeResult"

	if len(bytes.TrimSpace(data)) == 0 {
		return link.Result{}, errx.New(op, errx.InvalidResponse, "empty response body")
	}

	var resp attributeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return link.Result{}, errx.E(op, errx.InvalidResponse, err)
	}

	if resp.Matched == nil {
		return link.Result{}, errx.New(op, errx.InvalidResponse, "response is missing the matched field")
	}
	if !*resp.Matched {
		return link.NotMatched(isDeferred), nil
	}

	if resp.Link == nil {
		return link.Result{}, errx.New(op, errx.InvalidResponse, "matched response carries no link")
	}
	if resp.Link.ID == "" {
		return link.Result{}, errx.New(op, errx.InvalidResponse, "link is missing its id")
	}
	if resp.MatchScore != nil && (*resp.MatchScore < 0 || *resp.MatchScore > 100) {
		return link.Result{}, errx.New(op, errx.InvalidResponse,
			fmt.Sprintf("match score %d outside 0-100", *resp.MatchScore))
	}

	d := *resp.Link
	if d.DeepLinkValue == nil {
		d = link.Enrich(rawURL, d)
	}

	return link.Result{
		Matched:    true,
		Confidence: resp.Confidence,
		MatchScore: resp.MatchScore,
		Link:       &d,
		IsDeferred: isDeferred,
	}, nil
}

// Retryable reports whether err is a transport failure or a 5xx response.
func Retryable(err error) bool {
	switch errx.KindOf(err) {
	case errx.Network:
		return true
	case errx.Server:
		status := errx.StatusOf(err)
		return status >= http.StatusInternalServerError && status <= 599
	default:
		return false
	}
}
