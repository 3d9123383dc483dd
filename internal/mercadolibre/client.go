package mercadolibre

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
	"go.uber.org/zap"

	"sellerorders/config"
	"sellerorders/internal/metrics"
)

// maxResponseSize caps the bytes read from one API response (10MB).
const maxResponseSize = 10 * 1024 * 1024

// Document is a decoded JSON object returned by the API.
type Document map[string]any

// TokenSource yields the bearer token used for API calls.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client talks to the marketplace REST API. It owns its rate counter and
// bearer token, so one client serves one pipeline run.
type Client struct {
	httpClient *http.Client
	cfg        config.APIConfig
	baseURL    string
	token      string

	rate      *rateCounter
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	requestID func() string

	metrics *metrics.Metrics
	logger  *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithClock replaces the wall clock used by the rate counter.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(cfg config.APIConfig, opts ...Option) (*Client, error) {
	requestID, err := nanoid.CustomASCII("0123456789abcdef", 16)
	if err != nil {
		return nil, fmt.Errorf("failed to create request id generator: %w", err)
	}

	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
			},
		},
		now:       time.Now,
		sleep:     sleepContext,
		requestID: requestID,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("mercadolibre")
	c.rate = newRateCounter(cfg.RateLimit, time.Minute, c.now)
	return c, nil
}

// Authenticate resolves the bearer token once for the lifetime of the client.
func (c *Client) Authenticate(ctx context.Context, tokens TokenSource) error {
	token, err := tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain access token: %w", err)
	}
	c.token = token
	c.logger.Info("API client authenticated")
	return nil
}

type call struct {
	resource    string
	method      string
	endpoint    string
	query       url.Values
	body        []byte
	contentType string
}

// request performs one rate-limited call and maps the response status to an
// error kind. A 204 or an empty body yields a nil document.
func (c *Client) request(ctx context.Context, in call) (json.RawMessage, error) {
	if err := c.rate.take(); err != nil {
		c.metrics.APIRequest(in.resource, "rate_limit_exceeded")
		return nil, err
	}

	status, body, err := c.send(ctx, in, true)
	if err != nil {
		c.metrics.APIRequest(in.resource, outcomeFor(err))
		return nil, err
	}

	if status == http.StatusNoContent {
		c.metrics.APIRequest(in.resource, "ok")
		return nil, nil
	}
	if status < 200 || status > 299 {
		apiErr := &APIError{
			Kind:       kindForStatus(status),
			StatusCode: status,
			Endpoint:   in.endpoint,
			Body:       decodeErrorBody(body),
		}
		c.metrics.APIRequest(in.resource, outcomeFor(apiErr))
		return nil, apiErr
	}

	c.metrics.APIRequest(in.resource, "ok")
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: %s returned invalid JSON", ErrRequestFailed, in.endpoint)
	}
	return body, nil
}

// send issues the HTTP request and returns status and body without
// interpreting the status code.
func (c *Client) send(ctx context.Context, in call, auth bool) (int, []byte, error) {
	u := c.baseURL + in.endpoint
	if len(in.query) > 0 {
		u += "?" + in.query.Encode()
	}

	var reader io.Reader
	if in.body != nil {
		reader = bytes.NewReader(in.body)
	}
	req, err := http.NewRequestWithContext(ctx, in.method, u, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: build request: %w", ErrRequestFailed, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("X-Request-ID", c.requestID())
	req.Header.Set("Cache-Control", "no-cache")
	if in.contentType != "" {
		req.Header.Set("Content-Type", in.contentType)
	}
	if auth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return 0, nil, fmt.Errorf("%w: %s: %w", ErrTimeout, in.endpoint, err)
		}
		return 0, nil, fmt.Errorf("%w: %s: %w", ErrRequestFailed, in.endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read %s: %w", ErrRequestFailed, in.endpoint, err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) getJSON(ctx context.Context, resource, endpoint string, query url.Values, out any) error {
	raw, err := c.do(ctx, call{resource: resource, method: http.MethodGet, endpoint: endpoint, query: query})
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func decodeErrorBody(body []byte) any {
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return invalidBody
	}
	return parsed
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrServer):
		return "server_error"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRequestFailed):
		return "request_failed"
	default:
		return "http_error"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
