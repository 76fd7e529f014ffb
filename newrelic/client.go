package newrelic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
)

const (
	DefaultEndpoint = "https://api.newrelic.com/graphql"
	DefaultTimeout  = 30 * time.Second

	maxFailures    = 10
	maxRateLimited = 3
)

type Config struct {
	APIKey     string
	AccountID  int
	Endpoint   string
	Timeout    time.Duration
	MaxRetries uint
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration
	// RetryInterval is the initial backoff between attempts.
	RetryInterval time.Duration
	// OnRequest is called with "ok", "error", "rate_limited" or "rejected" after every request.
	OnRequest func(result string)
}

type Client struct {
	httpClient  *http.Client
	endpoint    string
	accountID   int
	maxTries    uint
	retryBase   time.Duration
	breaker     *gobreaker.CircuitBreaker
	rateLimited atomic.Int32
	onRequest   func(string)
	logger      *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("newrelic api key is required")
	}
	if cfg.AccountID == 0 {
		return nil, fmt.Errorf("newrelic account id is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = time.Minute
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = time.Second
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &apiKeyTransport{transport: transport, apiKey: cfg.APIKey},
		},
		endpoint:  cfg.Endpoint,
		accountID: cfg.AccountID,
		maxTries:  cfg.MaxRetries,
		retryBase: cfg.RetryInterval,
		onRequest: cfg.OnRequest,
		logger:    slog.Default().With("component", "newrelic"),
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "newrelic",
		MaxRequests: 3,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures || c.rateLimited.Load() >= maxRateLimited
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateClosed {
				c.rateLimited.Store(0)
			}
			c.logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})

	return c, nil
}

// BreakerState returns "closed", "half-open" or "open".
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func (c *Client) AccountID() int {
	return c.accountID
}

// HealthCheck runs a trivial NRQL query against the account.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.NRQL(ctx, "SELECT count(*) FROM Transaction SINCE 1 hour ago LIMIT 1"); err != nil {
		return fmt.Errorf("newrelic health check failed: %w", err)
	}
	return nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string         `json:"message"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

// query executes a GraphQL request with retries and the circuit breaker, decoding data into out.
func (c *Client) query(ctx context.Context, q string, vars map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: q, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryBase

	op := func() (json.RawMessage, error) {
		res, err := c.breaker.Execute(func() (interface{}, error) {
			return c.post(ctx, body)
		})
		if err != nil {
			c.observe(err)
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, backoff.Permanent(err)
			}
			var se *StatusError
			if errors.As(err, &se) && se.permanent() {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		c.observe(nil)
		return res.(json.RawMessage), nil
	}

	data, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("request failed, retrying", "error", err, "backoff", next)
		}),
	)
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests {
			c.rateLimited.Add(1)
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(payload), 300)}
	}

	var gr graphQLResponse
	if err := json.Unmarshal(payload, &gr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(gr.Errors) > 0 {
		qe := &QueryError{Messages: make([]string, 0, len(gr.Errors))}
		for _, e := range gr.Errors {
			qe.Messages = append(qe.Messages, e.Message)
			if isRateLimitError(e) {
				qe.RateLimited = true
			}
		}
		if qe.RateLimited {
			c.rateLimited.Add(1)
		}
		return nil, qe
	}

	c.rateLimited.Store(0)
	return gr.Data, nil
}

func (c *Client) observe(err error) {
	if c.onRequest == nil {
		return
	}
	var se *StatusError
	var qe *QueryError
	switch {
	case err == nil:
		c.onRequest("ok")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.onRequest("rejected")
	case errors.As(err, &se) && se.Code == http.StatusTooManyRequests,
		errors.As(err, &qe) && qe.RateLimited:
		c.onRequest("rate_limited")
	default:
		c.onRequest("error")
	}
}

// IsUnavailable reports whether err means New Relic is not serving requests at all:
// the breaker rejected the call or the API answered with an auth or server error.
func IsUnavailable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden || se.Code >= 500
	}
	return false
}

// StatusError is a non-200 HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return "newrelic returned status " + strconv.Itoa(e.Code) + ": " + e.Body
}

// Authentication failures and other client errors are not retried, except rate limits.
func (e *StatusError) permanent() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}

// QueryError holds the GraphQL errors of an otherwise successful response.
type QueryError struct {
	Messages    []string
	RateLimited bool
}

func (e *QueryError) Error() string {
	return "graphql error: " + strings.Join(e.Messages, "; ")
}

func isRateLimitError(e graphQLError) bool {
	if strings.Contains(e.Message, "TOO_MANY_REQUESTS") || strings.Contains(e.Message, "NRDB:1106924") {
		return true
	}
	if code, ok := e.Extensions["errorClass"].(string); ok && code == "TOO_MANY_REQUESTS" {
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type apiKeyTransport struct {
	transport http.RoundTripper
	apiKey    string
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("API-Key", t.apiKey)
	return t.transport.RoundTrip(req)
}
