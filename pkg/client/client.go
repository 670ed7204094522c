// Package client provides the core APS HTTP executor: a single authorized
// request, status classification against a per-call accepted set, and
// structured error extraction on failure.
package client

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
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/aps-client/pkg/logging"
)

// DefaultBaseURL is the production APS host.
const DefaultBaseURL = "https://developer.api.autodesk.com"

// HeaderRequestID carries the per-request correlation id.
const HeaderRequestID = "x-request-id"

// Prometheus metrics for APS client operations.
var (
	apsRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aps_requests_total",
		Help: "Total APS requests by service and status",
	}, []string{"service", "status"})

	apsRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aps_request_duration_seconds",
		Help:    "APS request duration in seconds by service",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"service"})

	apsErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aps_errors_total",
		Help: "Total APS errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of HTTP errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 throttling.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassUnexpected represents a non-error status that the call site
	// did not accept (e.g. 202 where only 200 is expected).
	ErrorClassUnexpected ErrorClass = "unexpected"
)

// Throttle gates outgoing requests and learns from responses.
// *ratelimit.Tracker implements it.
type Throttle interface {
	Wait(ctx context.Context) error
	Observe(ctx context.Context, status int, header http.Header) error
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is prepended to every Request.Path.
	BaseURL string

	// UserAgent header sent with each request.
	UserAgent string

	// HTTPClient overrides the default transport (tests, proxies).
	HTTPClient *http.Client

	// Timeout bounds a single request when HTTPClient is nil.
	Timeout time.Duration

	// Throttle is optional.
	Throttle Throttle

	// Logger overrides the global zerolog logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		UserAgent: "aps-client/0.1.0",
		Timeout:   60 * time.Second,
	}
}

// Client executes authorized requests against APS.
// It holds no mutable state and is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	throttle   Throttle
	logger     zerolog.Logger
}

// New creates a new APS client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("base url must be http(s): %q", cfg.BaseURL)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := logging.Subsystem(cfg.Logger, "aps-client")

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		throttle:   cfg.Throttle,
		logger:     logger,
	}, nil
}

// StatusPredicate reports whether a response status is a success for a call site.
type StatusPredicate func(status int) bool

// Expect returns a predicate accepting exactly the given status codes.
func Expect(codes ...int) StatusPredicate {
	return func(status int) bool {
		for _, c := range codes {
			if c == status {
				return true
			}
		}
		return false
	}
}

// Request describes a single APS call.
type Request struct {
	Method string

	// Path is relative to Config.BaseURL. Ignored when URL is set.
	Path string

	// URL is an absolute target (signed URLs, pagination links).
	URL string

	// Token is the bearer token. Required unless Anonymous.
	Token string

	// Anonymous skips the Authorization header (pre-signed targets).
	Anonymous bool

	Header http.Header

	// JSON is marshalled as the body when non-nil. Takes precedence over Body.
	JSON any

	// Body is sent with exactly ContentLength bytes. With zero, readers whose
	// length net/http cannot detect are sent as an empty body.
	Body          io.Reader
	ContentLength int64

	// Accept decides success. Defaults to Expect(200).
	Accept StatusPredicate

	// Service labels metrics and logs (oss, da, derivative).
	Service string
}

// Response is a fully read APS response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

// BaseURL returns the configured base URL without trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Execute performs one request. There is no retry at this layer.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	if !req.Anonymous && req.Token == "" {
		return nil, fmt.Errorf("%s %s: %w: token is required", req.Method, req.Path, ErrMissingCredential)
	}

	target := req.URL
	if target == "" {
		target = c.baseURL + req.Path
	}
	service := req.Service
	if service == "" {
		service = "aps"
	}
	accept := req.Accept
	if accept == nil {
		accept = Expect(http.StatusOK)
	}

	body := req.Body
	contentLength := req.ContentLength
	contentType := ""
	if req.JSON != nil {
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
		contentLength = int64(len(data))
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	switch {
	case body == nil:
	case contentLength > 0:
		httpReq.ContentLength = contentLength
	case httpReq.ContentLength == 0:
		// Unknown to net/http and empty per the caller: never send chunked.
		httpReq.Body = http.NoBody
		httpReq.GetBody = func() (io.ReadCloser, error) { return http.NoBody, nil }
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if !req.Anonymous {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	requestID := uuid.NewString()
	httpReq.Header.Set(HeaderRequestID, requestID)

	logger := c.logger.With().
		Str("service", service).
		Str("method", req.Method).
		Str("path", httpReq.URL.Path).
		Str("request_id", requestID).
		Logger()

	if c.throttle != nil {
		if err := c.throttle.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, TimeoutError("throttle wait", ctx.Err())
			}
			return nil, fmt.Errorf("throttle wait: %w", err)
		}
	}

	startTime := time.Now()
	defer func() {
		apsRequestDuration.WithLabelValues(service).Observe(time.Since(startTime).Seconds())
	}()

	logger.Debug().Msg("Executing APS request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		apsErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		apsRequestsTotal.WithLabelValues(service, "network_error").Inc()
		if ctx.Err() != nil {
			return nil, TimeoutError(req.Method+" "+httpReq.URL.Path, ctx.Err())
		}
		logger.Error().Err(err).Msg("HTTP request failed")
		return nil, fmt.Errorf("%s %s: %w", req.Method, httpReq.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		apsErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		if ctx.Err() != nil {
			return nil, TimeoutError("read response body", ctx.Err())
		}
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if c.throttle != nil {
		if err := c.throttle.Observe(ctx, resp.StatusCode, resp.Header); err != nil {
			logger.Warn().Err(err).Msg("Failed to update throttle state")
		}
	}

	apsRequestsTotal.WithLabelValues(service, strconv.Itoa(resp.StatusCode)).Inc()

	if !accept(resp.StatusCode) {
		statusErr := newHTTPStatusError(req.Method, target, resp, data)
		apsErrorsTotal.WithLabelValues(string(statusErr.ErrorClass)).Inc()
		logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_class", string(statusErr.ErrorClass)).
			Str("reason", statusErr.Reason).
			Dur("duration", time.Since(startTime)).
			Msg("APS request error")
		return nil, statusErr
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(startTime)).
		Msg("APS request complete")

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}

// Do executes req and decodes a JSON success body into out (when non-nil).
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	return resp.Decode(out)
}

// classifyStatus categorizes a status code for observability and retry.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassUnexpected
	}
}

// ClassifyError returns the error class of err for retry decisions.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.ErrorClass
	}
	if errors.Is(err, ErrMissingCredential) || errors.Is(err, ErrTimeout) {
		return ErrorClassClient
	}
	// Only transport failures are worth another attempt. Decode errors and
	// aborted collections without an HTTP cause fail the same way again.
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrorClassNetwork
	}
	return ErrorClassUnexpected
}

func newHTTPStatusError(method, target string, resp *http.Response, body []byte) *HTTPStatusError {
	return &HTTPStatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Method:     method,
		URL:        target,
		ErrorClass: classifyStatus(resp.StatusCode),
		Reason:     extractReason(body),
		Body:       body,
	}
}

// reasonKeys are the diagnostic fields APS services use in error bodies.
var reasonKeys = []string{"reason", "diagnostic", "developerMessage", "errorMessage", "detail", "title", "message"}

// extractReason parses a JSON error body. Returns "" when the body is not JSON.
func extractReason(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}

	var payload any
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return ""
	}

	switch v := payload.(type) {
	case string:
		return v
	case map[string]any:
		for _, key := range reasonKeys {
			if s, ok := v[key].(string); ok && s != "" {
				return s
			}
		}
		if errs, ok := v["errors"].([]any); ok && len(errs) > 0 {
			if first, ok := errs[0].(map[string]any); ok {
				for _, key := range reasonKeys {
					if s, ok := first[key].(string); ok && s != "" {
						return s
					}
				}
			}
		}
	}

	// Structured but without a known diagnostic field
	return string(trimmed)
}
