// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/jeranaias/chatstream/internal/model"
)

const (
	// DefaultTimeout bounds non-streaming requests (model list, validation).
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize caps how much of a non-streaming body is read.
	MaxResponseSize = 10 * 1024 * 1024

	// DefaultMaxMalformedFrames is the consecutive bad-frame limit.
	DefaultMaxMalformedFrames = 64

	defaultBreakerFailures uint32 = 3
	defaultBreakerCooldown        = 30 * time.Second
	defaultBreakerInterval        = 60 * time.Second

	userAgent = "chatstream/0.1"
)

var (
	sharedTransport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	sharedHTTPClient = &http.Client{
		Transport: sharedTransport,
		Timeout:   DefaultTimeout,
	}

	// No client timeout: streams are bounded by the caller's context and the
	// idle watchdog.
	sharedStreamingClient = &http.Client{
		Transport: sharedTransport,
	}
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrAuthFailed             = errors.New("authentication failed")
	ErrRateLimited            = errors.New("rate limited")
	ErrNotFound               = errors.New("endpoint or model not found")
	ErrBadRequest             = errors.New("request rejected")
	ErrServerError            = errors.New("upstream server error")
	ErrCircuitOpen            = errors.New("upstream circuit open")
	ErrTooManyMalformedFrames = errors.New("too many consecutive malformed frames")
	ErrFrameTooLarge          = errors.New("frame exceeds size limit")
)

// APIError is an error object returned by the upstream API, either as a
// non-2xx body or as an in-stream error frame.
type APIError struct {
	Status  int
	Type    string
	Code    string
	Message string
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("api error")
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// StatusError pairs a status sentinel (ErrAuthFailed, ErrRateLimited, ...)
// with the API's own description.
type StatusError struct {
	Kind error
	API  *APIError
}

func (e *StatusError) Error() string {
	if e.API == nil || e.API.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.API.Message)
}

func (e *StatusError) Unwrap() []error {
	if e.API == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.API}
}

// ConnectError reports that a stream was never established.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// StreamError reports a failure after the stream was established.
// Frames counts the frames decoded before the failure.
type StreamError struct {
	Frames int
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error after %d frames: %v", e.Frames, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// apiErrorBody is the OpenAI error envelope.
type apiErrorBody struct {
	Error *struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
}

func (b apiErrorBody) toAPIError(status int) *APIError {
	if b.Error == nil {
		return nil
	}
	code := strings.Trim(string(b.Error.Code), `"`)
	if code == "null" {
		code = ""
	}
	return &APIError{Status: status, Type: b.Error.Type, Code: code, Message: b.Error.Message}
}

// handleErrorResponse maps a non-2xx response onto the error taxonomy.
func handleErrorResponse(status int, body []byte) error {
	var envelope apiErrorBody
	apiErr := (*APIError)(nil)
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr = envelope.toAPIError(status)
	}
	if apiErr == nil {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		apiErr = &APIError{Status: status, Message: msg}
	}

	var kind error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrAuthFailed
	case status == http.StatusNotFound:
		kind = ErrNotFound
	case status == http.StatusTooManyRequests:
		kind = ErrRateLimited
	case status >= 500:
		kind = ErrServerError
	default:
		kind = ErrBadRequest
	}
	return &StatusError{Kind: kind, API: apiErr}
}

// countsAsFailure decides what trips the breaker: transport failures,
// rate limiting and 5xx. Caller cancellation and client errors do not.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return errors.Is(se.Kind, ErrServerError) || errors.Is(se.Kind, ErrRateLimited)
	}
	return true
}

// =============================================================================
// CLIENT
// =============================================================================

// Client issues requests for any profile. Profiles are passed per call so a
// config reload takes effect at the next exchange.
type Client struct {
	httpClient      *http.Client
	streamClient    *http.Client
	logger          *zap.Logger
	maxMalformed    int
	breakerFailures uint32
	breakerCooldown time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*http.Response]
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Headers and bodies are never logged.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient replaces both the streaming and non-streaming HTTP clients.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		c.streamClient = hc
	}
}

// WithMaxMalformedFrames sets the consecutive malformed-frame limit.
// Zero disables the limit.
func WithMaxMalformedFrames(n int) Option {
	return func(c *Client) { c.maxMalformed = n }
}

// WithBreaker sets how many consecutive establishment failures open the
// circuit for a host and how long it stays open. failures == 0 keeps the
// default.
func WithBreaker(failures int, cooldown time.Duration) Option {
	return func(c *Client) {
		if failures > 0 {
			c.breakerFailures = uint32(failures)
		}
		if cooldown > 0 {
			c.breakerCooldown = cooldown
		}
	}
}

// NewClient creates a client with shared, pooled transports.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:      sharedHTTPClient,
		streamClient:    sharedStreamingClient,
		logger:          zap.NewNop(),
		maxMalformed:    DefaultMaxMalformedFrames,
		breakerFailures: defaultBreakerFailures,
		breakerCooldown: defaultBreakerCooldown,
		breakers:        make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// breaker returns the circuit breaker for an endpoint, creating it on first use.
func (c *Client) breaker(endpoint string) *gobreaker.CircuitBreaker[*http.Response] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[endpoint]; ok {
		return cb
	}

	maxFailures := c.breakerFailures
	logger := c.logger
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: 1,
		Interval:    defaultBreakerInterval,
		Timeout:     c.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("endpoint", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return !countsAsFailure(err)
		},
	})
	c.breakers[endpoint] = cb
	return cb
}

func setHeaders(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("User-Agent", userAgent)
}

// readLimited reads at most MaxResponseSize bytes of body.
func readLimited(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// =============================================================================
// MODEL LISTING & VALIDATION
// =============================================================================

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListModels returns the sorted model IDs served at the profile's host.
func (c *Client) ListModels(ctx context.Context, p model.Profile) ([]string, error) {
	endpoint, err := ModelsURL(p.APIHost)
	if err != nil {
		return nil, &ConnectError{Endpoint: p.APIHost, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	setHeaders(req, p.APIKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body)
	if err != nil {
		return nil, &ConnectError{Endpoint: endpoint, Err: err}
	}
	c.logger.Debug("list models",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ConnectError{Endpoint: endpoint, Err: handleErrorResponse(resp.StatusCode, body)}
	}

	var parsed modelsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}

	ids := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Validate checks that the profile's endpoint is reachable and accepts its
// key by listing models. It returns the number of models offered.
func (c *Client) Validate(ctx context.Context, p model.Profile) (int, error) {
	models, err := c.ListModels(ctx, p)
	if err != nil {
		return 0, err
	}
	return len(models), nil
}

// =============================================================================
// STREAM ESTABLISHMENT
// =============================================================================

// open performs the streaming POST through the endpoint's breaker and
// returns the live response.
func (c *Client) open(ctx context.Context, endpoint, apiKey string, payload []byte) (*http.Response, error) {
	resp, err := c.breaker(endpoint).Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		setHeaders(req, apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")

		resp, err := c.streamClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := readLimited(resp.Body)
			resp.Body.Close()
			return nil, handleErrorResponse(resp.StatusCode, body)
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return nil, &ConnectError{Endpoint: endpoint, Err: err}
	}
	return resp, nil
}
