package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harun/panbeh/internal/observability"
	"github.com/harun/panbeh/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultRequestTimeout bounds every proxied panel call.
	DefaultRequestTimeout = 15 * time.Second

	maxResponseBytes = 4 << 20
)

// TokenSource provides bearer tokens for panel requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type invalidator interface {
	Invalidate()
}

type tokenContextKey struct{}

// WithToken stores an already acquired token on ctx. Client.Execute
// prefers it over its own TokenSource.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the token stored by WithToken.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey{}).(string)
	return token, ok && token != ""
}

// Response is a successful panel answer.
type Response struct {
	Status int
	Body   json.RawMessage
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithClientLogger sets the request logger.
func WithClientLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client executes panel operations and normalizes their outcome.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewClient creates a panel client.
func NewClient(baseURL string, tokens TokenSource, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("panel base URL is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: http.DefaultClient,
		timeout:    DefaultRequestTimeout,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Execute performs op once. Errors are *AuthError, *UpstreamError or *TransportError.
func (c *Client) Execute(ctx context.Context, op Operation) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "panbeh.panel", "panel.execute",
		attribute.String("panel.operation", op.Name),
		attribute.String("http.method", op.Method),
	)
	defer span.End()

	start := time.Now()
	resp, err := c.execute(ctx, op)
	duration := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.Status
	}
	if upstream, ok := AsUpstream(err); ok {
		status = upstream.Status
	}
	observability.RecordUpstreamRequest(op.Name, status, duration)
	span.SetAttributes(attribute.Int("http.status_code", status))

	logger := tracing.LoggerFromContext(ctx, c.logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().
			Err(err).
			Str("operation", op.Name).
			Int("status", status).
			Dur("duration", duration).
			Msg("Panel request failed")
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	logger.Debug().
		Str("operation", op.Name).
		Int("status", status).
		Dur("duration", duration).
		Msg("Panel request completed")

	return resp, nil
}

func (c *Client) execute(ctx context.Context, op Operation) (*Response, error) {
	token, ok := TokenFromContext(ctx)
	if !ok {
		var err error
		token, err = c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if op.Body != nil {
		data, err := json.Marshal(op.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s body: %w", op.Name, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, op.Method, c.baseURL+op.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op.Name, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if inv, ok := c.tokens.(invalidator); ok {
			inv.Invalidate()
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(resp.StatusCode, statusText(resp), raw)
	}

	return &Response{
		Status: resp.StatusCode,
		Body:   successBody(resp, raw),
	}, nil
}

func successBody(resp *http.Response, raw []byte) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}")
	}
	if json.Valid(raw) {
		return json.RawMessage(raw)
	}
	synthesized, _ := json.Marshal(synthesizeError(resp.StatusCode, statusText(resp)))
	return synthesized
}

// User fetches one account.
func (c *Client) User(ctx context.Context, username string) (*User, error) {
	return c.executeUser(ctx, GetUser(username))
}

// CreateUser creates an account.
func (c *Client) CreateUser(ctx context.Context, body UserCreate) (*User, error) {
	return c.executeUser(ctx, CreateUser(body))
}

// ModifyUser updates an existing account.
func (c *Client) ModifyUser(ctx context.Context, username string, body UserModify) (*User, error) {
	return c.executeUser(ctx, ModifyUser(username, body))
}

// ResetUserTraffic zeroes the used traffic counter.
func (c *Client) ResetUserTraffic(ctx context.Context, username string) (*User, error) {
	return c.executeUser(ctx, ResetUserTraffic(username))
}

// RevokeSubscription rotates the subscription link.
func (c *Client) RevokeSubscription(ctx context.Context, username string) (*User, error) {
	return c.executeUser(ctx, RevokeSubscription(username))
}

// SubscriptionInfo looks an account up by subscription token.
func (c *Client) SubscriptionInfo(ctx context.Context, token string) (*User, error) {
	return c.executeUser(ctx, SubscriptionInfo(token))
}

func (c *Client) executeUser(ctx context.Context, op Operation) (*User, error) {
	resp, err := c.Execute(ctx, op)
	if err != nil {
		return nil, err
	}

	var user User
	if err := json.Unmarshal(resp.Body, &user); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", op.Name, err)
	}
	return &user, nil
}
