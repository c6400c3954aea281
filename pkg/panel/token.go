package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/harun/panbeh/internal/observability"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultSafetyMargin is how long before expiry a credential stops being reused.
	DefaultSafetyMargin = 300 * time.Second
	// DefaultTokenTTL is assumed when the panel does not report a lifetime.
	DefaultTokenTTL = 3600 * time.Second
	// DefaultExchangeTimeout bounds one credential exchange.
	DefaultExchangeTimeout = 15 * time.Second

	refreshKey = "panel-token"
)

// Credential is a cached bearer token.
type Credential struct {
	Value     string
	ExpiresAt time.Time
}

// Grant is the outcome of one credential exchange.
type Grant struct {
	AccessToken string
	TTL         time.Duration
}

// Exchanger trades service credentials for a bearer token.
type Exchanger interface {
	Exchange(ctx context.Context) (*Grant, error)
}

// TokenCacheOption configures a TokenCache.
type TokenCacheOption func(*TokenCache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) {
		c.now = now
	}
}

// WithSafetyMargin overrides DefaultSafetyMargin.
func WithSafetyMargin(d time.Duration) TokenCacheOption {
	return func(c *TokenCache) {
		c.margin = d
	}
}

// WithTokenTTL overrides DefaultTokenTTL.
func WithTokenTTL(d time.Duration) TokenCacheOption {
	return func(c *TokenCache) {
		c.ttl = d
	}
}

// WithExchangeTimeout overrides DefaultExchangeTimeout.
func WithExchangeTimeout(d time.Duration) TokenCacheOption {
	return func(c *TokenCache) {
		c.exchangeTimeout = d
	}
}

// WithTokenLogger sets the logger used for refresh events.
func WithTokenLogger(logger zerolog.Logger) TokenCacheOption {
	return func(c *TokenCache) {
		c.logger = logger
	}
}

// TokenCache holds the single shared panel credential.
// Reads are lock-free; refreshes are de-duplicated across callers.
type TokenCache struct {
	exchanger       Exchanger
	now             func() time.Time
	margin          time.Duration
	ttl             time.Duration
	exchangeTimeout time.Duration
	logger          zerolog.Logger

	current atomic.Pointer[Credential]
	group   singleflight.Group
}

// NewTokenCache creates an empty cache backed by exchanger.
func NewTokenCache(exchanger Exchanger, opts ...TokenCacheOption) (*TokenCache, error) {
	if exchanger == nil {
		return nil, fmt.Errorf("exchanger is required")
	}

	c := &TokenCache{
		exchanger:       exchanger,
		now:             time.Now,
		margin:          DefaultSafetyMargin,
		ttl:             DefaultTokenTTL,
		exchangeTimeout: DefaultExchangeTimeout,
		logger:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Token returns a credential valid for at least the safety margin.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if cred := c.current.Load(); c.fresh(cred) {
		return cred.Value, nil
	}

	ch := c.group.DoChan(refreshKey, func() (interface{}, error) {
		return c.refresh(ctx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(*Credential).Value, nil
	}
}

// Current returns the cached credential, if any.
func (c *TokenCache) Current() (Credential, bool) {
	cred := c.current.Load()
	if cred == nil {
		return Credential{}, false
	}
	return *cred, true
}

// Invalidate drops the cached credential so the next Token call refreshes.
func (c *TokenCache) Invalidate() {
	c.current.Store(nil)
}

func (c *TokenCache) fresh(cred *Credential) bool {
	return cred != nil && c.now().Before(cred.ExpiresAt.Add(-c.margin))
}

func (c *TokenCache) refresh(parent context.Context) (*Credential, error) {
	// Another flight may have finished between the fast path and this one.
	if cred := c.current.Load(); c.fresh(cred) {
		return cred, nil
	}

	// Waiters share this exchange, so one caller's cancellation must not fail it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.exchangeTimeout)
	defer cancel()

	start := time.Now()
	grant, err := c.exchanger.Exchange(ctx)
	if err == nil && (grant == nil || grant.AccessToken == "") {
		err = fmt.Errorf("panel returned an empty access token")
	}
	if err != nil {
		c.current.Store(nil)
		observability.RecordTokenRefresh(false, time.Since(start))
		c.logger.Error().Err(err).Msg("Panel credential exchange failed")

		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, authErr
		}
		return nil, &AuthError{Err: err}
	}

	ttl := grant.TTL
	if ttl <= 0 {
		ttl = c.ttl
	}

	cred := &Credential{
		Value:     grant.AccessToken,
		ExpiresAt: c.now().Add(ttl),
	}
	c.current.Store(cred)

	observability.RecordTokenRefresh(true, time.Since(start))
	c.logger.Info().
		Time("expires_at", cred.ExpiresAt).
		Msg("Panel credential refreshed")

	return cred, nil
}

// PasswordExchanger obtains tokens from the panel admin token endpoint.
type PasswordExchanger struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewPasswordExchanger creates an exchanger. A nil httpClient uses http.DefaultClient.
func NewPasswordExchanger(baseURL, username, password string, httpClient *http.Client) *PasswordExchanger {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &PasswordExchanger{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: httpClient,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Exchange posts the form-encoded service credentials.
func (e *PasswordExchanger) Exchange(ctx context.Context) (*Grant, error) {
	form := url.Values{}
	form.Set("username", e.username)
	form.Set("password", e.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/admin/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		upstream := decodeError(resp.StatusCode, statusText(resp), body)
		return nil, fmt.Errorf("token endpoint rejected credentials: %w", upstream)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	return &Grant{
		AccessToken: tr.AccessToken,
		TTL:         time.Duration(tr.ExpiresIn) * time.Second,
	}, nil
}
