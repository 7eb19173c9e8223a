package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/backend-paybridge/internal/obs"
)

// TokenSource supplies bearer tokens for authorized provider calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// TokenCache caches the OAuth client-credentials token and refreshes it lazily.
// Concurrent callers that observe a missing or expiring token share a single
// in-flight refresh instead of each issuing their own.
type TokenCache struct {
	ClientID string
	Secret   string
	BaseURL  string
	HTTP     *http.Client
	// Margin is subtracted from the provider-reported lifetime so a token is
	// never used right at its expiry.
	Margin time.Duration
	Logger zerolog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	group     singleflight.Group
}

// Token returns a valid bearer token, refreshing it when needed.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}
	// The refresh is detached from the caller's context: its result is shared
	// with other waiters, so one caller giving up must not cancel it for all.
	v, err, _ := c.group.Do("oauth", func() (any, error) {
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		return c.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	tok, _ := v.(string)
	if tok == "" {
		return "", errors.New("paypal: empty access token")
	}
	return tok, nil
}

// Invalidate drops the cached token so the next call refreshes. The gateway
// calls it after a 401 before its single retry.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return "", false
	}
	margin := c.Margin
	if margin <= 0 {
		margin = 30 * time.Second
	}
	if time.Now().Add(margin).After(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

func (c *TokenCache) refresh(ctx context.Context) (string, error) {
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.Secret) == "" {
		return "", errors.New("paypal: oauth credentials not configured")
	}
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.BaseURL, "/")+"/v1/oauth2/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.ClientID, c.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		c.observe("error")
		return "", fmt.Errorf("paypal: token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe("error")
		return "", fmt.Errorf("paypal: read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.observe("error")
		return "", parseAPIError(resp.StatusCode, body)
	}
	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		c.observe("error")
		return "", fmt.Errorf("paypal: decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		c.observe("error")
		return "", errors.New("paypal: token response without access_token")
	}

	c.mu.Lock()
	c.token = payload.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	c.mu.Unlock()

	c.observe("ok")
	c.Logger.Debug().Int64("expires_in", payload.ExpiresIn).Msg("bearer token refreshed")
	return payload.AccessToken, nil
}

func (c *TokenCache) observe(result string) {
	if obs.TokenRefreshTotal != nil {
		obs.TokenRefreshTotal.WithLabelValues(result).Inc()
	}
}
