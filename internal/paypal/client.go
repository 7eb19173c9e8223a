package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Doer executes a single HTTP request. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Response is a successful (2xx) provider response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if r == nil || len(r.Body) == 0 {
		return errors.New("paypal: empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// Client is the bearer-authenticated gateway to the provider's REST surface.
// It owns authentication and status classification; it performs no retries
// beyond a single token refresh after a 401.
type Client struct {
	BaseURL string
	Tokens  TokenSource
	HTTP    Doer
	Logger  zerolog.Logger
}

// Do issues an authorized request. 2xx responses are returned with their
// bodies; a 401 forces one token refresh and a single retry; every other
// status surfaces as an *APIError.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	if c.Tokens == nil || c.HTTP == nil {
		return nil, errors.New("paypal: client not configured")
	}
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("paypal: encode request body: %w", err)
		}
	}

	resp, err := c.send(ctx, method, path, payload, false)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		c.Logger.Debug().Str("path", path).Msg("401 from provider, refreshing token")
		c.Tokens.Invalidate()
		resp, err = c.send(ctx, method, path, payload, true)
		if err != nil {
			return nil, err
		}
	}

	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("paypal: read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Response{StatusCode: resp.StatusCode, Body: data}, nil
	}
	return nil, parseAPIError(resp.StatusCode, data)
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, retried bool) (*http.Response, error) {
	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("paypal: obtain token: %w", err)
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("paypal: %s %s: %w", method, path, err)
	}
	if resp.StatusCode == http.StatusUnauthorized && retried {
		// Second 401 in a row: hand it to the caller as an API error.
		data, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			data = nil
		}
		return nil, parseAPIError(resp.StatusCode, data)
	}
	return resp, nil
}

func (c *Client) url(path string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
