package paypal_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-paybridge/internal/paypal"
)

func newTokenServer(t *testing.T, refreshes *atomic.Int64, expiresIn int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/oauth2/token", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "client-id", user)
		require.Equal(t, "client-secret", pass)

		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))

		n := refreshes.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-" + string(rune('a'+n-1)),
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
		})
	}))
}

func TestTokenCacheSharesSingleRefresh(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int64
	srv := newTokenServer(t, &refreshes, 3600)
	defer srv.Close()

	cache := &paypal.TokenCache{
		ClientID: "client-id",
		Secret:   "client-secret",
		BaseURL:  srv.URL,
		HTTP:     srv.Client(),
		Logger:   zerolog.Nop(),
	}

	var wg sync.WaitGroup
	tokens := make([]string, 16)
	errs := make([]error, 16)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = cache.Token(context.Background())
		}(i)
	}
	wg.Wait()

	for i := range tokens {
		require.NoError(t, errs[i])
		require.Equal(t, tokens[0], tokens[i])
	}
	require.Equal(t, int64(1), refreshes.Load(), "concurrent callers must share one refresh")

	// A warm cache serves without another round trip.
	tok, err := cache.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, tokens[0], tok)
	require.Equal(t, int64(1), refreshes.Load())
}

func TestTokenCacheInvalidateForcesRefresh(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int64
	srv := newTokenServer(t, &refreshes, 3600)
	defer srv.Close()

	cache := &paypal.TokenCache{
		ClientID: "client-id",
		Secret:   "client-secret",
		BaseURL:  srv.URL,
		HTTP:     srv.Client(),
		Logger:   zerolog.Nop(),
	}

	first, err := cache.Token(context.Background())
	require.NoError(t, err)

	cache.Invalidate()

	second, err := cache.Token(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	require.Equal(t, int64(2), refreshes.Load())
}

func TestTokenCacheExpiryMarginTriggersRefresh(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int64
	// Lifetime shorter than the margin, so the cached token is never trusted.
	srv := newTokenServer(t, &refreshes, 5)
	defer srv.Close()

	cache := &paypal.TokenCache{
		ClientID: "client-id",
		Secret:   "client-secret",
		BaseURL:  srv.URL,
		HTTP:     srv.Client(),
		Margin:   time.Minute,
		Logger:   zerolog.Nop(),
	}

	_, err := cache.Token(context.Background())
	require.NoError(t, err)
	_, err = cache.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), refreshes.Load())
}

func TestTokenCacheSurfacesProviderError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"name":"invalid_client","message":"Client Authentication failed"}`))
	}))
	defer srv.Close()

	cache := &paypal.TokenCache{
		ClientID: "client-id",
		Secret:   "bad-secret",
		BaseURL:  srv.URL,
		HTTP:     srv.Client(),
		Logger:   zerolog.Nop(),
	}

	_, err := cache.Token(context.Background())
	require.Error(t, err)

	var apiErr *paypal.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Equal(t, "invalid_client", apiErr.Name)
}
