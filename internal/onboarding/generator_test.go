package onboarding_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-paybridge/internal/onboarding"
)

type stubReferrals struct {
	link  string
	err   error
	calls atomic.Int64
	last  map[string]any
}

func (s *stubReferrals) CreatePartnerReferral(_ context.Context, referral map[string]any) (string, error) {
	s.calls.Add(1)
	s.last = referral
	if s.err != nil {
		return "", s.err
	}
	return s.link, nil
}

func newCache(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestGenerateAppendsDisplayModeAndCaches(t *testing.T) {
	t.Parallel()

	referrals := &stubReferrals{link: "https://www.sandbox.paypal.com/merchantsignup?token=abc"}
	g := &onboarding.Generator{
		Referrals:   referrals,
		Cache:       newCache(t),
		TTL:         time.Hour,
		Environment: "sandbox",
		ReturnURL:   "https://shop.example.com/paypal/return",
		Logger:      zerolog.Nop(),
	}

	link := g.Generate(context.Background(), "user-1", []string{"PPCP"})
	require.NotEmpty(t, link)

	parsed, err := url.Parse(link)
	require.NoError(t, err)
	require.Equal(t, "minibrowser", parsed.Query().Get("displayMode"))
	require.Equal(t, "abc", parsed.Query().Get("token"))

	// Same user, environment and products within the TTL hits the cache.
	again := g.Generate(context.Background(), "user-1", []string{"PPCP"})
	require.Equal(t, link, again)
	require.Equal(t, int64(1), referrals.calls.Load())

	require.Equal(t, []string{"PPCP"}, referrals.last["products"])
	override := referrals.last["partner_config_override"].(map[string]any)
	require.Equal(t, "https://shop.example.com/paypal/return", override["return_url"])
}

func TestGenerateCacheKeyIgnoresProductOrder(t *testing.T) {
	t.Parallel()

	referrals := &stubReferrals{link: "https://www.sandbox.paypal.com/merchantsignup?token=abc"}
	g := &onboarding.Generator{
		Referrals:   referrals,
		Cache:       newCache(t),
		TTL:         time.Hour,
		Environment: "sandbox",
		Logger:      zerolog.Nop(),
	}

	first := g.Generate(context.Background(), "user-1", []string{"PPCP", "EXPRESS_CHECKOUT"})
	second := g.Generate(context.Background(), "user-1", []string{"EXPRESS_CHECKOUT", "PPCP"})
	require.Equal(t, first, second)
	require.Equal(t, int64(1), referrals.calls.Load())
}

func TestGenerateScopesCacheToUser(t *testing.T) {
	t.Parallel()

	referrals := &stubReferrals{link: "https://www.sandbox.paypal.com/merchantsignup?token=abc"}
	g := &onboarding.Generator{
		Referrals:   referrals,
		Cache:       newCache(t),
		TTL:         time.Hour,
		Environment: "sandbox",
		Logger:      zerolog.Nop(),
	}

	g.Generate(context.Background(), "user-1", nil)
	g.Generate(context.Background(), "user-2", nil)
	require.Equal(t, int64(2), referrals.calls.Load())
}

func TestGenerateReturnsEmptyStringOnReferralFailure(t *testing.T) {
	t.Parallel()

	referrals := &stubReferrals{err: errors.New("partner-referrals returned 503")}
	g := &onboarding.Generator{
		Referrals:   referrals,
		Cache:       newCache(t),
		TTL:         time.Hour,
		Environment: "sandbox",
		Logger:      zerolog.Nop(),
	}

	require.Empty(t, g.Generate(context.Background(), "user-1", nil))
	// Failures are not cached; the next request tries again.
	require.Empty(t, g.Generate(context.Background(), "user-1", nil))
	require.Equal(t, int64(2), referrals.calls.Load())
}

func TestGenerateDefaultsProductsWhenNoneRequested(t *testing.T) {
	t.Parallel()

	referrals := &stubReferrals{link: "https://www.sandbox.paypal.com/merchantsignup?token=abc"}
	g := &onboarding.Generator{Referrals: referrals, Environment: "sandbox", Logger: zerolog.Nop()}

	require.NotEmpty(t, g.Generate(context.Background(), "user-1", nil))
	require.Equal(t, []string{"PPCP"}, referrals.last["products"])
}

func TestConnectURLHandler(t *testing.T) {
	t.Parallel()

	referrals := &stubReferrals{link: "https://www.sandbox.paypal.com/merchantsignup?token=abc"}
	h := &onboarding.Handler{Gen: &onboarding.Generator{
		Referrals:   referrals,
		Environment: "sandbox",
		Logger:      zerolog.Nop(),
	}}

	rr := httptest.NewRecorder()
	h.ConnectURL(rr, httptest.NewRequest(http.MethodGet, "/api/v1/onboarding/connect-url?user_id=user-1&products=PPCP", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "merchantsignup")

	rr = httptest.NewRecorder()
	h.ConnectURL(rr, httptest.NewRequest(http.MethodGet, "/api/v1/onboarding/connect-url", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestConnectURLHandlerUnavailable(t *testing.T) {
	t.Parallel()

	h := &onboarding.Handler{Gen: &onboarding.Generator{
		Referrals:   &stubReferrals{err: errors.New("down")},
		Environment: "sandbox",
		Logger:      zerolog.Nop(),
	}}

	rr := httptest.NewRecorder()
	h.ConnectURL(rr, httptest.NewRequest(http.MethodGet, "/api/v1/onboarding/connect-url?user_id=user-1", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), "URL_UNAVAILABLE"))
}
