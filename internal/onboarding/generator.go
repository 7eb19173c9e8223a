// Package onboarding builds merchant sign-up (connection) URLs and caches
// them so repeated requests for the same environment and product set do not
// hit the provider again.
package onboarding

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/backend-paybridge/internal/obs"
)

// Referrals creates a partner referral and returns the signup link.
type Referrals interface {
	CreatePartnerReferral(ctx context.Context, referral map[string]any) (string, error)
}

// Cache is the subset of redis the generator uses.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Generator produces connection URLs. A failure anywhere yields an empty
// string, never an error: callers treat empty as "try again later".
type Generator struct {
	Referrals   Referrals
	Cache       Cache
	TTL         time.Duration
	Environment string
	// ReturnURL is where the provider sends the merchant after sign-up.
	ReturnURL string
	Logger    zerolog.Logger

	group singleflight.Group
}

// Generate returns the connection URL for the acting user and product set.
// Identical (environment, products) requests within the cache lifetime return
// the cached URL; concurrent misses share one referral call per key.
func (g *Generator) Generate(ctx context.Context, userID string, products []string) string {
	key := g.cacheKey(userID, products)
	if cached := g.lookup(ctx, key); cached != "" {
		g.observe("hit")
		return cached
	}

	v, _, _ := g.group.Do(key, func() (any, error) {
		if cached := g.lookup(ctx, key); cached != "" {
			return cached, nil
		}
		return g.generate(ctx, key, products), nil
	})
	link, _ := v.(string)
	return link
}

func (g *Generator) generate(ctx context.Context, key string, products []string) string {
	g.Logger.Info().Str("cache_key", key).Msg("generating connection URL")

	token := uuid.NewString()
	referral := g.referralData(products, token)

	link, err := g.Referrals.CreatePartnerReferral(ctx, referral)
	if err != nil {
		g.Logger.Warn().Err(err).Str("cache_key", key).Msg("could not generate a connection URL")
		g.observe("error")
		return ""
	}
	link = withQueryParam(link, "displayMode", "minibrowser")

	if g.Cache != nil && g.TTL > 0 {
		if err := g.Cache.Set(ctx, key, link, g.TTL).Err(); err != nil {
			g.Logger.Warn().Err(err).Str("cache_key", key).Msg("could not persist connection URL")
		}
	}
	g.observe("ok")
	return link
}

func (g *Generator) lookup(ctx context.Context, key string) string {
	if g.Cache == nil {
		return ""
	}
	cached, err := g.Cache.Get(ctx, key).Result()
	if err != nil {
		return ""
	}
	return cached
}

// cacheKey sorts products so equivalent requests share an entry, and scopes
// the entry to the acting user.
func (g *Generator) cacheKey(userID string, products []string) string {
	sorted := append([]string(nil), products...)
	sort.Strings(sorted)
	return fmt.Sprintf("onboarding:%s:%s-%s", userID, g.Environment, strings.Join(sorted, "-"))
}

func (g *Generator) referralData(products []string, token string) map[string]any {
	if len(products) == 0 {
		products = []string{"PPCP"}
	}
	return map[string]any{
		"products":     products,
		"tracking_id":  token,
		"partner_config_override": map[string]any{
			"return_url": g.ReturnURL,
		},
		"legal_consents": []map[string]any{
			{"type": "SHARE_DATA_CONSENT", "granted": true},
		},
		"operations": []map[string]any{
			{
				"operation": "API_INTEGRATION",
				"api_integration_preference": map[string]any{
					"rest_api_integration": map[string]any{
						"integration_method": "PAYPAL",
						"integration_type":   "FIRST_PARTY",
					},
				},
			},
		},
	}
}

func (g *Generator) observe(result string) {
	if obs.OnboardingURLTotal != nil {
		obs.OnboardingURLTotal.WithLabelValues(result).Inc()
	}
}

func withQueryParam(link, key, value string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
