package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// WebhookEventsTotal counts inbound webhook deliveries by event type and outcome.
	WebhookEventsTotal *prometheus.CounterVec
	// CaptureTotal counts authorization capture attempts by outcome.
	CaptureTotal *prometheus.CounterVec
	// TokenRefreshTotal counts bearer token refreshes by outcome.
	TokenRefreshTotal *prometheus.CounterVec
	// OnboardingURLTotal counts connection URL generations by outcome.
	OnboardingURLTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		WebhookEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Count of inbound webhook deliveries by event type and outcome.",
		}, []string{"event_type", "result"})
		CaptureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_total",
			Help:      "Count of authorization capture attempts by outcome.",
		}, []string{"result"})
		TokenRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Count of OAuth bearer token refreshes by outcome.",
		}, []string{"result"})
		OnboardingURLTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "onboarding_url_total",
			Help:      "Count of connection URL generations by outcome.",
		}, []string{"result"})

		mustRegisterCounterVec(reg, &WebhookEventsTotal)
		mustRegisterCounterVec(reg, &CaptureTotal)
		mustRegisterCounterVec(reg, &TokenRefreshTotal)
		mustRegisterCounterVec(reg, &OnboardingURLTotal)
	})
}

func mustRegisterCounterVec(reg prometheus.Registerer, vec **prometheus.CounterVec) {
	if err := reg.Register(*vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				*vec = existing
				return
			}
		}
		panic(fmt.Errorf("register collector: %w", err))
	}
}
