package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts provider calls by outcome. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	exchanges       *prometheus.CounterVec
	identityFetches *prometheus.CounterVec
}

// NewMetrics registers the exchange metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		exchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_token_exchanges_total",
			Help: "Authorization code exchanges against the provider token endpoint.",
		}, []string{"outcome"}),
		identityFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_identity_fetches_total",
			Help: "User info lookups against the provider.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) observeExchange(outcome string) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeIdentityFetch(outcome string) {
	if m == nil {
		return
	}
	m.identityFetches.WithLabelValues(outcome).Inc()
}
