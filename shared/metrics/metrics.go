package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the identity and tenancy core.
type Metrics struct {
	TokensIssued      *prometheus.CounterVec
	TokensRevoked     prometheus.Counter
	TokenRejections   *prometheus.CounterVec
	LoginFailures     prometheus.Counter
	StoreHandles      prometheus.Gauge
	StoreOpenFailures prometheus.Counter
	Provisioning      *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// services and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TokensIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tenancy_tokens_issued_total",
			Help: "Session tokens issued, by role",
		}, []string{"role"}),
		TokensRevoked: f.NewCounter(prometheus.CounterOpts{
			Name: "tenancy_tokens_revoked_total",
			Help: "Session tokens written to the revocation ledger",
		}),
		TokenRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tenancy_token_rejections_total",
			Help: "Session tokens rejected during validation, by reason",
		}, []string{"reason"}),
		LoginFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "tenancy_login_failures_total",
			Help: "Login attempts rejected with an authentication error",
		}),
		StoreHandles: f.NewGauge(prometheus.GaugeOpts{
			Name: "tenancy_store_handles",
			Help: "Tenant store handles currently cached by the router",
		}),
		StoreOpenFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "tenancy_store_open_failures_total",
			Help: "Failed attempts to open a tenant store handle",
		}),
		Provisioning: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tenancy_provisioning_total",
			Help: "Tenant provisioning attempts, by outcome",
		}, []string{"outcome"}),
	}
}

// Discard returns collectors registered nowhere, for components built without metrics
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
