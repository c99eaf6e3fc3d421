// Package metrics holds the broker's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	FederationInitiatedTotal *prometheus.CounterVec
	FederationResolvedTotal  *prometheus.CounterVec
	FederationFailedTotal    *prometheus.CounterVec
	AccountsCreatedTotal     prometheus.Counter
	AccountsLinkedTotal      prometheus.Counter
)

// InitCustomMetrics initializes and registers the broker metrics. It should
// be called once at application startup; left uninitialized, as in tests, the
// increment helpers no-op.
func InitCustomMetrics(reg prometheus.Registerer) {
	FederationInitiatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idfed_federation_initiated_total",
		Help: "Total number of federation attempts redirected to an upstream.",
	}, []string{"spec"})
	FederationResolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idfed_federation_resolved_total",
		Help: "Total number of federation attempts resolved to an account.",
	}, []string{"spec"})
	FederationFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idfed_federation_failed_total",
		Help: "Total number of failed federation attempts by browser-visible reason.",
	}, []string{"reason"})
	AccountsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idfed_accounts_created_total",
		Help: "Total number of accounts created on first federation.",
	})
	AccountsLinkedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idfed_accounts_linked_total",
		Help: "Total number of federations linked to an existing account.",
	})

	if reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{
		FederationInitiatedTotal,
		FederationResolvedTotal,
		FederationFailedTotal,
		AccountsCreatedTotal,
		AccountsLinkedTotal,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}
}

// InitiatedInc records a redirect-out for one protocol spec.
func InitiatedInc(spec string) {
	if FederationInitiatedTotal != nil {
		FederationInitiatedTotal.WithLabelValues(spec).Inc()
	}
}

func ResolvedInc(spec string) {
	if FederationResolvedTotal != nil {
		FederationResolvedTotal.WithLabelValues(spec).Inc()
	}
}

func FailedInc(reason string) {
	if FederationFailedTotal != nil {
		FederationFailedTotal.WithLabelValues(reason).Inc()
	}
}

func AccountCreatedInc() {
	if AccountsCreatedTotal != nil {
		AccountsCreatedTotal.Inc()
	}
}

func AccountLinkedInc() {
	if AccountsLinkedTotal != nil {
		AccountsLinkedTotal.Inc()
	}
}
