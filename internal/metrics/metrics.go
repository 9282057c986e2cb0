// Package metrics bundles Prometheus collectors for the crawl engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics bundles the crawl collectors on a dedicated registry.
type Metrics struct {
	Registry            *prometheus.Registry
	ClaimsTotal         *prometheus.CounterVec
	EmptyClaimsTotal    *prometheus.CounterVec
	ReconciledTotal     *prometheus.CounterVec
	FetchErrorsTotal    *prometheus.CounterVec
	LeaseReclaimedTotal prometheus.Counter
	CycleDuration       *prometheus.HistogramVec
}

// New constructs and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	claims := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpcrawl_claims_total",
			Help: "Entities claimed for processing, by facet.",
		},
		[]string{"facet"},
	)
	emptyClaims := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpcrawl_empty_claims_total",
			Help: "Claim attempts that found no due work, by facet.",
		},
		[]string{"facet"},
	)
	reconciled := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpcrawl_reconciled_total",
			Help: "Entities written back by the reconciler, by entity type.",
		},
		[]string{"entity"},
	)
	fetchErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpcrawl_fetch_errors_total",
			Help: "Fetch failures, by error type.",
		},
		[]string{"type"},
	)
	leaseReclaimed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mpcrawl_lease_reclaimed_total",
			Help: "Stale leases released by the reaper.",
		},
	)
	cycleDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mpcrawl_cycle_duration_seconds",
			Help:    "Duration of one claim-process-release cycle, by facet.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"facet"},
	)

	registry.MustRegister(claims, emptyClaims, reconciled, fetchErrors, leaseReclaimed, cycleDuration)

	return &Metrics{
		Registry:            registry,
		ClaimsTotal:         claims,
		EmptyClaimsTotal:    emptyClaims,
		ReconciledTotal:     reconciled,
		FetchErrorsTotal:    fetchErrors,
		LeaseReclaimedTotal: leaseReclaimed,
		CycleDuration:       cycleDuration,
	}
}

// IncClaims records n claimed entities for a facet.
func (m *Metrics) IncClaims(facet string, n int) {
	if m == nil {
		return
	}
	m.ClaimsTotal.WithLabelValues(facet).Add(float64(n))
}

// IncEmptyClaim records a claim attempt that found nothing due.
func (m *Metrics) IncEmptyClaim(facet string) {
	if m == nil {
		return
	}
	m.EmptyClaimsTotal.WithLabelValues(facet).Inc()
}

// IncReconciled records n reconciled entities of one type.
func (m *Metrics) IncReconciled(entity string, n int) {
	if m == nil {
		return
	}
	m.ReconciledTotal.WithLabelValues(entity).Add(float64(n))
}

// IncFetchError records one fetch failure of the given type.
func (m *Metrics) IncFetchError(errType string) {
	if m == nil {
		return
	}
	m.FetchErrorsTotal.WithLabelValues(errType).Inc()
}

// AddLeaseReclaimed records stale leases released by the reaper.
func (m *Metrics) AddLeaseReclaimed(n int64) {
	if m == nil {
		return
	}
	m.LeaseReclaimedTotal.Add(float64(n))
}

// Summary gathers non-zero counter totals for the end-of-run log line.
// There is no exposition endpoint; this is the only place the registry
// is read back.
func (m *Metrics) Summary() map[string]float64 {
	if m == nil {
		return nil
	}

	totals := make(map[string]float64)
	families, err := m.Registry.Gather()
	if err != nil {
		return totals
	}
	for _, fam := range families {
		if fam.GetType() != dto.MetricType_COUNTER {
			continue
		}
		var sum float64
		for _, metric := range fam.GetMetric() {
			sum += metric.GetCounter().GetValue()
		}
		if sum > 0 {
			totals[fam.GetName()] = sum
		}
	}
	return totals
}

// ObserveCycle records the duration of one processing cycle.
func (m *Metrics) ObserveCycle(facet string, d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.WithLabelValues(facet).Observe(d.Seconds())
}
