// Package metrics exposes this core's Prometheus metrics: a pull-based
// Collector for point-in-time gauges (active sessions, certificate
// expiry), plus promauto-registered counters that the B2BUA core's request
// dispatch and the ACME wiring in cmd/sbc increment inline as events occur.
package metrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SessionCounter exposes the number of active B2BUA sessions.
type SessionCounter interface {
	Count() int
}

// CertificateExpiryEntry is one stored certificate's renewal posture.
type CertificateExpiryEntry struct {
	Domain          string
	DaysUntilExpiry int
}

// CertificateExpiryProvider lists the current expiry posture of every
// certificate this core's certstore holds.
type CertificateExpiryProvider interface {
	CertificateExpiries() []CertificateExpiryEntry
}

// Collector is a prometheus.Collector that gathers point-in-time gauges at
// scrape time rather than requiring every caller to push a gauge update.
type Collector struct {
	sessions SessionCounter
	certs    CertificateExpiryProvider

	activeSessionsDesc *prometheus.Desc
	certExpiryDaysDesc *prometheus.Desc
}

// NewCollector creates a Collector. Either provider may be nil if
// unavailable (e.g. ACME disabled, so no certstore to report on).
func NewCollector(sessions SessionCounter, certs CertificateExpiryProvider) *Collector {
	return &Collector{
		sessions: sessions,
		certs:    certs,
		activeSessionsDesc: prometheus.NewDesc(
			"sbc_active_sessions",
			"Number of B2BUA sessions currently tracked (any lifecycle state)",
			nil, nil,
		),
		certExpiryDaysDesc: prometheus.NewDesc(
			"sbc_certificate_days_until_expiry",
			"Days remaining until a stored certificate's NotAfter",
			[]string{"domain"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSessionsDesc
	ch <- c.certExpiryDaysDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.sessions != nil {
		ch <- prometheus.MustNewConstMetric(c.activeSessionsDesc, prometheus.GaugeValue, float64(c.sessions.Count()))
	}
	if c.certs != nil {
		for _, e := range c.certs.CertificateExpiries() {
			ch <- prometheus.MustNewConstMetric(c.certExpiryDaysDesc, prometheus.GaugeValue, float64(e.DaysUntilExpiry), e.Domain)
		}
	}
}

// Event counters. These are incremented inline by the perimeter, routing,
// and ACME call sites as the corresponding event occurs, rather than
// polled, since there is no natural "current value" to sample for a
// monotonic event count.
var (
	// ACLDenials counts requests rejected by a named ACL's default policy
	// or an explicit deny rule, labeled by ACL name.
	ACLDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sbc_acl_denials_total",
		Help: "Requests denied by the security perimeter, by ACL name",
	}, []string{"acl"})

	// AuthFailures counts digest validation failures, labeled by the
	// digestauth sentinel error reason (bad_credentials, nonce_expired, ...).
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sbc_auth_failures_total",
		Help: "Digest authentication validation failures, by reason",
	}, []string{"reason"})

	// AuthBlocks counts requests refused outright by the brute-force guard.
	AuthBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sbc_auth_blocks_total",
		Help: "Requests refused by the brute-force guard before digest validation",
	})

	// RouteMisses counts calls that did not resolve to an accepted route,
	// labeled by outcome (no_route, rejected).
	RouteMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sbc_route_misses_total",
		Help: "Calls that did not resolve to an accepted route, by outcome",
	}, []string{"outcome"})

	// CodecNegotiationFailures counts SDP offer/answer exchanges that
	// found no common codec between the two legs.
	CodecNegotiationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sbc_codec_negotiation_failures_total",
		Help: "SDP negotiations that found no common codec between offer and catalog",
	})

	// CertificateErrors counts ACME/certstore failures, labeled by kind
	// (order, storage, renewal_check).
	CertificateErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sbc_certificate_errors_total",
		Help: "ACME/certstore failures, by kind",
	}, []string{"kind"})
)

// Register registers the Collector against the default Prometheus
// registry. Panics (via prometheus.MustRegister) on a duplicate
// registration, which would indicate a wiring bug, not a runtime condition.
func Register(logger *slog.Logger, c *Collector) {
	prometheus.MustRegister(c)
	logger.Info("metrics collector registered")
}
