package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink is a Sink backed by github.com/prometheus/client_golang
// collectors, registered against the caller's registry (or the default
// global one, if nil is passed to NewPrometheusSink).
type PrometheusSink struct {
	queries         *prometheus.CounterVec
	answers         *prometheus.CounterVec
	latency         prometheus.Histogram
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	blocked         prometheus.Counter
	upstreamErrors  *prometheus.CounterVec
	upstreamHealthy *prometheus.GaugeVec
}

// NewPrometheusSink builds and registers the resolver's metric collectors.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	s := &PrometheusSink{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resolverd",
			Name:      "queries_total",
			Help:      "Total DNS queries received, by transport protocol.",
		}, []string{"protocol"}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resolverd",
			Name:      "answers_total",
			Help:      "Total DNS answers sent, by response code.",
		}, []string{"rcode"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "resolverd",
			Name:      "resolve_duration_seconds",
			Help:      "End-to-end query resolution latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "resolverd",
			Name:      "cache_hits_total",
			Help:      "Total cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "resolverd",
			Name:      "cache_misses_total",
			Help:      "Total cache misses.",
		}),
		blocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "resolverd",
			Name:      "blocked_total",
			Help:      "Total queries answered by the blocking engine.",
		}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resolverd",
			Name:      "upstream_errors_total",
			Help:      "Total failed exchanges, by upstream address.",
		}, []string{"upstream"}),
		upstreamHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "resolverd",
			Name:      "upstream_healthy",
			Help:      "1 if the upstream is currently considered healthy, 0 otherwise.",
		}, []string{"upstream"}),
	}

	reg.MustRegister(
		s.queries, s.answers, s.latency, s.cacheHits, s.cacheMisses,
		s.blocked, s.upstreamErrors, s.upstreamHealthy,
	)

	return s
}

func (s *PrometheusSink) IncQueries(protocol string) { s.queries.WithLabelValues(protocol).Inc() }
func (s *PrometheusSink) IncAnswers(rcode string)     { s.answers.WithLabelValues(rcode).Inc() }
func (s *PrometheusSink) ObserveLatency(d time.Duration) {
	s.latency.Observe(d.Seconds())
}
func (s *PrometheusSink) IncCacheHit()          { s.cacheHits.Inc() }
func (s *PrometheusSink) IncCacheMiss()         { s.cacheMisses.Inc() }
func (s *PrometheusSink) IncBlocked()           { s.blocked.Inc() }
func (s *PrometheusSink) IncUpstreamError(upstream string) {
	s.upstreamErrors.WithLabelValues(upstream).Inc()
}
func (s *PrometheusSink) SetUpstreamHealthy(upstream string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	s.upstreamHealthy.WithLabelValues(upstream).Set(v)
}

var _ Sink = (*PrometheusSink)(nil)
