// Package metrics defines the instrumentation surface the resolver core
// calls into. The core only depends on the Sink interface; concrete sinks
// (Prometheus, or a no-op for tests) are adapters plugged in by the
// embedding binary. The scrape HTTP endpoint itself is not part of this
// package - only instrument registration and recording.
package metrics

import "time"

// Sink receives resolver events. Implementations must be safe for
// concurrent use - every method is called from query-handling goroutines.
type Sink interface {
	// IncQueries records one inbound query for the given protocol
	// ("udp", "tcp", "dot", "doh").
	IncQueries(protocol string)

	// IncAnswers records one successfully answered query with its final
	// rcode name (e.g. "NOERROR", "NXDOMAIN", "SERVFAIL").
	IncAnswers(rcode string)

	// ObserveLatency records the end-to-end resolution latency of one query.
	ObserveLatency(d time.Duration)

	// IncCacheHit/IncCacheMiss record cache lookups.
	IncCacheHit()
	IncCacheMiss()

	// IncBlocked records one query answered by the blocking engine.
	IncBlocked()

	// IncUpstreamError records a failed upstream exchange for the given
	// upstream address.
	IncUpstreamError(upstream string)

	// SetUpstreamHealthy reports an upstream's current health state.
	SetUpstreamHealthy(upstream string, healthy bool)
}

// NopSink discards every event. It is the default when no sink is
// configured, and is useful in tests that don't care about metrics.
type NopSink struct{}

func (NopSink) IncQueries(string)                {}
func (NopSink) IncAnswers(string)                {}
func (NopSink) ObserveLatency(time.Duration)      {}
func (NopSink) IncCacheHit()                      {}
func (NopSink) IncCacheMiss()                     {}
func (NopSink) IncBlocked()                       {}
func (NopSink) IncUpstreamError(string)           {}
func (NopSink) SetUpstreamHealthy(string, bool)   {}

var _ Sink = NopSink{}
