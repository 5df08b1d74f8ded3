package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusSink_RecordsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.IncQueries("udp")
	sink.IncQueries("udp")
	sink.IncAnswers("NOERROR")
	sink.ObserveLatency(5 * time.Millisecond)
	sink.IncCacheHit()
	sink.IncCacheMiss()
	sink.IncBlocked()
	sink.IncUpstreamError("8.8.8.8:53")
	sink.SetUpstreamHealthy("8.8.8.8:53", true)

	require.Equal(t, float64(2), testutil.ToFloat64(sink.queries.WithLabelValues("udp")))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.answers.WithLabelValues("NOERROR")))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.cacheHits))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.cacheMisses))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.blocked))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.upstreamErrors.WithLabelValues("8.8.8.8:53")))
}

func TestNopSink_SatisfiesInterface(t *testing.T) {
	var s Sink = NopSink{}
	s.IncQueries("udp")
	s.IncAnswers("NOERROR")
	s.ObserveLatency(time.Millisecond)
	s.IncCacheHit()
	s.IncCacheMiss()
	s.IncBlocked()
	s.IncUpstreamError("upstream")
	s.SetUpstreamHealthy("upstream", false)
}
