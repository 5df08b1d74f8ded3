package validate

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{QueriesPerSecond: 10, BurstSize: 5})
	ip := net.ParseIP("192.0.2.1")

	for i := 0; i < 5; i++ {
		require.True(t, rl.Allow(ip, "example.com."))
	}
}

func TestRateLimiter_ThrottlesPastBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{QueriesPerSecond: 1, BurstSize: 1})
	ip := net.ParseIP("192.0.2.2")

	require.True(t, rl.Allow(ip, "example.com."))
	require.False(t, rl.Allow(ip, "example.com."))
}

func TestRateLimiter_SeparateBucketsPerIP(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{QueriesPerSecond: 1, BurstSize: 1})

	require.True(t, rl.Allow(net.ParseIP("192.0.2.3"), "a.test."))
	require.True(t, rl.Allow(net.ParseIP("192.0.2.4"), "a.test."))
}

func TestRateLimiter_ExemptBypassesBucket(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{QueriesPerSecond: 1, BurstSize: 1})
	ip := net.ParseIP("198.51.100.1")
	require.NoError(t, rl.Exempt().AllowNet("198.51.100.0/24"))

	for i := 0; i < 10; i++ {
		require.True(t, rl.Allow(ip, "example.com."))
	}
}

func TestRateLimiter_PerDomainBucketThrottlesIndependently(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		QueriesPerSecond: 1000,
		BurstSize:        1000,
		PerDomain:        true,
		DomainQPS:        1,
		DomainBurst:      1,
	})
	ip := net.ParseIP("192.0.2.5")

	require.True(t, rl.Allow(ip, "popular.example."))
	require.False(t, rl.Allow(ip, "popular.example."))
	// A different name for the same IP gets its own domain bucket.
	require.True(t, rl.Allow(ip, "other.example."))
}

func TestRateLimiter_CleanupEvictsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		QueriesPerSecond: 1,
		BurstSize:        1,
		CleanupInterval:  time.Millisecond,
		IdleTimeout:      time.Millisecond,
	})
	ip := net.ParseIP("192.0.2.6")

	require.True(t, rl.Allow(ip, ""))
	require.False(t, rl.Allow(ip, ""))

	time.Sleep(5 * time.Millisecond)
	// Cleanup runs on the next Allow call past CleanupInterval and evicts the
	// idle bucket, so the client effectively gets a fresh token bucket.
	require.True(t, rl.Allow(ip, ""))
}
