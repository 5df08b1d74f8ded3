package validate

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures the per-client query-rate limiter.
type RateLimiterConfig struct {
	QueriesPerSecond float64
	BurstSize        int
	// PerDomain, when set, additionally buckets by (client-prefix, qname) to
	// blunt amplification abuse against a single popular name.
	PerDomain       bool
	DomainQPS       float64
	DomainBurst     int
	CleanupInterval time.Duration
	IdleTimeout     time.Duration
}

// DefaultRateLimiterConfig returns sensible defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		QueriesPerSecond: 100,
		BurstSize:        200,
		DomainQPS:        20,
		DomainBurst:      40,
		CleanupInterval:  5 * time.Minute,
		IdleTimeout:      10 * time.Minute,
	}
}

type bucketEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter is a per-source-IP (and optionally per-domain) token bucket.
type RateLimiter struct {
	cfg RateLimiterConfig

	mu       sync.Mutex
	byIP     map[string]*bucketEntry
	byDomain map[string]*bucketEntry

	exempt *ACL

	lastCleanup time.Time
}

// NewRateLimiter builds a RateLimiter from cfg.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.QueriesPerSecond == 0 {
		cfg.QueriesPerSecond = 100
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	return &RateLimiter{
		cfg:         cfg,
		byIP:        make(map[string]*bucketEntry),
		byDomain:    make(map[string]*bucketEntry),
		exempt:      NewACL(false),
		lastCleanup: time.Now(),
	}
}

// Exempt returns the ACL of networks exempt from rate limiting.
func (rl *RateLimiter) Exempt() *ACL { return rl.exempt }

// Allow reports whether a query from ip for qname should proceed.
func (rl *RateLimiter) Allow(ip net.IP, qname string) bool {
	if rl.exempt.IsAllowed(ip) {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) > rl.cfg.CleanupInterval {
		rl.cleanupLocked()
	}

	ipKey := ip.String()
	entry, ok := rl.byIP[ipKey]
	if !ok {
		entry = &bucketEntry{limiter: rate.NewLimiter(rate.Limit(rl.cfg.QueriesPerSecond), rl.cfg.BurstSize)}
		rl.byIP[ipKey] = entry
	}
	entry.lastAccess = time.Now()
	if !entry.limiter.Allow() {
		return false
	}

	if !rl.cfg.PerDomain || qname == "" {
		return true
	}

	domKey := ipPrefix(ip) + "/" + qname
	dEntry, ok := rl.byDomain[domKey]
	if !ok {
		dEntry = &bucketEntry{limiter: rate.NewLimiter(rate.Limit(rl.cfg.DomainQPS), rl.cfg.DomainBurst)}
		rl.byDomain[domKey] = dEntry
	}
	dEntry.lastAccess = time.Now()
	return dEntry.limiter.Allow()
}

// cleanupLocked evicts buckets idle past IdleTimeout. Caller holds rl.mu.
func (rl *RateLimiter) cleanupLocked() {
	cutoff := time.Now().Add(-rl.cfg.IdleTimeout)
	for k, e := range rl.byIP {
		if e.lastAccess.Before(cutoff) {
			delete(rl.byIP, k)
		}
	}
	for k, e := range rl.byDomain {
		if e.lastAccess.Before(cutoff) {
			delete(rl.byDomain, k)
		}
	}
	rl.lastCleanup = time.Now()
}

func ipPrefix(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		return net.IPNet{IP: v4.Mask(net.CIDRMask(24, 32)), Mask: net.CIDRMask(24, 32)}.String()
	}
	return net.IPNet{IP: ip.Mask(net.CIDRMask(56, 128)), Mask: net.CIDRMask(56, 128)}.String()
}
