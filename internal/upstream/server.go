// Package upstream tracks the health and latency of configured upstream
// nameservers and dispatches queries against them, generalizing the fixed
// root-hint walk a purely iterative resolver performs into a pool of
// user-configured forwarders with failover and load awareness.
package upstream

import (
	"sync"
	"sync/atomic"
	"time"
)

// ewmaAlpha weights how quickly the response-time estimate reacts to a new
// sample; low enough that one slow query doesn't immediately blacklist a
// server, high enough that sustained degradation shows up within seconds.
const ewmaAlpha = 0.2

// failureThreshold is how many consecutive failures mark a server unhealthy.
const failureThreshold = 3

// recoveryInterval is how long an unhealthy server is left alone before it's
// given another chance.
const recoveryInterval = 30 * time.Second

// Server tracks one configured upstream nameserver's live health state.
type Server struct {
	Address string // host:port

	inFlight     atomic.Int64
	failures     atomic.Int64
	healthy      atomic.Bool
	ewmaRTTNanos atomic.Int64

	mu           sync.Mutex
	lastFailure  time.Time
	recentWindow []time.Duration
}

// NewServer returns a Server in the healthy state.
func NewServer(addr string) *Server {
	s := &Server{Address: addr}
	s.healthy.Store(true)
	return s
}

// RecordSuccess updates the EWMA response time and clears failure state.
func (s *Server) RecordSuccess(rtt time.Duration) {
	s.failures.Store(0)
	s.healthy.Store(true)

	for {
		old := s.ewmaRTTNanos.Load()
		var next int64
		if old == 0 {
			next = int64(rtt)
		} else {
			next = int64(ewmaAlpha*float64(rtt) + (1-ewmaAlpha)*float64(old))
		}
		if s.ewmaRTTNanos.CompareAndSwap(old, next) {
			break
		}
	}

	s.mu.Lock()
	s.recentWindow = append(s.recentWindow, rtt)
	if len(s.recentWindow) > 20 {
		s.recentWindow = s.recentWindow[len(s.recentWindow)-20:]
	}
	s.mu.Unlock()
}

// RecordFailure marks a failed query, flipping the server unhealthy once
// failureThreshold consecutive failures have accumulated.
func (s *Server) RecordFailure() {
	n := s.failures.Add(1)
	s.mu.Lock()
	s.lastFailure = time.Now()
	s.mu.Unlock()

	if n >= failureThreshold {
		s.healthy.Store(false)
	}
}

// Healthy reports whether the server should currently be considered a
// candidate. An unhealthy server becomes eligible again after
// recoveryInterval, so a transient outage self-heals without operator
// intervention.
func (s *Server) Healthy() bool {
	if s.healthy.Load() {
		return true
	}
	s.mu.Lock()
	since := time.Since(s.lastFailure)
	s.mu.Unlock()
	return since >= recoveryInterval
}

// EWMA returns the current smoothed round-trip estimate.
func (s *Server) EWMA() time.Duration {
	return time.Duration(s.ewmaRTTNanos.Load())
}

// InFlight returns the number of queries currently outstanding to this
// server.
func (s *Server) InFlight() int64 {
	return s.inFlight.Load()
}

// beginQuery/endQuery bracket an in-flight request for load-aware ordering.
func (s *Server) beginQuery() { s.inFlight.Add(1) }
func (s *Server) endQuery()   { s.inFlight.Add(-1) }

// Snapshot is a point-in-time view of a server's health, safe to export to
// metrics or a status endpoint.
type Snapshot struct {
	Address   string
	Healthy   bool
	EWMA      time.Duration
	Failures  int64
	InFlight  int64
}

// Stats returns a Snapshot of this server's current state.
func (s *Server) Stats() Snapshot {
	return Snapshot{
		Address:  s.Address,
		Healthy:  s.Healthy(),
		EWMA:     s.EWMA(),
		Failures: s.failures.Load(),
		InFlight: s.InFlight(),
	}
}
