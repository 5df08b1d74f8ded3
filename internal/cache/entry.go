package cache

import (
	"time"

	"github.com/miekg/dns"
)

// ValidationMode controls how DNSSEC validation status gates cache writes.
type ValidationMode int

const (
	// ValidationModePass caches every response regardless of DNSSEC status.
	ValidationModePass ValidationMode = iota
	// ValidationModeEnforced refuses to cache anything that was not
	// positively validated as secure.
	ValidationModeEnforced
	// ValidationModeLogOnly caches everything but records unvalidated
	// writes in Stats so an operator can see what would be rejected
	// under Enforced mode before switching to it.
	ValidationModeLogOnly
)

// Entry is a cached DNS response (spec "Cache entry").
type Entry struct {
	// Msg is the response as decoded from the wire; TTLs are rewritten to
	// the remaining time-to-live on every Get.
	Msg *dns.Msg

	// ExpiresAt is the absolute instant this entry's TTL reaches zero.
	ExpiresAt time.Time
	// OrigTTL is the TTL selected at insertion time (§4.C TTL selection).
	OrigTTL uint32
	// InsertedAt is when the entry was written.
	InsertedAt time.Time

	// Negative marks NXDOMAIN/NODATA responses, cached via SOA.MINIMUM
	// rather than answer TTLs.
	Negative bool

	// accessStamp is bumped on every read; eviction samples a handful of
	// entries per shard and evicts whichever has the oldest stamp.
	accessStamp uint64

	// Hits counts reads that observed this entry (lock-free).
	Hits uint64

	// DNSSEC validation status recorded at insertion time.
	DNSSECValidated bool
	DNSSECBogus     bool

	// Query metadata, used for stats and carried through snapshots; snapshot
	// reload keys entries by their stored hash, not by these fields.
	QName  string
	QType  uint16
	QClass uint16
}

// IsExpired reports whether entry's TTL has reached zero.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// IsStale reports whether entry is expired but still within maxStale of its
// expiry, i.e. eligible to be served under serve-stale policy.
func (e *Entry) IsStale(maxStale time.Duration) bool {
	if !e.IsExpired() {
		return false
	}
	return time.Since(e.ExpiresAt) < maxStale
}

// RemainingTTL returns the seconds left until expiry, floored at zero.
func (e *Entry) RemainingTTL() uint32 {
	remaining := time.Until(e.ExpiresAt)
	if remaining <= 0 {
		return 0
	}
	secs := int64(remaining.Seconds())
	if secs > 0x7fffffff {
		secs = 0x7fffffff
	}
	return uint32(secs)
}

// RewriteTTLs returns a deep copy of e.Msg with every record's TTL rewritten
// to the entry's current remaining TTL, per spec invariant P2.
func (e *Entry) RewriteTTLs() *dns.Msg {
	if e.Msg == nil {
		return nil
	}
	out := e.Msg.Copy()
	ttl := e.RemainingTTL()
	for _, rr := range out.Answer {
		rr.Header().Ttl = ttl
	}
	for _, rr := range out.Ns {
		rr.Header().Ttl = ttl
	}
	for _, rr := range out.Extra {
		if rr.Header().Rrtype == dns.TypeOPT {
			continue
		}
		rr.Header().Ttl = ttl
	}
	return out
}
