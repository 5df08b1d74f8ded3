package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// RemoteBackend is the optional second tier of a two-tier cache. The
// resolver never imports a concrete remote-cache client directly — it only
// ever sees this interface, so swapping Redis for another store later
// touches only the implementation below.
type RemoteBackend interface {
	// Get fetches the entry stored under key; a miss returns (nil, nil).
	Get(ctx context.Context, key string) (*RemoteEntry, error)
	// Set stores entry under key for the given TTL.
	Set(ctx context.Context, key string, entry *RemoteEntry, ttl time.Duration) error
	// Close releases the backend's connections.
	Close() error
}

// RemoteEntry is the wire-portable shape stored in the remote tier.
type RemoteEntry struct {
	Wire            []byte
	Negative        bool
	DNSSECValidated bool
}

// TieredCache wraps a local ShardedCache with an optional RemoteBackend,
// consulted only on a local miss and strictly before any in-flight-dedup
// check the caller performs — so a slow remote tier only delays entry into
// dedup, it never bypasses it.
type TieredCache struct {
	Local  *ShardedCache
	Remote RemoteBackend

	negativeCap time.Duration
}

// NewTieredCache builds a TieredCache. remote may be nil, in which case
// GetTiered behaves exactly like Local.Get.
func NewTieredCache(local *ShardedCache, remote RemoteBackend) *TieredCache {
	return &TieredCache{Local: local, Remote: remote}
}

// GetTiered checks the local shard map first, then the remote backend
// (populating the local cache on a remote hit so subsequent lookups stay
// purely local).
func (t *TieredCache) GetTiered(ctx context.Context, hash uint64, key string) (*Entry, bool) {
	if e, ok := t.Local.Get(hash); ok {
		return e, true
	}
	if t.Remote == nil {
		return nil, false
	}

	re, err := t.Remote.Get(ctx, key)
	if err != nil || re == nil {
		return nil, false
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(re.Wire); err != nil {
		return nil, false
	}

	ttl := minRRSetTTL(msg.Answer)
	if len(msg.Answer) == 0 {
		ttl = synthMinTTL
	}
	entry := &Entry{
		Msg:             msg,
		ExpiresAt:       time.Now().Add(time.Duration(ttl) * time.Second),
		OrigTTL:         ttl,
		InsertedAt:      time.Now(),
		Negative:        re.Negative,
		DNSSECValidated: re.DNSSECValidated,
		QName:           key,
	}
	t.Local.Set(hash, entry)
	return entry, true
}

// SetTiered writes through to both tiers.
func (t *TieredCache) SetTiered(ctx context.Context, hash uint64, key string, entry *Entry) {
	t.Local.Set(hash, entry)
	if t.Remote == nil || entry.Msg == nil {
		return
	}
	wire, err := entry.Msg.Pack()
	if err != nil {
		return
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return
	}
	_ = t.Remote.Set(ctx, key, &RemoteEntry{
		Wire:            wire,
		Negative:        entry.Negative,
		DNSSECValidated: entry.DNSSECValidated,
	}, ttl)
}

// RemoteKey derives the remote-tier key from the local cache's (name, type,
// class) triple, kept separate from the local uint64 hash since Redis keys
// need to be legible for operational debugging.
func RemoteKey(qname string, qtype, qclass uint16) string {
	return fmt.Sprintf("dns:%s:%d:%d", dns.Fqdn(qname), qtype, qclass)
}
