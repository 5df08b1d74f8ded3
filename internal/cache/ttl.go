package cache

import (
	"time"

	"github.com/miekg/dns"
)

// maxTTL is the RFC 2181/8.2 boundary: TTLs with the high bit set (i.e. >=
// 2^31) are treated as zero.
const maxTTL = 1<<31 - 1

// synthMinTTL and synthMaxTTL bound the TTL placed on a synthesized
// authority SOA when the server itself answers with NXDOMAIN/NODATA (§4.C,
// §4.H response assembly).
const (
	synthMinTTL uint32 = 60
	synthMaxTTL uint32 = 3600
)

func clampTTL(ttl uint32) uint32 {
	if ttl > maxTTL {
		return 0
	}
	return ttl
}

// SelectTTL computes the cache TTL for resp per RFC 1035 (positive answers)
// and RFC 2308 (negative caching), bounded above by negativeCap for negative
// responses. A TTL of zero means the response must not be cached.
func SelectTTL(resp *dns.Msg, negativeCap uint32) uint32 {
	if resp == nil {
		return 0
	}

	if len(resp.Answer) > 0 {
		return minRRSetTTL(resp.Answer)
	}

	// NXDOMAIN, or NODATA (success with no answers): RFC 2308 negative
	// caching keyed off the authority SOA's MINIMUM field.
	if resp.Rcode == dns.RcodeNameError || (resp.Rcode == dns.RcodeSuccess && len(resp.Answer) == 0) {
		soa := findSOA(resp.Ns)
		if soa == nil {
			if len(resp.Ns) > 0 {
				return minRRSetTTL(resp.Ns)
			}
			return 0
		}
		ttl := clampTTL(soa.Hdr.Ttl)
		if m := clampTTL(soa.Minttl); m < ttl {
			ttl = m
		}
		if negativeCap > 0 && ttl > negativeCap {
			ttl = negativeCap
		}
		return ttl
	}

	if len(resp.Ns) > 0 {
		return minRRSetTTL(resp.Ns)
	}
	return 0
}

// IsNegative reports whether resp is an NXDOMAIN or NODATA response, i.e.
// one that SelectTTL prices via the authority SOA rather than answer TTLs.
func IsNegative(resp *dns.Msg) bool {
	if resp == nil {
		return false
	}
	return resp.Rcode == dns.RcodeNameError || (resp.Rcode == dns.RcodeSuccess && len(resp.Answer) == 0)
}

func minRRSetTTL(rrs []dns.RR) uint32 {
	var min uint32
	first := true
	for _, rr := range rrs {
		ttl := clampTTL(rr.Header().Ttl)
		if first || ttl < min {
			min = ttl
			first = false
		}
	}
	if first {
		return 0
	}
	return min
}

func findSOA(rrs []dns.RR) *dns.SOA {
	for _, rr := range rrs {
		if soa, ok := rr.(*dns.SOA); ok {
			return soa
		}
	}
	return nil
}

// SynthesizeSOA builds an authority-section SOA for a server-generated
// NXDOMAIN/NODATA response, so downstream resolvers can negatively cache it
// (§4.C / §4.H). The owner is the closest enclosing parent of qname: the
// last two labels, unless qname is already at or above that depth.
func SynthesizeSOA(qname string, class uint16) *dns.SOA {
	owner := enclosingParent(qname)
	ttl := synthMinTTL
	if ttl > synthMaxTTL {
		ttl = synthMaxTTL
	}
	return &dns.SOA{
		Hdr: dns.RR_Header{
			Name:   owner,
			Rrtype: dns.TypeSOA,
			Class:  class,
			Ttl:    ttl,
		},
		Ns:      dns.Fqdn("ns." + owner),
		Mbox:    dns.Fqdn("hostmaster." + owner),
		Serial:  uint32(time.Now().Unix()),
		Refresh: 3600,
		Retry:   600,
		Expire:  86400,
		Minttl:  ttl,
	}
}

func enclosingParent(qname string) string {
	qname = dns.Fqdn(qname)
	labels := dns.SplitDomainName(qname)
	if len(labels) <= 2 {
		return qname
	}
	parent := ""
	for _, l := range labels[len(labels)-2:] {
		parent += l + "."
	}
	return parent
}
