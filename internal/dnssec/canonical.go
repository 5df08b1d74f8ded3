package dnssec

import (
	"sort"
	"strings"

	"github.com/miekg/dns"
)

// canonicalName lowercases a name's ASCII letters per RFC 4034 6.2, leaving
// wire-form label lengths untouched (dns.RR's own (Pack) does that part).
func canonicalName(name string) string {
	return strings.ToLower(dns.Fqdn(name))
}

// canonicalRRset returns a copy of rrs with every record's owner name and any
// embedded name(s) lowercased, sorted into canonical RRset order (RFC 4034
// 6.3), and with TTLs forced to the RRSIG's Original TTL (RFC 4034 6.2's
// requirement when rebuilding the RRset to verify against rrsig).
func canonicalRRset(rrs []dns.RR, rrsig *dns.RRSIG) []dns.RR {
	out := make([]dns.RR, len(rrs))
	for i, rr := range rrs {
		c := dns.Copy(rr)
		c.Header().Name = canonicalName(c.Header().Name)
		c.Header().Ttl = rrsig.OrigTtl
		lowercaseRDATANames(c)
		out[i] = c
	}

	sort.Slice(out, func(i, j int) bool {
		return compareRRCanonical(out[i], out[j]) < 0
	})
	return out
}

// lowercaseRDATANames lowercases the name fields RFC 4034 6.2 requires to be
// canonicalized within supported RR types (NS/CNAME/SOA/MX/PTR/SRV and a few
// others commonly seen under a signed zone).
func lowercaseRDATANames(rr dns.RR) {
	switch r := rr.(type) {
	case *dns.NS:
		r.Ns = canonicalName(r.Ns)
	case *dns.CNAME:
		r.Target = canonicalName(r.Target)
	case *dns.DNAME:
		r.Target = canonicalName(r.Target)
	case *dns.SOA:
		r.Ns = canonicalName(r.Ns)
		r.Mbox = canonicalName(r.Mbox)
	case *dns.MX:
		r.Mx = canonicalName(r.Mx)
	case *dns.PTR:
		r.Ptr = canonicalName(r.Ptr)
	case *dns.SRV:
		r.Target = canonicalName(r.Target)
	}
}

// compareRRCanonical orders two RRs of the same type/class by their
// canonical RDATA wire form (RFC 4034 6.3).
func compareRRCanonical(a, b dns.RR) int {
	abuf, _ := packRR(a)
	bbuf, _ := packRR(b)

	// Compare RDATA only, skipping the owner/type/class/ttl/rdlength prefix
	// which is identical across records of one RRset by construction.
	ah := rdataOffset(a)
	bh := rdataOffset(b)
	if ah > len(abuf) {
		ah = len(abuf)
	}
	if bh > len(bbuf) {
		bh = len(bbuf)
	}
	return strings.Compare(string(abuf[ah:]), string(bbuf[bh:]))
}

func packRR(rr dns.RR) ([]byte, error) {
	buf := make([]byte, dns.Len(rr)+256)
	n, err := dns.PackRR(rr, buf, 0, nil, false)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// rdataOffset estimates where RDATA begins in a packed RR: owner name
// (including root label) + type(2) + class(2) + ttl(4) + rdlength(2).
func rdataOffset(rr dns.RR) int {
	nameLen := len(packName(rr.Header().Name))
	return nameLen + 2 + 2 + 4 + 2
}

func packName(name string) []byte {
	buf := make([]byte, 255)
	off, err := dns.PackDomainName(name, buf, 0, nil, false)
	if err != nil {
		return nil
	}
	return buf[:off]
}
