package dnssec

import (
	"strings"

	"github.com/miekg/dns"
)

// DenialResult classifies what an NSEC/NSEC3 proof establishes.
type DenialResult int

const (
	DenialNone DenialResult = iota
	DenialNXDomain
	DenialNoData
	DenialWildcard
	DenialInsecure // proof shows the zone is provably unsigned (opt-out / no DS)
)

// NSECCovers reports whether an NSEC record's (owner, NextDomain) interval
// covers name, per RFC 4034 6.1's canonical ordering (including wraparound
// at the zone apex).
func NSECCovers(nsec *dns.NSEC, name string) bool {
	owner := canonicalName(nsec.Hdr.Name)
	next := canonicalName(nsec.NextDomain)
	n := canonicalName(name)

	if owner == next {
		return true // single-record zone: NSEC covers everything
	}
	if canonicalCompare(owner, next) < 0 {
		return canonicalCompare(owner, n) < 0 && canonicalCompare(n, next) < 0
	}
	// Wraps around the end of the zone.
	return canonicalCompare(owner, n) < 0 || canonicalCompare(n, next) < 0
}

// NSECDeniesType reports whether an NSEC record's type bitmap denies qtype at
// its own owner name.
func NSECDeniesType(nsec *dns.NSEC, qtype uint16) bool {
	for _, t := range nsec.TypeBitMap {
		if t == qtype {
			return false
		}
	}
	return true
}

// canonicalCompare orders two FQDNs per RFC 4034 6.1 (per-label
// case-insensitive byte comparison, rightmost label first; when one name's
// labels are a suffix of the other's, the one with fewer labels sorts first).
func canonicalCompare(a, b string) int {
	al := canonicalLabels(a)
	bl := canonicalLabels(b)

	for i := 1; i <= len(al) && i <= len(bl); i++ {
		la := al[len(al)-i]
		lb := bl[len(bl)-i]
		if c := strings.Compare(la, lb); c != 0 {
			return c
		}
	}
	return len(al) - len(bl)
}

func canonicalLabels(name string) []string {
	name = strings.TrimSuffix(canonicalName(name), ".")
	if name == "" {
		return nil
	}
	return strings.Split(name, ".")
}
