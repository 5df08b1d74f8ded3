package resolver

import (
	"strings"

	"github.com/miekg/dns"

	"github.com/dnsscience/resolverd/internal/random"
)

// apply0x20 randomizes the letter case of a query name before it goes to an
// upstream nameserver. A spoofed response has to reproduce the exact case
// pattern to be accepted, which adds entropy on top of the 16-bit
// transaction ID without needing any wire-format change.
// See: draft-vixie-dnsext-dns0x20.
func apply0x20(name string) string {
	var out strings.Builder
	out.Grow(len(name))

	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z':
			if coinFlip() {
				c -= 32
			}
		case c >= 'A' && c <= 'Z':
			if coinFlip() {
				c += 32
			}
		}
		out.WriteRune(c)
	}
	return out.String()
}

// validate0x20 reports whether a response echoed back the exact case pattern
// of an 0x20-encoded query. A mismatch means the response is either spoofed
// or came from a resolver that doesn't preserve query case, and is rejected.
func validate0x20(queryName, responseName string) bool {
	return queryName == responseName
}

func coinFlip() bool {
	return random.TransactionID()&1 == 1
}

// scrubResponse drops authority and additional records that fall outside
// zone's bailiwick, closing the classic glue-poisoning vector where an
// attacker answers for example.com but also slips in records for
// attacker.example.net.
func scrubResponse(msg *dns.Msg, zone string) {
	if msg == nil || zone == "" {
		return
	}
	zone = dns.Fqdn(strings.ToLower(zone))
	msg.Ns = filterInBailiwick(msg.Ns, zone)
	msg.Extra = filterInBailiwick(msg.Extra, zone)
}

func filterInBailiwick(rrs []dns.RR, zone string) []dns.RR {
	var kept []dns.RR
	for _, rr := range rrs {
		if rr.Header().Rrtype == dns.TypeOPT {
			kept = append(kept, rr)
			continue
		}
		if inBailiwick(rr.Header().Name, zone) {
			kept = append(kept, rr)
		}
	}
	return kept
}

// inBailiwick reports whether name falls within zone, treating zone as
// already-lowercased and fully qualified.
func inBailiwick(name, zone string) bool {
	return dns.IsSubDomain(zone, strings.ToLower(name))
}

// isInBailiwick is the normalizing form of inBailiwick for callers that
// haven't already normalized zone.
func isInBailiwick(name, zone string) bool {
	return inBailiwick(dns.Fqdn(name), dns.Fqdn(strings.ToLower(zone)))
}

// minimizeQName implements RFC 7816 query name minimization: rather than
// asking an intermediate nameserver the full question, ask it for only one
// label more than the zone it's authoritative for, so it learns as little as
// possible about the original query.
func minimizeQName(fullName, currentZone string) string {
	fullName = dns.Fqdn(strings.ToLower(fullName))
	currentZone = dns.Fqdn(strings.ToLower(currentZone))

	if fullName == currentZone || !dns.IsSubDomain(currentZone, fullName) {
		return fullName
	}

	fullLabels := dns.SplitDomainName(fullName)
	zoneLabels := dns.SplitDomainName(currentZone)
	if len(fullLabels) <= len(zoneLabels) {
		return fullName
	}

	want := len(zoneLabels) + 1
	if want > len(fullLabels) {
		return fullName
	}
	return dns.Fqdn(strings.Join(fullLabels[len(fullLabels)-want:], "."))
}

// hardenGlue keeps only the glue records that both name a delegated
// nameserver and sit inside the delegation's own zone, rejecting glue for
// unrelated names an attacker might try to smuggle alongside a referral.
func hardenGlue(glue []dns.RR, delegatedZone string, nsNames []string) []dns.RR {
	delegatedZone = dns.Fqdn(strings.ToLower(delegatedZone))

	nsSet := make(map[string]struct{}, len(nsNames))
	for _, ns := range nsNames {
		nsSet[strings.ToLower(dns.Fqdn(ns))] = struct{}{}
	}

	var kept []dns.RR
	for _, rr := range glue {
		name := strings.ToLower(rr.Header().Name)
		if _, ok := nsSet[name]; !ok {
			continue
		}
		if dns.IsSubDomain(delegatedZone, name) {
			kept = append(kept, rr)
		}
	}
	return kept
}
