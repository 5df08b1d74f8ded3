package zone

import "github.com/miekg/dns"

// ResultKind classifies the outcome of resolving a name against a single
// authoritative zone (zone engine resolution tree).
type ResultKind int

const (
	// ResultSuccess means records of the requested type were found at qname.
	ResultSuccess ResultKind = iota
	// ResultCNAME means qname owns a CNAME and the chain must be followed.
	ResultCNAME
	// ResultNoData means qname exists in the zone but not for this qtype.
	ResultNoData
	// ResultDelegation means qname falls under a child zone delegated via NS.
	ResultDelegation
	// ResultNXDomain means qname does not exist in the zone at all.
	ResultNXDomain
)

// LookupResult is the outcome of Lookup.
type LookupResult struct {
	Kind       ResultKind
	Answer     []dns.RR // ResultSuccess: matching records. ResultCNAME: the CNAME RR.
	Authority  []dns.RR // Delegation: NS records. NoData/NXDomain: SOA for negative caching.
	Additional []dns.RR // Delegation: glue A/AAAA for the NS set.
}

// Lookup resolves qname/qtype against z, implementing the standard
// authoritative-server decision tree: exact match, CNAME redirection, zone
// cut delegation, then NODATA/NXDOMAIN.
func Lookup(z *Zone, qname string, qtype uint16) LookupResult {
	qname = dns.Fqdn(qname)

	if cname := z.GetRecords(qname, dns.TypeCNAME); len(cname) > 0 && qtype != dns.TypeCNAME {
		return LookupResult{Kind: ResultCNAME, Answer: cname}
	}

	if records := z.GetRecords(qname, qtype); len(records) > 0 {
		return LookupResult{Kind: ResultSuccess, Answer: records}
	}

	if cut, ns, glue := findDelegation(z, qname); cut {
		return LookupResult{Kind: ResultDelegation, Authority: ns, Additional: glue}
	}

	if owned(z, qname) {
		return LookupResult{Kind: ResultNoData, Authority: soaAuthority(z)}
	}

	return LookupResult{Kind: ResultNXDomain, Authority: soaAuthority(z)}
}

// findDelegation walks from qname's parent up toward the zone apex looking
// for an NS rrset at a strict ancestor (a zone cut below the apex). The
// apex's own NS records do not delegate anything - they just list the
// zone's nameservers.
func findDelegation(z *Zone, qname string) (cut bool, ns []dns.RR, glue []dns.RR) {
	labels := dns.SplitDomainName(qname)
	for i := 1; i < len(labels); i++ {
		ancestor := dns.Fqdn(joinLabels(labels[i:]))
		if ancestor == z.Origin {
			break
		}
		if nsRecords := z.GetRecords(ancestor, dns.TypeNS); len(nsRecords) > 0 {
			return true, nsRecords, glueFor(z, nsRecords)
		}
	}
	return false, nil, nil
}

func glueFor(z *Zone, nsRecords []dns.RR) []dns.RR {
	var glue []dns.RR
	for _, rr := range nsRecords {
		ns, ok := rr.(*dns.NS)
		if !ok {
			continue
		}
		glue = append(glue, z.GetRecords(ns.Ns, dns.TypeA)...)
		glue = append(glue, z.GetRecords(ns.Ns, dns.TypeAAAA)...)
	}
	return glue
}

// owned reports whether qname (or an ancestor up to the apex) holds any
// record at all, distinguishing NODATA (name exists, wrong type) from
// NXDOMAIN (name doesn't exist).
func owned(z *Zone, qname string) bool {
	if _, ok := z.Records[qname]; ok {
		return true
	}
	labels := dns.SplitDomainName(qname)
	for i := 0; i < len(labels); i++ {
		wildcard := "*." + dns.Fqdn(joinLabels(labels[i+1:]))
		if _, ok := z.Records[wildcard]; ok {
			return true
		}
	}
	return false
}

func soaAuthority(z *Zone) []dns.RR {
	if z.SOA == nil {
		return nil
	}
	return []dns.RR{z.SOA}
}
