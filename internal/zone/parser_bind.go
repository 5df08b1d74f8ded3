package zone

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/miekg/dns"
	"gopkg.in/yaml.v3"
)

// ParseBIND parses a standard BIND master-file zone (RFC 1035 section 5) using
// miekg/dns's own zone lexer, then loads the resulting records into a Zone.
func ParseBIND(path, origin string, cfg Config) (*Zone, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open zone file: %w", err)
	}
	defer f.Close()

	if origin == "" {
		origin = "."
	}
	z := New(origin)

	zp := dns.NewZoneParser(f, dns.Fqdn(origin), path)
	zp.SetIncludeAllowed(cfg.AllowIncludes)
	if cfg.DefaultTTL > 0 {
		zp.SetDefaultTTL(cfg.DefaultTTL)
	}

	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		if err := z.AddRecord(rr); err != nil {
			return nil, fmt.Errorf("add record %s: %w", rr.Header().Name, err)
		}
	}
	if err := zp.Err(); err != nil {
		return nil, fmt.Errorf("parse zone file: %w", err)
	}

	if cfg.Strict {
		if err := z.Validate(); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
	}

	return z, nil
}

// ExportBIND renders the zone back out as BIND master-file text.
func (z *Zone) ExportBIND() (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "$ORIGIN %s\n", z.Origin)
	if z.SOA != nil {
		fmt.Fprintf(&b, "$TTL %d\n", z.SOA.Hdr.Ttl)
	}
	b.WriteString("\n")

	if z.SOA != nil {
		writeRR(&b, z, z.SOA)
	}

	// Emit the rest of the apex first, then the remaining owners. Owners and
	// record types are visited in map order, so after the SOA the order of
	// lines is not fixed from one call to the next.
	owners := make([]string, 0, len(z.Records))
	for owner := range z.Records {
		if owner != z.Origin {
			owners = append(owners, owner)
		}
	}

	if typeMap, ok := z.Records[z.Origin]; ok {
		for rrtype, rrs := range typeMap {
			if rrtype == dns.TypeSOA {
				continue
			}
			for _, rr := range rrs {
				writeRR(&b, z, rr)
			}
		}
	}

	for _, owner := range owners {
		for _, rrs := range z.Records[owner] {
			for _, rr := range rrs {
				writeRR(&b, z, rr)
			}
		}
	}

	return b.String(), nil
}

func writeRR(b *strings.Builder, z *Zone, rr dns.RR) {
	hdr := rr.Header()
	name := quoteIfNeeded(makeRelative(hdr.Name, z.Origin))
	fmt.Fprintf(b, "%-24s %-6d %-5s %-7s %s\n",
		name, hdr.Ttl, dns.ClassToString[hdr.Class], dns.TypeToString[hdr.Rrtype], rdataString(rr))
}

// rdataString renders just the RDATA portion of rr, relying on the library's
// own String() and trimming the leading "<name> <ttl> <class> <type> " prefix
// it always produces.
func rdataString(rr dns.RR) string {
	full := rr.String()
	fields := strings.SplitN(full, "\t", 5)
	if len(fields) == 5 {
		return fields[4]
	}
	return full
}

// makeRelative renders name relative to origin the way a hand-written zone
// file would: "@" at the apex, a bare relative label sequence under it, or
// the untouched (dot-stripped) name when it falls outside origin entirely.
func makeRelative(name, origin string) string {
	name = dns.Fqdn(name)
	origin = dns.Fqdn(origin)

	if name == origin {
		return "@"
	}
	if dns.IsSubDomain(origin, name) && name != origin {
		rel := strings.TrimSuffix(name, origin)
		return strings.TrimSuffix(rel, ".")
	}
	return strings.TrimSuffix(name, ".")
}

// quoteIfNeeded wraps a zone-file token in double quotes when left bare it
// would be ambiguous with master-file syntax ("@", "*", or anything
// containing a ":" which could be mistaken for a class or generic-type tag).
func quoteIfNeeded(s string) string {
	if s == "@" || s == "*" || strings.Contains(s, ":") {
		return strconv.Quote(s)
	}
	return s
}

// ConvertBINDToDNSZone parses a BIND master file and re-renders it as the
// project's native .dnszone YAML format.
func ConvertBINDToDNSZone(path, origin string, cfg Config) (string, error) {
	z, err := ParseBIND(path, origin, cfg)
	if err != nil {
		return "", fmt.Errorf("parse BIND zone: %w", err)
	}

	zf := DNSZoneFile{
		Zone: ZoneSection{
			Name: strings.TrimSuffix(z.Origin, "."),
		},
		Records: make(map[string]RecordSection),
	}

	if z.SOA != nil {
		zf.SOA = SOASection{
			PrimaryNS:   z.SOA.Ns,
			Contact:     mboxToEmail(z.SOA.Mbox),
			Serial:      strconv.FormatUint(uint64(z.SOA.Serial), 10),
			Refresh:     strconv.FormatUint(uint64(z.SOA.Refresh), 10),
			Retry:       strconv.FormatUint(uint64(z.SOA.Retry), 10),
			Expire:      strconv.FormatUint(uint64(z.SOA.Expire), 10),
			NegativeTTL: strconv.FormatUint(uint64(z.SOA.Minttl), 10),
		}
	}

	for owner, typeMap := range z.Records {
		rel := makeRelative(owner, z.Origin)
		section := zf.Records[rel]

		for rrtype, rrs := range typeMap {
			switch rrtype {
			case dns.TypeSOA:
				continue
			case dns.TypeA:
				section.A = addrStrings(rrs, func(rr dns.RR) string { return rr.(*dns.A).A.String() })
			case dns.TypeAAAA:
				section.AAAA = addrStrings(rrs, func(rr dns.RR) string { return rr.(*dns.AAAA).AAAA.String() })
			case dns.TypeCNAME:
				if len(rrs) > 0 {
					section.CNAME = rrs[0].(*dns.CNAME).Target
				}
			case dns.TypeNS:
				section.NS = addrStrings(rrs, func(rr dns.RR) string { return rr.(*dns.NS).Ns })
			case dns.TypeTXT:
				section.TXT = addrStrings(rrs, func(rr dns.RR) string { return strings.Join(rr.(*dns.TXT).Txt, "") })
			case dns.TypeMX:
				list := make([]interface{}, 0, len(rrs))
				for _, rr := range rrs {
					mx := rr.(*dns.MX)
					list = append(list, map[string]interface{}{
						"priority": int(mx.Preference),
						"target":   mx.Mx,
					})
				}
				section.MX = list
			case dns.TypeSRV:
				list := make([]interface{}, 0, len(rrs))
				for _, rr := range rrs {
					srv := rr.(*dns.SRV)
					list = append(list, map[string]interface{}{
						"priority": int(srv.Priority),
						"weight":   int(srv.Weight),
						"port":     int(srv.Port),
						"target":   srv.Target,
					})
				}
				section.SRV = list
			}
		}

		zf.Records[rel] = section
	}

	out, err := yaml.Marshal(&zf)
	if err != nil {
		return "", fmt.Errorf("marshal YAML: %w", err)
	}
	return string(out), nil
}

func addrStrings(rrs []dns.RR, get func(dns.RR) string) interface{} {
	if len(rrs) == 1 {
		return get(rrs[0])
	}
	out := make([]interface{}, len(rrs))
	for i, rr := range rrs {
		out[i] = get(rr)
	}
	return out
}

// mboxToEmail converts an SOA RNAME (dotted, first "." is the separator
// between the escaped local part and the domain per RFC 1035 8) to
// user@domain form.
func mboxToEmail(mbox string) string {
	mbox = strings.TrimSuffix(mbox, ".")
	idx := strings.Index(mbox, ".")
	if idx < 0 {
		return mbox
	}
	return mbox[:idx] + "@" + mbox[idx+1:]
}
