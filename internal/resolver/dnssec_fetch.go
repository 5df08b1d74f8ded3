package resolver

import (
	"context"
	"fmt"

	"github.com/miekg/dns"
)

// liveFetcher implements dnssec.Fetcher by issuing DNSKEY/DS queries through
// the resolver's own dispatch path, bypassing the cache/dedup/DNSSEC layers
// of Resolve so a validation lookup can never recurse back into itself.
type liveFetcher struct {
	r   *Recursive
	ctx context.Context
}

func (f *liveFetcher) DNSKEY(zone string) ([]dns.RR, error) {
	return f.fetch(zone, dns.TypeDNSKEY)
}

func (f *liveFetcher) DS(zone string) ([]dns.RR, error) {
	return f.fetch(zone, dns.TypeDS)
}

func (f *liveFetcher) fetch(zone string, qtype uint16) ([]dns.RR, error) {
	resp, err := f.r.dispatch(f.ctx, dns.Fqdn(zone), qtype, dns.ClassINET)
	if err != nil {
		return nil, fmt.Errorf("dnssec fetch %s %s: %w", zone, dns.TypeToString[qtype], err)
	}
	return resp.Answer, nil
}
