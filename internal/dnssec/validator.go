package dnssec

import (
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// Status is the outcome of validating a response, matching the four
// standard DNSSEC validation states (RFC 4035 4.3).
type Status int

const (
	StatusIndeterminate Status = iota
	StatusInsecure
	StatusSecure
	StatusBogus
)

func (s Status) String() string {
	switch s {
	case StatusInsecure:
		return "insecure"
	case StatusSecure:
		return "secure"
	case StatusBogus:
		return "bogus"
	default:
		return "indeterminate"
	}
}

// maxChainDepth bounds how many zone cuts the validator will walk before
// giving up, guarding against a pathological or hostile delegation chain.
const maxChainDepth = 32

// Validator authenticates a response against a trust anchor store. Each
// zone cut's DNSKEY/DS/RRSIG set is supplied by the caller (the resolver's
// upstream-fetch layer fills Fetcher) rather than fetched internally, so the
// validator itself stays I/O-free and synchronously testable.
type Validator struct {
	Anchors *TrustAnchorStore
	Now     func() time.Time
}

// NewValidator returns a Validator backed by anchors, using wall-clock time.
func NewValidator(anchors *TrustAnchorStore) *Validator {
	return &Validator{Anchors: anchors, Now: time.Now}
}

// Fetcher supplies the records needed to validate one zone cut. The
// resolver's upstream dispatcher implements this by issuing DNSKEY/DS
// queries against the relevant authoritative servers.
type Fetcher interface {
	DNSKEY(zone string) ([]dns.RR, error)
	DS(zone string) ([]dns.RR, error)
}

// ValidateRRset authenticates rrset (owner name qname, covering RRSIGs
// rrsigs) by walking the chain of trust from the root down to qname's zone.
func (v *Validator) ValidateRRset(qname string, rrset []dns.RR, rrsigs []*dns.RRSIG, fetch Fetcher) (Status, error) {
	if len(rrsigs) == 0 {
		return StatusInsecure, nil
	}

	zone := dns.Fqdn(qname)
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}

	chain, status, err := v.buildKeyChain(zone, fetch)
	if err != nil {
		return StatusIndeterminate, err
	}
	if status != StatusSecure {
		return status, nil
	}

	var lastErr error
	for _, rrsig := range rrsigs {
		key, ok := chain[rrsig.KeyTag]
		if !ok {
			lastErr = fmt.Errorf("dnssec: no DNSKEY for key tag %d", rrsig.KeyTag)
			continue
		}
		if err := VerifyRRSIG(rrsig, key, rrset, now); err != nil {
			lastErr = err
			continue
		}
		return StatusSecure, nil
	}
	if lastErr != nil {
		return StatusBogus, lastErr
	}
	return StatusBogus, fmt.Errorf("dnssec: no RRSIG verified for %s", qname)
}

// buildKeyChain walks from the root down to zone, verifying each DS→DNSKEY
// link, and returns the authenticated DNSKEY set for zone keyed by key tag.
func (v *Validator) buildKeyChain(zone string, fetch Fetcher) (map[uint16]*dns.DNSKEY, Status, error) {
	labels := dns.SplitDomainName(zone)
	zones := make([]string, 0, len(labels)+1)
	zones = append(zones, ".")
	for i := len(labels); i > 0; i-- {
		zones = append(zones, dns.Fqdn(joinLabels(labels[i-1:])))
	}

	if len(zones) > maxChainDepth {
		return nil, StatusIndeterminate, fmt.Errorf("dnssec: chain of trust exceeds depth cap (%d)", maxChainDepth)
	}

	var parentKeys map[uint16]*dns.DNSKEY
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}

	for i, z := range zones {
		keyRRs, err := fetch.DNSKEY(z)
		if err != nil {
			return nil, StatusIndeterminate, fmt.Errorf("dnssec: fetch DNSKEY %s: %w", z, err)
		}
		keys := dnskeysByTag(keyRRs)
		if len(keys) == 0 {
			if anchors, ok := v.Anchors.Lookup(z); ok && len(anchors) > 0 {
				return nil, StatusBogus, fmt.Errorf("dnssec: zone %s has a trust anchor but no DNSKEY", z)
			}
			return nil, StatusInsecure, nil
		}

		switch {
		case i == 0:
			anchors, ok := v.Anchors.Lookup(z)
			if !ok {
				return nil, StatusInsecure, nil
			}
			if !anyAnchorMatchesKey(anchors, keys) {
				return nil, StatusBogus, fmt.Errorf("dnssec: no configured trust anchor matches root DNSKEY set")
			}
		default:
			dsRRs, err := fetch.DS(z)
			if err != nil {
				return nil, StatusIndeterminate, fmt.Errorf("dnssec: fetch DS %s: %w", z, err)
			}
			if len(dsRRs) == 0 {
				return nil, StatusInsecure, nil
			}
			if !anyDSMatchesKey(dsRRs, keys, z) {
				return nil, StatusBogus, fmt.Errorf("dnssec: no DS record matches DNSKEY set for %s", z)
			}
		}

		if !selfSignedByKSK(keyRRs, keys, now) {
			return nil, StatusBogus, fmt.Errorf("dnssec: DNSKEY rrset at %s not self-signed by its KSK", z)
		}

		parentKeys = keys
	}

	return parentKeys, StatusSecure, nil
}

func joinLabels(labels []string) string {
	out := ""
	for i, l := range labels {
		if i > 0 {
			out += "."
		}
		out += l
	}
	return out
}

func dnskeysByTag(rrs []dns.RR) map[uint16]*dns.DNSKEY {
	out := make(map[uint16]*dns.DNSKEY)
	for _, rr := range rrs {
		if key, ok := rr.(*dns.DNSKEY); ok {
			out[key.KeyTag()] = key
		}
	}
	return out
}

func anyAnchorMatchesKey(anchors []TrustAnchor, keys map[uint16]*dns.DNSKEY) bool {
	for _, a := range anchors {
		if key, ok := keys[a.KeyTag]; ok && keyMatchesAnchor(key, a) {
			return true
		}
	}
	return false
}

func keyMatchesAnchor(key *dns.DNSKEY, a TrustAnchor) bool {
	raw, err := dnskeyRawPublicKey(key)
	if err != nil {
		return false
	}
	return bytesEqual(raw, a.PublicKey)
}

func anyDSMatchesKey(dsRRs []dns.RR, keys map[uint16]*dns.DNSKEY, zone string) bool {
	for _, rr := range dsRRs {
		ds, ok := rr.(*dns.DS)
		if !ok {
			continue
		}
		if key, ok := keys[ds.KeyTag]; ok && MatchesDS(ds, key, zone) {
			return true
		}
	}
	return false
}

// selfSignedByKSK requires at least one RRSIG over the DNSKEY rrset,
// verifiable by a key in keys that carries the SEP bit.
func selfSignedByKSK(rrs []dns.RR, keys map[uint16]*dns.DNSKEY, now time.Time) bool {
	var keyset []dns.RR
	var sigs []*dns.RRSIG
	for _, rr := range rrs {
		switch r := rr.(type) {
		case *dns.DNSKEY:
			keyset = append(keyset, r)
		case *dns.RRSIG:
			if r.TypeCovered == dns.TypeDNSKEY {
				sigs = append(sigs, r)
			}
		}
	}
	for _, sig := range sigs {
		key, ok := keys[sig.KeyTag]
		if !ok || key.Flags&0x0001 == 0 {
			continue
		}
		if VerifyRRSIG(sig, key, keyset, now) == nil {
			return true
		}
	}
	return false
}

func dnskeyRawPublicKey(key *dns.DNSKEY) ([]byte, error) {
	rdata, err := packRR(key)
	if err != nil {
		return nil, err
	}
	off := rdataOffset(key)
	if off > len(rdata) {
		return nil, fmt.Errorf("dnssec: malformed dnskey rdata")
	}
	// Skip flags(2)+protocol(1)+algorithm(1) to reach the raw public key.
	if off+4 > len(rdata) {
		return nil, fmt.Errorf("dnssec: truncated dnskey rdata")
	}
	return rdata[off+4:], nil
}
