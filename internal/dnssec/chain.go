package dnssec

import (
	"encoding/hex"
	"fmt"

	"github.com/miekg/dns"
)

// VerifyDS checks that ds matches key: the DS digest must equal
// Digest(ds.DigestType, ownerName || DNSKEY_RDATA).
func VerifyDS(ds *dns.DS, key *dns.DNSKEY, ownerName string) error {
	keyRR := new(dns.DNSKEY)
	*keyRR = *key
	keyRR.Hdr.Name = dns.Fqdn(ownerName)

	wire, err := dnskeyDigestInput(keyRR)
	if err != nil {
		return err
	}

	want, err := hex.DecodeString(ds.Digest)
	if err != nil {
		return fmt.Errorf("dnssec: decode DS digest: %w", err)
	}

	got, err := Digest(DigestType(ds.DigestType), wire)
	if err != nil {
		return err
	}

	if len(got) != len(want) || !bytesEqual(got, want) {
		return fmt.Errorf("%w: DS digest mismatch for key tag %d", ErrBadSignature, ds.KeyTag)
	}
	return nil
}

// dnskeyDigestInput builds owner-name || DNSKEY RDATA, per RFC 4034 5.1.4.
func dnskeyDigestInput(key *dns.DNSKEY) ([]byte, error) {
	name := packName(dns.Fqdn(key.Hdr.Name))
	if name == nil {
		return nil, fmt.Errorf("dnssec: pack owner name for DS digest")
	}
	rdata, err := packRR(key)
	if err != nil {
		return nil, err
	}
	off := rdataOffset(key)
	if off > len(rdata) {
		return nil, fmt.Errorf("dnssec: malformed DNSKEY rdata")
	}
	buf := make([]byte, 0, len(name)+len(rdata)-off)
	buf = append(buf, name...)
	buf = append(buf, rdata[off:]...)
	return buf, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MatchesDS reports whether key is the key that ds describes, by key tag,
// algorithm, and digest, without a network round trip.
func MatchesDS(ds *dns.DS, key *dns.DNSKEY, ownerName string) bool {
	if ds.KeyTag != key.KeyTag() || ds.Algorithm != key.Algorithm {
		return false
	}
	return VerifyDS(ds, key, ownerName) == nil
}
