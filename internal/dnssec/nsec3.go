package dnssec

import (
	"crypto/sha1"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// MaxNSEC3Iterations caps the iteration count a resolver will compute,
// per RFC 5155's operational guidance against iteration-count DoS (modern
// practice, e.g. RFC 9276, recommends 0; this resolver tolerates legacy
// zones up to this ceiling and refuses to hash beyond it).
const MaxNSEC3Iterations = 2500

var base32Hex = base32.HexEncoding.WithPadding(base32.NoPadding)

// HashNSEC3 computes the NSEC3 owner-name hash for name under the given
// salt/iterations (RFC 5155 5), returning it base32hex-encoded as it would
// appear as an NSEC3 owner label.
func HashNSEC3(name string, iterations uint16, salt []byte) (string, error) {
	if iterations > MaxNSEC3Iterations {
		return "", fmt.Errorf("dnssec: nsec3 iteration count %d exceeds cap %d", iterations, MaxNSEC3Iterations)
	}

	wire := packName(dns.Fqdn(strings.ToLower(name)))
	if wire == nil {
		return "", fmt.Errorf("dnssec: pack name for nsec3 hash")
	}

	h := sha1.Sum(append(append([]byte{}, wire...), salt...))
	digest := h[:]
	for i := uint16(0); i < iterations; i++ {
		sum := sha1.Sum(append(append([]byte{}, digest...), salt...))
		digest = sum[:]
	}

	return strings.ToLower(base32Hex.EncodeToString(digest)), nil
}

// NSEC3Covers reports whether an NSEC3 record's hash interval covers the
// hash of name, given the NSEC3's own parameters.
func NSEC3Covers(nsec3 *dns.NSEC3, name string) (bool, error) {
	hashed, err := HashNSEC3(name, nsec3.Iterations, saltBytes(nsec3))
	if err != nil {
		return false, err
	}

	owner := ownerHashLabel(nsec3.Hdr.Name)
	next := strings.ToLower(nsec3.NextDomain)

	if owner == next {
		return true, nil
	}
	if owner < next {
		return owner < hashed && hashed < next, nil
	}
	return owner < hashed || hashed < next, nil
}

func saltBytes(nsec3 *dns.NSEC3) []byte {
	if nsec3.Salt == "" {
		return nil
	}
	b, _ := hex.DecodeString(nsec3.Salt)
	return b
}

func ownerHashLabel(owner string) string {
	labels := dns.SplitDomainName(owner)
	if len(labels) == 0 {
		return ""
	}
	return strings.ToLower(labels[0])
}

// NSEC3DeniesType reports whether nsec3's type bitmap denies qtype.
func NSEC3DeniesType(nsec3 *dns.NSEC3, qtype uint16) bool {
	for _, t := range nsec3.TypeBitMap {
		if t == qtype {
			return false
		}
	}
	return true
}
