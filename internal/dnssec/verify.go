package dnssec

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/miekg/dns"
)

// ErrUnsupportedAlgorithm is returned when the signing algorithm has no
// verifier implemented.
var ErrUnsupportedAlgorithm = errors.New("dnssec: unsupported algorithm")

// ErrSignatureExpired is returned when the current time is outside the
// RRSIG's inception/expiration window.
var ErrSignatureExpired = errors.New("dnssec: signature outside validity window")

// ErrBadSignature is returned when cryptographic verification fails.
var ErrBadSignature = errors.New("dnssec: signature verification failed")

// VerifyRRSIG checks that rrsig validly covers rrset, using key as the
// signing DNSKEY. now is injected for testability.
func VerifyRRSIG(rrsig *dns.RRSIG, key *dns.DNSKEY, rrset []dns.RR, now time.Time) error {
	if !withinValidityWindow(rrsig, now) {
		return ErrSignatureExpired
	}

	signedData, err := buildSignedData(rrsig, rrset)
	if err != nil {
		return err
	}

	sig, err := base64.StdEncoding.DecodeString(rrsig.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature decode: %v", ErrBadSignature, err)
	}

	pub, err := publicKey(key)
	if err != nil {
		return err
	}

	return verifySignature(Algorithm(rrsig.Algorithm), pub, signedData, sig)
}

func withinValidityWindow(rrsig *dns.RRSIG, now time.Time) bool {
	inception := dnsTimeToGo(rrsig.Inception)
	expiration := dnsTimeToGo(rrsig.Expiration)
	return !now.Before(inception) && !now.After(expiration)
}

func dnsTimeToGo(t uint32) time.Time {
	return time.Unix(int64(t), 0).UTC()
}

// buildSignedData assembles the RRSIG_RDATA (minus the signature field)
// followed by the canonical RRset, per RFC 4034 3.1.8.1.
func buildSignedData(rrsig *dns.RRSIG, rrset []dns.RR) ([]byte, error) {
	var buf []byte

	header := new(dns.RRSIG)
	*header = *rrsig
	header.Signature = ""

	hdrBuf := make([]byte, dns.Len(header)+len(header.SignerName)+16)
	n, err := dns.PackRR(header, hdrBuf, 0, nil, false)
	if err != nil {
		return nil, fmt.Errorf("dnssec: pack rrsig rdata: %w", err)
	}
	rdataStart := rdataOffset(header)
	if rdataStart > n {
		rdataStart = 0
	}
	buf = append(buf, hdrBuf[rdataStart:n]...)

	canon := canonicalRRset(rrset, rrsig)
	for _, rr := range canon {
		b, err := packRR(rr)
		if err != nil {
			return nil, fmt.Errorf("dnssec: pack rrset member: %w", err)
		}
		buf = append(buf, b...)
	}
	return buf, nil
}

// publicKey decodes a DNSKEY's base64 public key material into a Go crypto
// public key matching its algorithm.
func publicKey(key *dns.DNSKEY) (crypto.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("dnssec: decode dnskey public key: %w", err)
	}

	switch Algorithm(key.Algorithm) {
	case RSASHA1, RSASHA256, RSASHA512:
		return parseRSAPublicKey(raw)
	case ECDSAP256SHA256:
		return parseECPublicKey(elliptic.P256(), raw)
	case ECDSAP384SHA384:
		return parseECPublicKey(elliptic.P384(), raw)
	case Ed25519:
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: bad ed25519 key length", ErrBadSignature)
		}
		return ed25519.PublicKey(raw), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, Algorithm(key.Algorithm))
	}
}

// parseRSAPublicKey decodes the RFC 3110 wire format: a length-prefixed
// exponent followed by the modulus.
func parseRSAPublicKey(raw []byte) (*rsa.PublicKey, error) {
	if len(raw) < 3 {
		return nil, fmt.Errorf("%w: rsa key too short", ErrBadSignature)
	}

	var expLen int
	var off int
	if raw[0] == 0 {
		if len(raw) < 3 {
			return nil, fmt.Errorf("%w: rsa key too short", ErrBadSignature)
		}
		expLen = int(raw[1])<<8 | int(raw[2])
		off = 3
	} else {
		expLen = int(raw[0])
		off = 1
	}

	if off+expLen > len(raw) {
		return nil, fmt.Errorf("%w: rsa exponent overruns key", ErrBadSignature)
	}
	e := new(big.Int).SetBytes(raw[off : off+expLen])
	n := new(big.Int).SetBytes(raw[off+expLen:])

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// parseECPublicKey decodes the RFC 6605 wire format: concatenated X || Y,
// each curve.Params().BitSize/8 bytes.
func parseECPublicKey(curve elliptic.Curve, raw []byte) (*ecdsa.PublicKey, error) {
	size := (curve.Params().BitSize + 7) / 8
	if len(raw) != 2*size {
		return nil, fmt.Errorf("%w: bad ec key length", ErrBadSignature)
	}
	x := new(big.Int).SetBytes(raw[:size])
	y := new(big.Int).SetBytes(raw[size:])
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func verifySignature(alg Algorithm, pub crypto.PublicKey, signedData, sig []byte) error {
	switch alg {
	case RSASHA1:
		return verifyRSA(pub, crypto.SHA1, sha1Sum(signedData), sig)
	case RSASHA256:
		return verifyRSA(pub, crypto.SHA256, sha256Sum(signedData), sig)
	case RSASHA512:
		return verifyRSA(pub, crypto.SHA512, sha512Sum(signedData), sig)
	case ECDSAP256SHA256:
		return verifyECDSARaw(pub, sha256Sum(signedData), sig, 32)
	case ECDSAP384SHA384:
		return verifyECDSARaw(pub, sha384Sum(signedData), sig, 48)
	case Ed25519:
		key, ok := pub.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("%w: key type mismatch for ed25519", ErrBadSignature)
		}
		if !ed25519.Verify(key, signedData, sig) {
			return ErrBadSignature
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
}

func verifyRSA(pub crypto.PublicKey, hash crypto.Hash, digest, sig []byte) error {
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: key type mismatch for rsa", ErrBadSignature)
	}
	if err := rsa.VerifyPKCS1v15(rsaPub, hash, digest, sig); err != nil {
		return ErrBadSignature
	}
	return nil
}

// verifyECDSARaw verifies a DNSSEC ECDSA signature, which is the raw
// concatenation of R||S (each size bytes), not an ASN.1 SEQUENCE.
func verifyECDSARaw(pub crypto.PublicKey, digest, sig []byte, size int) error {
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: key type mismatch for ecdsa", ErrBadSignature)
	}
	if len(sig) != 2*size {
		return fmt.Errorf("%w: bad ecdsa signature length", ErrBadSignature)
	}
	r := new(big.Int).SetBytes(sig[:size])
	s := new(big.Int).SetBytes(sig[size:])
	if !ecdsa.Verify(ecPub, digest, r, s) {
		return ErrBadSignature
	}
	return nil
}

func sha1Sum(b []byte) []byte   { s := sha1.Sum(b); return s[:] }
func sha256Sum(b []byte) []byte { s := sha256.Sum256(b); return s[:] }
func sha384Sum(b []byte) []byte { s := sha512.Sum384(b); return s[:] }
func sha512Sum(b []byte) []byte { s := sha512.Sum512(b); return s[:] }
