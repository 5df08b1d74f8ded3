// Package validate implements the packet-sanity validator and per-client rate
// limiting described in the resolver core's external-facing hardening layer.
package validate

import (
	"errors"
	"fmt"

	"github.com/miekg/dns"
)

// Limits mirror the anti-DoS constants in internal/packet, kept here so the
// validator can reject obviously hostile queries before they reach the
// resolver pipeline.
const (
	maxQuestions    = 10
	maxLabelLength  = 63
	maxNameLength   = 255
	maxEDNSPayload  = 65535
	minEDNSPayload  = 512
	ttl31BitLimit   = 1 << 31
)

var (
	// ErrMalformed is returned for structurally invalid packets (FORMERR).
	ErrMalformed = errors.New("malformed dns packet")
	// ErrUnsupportedOpcode is returned for opcodes the server does not serve (NOTIMPL).
	ErrUnsupportedOpcode = errors.New("unsupported opcode")
	// ErrEmptyQuestion is returned when a query carries no question section.
	ErrEmptyQuestion = errors.New("empty question section")
)

// supportedOpcodes is the set of opcodes the resolver core answers directly;
// anything else surfaces as NOTIMPL.
var supportedOpcodes = map[int]bool{
	dns.OpcodeQuery:  true,
	dns.OpcodeNotify: true,
}

// Packet validates the structural sanity of an incoming query. The only
// change it makes to msg is to zero any record TTL at or above 2^31.
func Packet(msg *dns.Msg) error {
	if msg == nil {
		return ErrMalformed
	}

	if !supportedOpcodes[msg.Opcode] {
		return ErrUnsupportedOpcode
	}

	if msg.Opcode == dns.OpcodeQuery && len(msg.Question) == 0 {
		return ErrEmptyQuestion
	}

	if len(msg.Question) > maxQuestions {
		return fmt.Errorf("%w: too many questions (%d)", ErrMalformed, len(msg.Question))
	}

	for _, q := range msg.Question {
		if err := Name(q.Name); err != nil {
			return fmt.Errorf("%w: question name: %v", ErrMalformed, err)
		}
	}

	for _, rr := range allRecords(msg) {
		if rr == nil || rr.Header() == nil {
			continue
		}
		if err := Name(rr.Header().Name); err != nil {
			return fmt.Errorf("%w: record name: %v", ErrMalformed, err)
		}
		if rr.Header().Ttl >= ttl31BitLimit {
			// RFC 2181 6.1: treat as if the TTL is zero; not fatal, rewritten here.
			rr.Header().Ttl = 0
		}
	}

	if opt := msg.IsEdns0(); opt != nil {
		size := opt.UDPSize()
		if size != 0 && (size < minEDNSPayload && size != 0) {
			// A client is free to advertise a tiny buffer; only reject absurd values.
		}
		if uint32(size) > maxEDNSPayload {
			return fmt.Errorf("%w: edns payload size out of range", ErrMalformed)
		}
	}

	return nil
}

// Name checks a presentation-form domain name against RFC 1035 length rules.
func Name(name string) error {
	if len(name) > maxNameLength {
		return fmt.Errorf("name too long: %d", len(name))
	}
	labels := dns.SplitDomainName(name)
	for _, l := range labels {
		if len(l) > maxLabelLength {
			return fmt.Errorf("label too long: %d", len(l))
		}
	}
	return nil
}

func allRecords(msg *dns.Msg) []dns.RR {
	out := make([]dns.RR, 0, len(msg.Answer)+len(msg.Ns)+len(msg.Extra))
	out = append(out, msg.Answer...)
	out = append(out, msg.Ns...)
	out = append(out, msg.Extra...)
	return out
}
