package zone

import (
	"fmt"
	"net"

	"github.com/miekg/dns"

	"github.com/dnsscience/resolverd/internal/validate"
)

// maxTransferMsgBytes bounds the approximate wire size of a single AXFR/IXFR
// response message before the transfer rolls over into a new one.
const maxTransferMsgBytes = 16 * 1024

// TransferPeers gates which clients may pull a zone transfer. A nil or empty
// ACL means no client is allowed (transfers must be explicitly opted in).
type TransferPeers struct {
	acl *validate.ACL
}

// NewTransferPeers builds a TransferPeers allowlist from a set of CIDRs or
// bare IPs. An empty list denies every transfer request.
func NewTransferPeers(allowed []string) (*TransferPeers, error) {
	acl := validate.NewACL(false)
	for _, a := range allowed {
		if err := acl.AllowNet(a); err != nil {
			return nil, fmt.Errorf("zone transfer peer %q: %w", a, err)
		}
	}
	return &TransferPeers{acl: acl}, nil
}

// Allowed reports whether ip may request a zone transfer.
func (p *TransferPeers) Allowed(ip net.IP) bool {
	if p == nil || p.acl == nil {
		return false
	}
	return p.acl.IsAllowed(ip)
}

// AXFR produces the sequence of response messages for a full zone transfer
// (RFC 5936): the zone's SOA, then every other record, then the SOA again,
// split across as many messages as needed to stay under maxTransferMsgBytes.
func AXFR(z *Zone, req *dns.Msg) ([]*dns.Msg, error) {
	if z.SOA == nil {
		return nil, fmt.Errorf("zone transfer: %s has no SOA", z.Origin)
	}

	rrs := make([]dns.RR, 0, 1)
	rrs = append(rrs, z.SOA)
	for _, rr := range z.GetAllRecords() {
		if rr.Header().Rrtype == dns.TypeSOA {
			continue
		}
		rrs = append(rrs, rr)
	}
	rrs = append(rrs, z.SOA)

	return batchTransfer(req, rrs), nil
}

// IXFR produces an incremental transfer per RFC 1995. This resolver keeps no
// change journal, so it can only ever serve the "transferor has no history"
// case: answer with the current SOA alone when the requester is already
// current, or fall back to a full AXFR otherwise, as RFC 1995 section 4
// permits a server to do unconditionally.
func IXFR(z *Zone, req *dns.Msg, clientSerial uint32) ([]*dns.Msg, error) {
	if z.SOA == nil {
		return nil, fmt.Errorf("zone transfer: %s has no SOA", z.Origin)
	}

	if z.SOA.Serial == clientSerial {
		m := new(dns.Msg)
		m.SetReply(req)
		m.Authoritative = true
		m.Answer = []dns.RR{z.SOA}
		return []*dns.Msg{m}, nil
	}

	return AXFR(z, req)
}

// batchTransfer packs rrs into reply messages, starting a new message once
// the running size estimate would exceed maxTransferMsgBytes.
func batchTransfer(req *dns.Msg, rrs []dns.RR) []*dns.Msg {
	var (
		msgs    []*dns.Msg
		current *dns.Msg
		size    int
	)

	newMsg := func() *dns.Msg {
		m := new(dns.Msg)
		m.SetReply(req)
		m.Authoritative = true
		return m
	}

	current = newMsg()
	for _, rr := range rrs {
		rrLen := dns.Len(rr)
		if len(current.Answer) > 0 && size+rrLen > maxTransferMsgBytes {
			msgs = append(msgs, current)
			current = newMsg()
			size = 0
		}
		current.Answer = append(current.Answer, rr)
		size += rrLen
	}
	msgs = append(msgs, current)

	return msgs
}
