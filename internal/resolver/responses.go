package resolver

import "github.com/miekg/dns"

// formatError builds a minimal FORMERR response for a request this server
// couldn't even parse into a usable question.
func formatError(req *dns.Msg) *dns.Msg {
	m := new(dns.Msg)
	if req != nil {
		m.SetReply(req)
	}
	m.Rcode = dns.RcodeFormatError
	return m
}

// serverFailure builds a SERVFAIL response, used whenever resolution itself
// fails (upstream unreachable, max iterations exceeded, DNSSEC bogus).
func serverFailure(req *dns.Msg) *dns.Msg {
	m := new(dns.Msg)
	m.SetReply(req)
	m.Rcode = dns.RcodeServerFailure
	return m
}

// notImplemented builds a NOTIMP response for a query class/opcode this
// resolver doesn't support.
func notImplemented(req *dns.Msg) *dns.Msg {
	m := new(dns.Msg)
	m.SetReply(req)
	m.Rcode = dns.RcodeNotImplemented
	return m
}

// refused builds a REFUSED response, used for ACL denial and rate limiting.
func refused(req *dns.Msg) *dns.Msg {
	m := new(dns.Msg)
	m.SetReply(req)
	m.Rcode = dns.RcodeRefused
	return m
}

// echoDO mirrors the DO bit from req onto resp's OPT record whenever the
// client asked for DNSSEC data, so it can tell from the wire that a signed
// answer came back (independent of whether it validated as Secure).
func echoDO(req, resp *dns.Msg) {
	reqOpt := req.IsEdns0()
	if reqOpt == nil || !reqOpt.Do() {
		return
	}

	respOpt := resp.IsEdns0()
	if respOpt == nil {
		respOpt = &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
		resp.Extra = append(resp.Extra, respOpt)
	}
	respOpt.SetDo()
}
