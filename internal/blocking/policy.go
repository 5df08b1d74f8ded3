package blocking

import (
	"net"

	"github.com/miekg/dns"
)

// Policy selects how a blocked query is answered. The action
// shape mirrors internal/engine/rpz.go's RPZAction enum, narrowed to the
// modes this resolver actually supports.
type Policy int

const (
	// PolicyNXDomain answers with NXDOMAIN, as if the name did not exist.
	PolicyNXDomain Policy = iota
	// PolicyZeroIP answers with an A/AAAA record pointing at 0.0.0.0 / ::.
	PolicyZeroIP
	// PolicyCustomIP answers with an A/AAAA record pointing at a configured
	// sinkhole address.
	PolicyCustomIP
	// PolicyRefused answers with REFUSED.
	PolicyRefused
)

func (p Policy) String() string {
	switch p {
	case PolicyNXDomain:
		return "nxdomain"
	case PolicyZeroIP:
		return "zero-ip"
	case PolicyCustomIP:
		return "custom-ip"
	case PolicyRefused:
		return "refused"
	default:
		return "unknown"
	}
}

// PolicyConfig configures how Respond synthesizes a blocked answer.
type PolicyConfig struct {
	Mode       Policy
	SinkholeV4 net.IP // used only when Mode == PolicyCustomIP
	SinkholeV6 net.IP
	TTL        uint32
}

// DefaultPolicyConfig returns the NXDOMAIN policy with a 60s TTL.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{Mode: PolicyNXDomain, TTL: 60}
}

// Respond synthesizes a response for req given a blocked match, per cfg.
func Respond(cfg PolicyConfig, req *dns.Msg) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 60
	}

	switch cfg.Mode {
	case PolicyRefused:
		resp.Rcode = dns.RcodeRefused
		return resp

	case PolicyNXDomain:
		resp.Rcode = dns.RcodeNameError
		return resp

	case PolicyZeroIP, PolicyCustomIP:
		resp.Rcode = dns.RcodeSuccess
		if len(req.Question) == 0 {
			return resp
		}
		q := req.Question[0]
		switch q.Qtype {
		case dns.TypeA:
			ip := net.IPv4zero
			if cfg.Mode == PolicyCustomIP && cfg.SinkholeV4 != nil {
				ip = cfg.SinkholeV4
			}
			resp.Answer = append(resp.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
				A:   ip,
			})
		case dns.TypeAAAA:
			ip := net.IPv6unspecified
			if cfg.Mode == PolicyCustomIP && cfg.SinkholeV6 != nil {
				ip = cfg.SinkholeV6
			}
			resp.Answer = append(resp.Answer, &dns.AAAA{
				Hdr:  dns.RR_Header{Name: q.Name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: ttl},
				AAAA: ip,
			})
		default:
			// NODATA for any other qtype: empty answer, NOERROR.
		}
		return resp

	default:
		resp.Rcode = dns.RcodeNameError
		return resp
	}
}
