package validate

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacket_ValidQuery(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	require.NoError(t, Packet(m))
}

func TestPacket_EmptyQuestion(t *testing.T) {
	m := new(dns.Msg)
	m.Opcode = dns.OpcodeQuery
	err := Packet(m)
	require.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestPacket_UnsupportedOpcode(t *testing.T) {
	m := new(dns.Msg)
	m.Opcode = dns.OpcodeUpdate
	err := Packet(m)
	require.ErrorIs(t, err, ErrUnsupportedOpcode)
}

func TestPacket_TooManyQuestions(t *testing.T) {
	m := new(dns.Msg)
	for i := 0; i < maxQuestions+1; i++ {
		m.Question = append(m.Question, dns.Question{Name: "example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET})
	}
	err := Packet(m)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestPacket_TTLOver31Bit(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	m.Answer = append(m.Answer, &dns.A{
		Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 1 << 31},
		A:   net.ParseIP("192.0.2.1"),
	})
	require.NoError(t, Packet(m))
	assert.EqualValues(t, 0, m.Answer[0].Header().Ttl)
}

func TestName_TooLong(t *testing.T) {
	long := ""
	for i := 0; i < 10; i++ {
		long += "abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyzabcdefghi."
	}
	err := Name(long)
	assert.Error(t, err)
}

func TestACL_DenyWinsOverAllow(t *testing.T) {
	acl := NewACL(true)
	require.NoError(t, acl.AllowNet("192.0.2.0/24"))
	require.NoError(t, acl.DenyNet("192.0.2.5/32"))

	assert.True(t, acl.IsAllowed(net.ParseIP("192.0.2.10")))
	assert.False(t, acl.IsAllowed(net.ParseIP("192.0.2.5")))
	assert.True(t, acl.IsAllowed(net.ParseIP("198.51.100.1"))) // default allow
}

func TestRateLimiter_BurstThenThrottle(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	cfg.QueriesPerSecond = 1
	cfg.BurstSize = 2
	rl := NewRateLimiter(cfg)

	ip := net.ParseIP("203.0.113.1")
	assert.True(t, rl.Allow(ip, "example.com."))
	assert.True(t, rl.Allow(ip, "example.com."))
	assert.False(t, rl.Allow(ip, "example.com."))
}

func TestRateLimiter_ExemptBypasses(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	cfg.QueriesPerSecond = 1
	cfg.BurstSize = 1
	rl := NewRateLimiter(cfg)
	require.NoError(t, rl.Exempt().AllowNet("203.0.113.0/24"))

	ip := net.ParseIP("203.0.113.5")
	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow(ip, "example.com."))
	}
}
