package resolver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/dnsscience/resolverd/internal/cache"
	"github.com/dnsscience/resolverd/internal/cookie"
	"github.com/dnsscience/resolverd/internal/packet"
	"github.com/dnsscience/resolverd/internal/rrl"
)

func TestNewRecursive(t *testing.T) {
	cfg := Config{
		CacheConfig: cache.Config{
			ShardCount: 16,
			MaxEntries: 10000,
		},
		Workers:       100,
		QueryTimeout:  5 * time.Second,
		MaxIterations: 20,
		EnableCookies: false,
		EnableRRL:     false,
	}

	r, err := NewRecursive(cfg)
	require.NoError(t, err)
	defer r.Close()

	require.NotNil(t, r.cache)
	require.NotNil(t, r.workerPool)
	require.Nil(t, r.dispatcher, "no Upstreams configured means iterative mode")
}

func TestNewRecursive_WithDefaults(t *testing.T) {
	cfg := Config{}
	r, err := NewRecursive(cfg)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, 5*time.Second, r.cfg.QueryTimeout)
	require.Equal(t, 20, r.cfg.MaxIterations)
	require.Equal(t, 100, r.cfg.Workers)
	require.Equal(t, uint32(3600), r.cfg.NegativeCacheTTL)
}

func TestNewRecursive_WithCookies(t *testing.T) {
	cfg := Config{
		EnableCookies: true,
		CookieConfig: cookie.Config{
			Enabled:       true,
			ClusterSecret: []byte("test-secret-key-for-testing-123"),
		},
	}

	r, err := NewRecursive(cfg)
	require.NoError(t, err)
	defer r.Close()

	require.NotNil(t, r.cookies)
}

func TestNewRecursive_WithRRL(t *testing.T) {
	cfg := Config{
		EnableRRL: true,
		RRLConfig: rrl.DefaultConfig(),
	}

	r, err := NewRecursive(cfg)
	require.NoError(t, err)
	defer r.Close()

	require.NotNil(t, r.rrl)
}

func TestNewRecursive_ForwardingMode(t *testing.T) {
	cfg := Config{
		Upstreams: []string{"1.1.1.1:53", "8.8.8.8:53"},
	}

	r, err := NewRecursive(cfg)
	require.NoError(t, err)
	defer r.Close()

	require.NotNil(t, r.dispatcher)
}

func TestResolve_UnsupportedOpcode(t *testing.T) {
	r, err := NewRecursive(Config{})
	require.NoError(t, err)
	defer r.Close()

	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)
	msg.Opcode = dns.OpcodeStatus

	resp, err := r.Resolve(context.Background(), msg, net.ParseIP("192.0.2.1"))
	require.NoError(t, err)
	require.Equal(t, dns.RcodeNotImplemented, resp.Rcode)
}

func TestResolve_ANYTypeRefused(t *testing.T) {
	r, err := NewRecursive(Config{})
	require.NoError(t, err)
	defer r.Close()

	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeANY)

	resp, err := r.Resolve(context.Background(), msg, net.ParseIP("192.0.2.1"))
	require.NoError(t, err)
	require.Equal(t, dns.RcodeRefused, resp.Rcode)
}

func TestResolve_CacheHit_EchoesDOBit(t *testing.T) {
	cfg := Config{
		CacheConfig: cache.Config{ShardCount: 16, MaxEntries: 10000},
	}
	r, err := NewRecursive(cfg)
	require.NoError(t, err)
	defer r.Close()

	cachedResp := new(dns.Msg)
	cachedResp.SetQuestion("secure.example.", dns.TypeA)
	cachedResp.Response = true
	cachedResp.AuthenticatedData = true
	cachedResp.Answer = []dns.RR{
		&dns.A{
			Hdr: dns.RR_Header{Name: "secure.example.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 3600},
			A:   net.ParseIP("192.0.2.9"),
		},
	}

	question := cachedResp.Question[0]
	cacheKey := packet.HashQuery(question.Name, question.Qtype, question.Qclass)
	r.cache.Set(cacheKey, &cache.Entry{
		Msg:             cachedResp,
		ExpiresAt:       time.Now().Add(1 * time.Hour),
		OrigTTL:         3600,
		InsertedAt:      time.Now(),
		QName:           question.Name,
		QType:           question.Qtype,
		QClass:          question.Qclass,
		DNSSECValidated: true,
	})

	query := new(dns.Msg)
	query.SetQuestion("secure.example.", dns.TypeA)
	query.SetEdns0(4096, true) // DO bit set

	resp, err := r.Resolve(context.Background(), query, net.ParseIP("192.0.2.1"))
	require.NoError(t, err)
	require.True(t, resp.AuthenticatedData)

	opt := resp.IsEdns0()
	require.NotNil(t, opt, "DO request should get an OPT record back")
	require.True(t, opt.Do())
}

func TestResolve_NoQuestion(t *testing.T) {
	r, err := NewRecursive(Config{})
	require.NoError(t, err)
	defer r.Close()

	msg := new(dns.Msg)

	resp, err := r.Resolve(context.Background(), msg, net.ParseIP("192.0.2.1"))
	require.NoError(t, err)
	require.Equal(t, dns.RcodeFormatError, resp.Rcode)
}

func TestResolve_CacheHit(t *testing.T) {
	cfg := Config{
		CacheConfig: cache.Config{
			ShardCount: 16,
			MaxEntries: 10000,
		},
	}

	r, err := NewRecursive(cfg)
	require.NoError(t, err)
	defer r.Close()

	cachedResp := new(dns.Msg)
	cachedResp.SetQuestion("example.com.", dns.TypeA)
	cachedResp.Response = true
	cachedResp.Answer = []dns.RR{
		&dns.A{
			Hdr: dns.RR_Header{
				Name:   "example.com.",
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    3600,
			},
			A: net.ParseIP("93.184.216.34"),
		},
	}

	question := cachedResp.Question[0]
	cacheKey := packet.HashQuery(question.Name, question.Qtype, question.Qclass)

	r.cache.Set(cacheKey, &cache.Entry{
		Msg:        cachedResp,
		ExpiresAt:  time.Now().Add(1 * time.Hour),
		OrigTTL:    3600,
		InsertedAt: time.Now(),
		QName:      question.Name,
		QType:      question.Qtype,
		QClass:     question.Qclass,
	})

	query := new(dns.Msg)
	query.SetQuestion("example.com.", dns.TypeA)
	query.Id = 0x1234

	resp, err := r.Resolve(context.Background(), query, net.ParseIP("192.0.2.1"))
	require.NoError(t, err)

	require.Equal(t, uint16(0x1234), resp.Id)
	require.NotEmpty(t, resp.Answer)
	require.True(t, resp.RecursionAvailable)
}

func TestResolve_CacheMiss(t *testing.T) {
	t.Skip("requires network access to upstream/root nameservers")
}

func TestGlueToAddrs(t *testing.T) {
	extra := []dns.RR{
		&dns.A{
			Hdr: dns.RR_Header{Name: "ns1.example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 3600},
			A:   net.ParseIP("192.0.2.1"),
		},
		&dns.AAAA{
			Hdr:  dns.RR_Header{Name: "ns2.example.com.", Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 3600},
			AAAA: net.ParseIP("2001:db8::1"),
		},
	}

	addrs := glueToAddrs(extra)
	require.ElementsMatch(t, []string{"192.0.2.1:53", "[2001:db8::1]:53"}, addrs)
}

func TestExtractNSNames(t *testing.T) {
	ns := []dns.RR{
		&dns.NS{Hdr: dns.RR_Header{Name: "example.com."}, Ns: "ns1.example.com."},
		&dns.NS{Hdr: dns.RR_Header{Name: "example.com."}, Ns: "ns2.example.com."},
	}
	require.ElementsMatch(t, []string{"ns1.example.com.", "ns2.example.com."}, extractNSNames(ns))
}

func TestGetStats(t *testing.T) {
	cfg := Config{
		EnableRRL: true,
		RRLConfig: rrl.DefaultConfig(),
	}

	r, err := NewRecursive(cfg)
	require.NoError(t, err)
	defer r.Close()

	stats := r.GetStats()
	require.NotZero(t, stats.Pool.Workers)
	require.NotNil(t, stats.RRL)
}

func TestGetStats_NoRRL(t *testing.T) {
	r, err := NewRecursive(Config{EnableRRL: false})
	require.NoError(t, err)
	defer r.Close()

	stats := r.GetStats()
	require.Nil(t, stats.RRL)
}

func TestClose(t *testing.T) {
	r, err := NewRecursive(Config{
		EnableRRL: true,
		RRLConfig: rrl.DefaultConfig(),
	})
	require.NoError(t, err)
	require.NoError(t, r.Close())
}

func TestResolveIterative_MaxIterations(t *testing.T) {
	r, err := NewRecursive(Config{
		MaxIterations: 1,
		QueryTimeout:  500 * time.Millisecond,
	})
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = r.resolveIterative(ctx, "example.com.", dns.TypeA, dns.ClassINET)
	require.Error(t, err)
}

func TestResolve_ContextCancellation(t *testing.T) {
	r, err := NewRecursive(Config{QueryTimeout: 10 * time.Second})
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	query := new(dns.Msg)
	query.SetQuestion("example.com.", dns.TypeA)

	resp, err := r.Resolve(ctx, query, net.ParseIP("192.0.2.1"))
	require.NoError(t, err)
	require.Equal(t, dns.RcodeServerFailure, resp.Rcode)
}

func BenchmarkResolve_CacheHit(b *testing.B) {
	cfg := Config{
		CacheConfig: cache.Config{
			ShardCount: 16,
			MaxEntries: 10000,
		},
	}

	r, err := NewRecursive(cfg)
	if err != nil {
		b.Fatalf("NewRecursive() error = %v", err)
	}
	defer r.Close()

	cachedResp := new(dns.Msg)
	cachedResp.SetQuestion("example.com.", dns.TypeA)
	cachedResp.Response = true
	cachedResp.Answer = []dns.RR{
		&dns.A{
			Hdr: dns.RR_Header{
				Name:   "example.com.",
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    3600,
			},
			A: net.ParseIP("93.184.216.34"),
		},
	}

	question := cachedResp.Question[0]
	cacheKey := packet.HashQuery(question.Name, question.Qtype, question.Qclass)
	r.cache.Set(cacheKey, &cache.Entry{
		Msg:        cachedResp,
		ExpiresAt:  time.Now().Add(1 * time.Hour),
		OrigTTL:    3600,
		InsertedAt: time.Now(),
		QName:      question.Name,
		QType:      question.Qtype,
		QClass:     question.Qclass,
	})

	query := new(dns.Msg)
	query.SetQuestion("example.com.", dns.TypeA)

	ctx := context.Background()
	clientIP := net.ParseIP("192.0.2.1")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = r.Resolve(ctx, query, clientIP)
	}
}
