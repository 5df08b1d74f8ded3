package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/dnsscience/resolverd/internal/eventbus"
	"github.com/dnsscience/resolverd/internal/validate"
	"github.com/dnsscience/resolverd/internal/zone"
)

// fakeResponseWriter is a minimal dns.ResponseWriter recording every message
// written to it, with a configurable transport (UDP or TCP) remote address.
type fakeResponseWriter struct {
	remote  net.Addr
	written []*dns.Msg
}

func (f *fakeResponseWriter) LocalAddr() net.Addr  { return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 53} }
func (f *fakeResponseWriter) RemoteAddr() net.Addr { return f.remote }
func (f *fakeResponseWriter) WriteMsg(m *dns.Msg) error {
	f.written = append(f.written, m)
	return nil
}
func (f *fakeResponseWriter) Write(b []byte) (int, error) { return len(b), nil }
func (f *fakeResponseWriter) Close() error                { return nil }
func (f *fakeResponseWriter) TsigStatus() error           { return nil }
func (f *fakeResponseWriter) TsigTimersOnly(bool)         {}
func (f *fakeResponseWriter) Hijack()                     {}

func tcpWriter(ip string) *fakeResponseWriter {
	return &fakeResponseWriter{remote: &net.TCPAddr{IP: net.ParseIP(ip), Port: 5000}}
}

func udpWriter(ip string) *fakeResponseWriter {
	return &fakeResponseWriter{remote: &net.UDPAddr{IP: net.ParseIP(ip), Port: 5000}}
}

func testServerWithZone(t *testing.T) (*Server, *zone.Zone) {
	t.Helper()

	z := zone.New("example.test.")
	soa, err := dns.NewRR("example.test. 3600 IN SOA ns1.example.test. hostmaster.example.test. 1 7200 3600 1209600 3600")
	require.NoError(t, err)
	require.NoError(t, z.AddRecord(soa))
	a, err := dns.NewRR("www.example.test. 3600 IN A 192.0.2.1")
	require.NoError(t, err)
	require.NoError(t, z.AddRecord(a))

	cfg := DefaultConfig()
	cfg.EnableRecursive = false
	cfg.EnableAuthoritative = true
	cfg.Zones = map[string]*zone.Zone{z.Origin: z}
	cfg.AllowedTransferPeers = []string{"198.51.100.0/24"}

	s, err := New(cfg)
	require.NoError(t, err)
	return s, z
}

func axfrRequest() *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion("example.test.", dns.TypeAXFR)
	return m
}

func TestHandleDNS_AXFR_AllowedPeerOverTCP(t *testing.T) {
	s, _ := testServerWithZone(t)
	w := tcpWriter("198.51.100.5")

	s.handleDNS(w, axfrRequest())

	require.NotEmpty(t, w.written)
	first := w.written[0].Answer[0]
	require.Equal(t, dns.TypeSOA, first.Header().Rrtype)
}

func TestHandleDNS_AXFR_RefusedOverUDP(t *testing.T) {
	s, _ := testServerWithZone(t)
	w := udpWriter("198.51.100.5")

	s.handleDNS(w, axfrRequest())

	require.Len(t, w.written, 1)
	require.Equal(t, dns.RcodeRefused, w.written[0].Rcode)
}

func TestHandleDNS_AXFR_RefusedForDeniedPeer(t *testing.T) {
	s, _ := testServerWithZone(t)
	w := tcpWriter("203.0.113.9")

	s.handleDNS(w, axfrRequest())

	require.Len(t, w.written, 1)
	require.Equal(t, dns.RcodeRefused, w.written[0].Rcode)
}

func TestHandleDNS_AXFR_UnknownZoneIsNotAuth(t *testing.T) {
	s, _ := testServerWithZone(t)
	w := tcpWriter("198.51.100.5")

	m := new(dns.Msg)
	m.SetQuestion("other.test.", dns.TypeAXFR)
	s.handleDNS(w, m)

	require.Len(t, w.written, 1)
	require.Equal(t, dns.RcodeNotAuth, w.written[0].Rcode)
}

func TestHandleDNS_IXFR_ClientUpToDateGetsSingleSOA(t *testing.T) {
	s, z := testServerWithZone(t)
	w := tcpWriter("198.51.100.5")

	m := new(dns.Msg)
	m.SetQuestion("example.test.", dns.TypeIXFR)
	soa := z.SOA
	m.Ns = []dns.RR{soa}
	s.handleDNS(w, m)

	require.Len(t, w.written, 1)
	require.Len(t, w.written[0].Answer, 1)
}

func TestHandleDNS_RegularQueryStillWorks(t *testing.T) {
	s, _ := testServerWithZone(t)
	w := udpWriter("192.0.2.200")

	m := new(dns.Msg)
	m.SetQuestion("www.example.test.", dns.TypeA)
	s.handleDNS(w, m)

	require.Len(t, w.written, 1)
	require.Equal(t, dns.RcodeSuccess, w.written[0].Rcode)
	require.NotEmpty(t, w.written[0].Answer)
}

func TestGetStats_ReflectsQueries(t *testing.T) {
	s, _ := testServerWithZone(t)
	w := udpWriter("192.0.2.201")

	m := new(dns.Msg)
	m.SetQuestion("www.example.test.", dns.TypeA)
	s.handleDNS(w, m)

	stats := s.GetStats()
	require.Equal(t, uint64(1), stats.Queries)
	require.Equal(t, uint64(1), stats.Answers)
}

func TestHandleDNS_AXFR_PublishesTransferEvent(t *testing.T) {
	s, _ := testServerWithZone(t)
	sub := s.Events().Subscribe(context.Background(), eventbus.TopicServer)
	defer sub.Close()

	w := tcpWriter("198.51.100.5")
	s.handleDNS(w, axfrRequest())

	select {
	case evt := <-sub.Ch:
		transferred, ok := evt.Data.(zoneTransferredEvent)
		require.True(t, ok)
		require.Equal(t, "example.test.", transferred.Origin)
		require.Greater(t, transferred.Messages, 0)
	case <-time.After(time.Second):
		t.Fatal("expected a TopicServer event after a completed transfer")
	}
}

func TestAddZone_PublishesZoneEvent(t *testing.T) {
	s, _ := testServerWithZone(t)
	sub := s.Events().Subscribe(context.Background(), eventbus.TopicZone)
	defer sub.Close()

	other := zone.New("other.test.")
	soa, err := dns.NewRR("other.test. 3600 IN SOA ns1.other.test. hostmaster.other.test. 1 7200 3600 1209600 3600")
	require.NoError(t, err)
	require.NoError(t, other.AddRecord(soa))
	require.NoError(t, s.AddZone(other))

	select {
	case evt := <-sub.Ch:
		loaded, ok := evt.Data.(zoneLoadedEvent)
		require.True(t, ok)
		require.Equal(t, "other.test.", loaded.Origin)
	case <-time.After(time.Second):
		t.Fatal("expected a TopicZone event after AddZone")
	}
}

func TestHandleDNS_DeniedByACL(t *testing.T) {
	s, _ := testServerWithZone(t)
	s.acl = validate.NewACL(false)
	require.NoError(t, s.acl.AllowNet("198.51.100.0/24"))

	w := udpWriter("203.0.113.9")
	m := new(dns.Msg)
	m.SetQuestion("www.example.test.", dns.TypeA)
	s.handleDNS(w, m)

	require.Len(t, w.written, 1)
	require.Equal(t, dns.RcodeRefused, w.written[0].Rcode)
}

func TestHandleDNS_DeniedByQueryRateLimit(t *testing.T) {
	s, _ := testServerWithZone(t)
	s.queryLimiter = validate.NewRateLimiter(validate.RateLimiterConfig{
		QueriesPerSecond: 1,
		BurstSize:        0,
	})

	w := udpWriter("192.0.2.200")
	m := new(dns.Msg)
	m.SetQuestion("www.example.test.", dns.TypeA)
	s.handleDNS(w, m)

	require.Len(t, w.written, 1)
	require.Equal(t, dns.RcodeRefused, w.written[0].Rcode)
}

func TestHandleDNS_UnsupportedOpcodeIsNotImplemented(t *testing.T) {
	s, _ := testServerWithZone(t)
	w := udpWriter("192.0.2.200")

	m := new(dns.Msg)
	m.SetQuestion("www.example.test.", dns.TypeA)
	m.Opcode = dns.OpcodeStatus
	s.handleDNS(w, m)

	require.Len(t, w.written, 1)
	require.Equal(t, dns.RcodeNotImplemented, w.written[0].Rcode)
}

func TestHandleDNS_ANYQueryIsRefused(t *testing.T) {
	s, _ := testServerWithZone(t)
	w := udpWriter("192.0.2.200")

	m := new(dns.Msg)
	m.SetQuestion("www.example.test.", dns.TypeANY)
	s.handleDNS(w, m)

	require.Len(t, w.written, 1)
	require.Equal(t, dns.RcodeRefused, w.written[0].Rcode)
}

func TestHandleDNS_TruncatesOversizedUDPAnswer(t *testing.T) {
	z := zone.New("example.test.")
	soa, err := dns.NewRR("example.test. 3600 IN SOA ns1.example.test. hostmaster.example.test. 1 7200 3600 1209600 3600")
	require.NoError(t, err)
	require.NoError(t, z.AddRecord(soa))

	// Enough big TXT records to blow well past the 512-byte UDP ceiling.
	for i := 0; i < 30; i++ {
		rr, err := dns.NewRR("big.example.test. 3600 IN TXT \"" +
			"01234567890123456789012345678901234567890123456789012345678901234567890123456789" + "\"")
		require.NoError(t, err)
		require.NoError(t, z.AddRecord(rr))
	}

	cfg := DefaultConfig()
	cfg.EnableRecursive = false
	cfg.EnableAuthoritative = true
	cfg.Zones = map[string]*zone.Zone{z.Origin: z}

	s, err := New(cfg)
	require.NoError(t, err)

	w := udpWriter("192.0.2.200")
	m := new(dns.Msg)
	m.SetQuestion("big.example.test.", dns.TypeTXT)
	s.handleDNS(w, m)

	require.Len(t, w.written, 1)
	resp := w.written[0]
	require.True(t, resp.Truncated)
	require.LessOrEqual(t, resp.Len(), 512)
}

func TestHandleDNS_Method_UnsupportedOpcodeIsNotImplemented(t *testing.T) {
	s, _ := testServerWithZone(t)

	m := new(dns.Msg)
	m.SetQuestion("www.example.test.", dns.TypeA)
	m.Opcode = dns.OpcodeStatus

	resp, err := s.HandleDNS(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, dns.RcodeNotImplemented, resp.Rcode)
}

func TestHandleDNS_Method_ANYIsRefused(t *testing.T) {
	s, _ := testServerWithZone(t)

	m := new(dns.Msg)
	m.SetQuestion("www.example.test.", dns.TypeANY)

	resp, err := s.HandleDNS(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, dns.RcodeRefused, resp.Rcode)
}

func TestHandleDNS_Method_ResolvesAuthoritativeAnswer(t *testing.T) {
	s, _ := testServerWithZone(t)

	m := new(dns.Msg)
	m.SetQuestion("www.example.test.", dns.TypeA)

	resp, err := s.HandleDNS(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.NotEmpty(t, resp.Answer)
}

func TestIxfrClientSerial(t *testing.T) {
	m := new(dns.Msg)
	require.Equal(t, uint32(0), ixfrClientSerial(m))

	soa, err := dns.NewRR("example.test. 3600 IN SOA ns1.example.test. hostmaster.example.test. 42 7200 3600 1209600 3600")
	require.NoError(t, err)
	m.Ns = []dns.RR{soa}
	require.Equal(t, uint32(42), ixfrClientSerial(m))
}
