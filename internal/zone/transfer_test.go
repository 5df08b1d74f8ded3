package zone

import (
	"fmt"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func testTransferZone(t *testing.T) *Zone {
	t.Helper()
	z, err := ParseBIND("testdata/example.org.bind", "example.org.", DefaultConfig())
	require.NoError(t, err)
	return z
}

func axfrRequest() *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion("example.org.", dns.TypeAXFR)
	return m
}

func TestAXFR_FirstAndLastAreSOA(t *testing.T) {
	z := testTransferZone(t)
	msgs, err := AXFR(z, axfrRequest())
	require.NoError(t, err)
	require.NotEmpty(t, msgs)

	first := msgs[0].Answer[0]
	last := msgs[len(msgs)-1].Answer[len(msgs[len(msgs)-1].Answer)-1]
	require.Equal(t, dns.TypeSOA, first.Header().Rrtype)
	require.Equal(t, dns.TypeSOA, last.Header().Rrtype)
}

func TestAXFR_CarriesEveryRecordPlusDuplicatedSOA(t *testing.T) {
	z := testTransferZone(t)
	msgs, err := AXFR(z, axfrRequest())
	require.NoError(t, err)

	var total int
	for _, m := range msgs {
		require.True(t, m.Response)
		require.True(t, m.Authoritative)
		total += len(m.Answer)
	}

	// Every record in the zone, plus the SOA counted twice (lead and trail).
	require.Equal(t, len(z.GetAllRecords())+1, total)
}

func TestAXFR_NoSOA(t *testing.T) {
	z := New("nosoa.test.")
	_, err := AXFR(z, axfrRequest())
	require.Error(t, err)
}

func TestAXFR_SplitsLargeZoneAcrossMessages(t *testing.T) {
	z := New("big.test.")
	soa, err := dns.NewRR("big.test. 3600 IN SOA ns1.big.test. hostmaster.big.test. 1 7200 3600 1209600 3600")
	require.NoError(t, err)
	require.NoError(t, z.AddRecord(soa))

	// Enough records to force the batcher to roll over past 16KiB.
	for i := 0; i < 2000; i++ {
		rr, err := dns.NewRR(fmt.Sprintf("host%d.big.test. 3600 IN A 192.0.2.%d", i, i%256))
		require.NoError(t, err)
		require.NoError(t, z.AddRecord(rr))
	}

	msgs, err := AXFR(z, axfrRequest())
	require.NoError(t, err)
	require.Greater(t, len(msgs), 1)
}

func TestIXFR_ClientUpToDate(t *testing.T) {
	z := testTransferZone(t)
	msgs, err := IXFR(z, axfrRequest(), z.SOA.Serial)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Answer, 1)
	require.Equal(t, dns.TypeSOA, msgs[0].Answer[0].Header().Rrtype)
}

func TestIXFR_FallsBackToAXFRWhenStale(t *testing.T) {
	z := testTransferZone(t)
	msgs, err := IXFR(z, axfrRequest(), z.SOA.Serial-1)
	require.NoError(t, err)

	var total int
	for _, m := range msgs {
		total += len(m.Answer)
	}
	require.Equal(t, len(z.GetAllRecords())+1, total)
}

func TestTransferPeers_AllowedAndDenied(t *testing.T) {
	peers, err := NewTransferPeers([]string{"10.0.0.1/32", "192.168.1.0/24"})
	require.NoError(t, err)

	require.True(t, peers.Allowed(net.ParseIP("10.0.0.1")))
	require.True(t, peers.Allowed(net.ParseIP("192.168.1.50")))
	require.False(t, peers.Allowed(net.ParseIP("203.0.113.1")))
}

func TestTransferPeers_EmptyDeniesEveryone(t *testing.T) {
	peers, err := NewTransferPeers(nil)
	require.NoError(t, err)
	require.False(t, peers.Allowed(net.ParseIP("127.0.0.1")))
}

func TestTransferPeers_Nil(t *testing.T) {
	var peers *TransferPeers
	require.False(t, peers.Allowed(net.ParseIP("127.0.0.1")))
}
