package cache

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	c := NewShardedCache(Config{})
	defer c.Close()

	msg := new(dns.Msg)
	msg.Answer = []dns.RR{
		&dns.A{Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300}, A: mustParseIP("198.51.100.5")},
	}
	c.Set(42, &Entry{
		Msg:             msg,
		ExpiresAt:       time.Now().Add(5 * time.Minute),
		OrigTTL:         300,
		DNSSECValidated: true,
		QName:           "example.com.",
		QType:           dns.TypeA,
		QClass:          dns.ClassINET,
	})

	var buf bytes.Buffer
	require.NoError(t, c.SaveSnapshot(&buf))

	c2 := NewShardedCache(Config{})
	defer c2.Close()

	n, err := c2.LoadSnapshot(&buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	entry, ok := c2.Get(42)
	require.True(t, ok)
	require.Equal(t, "example.com.", entry.QName)
	require.True(t, entry.DNSSECValidated)
}

func TestLoadSnapshot_LegacyJSONSkipped(t *testing.T) {
	c := NewShardedCache(Config{})
	defer c.Close()

	n, err := c.LoadSnapshot(bytes.NewBufferString(`{"legacy":true}`))
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestLoadSnapshot_MissingFileIsNotError(t *testing.T) {
	c := NewShardedCache(Config{})
	defer c.Close()

	n, err := c.LoadSnapshotFile("testdata/does-not-exist.snap")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func mustParseIP(s string) []byte {
	ip := net.ParseIP(s)
	return ip.To4()
}
