package resolver

import (
	"strings"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestApply0x20_PreservesLetters(t *testing.T) {
	encoded := apply0x20("example.com.")
	require.Equal(t, strings.ToLower(encoded), strings.ToLower("example.com."))
}

func TestValidate0x20_MatchAndMismatch(t *testing.T) {
	require.True(t, validate0x20("ExAmPle.com.", "ExAmPle.com."))
	require.False(t, validate0x20("ExAmPle.com.", "example.com."))
}

func TestScrubResponse_DropsOutOfBailiwick(t *testing.T) {
	msg := new(dns.Msg)
	inZone, _ := dns.NewRR("ns1.example.com. 300 IN A 192.0.2.1")
	outOfZone, _ := dns.NewRR("attacker.evil.example. 300 IN A 192.0.2.2")
	msg.Ns = []dns.RR{inZone}
	msg.Extra = []dns.RR{inZone, outOfZone}

	scrubResponse(msg, "example.com.")

	require.Len(t, msg.Ns, 1)
	require.Len(t, msg.Extra, 1)
	require.Equal(t, "ns1.example.com.", msg.Extra[0].Header().Name)
}

func TestScrubResponse_KeepsOPT(t *testing.T) {
	msg := new(dns.Msg)
	opt := new(dns.OPT)
	opt.Hdr.Name = "."
	opt.Hdr.Rrtype = dns.TypeOPT
	outOfZone, _ := dns.NewRR("attacker.evil.example. 300 IN A 192.0.2.2")
	msg.Extra = []dns.RR{opt, outOfZone}

	scrubResponse(msg, "example.com.")

	require.Len(t, msg.Extra, 1)
	require.Equal(t, dns.TypeOPT, msg.Extra[0].Header().Rrtype)
}

func TestIsInBailiwick(t *testing.T) {
	require.True(t, isInBailiwick("www.example.com.", "example.com."))
	require.True(t, isInBailiwick("example.com.", "example.com."))
	require.False(t, isInBailiwick("www.evil.example.", "example.com."))
}

func TestMinimizeQName(t *testing.T) {
	require.Equal(t, "example.com.", minimizeQName("www.deep.example.com.", "com."))
	require.Equal(t, "com.", minimizeQName("com.", "com."))
	require.Equal(t, "example.com.", minimizeQName("example.com.", "example.com."))
}

func TestHardenGlue_FiltersUnrelatedAndOutOfZone(t *testing.T) {
	nsInZone, _ := dns.NewRR("ns1.example.com. 300 IN A 192.0.2.1")
	nsOutOfZone, _ := dns.NewRR("ns2.example.net. 300 IN A 192.0.2.2")
	unrelated, _ := dns.NewRR("attacker.example. 300 IN A 192.0.2.3")

	glue := []dns.RR{nsInZone, nsOutOfZone, unrelated}
	kept := hardenGlue(glue, "example.com.", []string{"ns1.example.com.", "ns2.example.net."})

	require.Len(t, kept, 1)
	require.Equal(t, "ns1.example.com.", kept[0].Header().Name)
}
