package blocking

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_LoadListAndCheck(t *testing.T) {
	e := NewEngine(DefaultPolicyConfig(), nil)
	n := e.LoadList("ads.example.com\n*.doubleclick.net\n# comment\n", FormatDomainList)
	assert.Equal(t, 2, n)

	blocked, _ := e.Check("ads.example.com.")
	assert.True(t, blocked)

	blocked, _ = e.Check("sub.doubleclick.net.")
	assert.True(t, blocked)

	blocked, _ = e.Check("unrelated.org.")
	assert.False(t, blocked)

	stats := e.Stats()
	assert.Equal(t, 2, stats.Rules)
	assert.EqualValues(t, 3, stats.Checks)
	assert.EqualValues(t, 2, stats.Blocked)
}

func TestEngine_AllowOverridesList(t *testing.T) {
	e := NewEngine(DefaultPolicyConfig(), nil)
	e.LoadList("example.com", FormatDomainList)
	e.Allow("safe.example.com")

	blocked, _ := e.Check("safe.example.com.")
	assert.False(t, blocked)
}

func TestEngine_RespondUsesConfiguredPolicy(t *testing.T) {
	e := NewEngine(PolicyConfig{Mode: PolicyRefused}, nil)
	m := new(dns.Msg)
	m.SetQuestion("blocked.example.com.", dns.TypeA)
	resp := e.Respond(m)
	assert.Equal(t, dns.RcodeRefused, resp.Rcode)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("hosts")
	require.NoError(t, err)
	assert.Equal(t, FormatHosts, f)

	_, err = ParseFormat("bogus")
	assert.Error(t, err)
}
