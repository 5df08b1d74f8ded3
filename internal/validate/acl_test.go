package validate

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestACL_DefaultAllow(t *testing.T) {
	acl := NewACL(true)
	require.True(t, acl.IsAllowed(net.ParseIP("203.0.113.1")))
}

func TestACL_DefaultDeny(t *testing.T) {
	acl := NewACL(false)
	require.False(t, acl.IsAllowed(net.ParseIP("203.0.113.1")))
}

func TestACL_AllowNet_CIDR(t *testing.T) {
	acl := NewACL(false)
	require.NoError(t, acl.AllowNet("10.0.0.0/8"))

	require.True(t, acl.IsAllowed(net.ParseIP("10.1.2.3")))
	require.False(t, acl.IsAllowed(net.ParseIP("192.168.1.1")))
}

func TestACL_AllowNet_BareIP(t *testing.T) {
	acl := NewACL(false)
	require.NoError(t, acl.AllowNet("192.0.2.10"))

	require.True(t, acl.IsAllowed(net.ParseIP("192.0.2.10")))
	require.False(t, acl.IsAllowed(net.ParseIP("192.0.2.11")))
}

func TestACL_DenyTakesPrecedenceOverAllow(t *testing.T) {
	acl := NewACL(false)
	require.NoError(t, acl.AllowNet("10.0.0.0/8"))
	require.NoError(t, acl.DenyNet("10.0.0.1"))

	require.False(t, acl.IsAllowed(net.ParseIP("10.0.0.1")))
	require.True(t, acl.IsAllowed(net.ParseIP("10.0.0.2")))
}

func TestACL_AllowNet_InvalidInput(t *testing.T) {
	acl := NewACL(false)
	require.Error(t, acl.AllowNet("not-an-ip"))
}

func TestACL_IPv6(t *testing.T) {
	acl := NewACL(false)
	require.NoError(t, acl.AllowNet("2001:db8::/32"))

	require.True(t, acl.IsAllowed(net.ParseIP("2001:db8::1")))
	require.False(t, acl.IsAllowed(net.ParseIP("2001:db9::1")))
}
