package validate

import (
	"net"
	"sync"
)

// ACL is an access control list of allowed/denied client networks, consulted
// before a query is admitted to the pipeline and before AXFR/IXFR transfers
// are served to a peer.
type ACL struct {
	mu           sync.RWMutex
	allowedNets  []*net.IPNet
	deniedNets   []*net.IPNet
	defaultAllow bool
}

// NewACL creates an ACL with the given default policy.
func NewACL(defaultAllow bool) *ACL {
	return &ACL{defaultAllow: defaultAllow}
}

// AllowNet adds a network (CIDR or bare IP) to the allow list.
func (a *ACL) AllowNet(cidr string) error {
	ipnet, err := parseNet(cidr)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allowedNets = append(a.allowedNets, ipnet)
	return nil
}

// DenyNet adds a network (CIDR or bare IP) to the deny list.
func (a *ACL) DenyNet(cidr string) error {
	ipnet, err := parseNet(cidr)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deniedNets = append(a.deniedNets, ipnet)
	return nil
}

// IsAllowed evaluates deny list, then allow list, then the default policy.
func (a *ACL) IsAllowed(ip net.IP) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, denied := range a.deniedNets {
		if denied.Contains(ip) {
			return false
		}
	}
	for _, allowed := range a.allowedNets {
		if allowed.Contains(ip) {
			return true
		}
	}
	return a.defaultAllow
}

func parseNet(cidr string) (*net.IPNet, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err == nil {
		return ipnet, nil
	}
	ip := net.ParseIP(cidr)
	if ip == nil {
		return nil, err
	}
	if ip.To4() != nil {
		return &net.IPNet{IP: ip.To4(), Mask: net.CIDRMask(32, 32)}, nil
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
}
