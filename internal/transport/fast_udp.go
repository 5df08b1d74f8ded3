package transport

import (
	"context"
	"net"
	"sync"

	"github.com/dnsscience/resolverd/internal/blocking"
	"github.com/dnsscience/resolverd/internal/packet"
	"github.com/dnsscience/resolverd/internal/resolver"
	"github.com/dnsscience/resolverd/internal/validate"
	"github.com/miekg/dns"
)

// FastUDPServer is a high-throughput UDP DNS server. It pre-filters every
// datagram with internal/packet's lightweight parser before paying for a
// full miekg/dns unpack, so a client that's ACL-denied or rate-limited never
// reaches the resolver.
type FastUDPServer struct {
	mu sync.Mutex

	addr     string
	conn     *net.UDPConn
	resolver *resolver.Recursive
	acl      *validate.ACL
	limiter  *validate.RateLimiter
	blocking *blocking.Engine

	running bool
	done    chan struct{}

	statsLock   sync.RWMutex
	packetsRecv uint64
	packetsSent uint64
	parseErrors uint64
	aclBlocked  uint64
	rateBlocked uint64
	blockListed uint64
	resolveErrs uint64
}

// FastUDPServerConfig holds configuration for the fast UDP server.
type FastUDPServerConfig struct {
	Addr      string
	Upstreams []string
}

// NewFastUDPServer creates a new high-performance UDP DNS server.
func NewFastUDPServer(cfg FastUDPServerConfig) *FastUDPServer {
	r, err := resolver.NewRecursive(resolver.Config{
		Upstreams: cfg.Upstreams,
	})
	if err != nil {
		panic(err)
	}

	return &FastUDPServer{
		addr:     cfg.Addr,
		resolver: r,
		acl:      validate.NewACL(true), // default allow
		limiter:  validate.NewRateLimiter(validate.DefaultRateLimiterConfig()),
		blocking: blocking.NewEngine(blocking.DefaultPolicyConfig(), nil),
		done:     make(chan struct{}),
	}
}

// SetACL sets the access control list.
func (s *FastUDPServer) SetACL(acl *validate.ACL) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acl = acl
}

// SetRateLimiter sets the rate limiter.
func (s *FastUDPServer) SetRateLimiter(rl *validate.RateLimiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter = rl
}

// SetBlocking sets the blocklist engine consulted before resolution.
func (s *FastUDPServer) SetBlocking(b *blocking.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocking = b
}

// Start starts the fast UDP server.
func (s *FastUDPServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}

	conn.SetReadBuffer(4 * 1024 * 1024)
	conn.SetWriteBuffer(4 * 1024 * 1024)

	s.conn = conn
	s.running = true

	const numWorkers = 4
	for i := 0; i < numWorkers; i++ {
		go s.worker()
	}

	return nil
}

// Stop stops the server.
func (s *FastUDPServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	close(s.done)
	if s.conn != nil {
		s.conn.Close()
	}
	s.running = false
	return nil
}

// Stats returns server statistics.
func (s *FastUDPServer) Stats() map[string]uint64 {
	s.statsLock.RLock()
	defer s.statsLock.RUnlock()
	return map[string]uint64{
		"packets_recv":   s.packetsRecv,
		"packets_sent":   s.packetsSent,
		"parse_errors":   s.parseErrors,
		"acl_blocked":    s.aclBlocked,
		"rate_blocked":   s.rateBlocked,
		"blocklisted":    s.blockListed,
		"resolve_errors": s.resolveErrs,
	}
}

func (s *FastUDPServer) worker() {
	buf := make([]byte, 65535)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}

		s.statsLock.Lock()
		s.packetsRecv++
		s.statsLock.Unlock()

		raw := make([]byte, n)
		copy(raw, buf[:n])
		go s.handlePacket(raw, addr)
	}
}

func (s *FastUDPServer) handlePacket(raw []byte, addr *net.UDPAddr) {
	msg, err := packet.NewParser(raw).Parse()
	if err != nil {
		s.statsLock.Lock()
		s.parseErrors++
		s.statsLock.Unlock()
		return
	}

	if msg.Header.QR {
		return
	}

	if !s.acl.IsAllowed(addr.IP) {
		s.statsLock.Lock()
		s.aclBlocked++
		s.statsLock.Unlock()
		s.sendRcode(msg.Header.ID, dns.RcodeRefused, addr)
		return
	}

	var qname string
	if len(msg.Question) > 0 {
		qname = dns.Fqdn(msg.Question[0].Name)
	}
	if !s.limiter.Allow(addr.IP, qname) {
		s.statsLock.Lock()
		s.rateBlocked++
		s.statsLock.Unlock()
		s.sendRcode(msg.Header.ID, dns.RcodeRefused, addr)
		return
	}

	if msg.Header.QDCount == 0 {
		s.sendRcode(msg.Header.ID, dns.RcodeFormatError, addr)
		return
	}

	if blocked, _ := s.blocking.Check(qname); blocked {
		s.statsLock.Lock()
		s.blockListed++
		s.statsLock.Unlock()
		s.sendRcode(msg.Header.ID, dns.RcodeNameError, addr)
		return
	}

	// Full resolution still goes through miekg/dns: the fast path above
	// exists purely to reject unwanted traffic before paying for it.
	dnsReq := new(dns.Msg)
	if err := dnsReq.Unpack(raw); err != nil {
		s.sendRcode(msg.Header.ID, dns.RcodeFormatError, addr)
		return
	}

	resp, err := s.resolver.Resolve(context.Background(), dnsReq, addr.IP)
	if err != nil {
		s.statsLock.Lock()
		s.resolveErrs++
		s.statsLock.Unlock()
		s.sendRcode(msg.Header.ID, dns.RcodeServerFailure, addr)
		return
	}

	wire, err := resp.Pack()
	if err != nil {
		s.statsLock.Lock()
		s.resolveErrs++
		s.statsLock.Unlock()
		return
	}

	s.conn.WriteToUDP(wire, addr)
	s.statsLock.Lock()
	s.packetsSent++
	s.statsLock.Unlock()
}

func (s *FastUDPServer) sendRcode(id uint16, rcode int, addr *net.UDPAddr) {
	m := new(dns.Msg)
	m.Id = id
	m.Response = true
	m.RecursionAvailable = true
	m.Rcode = rcode

	wire, err := m.Pack()
	if err != nil {
		return
	}
	s.conn.WriteToUDP(wire, addr)
}
