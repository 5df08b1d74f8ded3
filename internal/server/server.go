package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnsscience/resolverd/internal/blocking"
	"github.com/dnsscience/resolverd/internal/cache"
	"github.com/dnsscience/resolverd/internal/cookie"
	"github.com/dnsscience/resolverd/internal/eventbus"
	"github.com/dnsscience/resolverd/internal/metrics"
	"github.com/dnsscience/resolverd/internal/pool"
	"github.com/dnsscience/resolverd/internal/resolver"
	"github.com/dnsscience/resolverd/internal/rrl"
	"github.com/dnsscience/resolverd/internal/shutdown"
	"github.com/dnsscience/resolverd/internal/transport"
	"github.com/dnsscience/resolverd/internal/validate"
	"github.com/dnsscience/resolverd/internal/zone"
	"github.com/miekg/dns"
)

// minUDPMsgSize is the classic DNS UDP response ceiling (RFC 1035 section
// 4.2.1) a non-EDNS client is held to.
const minUDPMsgSize = 512

// Config holds DNS server configuration
type Config struct {
	// Listen addresses
	UDPAddr string
	TCPAddr string

	// Number of UDP listeners (SO_REUSEPORT)
	// Set to runtime.NumCPU() for maximum performance
	UDPListeners int

	// Enable recursive resolver
	EnableRecursive bool
	RecursiveConfig resolver.Config

	// Enable authoritative server
	EnableAuthoritative bool
	Zones               map[string]*zone.Zone

	// Blocking engine, shared with the recursive resolver's pipeline.
	Blocking *blocking.Engine

	// Metrics sink. Defaults to a no-op sink when left nil.
	Metrics metrics.Sink

	// AllowedTransferPeers lists the CIDRs/IPs permitted to AXFR/IXFR a zone.
	// Empty means no peer may transfer (the default - transfers must be
	// explicitly opted in per RFC 5936/1995).
	AllowedTransferPeers []string

	// Security features
	EnableCookies bool
	CookieConfig  cookie.Config

	EnableRRL bool
	RRLConfig rrl.Config

	// ACL gates which clients may query this server at all, evaluated before
	// the per-client rate limiter and before the query enters the pipeline.
	// Nil means allow every client.
	ACL *validate.ACL

	// EnableQueryRateLimit turns on the pre-pipeline per-client (and
	// optionally per-domain) token bucket. This is distinct from RRLConfig
	// above, which shapes already-computed *responses*.
	EnableQueryRateLimit bool
	QueryRateLimitConfig validate.RateLimiterConfig

	// EnableDoT/EnableDoH start optional DNS-over-TLS (RFC 7858) and
	// DNS-over-HTTPS (RFC 8484) listeners alongside the UDP/TCP ones.
	EnableDoT bool
	DoTConfig transport.DoTConfig

	EnableDoH bool
	DoHConfig transport.DoHConfig

	// EnableFastUDP swaps the SO_REUSEPORT dns.Server UDP listener pool for
	// internal/transport's zero-copy prefiltering fast path, which rejects
	// ACL-denied/rate-limited/blocklisted datagrams before a full miekg/dns
	// unpack.
	EnableFastUDP bool
	FastUDPConfig transport.FastUDPServerConfig

	// Performance tuning
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration // TCP only

	// UDP buffer sizes
	UDPReadBuffer  int
	UDPWriteBuffer int
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		UDPAddr:      ":53",
		TCPAddr:      ":53",
		UDPListeners: runtime.NumCPU(),

		EnableRecursive: true,
		RecursiveConfig: resolver.Config{
			CacheConfig: cache.Config{
				ShardCount: 256,
				MaxEntries: 100000,
			},
			Workers:       1000,
			QueryTimeout:  5 * time.Second,
			MaxIterations: 20,
		},

		EnableAuthoritative: false,
		Zones:               make(map[string]*zone.Zone),

		EnableCookies: true,
		CookieConfig: cookie.Config{
			Enabled: true,
		},

		EnableRRL: true,
		RRLConfig: rrl.DefaultConfig(),

		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,

		UDPReadBuffer:  8 * 1024 * 1024, // 8MB
		UDPWriteBuffer: 8 * 1024 * 1024, // 8MB
	}
}

// Server is the main DNS server
type Server struct {
	cfg Config

	// Components
	recursive     *resolver.Recursive
	cookies       *cookie.Manager
	rrl           *rrl.Limiter
	acl           *validate.ACL
	queryLimiter  *validate.RateLimiter
	transferPeers *zone.TransferPeers
	events        *eventbus.Bus

	// Optional transports beyond the standard UDP/TCP SO_REUSEPORT listeners.
	dot     *transport.DoTListener
	doh     *transport.DoHListener
	fastUDP *transport.FastUDPServer

	// DNS servers (one per listener for SO_REUSEPORT)
	udpServers []*dns.Server
	tcpServer  *dns.Server

	// Statistics
	queries  atomic.Uint64
	answers  atomic.Uint64
	errors   atomic.Uint64
	nxdomain atomic.Uint64

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown *shutdown.Registry
}

// New creates a new DNS server
func New(cfg Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NopSink{}
	}

	s := &Server{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		shutdown: shutdown.NewRegistry(),
		events:   eventbus.New(32),
	}

	// Initialize recursive resolver if enabled
	if cfg.EnableRecursive {
		if cfg.Blocking != nil {
			cfg.RecursiveConfig.Blocking = cfg.Blocking
		}
		var err error
		s.recursive, err = resolver.NewRecursive(cfg.RecursiveConfig)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("init recursive resolver: %w", err)
		}
	}

	// Initialize cookies if enabled
	if cfg.EnableCookies {
		var err error
		s.cookies, err = cookie.NewManager(cfg.CookieConfig)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("init cookies: %w", err)
		}
	}

	// Initialize RRL if enabled
	if cfg.EnableRRL {
		s.rrl = rrl.NewLimiter(cfg.RRLConfig)
	}

	transferPeers, err := zone.NewTransferPeers(cfg.AllowedTransferPeers)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("init transfer peers: %w", err)
	}
	s.transferPeers = transferPeers

	s.acl = cfg.ACL
	if s.acl == nil {
		s.acl = validate.NewACL(true)
	}

	if cfg.EnableQueryRateLimit {
		s.queryLimiter = validate.NewRateLimiter(cfg.QueryRateLimitConfig)
	}

	if cfg.EnableDoT {
		dot, err := transport.NewDoTListener(cfg.DoTConfig, transport.HandlerFunc(s.HandleDNS))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("init DoT listener: %w", err)
		}
		s.dot = dot
	}

	if cfg.EnableDoH {
		doh, err := transport.NewDoHListener(cfg.DoHConfig, transport.HandlerFunc(s.HandleDNS))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("init DoH listener: %w", err)
		}
		s.doh = doh
	}

	if cfg.EnableFastUDP {
		fastCfg := cfg.FastUDPConfig
		if fastCfg.Addr == "" {
			fastCfg.Addr = cfg.UDPAddr
		}
		fastUDP := transport.NewFastUDPServer(fastCfg)
		fastUDP.SetACL(s.acl)
		if cfg.Blocking != nil {
			fastUDP.SetBlocking(cfg.Blocking)
		}
		if s.queryLimiter != nil {
			fastUDP.SetRateLimiter(s.queryLimiter)
		}
		s.fastUDP = fastUDP
	}

	// Create UDP servers (SO_REUSEPORT), unless the fast-path listener above
	// is already bound to the same address.
	if !cfg.EnableFastUDP {
		for i := 0; i < cfg.UDPListeners; i++ {
			udpServer := &dns.Server{
				Addr:      cfg.UDPAddr,
				Net:       "udp",
				ReusePort: true, // SO_REUSEPORT magic!
				Handler:   dns.HandlerFunc(s.handleDNS),

				ReadTimeout:  cfg.ReadTimeout,
				WriteTimeout: cfg.WriteTimeout,

				UDPSize: 4096,
			}

			s.udpServers = append(s.udpServers, udpServer)
		}
	}

	// Create TCP server
	s.tcpServer = &dns.Server{
		Addr:    cfg.TCPAddr,
		Net:     "tcp",
		Handler: dns.HandlerFunc(s.handleDNS),

		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	s.registerShutdownHooks()

	return s, nil
}

// registerShutdownHooks wires every long-lived component into the shutdown
// registry, so Stop drains them all concurrently with per-component
// isolation instead of the old fixed sequential teardown.
func (s *Server) registerShutdownHooks() {
	for i, udpServer := range s.udpServers {
		i, udpServer := i, udpServer
		s.shutdown.Register(fmt.Sprintf("udp-listener-%d", i), 5*time.Second, func(ctx context.Context) error {
			return udpServer.ShutdownContext(ctx)
		})
	}

	s.shutdown.Register("tcp-listener", 5*time.Second, func(ctx context.Context) error {
		return s.tcpServer.ShutdownContext(ctx)
	})

	if s.recursive != nil {
		s.shutdown.Register("recursive-resolver", 5*time.Second, func(ctx context.Context) error {
			s.recursive.Close()
			return nil
		})
	}

	if s.rrl != nil {
		s.shutdown.Register("rate-limiter", time.Second, func(ctx context.Context) error {
			s.rrl.Close()
			return nil
		})
	}

	if s.fastUDP != nil {
		s.shutdown.Register("fast-udp-listener", 5*time.Second, func(ctx context.Context) error {
			return s.fastUDP.Stop()
		})
	}

	if s.dot != nil {
		s.shutdown.Register("dot-listener", 5*time.Second, func(ctx context.Context) error {
			return s.dot.Stop()
		})
	}

	if s.doh != nil {
		s.shutdown.Register("doh-listener", 5*time.Second, func(ctx context.Context) error {
			return s.doh.Stop()
		})
	}
}

// Start starts all DNS listeners
func (s *Server) Start() error {
	// Start UDP listeners (SO_REUSEPORT)
	for i, udpServer := range s.udpServers {
		i := i
		udpServer := udpServer

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			fmt.Printf("UDP listener %d started on %s (SO_REUSEPORT)\n", i, s.cfg.UDPAddr)

			if err := udpServer.ListenAndServe(); err != nil {
				fmt.Printf("UDP listener %d error: %v\n", i, err)
			}
		}()
	}

	// Start TCP listener
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		fmt.Printf("TCP listener started on %s\n", s.cfg.TCPAddr)

		if err := s.tcpServer.ListenAndServe(); err != nil {
			fmt.Printf("TCP listener error: %v\n", err)
		}
	}()

	if s.fastUDP != nil {
		if err := s.fastUDP.Start(); err != nil {
			return fmt.Errorf("start fast UDP listener: %w", err)
		}
		fmt.Printf("Fast UDP listener started on %s\n", s.cfg.FastUDPConfig.Addr)
	}

	if s.dot != nil {
		if err := s.dot.Start(); err != nil {
			return fmt.Errorf("start DoT listener: %w", err)
		}
		fmt.Printf("DoT listener started on %s\n", s.cfg.DoTConfig.Address)
	}

	if s.doh != nil {
		if err := s.doh.Start(); err != nil {
			return fmt.Errorf("start DoH listener: %w", err)
		}
		fmt.Printf("DoH listener started on %s\n", s.cfg.DoHConfig.Address)
	}

	return nil
}

// Stop gracefully stops the server, draining every registered component
// concurrently with its own timeout rather than one at a time.
func (s *Server) Stop() error {
	fmt.Println("Shutting down DNS server...")

	results := s.shutdown.Shutdown(s.ctx)
	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("Error shutting down %s: %v\n", r.Name, r.Err)
		}
	}

	s.cancel()
	s.wg.Wait()

	if shutdown.Failed(results) {
		fmt.Println("DNS server stopped with errors")
		return fmt.Errorf("one or more components failed to shut down cleanly")
	}

	fmt.Println("DNS server stopped")
	return nil
}

// handleDNS is the main DNS query handler
func (s *Server) handleDNS(w dns.ResponseWriter, r *dns.Msg) {
	s.queries.Add(1)
	start := time.Now()
	defer func() { s.cfg.Metrics.ObserveLatency(time.Since(start)) }()

	// Get client IP
	var clientIP net.IP
	protocol := "udp"
	if addr, ok := w.RemoteAddr().(*net.UDPAddr); ok {
		clientIP = addr.IP
	} else if addr, ok := w.RemoteAddr().(*net.TCPAddr); ok {
		clientIP = addr.IP
		protocol = "tcp"
	}
	s.cfg.Metrics.IncQueries(protocol)

	// Create response message
	m := pool.GetMessage()
	defer pool.PutMessage(m)

	m.SetReply(r)
	m.Compress = true
	m.RecursionAvailable = s.cfg.EnableRecursive

	// Validate query
	if len(r.Question) == 0 {
		m.Rcode = dns.RcodeFormatError
		s.errors.Add(1)
		w.WriteMsg(m)
		return
	}

	if !s.acl.IsAllowed(clientIP) {
		m.Rcode = dns.RcodeRefused
		s.errors.Add(1)
		s.cfg.Metrics.IncAnswers(dns.RcodeToString[dns.RcodeRefused])
		w.WriteMsg(m)
		return
	}

	if s.queryLimiter != nil && !s.queryLimiter.Allow(clientIP, r.Question[0].Name) {
		m.Rcode = dns.RcodeRefused
		s.errors.Add(1)
		s.cfg.Metrics.IncAnswers(dns.RcodeToString[dns.RcodeRefused])
		w.WriteMsg(m)
		return
	}

	// Packet-sanity validation: malformed structure, an unsupported opcode,
	// or a bare ANY query never reaches the resolution pipeline (spec step 1).
	if err := validate.Packet(r); err != nil {
		if errors.Is(err, validate.ErrUnsupportedOpcode) {
			m.Rcode = dns.RcodeNotImplemented
		} else {
			m.Rcode = dns.RcodeFormatError
		}
		s.errors.Add(1)
		s.cfg.Metrics.IncAnswers(dns.RcodeToString[m.Rcode])
		w.WriteMsg(m)
		return
	}

	if r.Question[0].Qtype == dns.TypeANY {
		m.Rcode = dns.RcodeRefused
		s.errors.Add(1)
		s.cfg.Metrics.IncAnswers(dns.RcodeToString[dns.RcodeRefused])
		w.WriteMsg(m)
		return
	}

	// Check DNS cookies if enabled
	if s.cfg.EnableCookies && s.cookies != nil {
		// Extract cookies from request
		var clientCookie [8]byte
		var serverCookie [8]byte

		opt := r.IsEdns0()
		if opt != nil {
			for _, option := range opt.Option {
				if cookie, ok := option.(*dns.EDNS0_COOKIE); ok {
					copy(clientCookie[:], cookie.Cookie[:8])
					if len(cookie.Cookie) >= 16 {
						copy(serverCookie[:], cookie.Cookie[8:16])
					}
					break
				}
			}
		}

		// Validate if we have a server cookie
		valid := false
		if serverCookie != [8]byte{} {
			valid = s.cookies.ValidateServerCookie(clientCookie, serverCookie, clientIP) == nil
		}

		if !valid && s.cfg.CookieConfig.RequireValid && serverCookie != [8]byte{} {
			// Send BADCOOKIE response
			m.Rcode = dns.RcodeBadCookie

			// Generate new server cookie
			newServerCookie, _ := s.cookies.GenerateServerCookie(clientCookie, clientIP)
			s.addCookieToResponse(m, clientCookie, newServerCookie)

			s.errors.Add(1)
			w.WriteMsg(m)
			return
		}

		// Add cookies to response
		if clientCookie != [8]byte{} {
			newServerCookie, _ := s.cookies.GenerateServerCookie(clientCookie, clientIP)
			s.addCookieToResponse(m, clientCookie, newServerCookie)
		}
	}

	// Zone transfers (AXFR/IXFR) bypass the normal lookup path entirely.
	if s.cfg.EnableAuthoritative && (r.Question[0].Qtype == dns.TypeAXFR || r.Question[0].Qtype == dns.TypeIXFR) {
		s.handleTransfer(w, r, clientIP)
		return
	}

	// Try authoritative first
	if s.cfg.EnableAuthoritative {
		if resp, ok := s.handleAuthoritative(r, clientIP); ok {
			// Check RRL before sending
			if s.shouldRateLimit(resp, clientIP) {
				// Drop or slip
				return
			}

			s.answers.Add(1)
			s.cfg.Metrics.IncAnswers(dns.RcodeToString[resp.Rcode])
			if resp.Rcode == dns.RcodeNameError {
				s.nxdomain.Add(1)
			}

			// Copy to response
			m.Answer = resp.Answer
			m.Ns = resp.Ns
			m.Extra = resp.Extra
			m.Rcode = resp.Rcode
			m.Authoritative = true

			if protocol == "udp" {
				m.Truncate(maxUDPSize(r))
			}

			w.WriteMsg(m)
			return
		}
	}

	// Try recursive
	if s.cfg.EnableRecursive && s.recursive != nil {
		resp, err := s.recursive.Resolve(s.ctx, r, clientIP)
		if err != nil {
			m.Rcode = dns.RcodeServerFailure
			s.errors.Add(1)
			s.cfg.Metrics.IncAnswers(dns.RcodeToString[dns.RcodeServerFailure])
			w.WriteMsg(m)
			return
		}

		// Check RRL before sending
		if s.shouldRateLimit(resp, clientIP) {
			// Drop or slip
			return
		}

		s.answers.Add(1)
		s.cfg.Metrics.IncAnswers(dns.RcodeToString[resp.Rcode])
		if resp.Rcode == dns.RcodeNameError {
			s.nxdomain.Add(1)
		}

		if protocol == "udp" {
			resp.Truncate(maxUDPSize(r))
		}

		w.WriteMsg(resp)
		return
	}

	// No handlers available
	m.Rcode = dns.RcodeRefused
	s.errors.Add(1)
	w.WriteMsg(m)
}

// maxUDPSize returns the largest wire size allowed back to a UDP client:
// 512 bytes per classic DNS, or the client's advertised EDNS0 buffer size
// when it asked for more (spec step 9, RFC 1035 section 4.2.1/RFC 6891).
func maxUDPSize(req *dns.Msg) int {
	size := minUDPMsgSize
	if opt := req.IsEdns0(); opt != nil {
		if advertised := int(opt.UDPSize()); advertised > size {
			size = advertised
		}
	}
	return size
}

// HandleDNS implements transport.Handler for the optional DoT/DoH listeners.
// Those transports terminate their own connection/stream and don't thread a
// per-query client IP into this layer, so ACL/rate-limiting (already
// enforced at the TLS/HTTPS accept layer by the embedding deployment) don't
// apply here the way they do in handleDNS.
func (s *Server) HandleDNS(ctx context.Context, r *dns.Msg) (*dns.Msg, error) {
	if len(r.Question) == 0 {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeFormatError)
		return m, nil
	}

	if err := validate.Packet(r); err != nil {
		m := new(dns.Msg)
		if errors.Is(err, validate.ErrUnsupportedOpcode) {
			m.SetRcode(r, dns.RcodeNotImplemented)
		} else {
			m.SetRcode(r, dns.RcodeFormatError)
		}
		return m, nil
	}

	if r.Question[0].Qtype == dns.TypeANY {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeRefused)
		return m, nil
	}

	if s.cfg.EnableAuthoritative {
		if resp, ok := s.handleAuthoritative(r, nil); ok {
			return resp, nil
		}
	}

	if s.cfg.EnableRecursive && s.recursive != nil {
		return s.recursive.Resolve(ctx, r, nil)
	}

	m := new(dns.Msg)
	m.SetRcode(r, dns.RcodeRefused)
	return m, nil
}

// handleAuthoritative checks authoritative zones
func (s *Server) handleAuthoritative(r *dns.Msg, clientIP net.IP) (*dns.Msg, bool) {
	if len(r.Question) == 0 {
		return nil, false
	}

	question := r.Question[0]
	qname := question.Name
	qtype := question.Qtype

	// Find matching zone
	var matchedZone *zone.Zone
	matchedName := ""

	for zoneName, z := range s.cfg.Zones {
		if dns.IsSubDomain(zoneName, qname) {
			if len(zoneName) > len(matchedName) {
				matchedZone = z
				matchedName = zoneName
			}
		}
	}

	if matchedZone == nil {
		return nil, false
	}

	// Build response
	m := pool.GetMessage()
	m.SetReply(r)
	m.Authoritative = true
	m.RecursionAvailable = false

	result := zone.Lookup(matchedZone, qname, qtype)
	switch result.Kind {
	case zone.ResultSuccess, zone.ResultCNAME:
		m.Answer = result.Answer
	case zone.ResultDelegation:
		m.Authoritative = false
		m.Ns = result.Authority
		m.Extra = result.Additional
	case zone.ResultNoData:
		m.Ns = result.Authority
	case zone.ResultNXDomain:
		m.Rcode = dns.RcodeNameError
		m.Ns = result.Authority
	}

	return m, true
}

// handleTransfer serves an AXFR or IXFR request. Per RFC 5936 section 4.2,
// a transfer must use TCP; a request arriving over UDP is refused outright
// rather than answered with a (useless, truncated) single response.
func (s *Server) handleTransfer(w dns.ResponseWriter, r *dns.Msg, clientIP net.IP) {
	refuse := func(rcode int) {
		m := new(dns.Msg)
		m.SetRcode(r, rcode)
		w.WriteMsg(m)
	}

	if _, ok := w.RemoteAddr().(*net.TCPAddr); !ok {
		refuse(dns.RcodeRefused)
		return
	}

	if !s.transferPeers.Allowed(clientIP) {
		s.errors.Add(1)
		refuse(dns.RcodeRefused)
		return
	}

	qname := r.Question[0].Name
	z, ok := s.cfg.Zones[dns.Fqdn(qname)]
	if !ok {
		refuse(dns.RcodeNotAuth)
		return
	}

	var (
		msgs []*dns.Msg
		err  error
	)
	if r.Question[0].Qtype == dns.TypeIXFR {
		msgs, err = zone.IXFR(z, r, ixfrClientSerial(r))
	} else {
		msgs, err = zone.AXFR(z, r)
	}
	if err != nil {
		s.errors.Add(1)
		refuse(dns.RcodeServerFailure)
		return
	}

	for _, m := range msgs {
		m.Id = r.Id
		if err := w.WriteMsg(m); err != nil {
			return
		}
	}
	s.answers.Add(1)
	s.events.Publish(s.ctx, eventbus.TopicServer, zoneTransferredEvent{Origin: z.Origin, Peer: clientIP, Messages: len(msgs)})
}

// ixfrClientSerial extracts the serial the client claims to already have
// from the SOA carried in the IXFR request's authority section.
func ixfrClientSerial(r *dns.Msg) uint32 {
	for _, rr := range r.Ns {
		if soa, ok := rr.(*dns.SOA); ok {
			return soa.Serial
		}
	}
	return 0
}

// shouldRateLimit checks if response should be rate limited
func (s *Server) shouldRateLimit(m *dns.Msg, clientIP net.IP) bool {
	if !s.cfg.EnableRRL || s.rrl == nil {
		return false
	}

	if len(m.Question) == 0 {
		return false
	}

	question := m.Question[0]
	category := rrl.CategorizeResponse(m.Rcode, len(m.Answer), len(m.Ns))

	action := s.rrl.Check(clientIP, question.Name, question.Qtype, category)

	switch action {
	case rrl.ActionDrop:
		return true // Drop response

	case rrl.ActionSlip:
		// Send truncated response (TC bit set)
		m.Truncated = true
		m.Answer = nil
		m.Ns = nil
		m.Extra = nil
		return false // Send TC response

	default:
		return false // Allow
	}
}

// Stats returns server statistics
type Stats struct {
	Queries  uint64
	Answers  uint64
	Errors   uint64
	NXDOMAIN uint64

	Recursive *resolver.Stats
	RRL       *rrl.Stats
}

// GetStats returns current statistics
func (s *Server) GetStats() Stats {
	stats := Stats{
		Queries:  s.queries.Load(),
		Answers:  s.answers.Load(),
		Errors:   s.errors.Load(),
		NXDOMAIN: s.nxdomain.Load(),
	}

	if s.recursive != nil {
		resolverStats := s.recursive.GetStats()
		stats.Recursive = &resolverStats
	}

	if s.rrl != nil {
		rrlStats := s.rrl.GetStats()
		stats.RRL = &rrlStats
	}

	return stats
}

// LoadZone loads a zone from file
func (s *Server) LoadZone(filename, format string) error {
	var z *zone.Zone
	var err error

	cfg := zone.DefaultConfig()

	switch format {
	case "dnszone", "yaml":
		z, err = zone.ParseDNSZone(filename, cfg)
	case "bind", "rfc1035":
		// Extract origin from filename or require it?
		// For now, extract from zone name in file
		z, err = zone.ParseBIND(filename, "", cfg)
	default:
		return fmt.Errorf("unknown zone format: %s", format)
	}

	if err != nil {
		return fmt.Errorf("parse zone %s: %w", filename, err)
	}

	// Add to server
	s.cfg.Zones[z.Origin] = z
	s.events.Publish(s.ctx, eventbus.TopicZone, zoneLoadedEvent{Origin: z.Origin, Records: z.GetStats().Records})

	fmt.Printf("Loaded zone: %s (%d records)\n", z.Name, z.GetStats().Records)

	return nil
}

// AddZone adds a zone to the server
func (s *Server) AddZone(z *zone.Zone) error {
	if z == nil {
		return fmt.Errorf("zone is nil")
	}

	if err := z.Validate(); err != nil {
		return fmt.Errorf("zone validation failed: %w", err)
	}

	s.cfg.Zones[z.Origin] = z
	s.events.Publish(s.ctx, eventbus.TopicZone, zoneLoadedEvent{Origin: z.Origin, Records: z.GetStats().Records})
	return nil
}

// RemoveZone removes a zone from the server
func (s *Server) RemoveZone(origin string) {
	delete(s.cfg.Zones, origin)
	s.events.Publish(s.ctx, eventbus.TopicZone, zoneRemovedEvent{Origin: origin})
}

// Events returns the server's event bus, on which callers may subscribe to
// TopicZone (loads/removals), TopicServer (completed zone transfers) and any
// other topic an embedding component chooses to publish on.
func (s *Server) Events() *eventbus.Bus {
	return s.events
}

// zoneLoadedEvent is published to eventbus.TopicZone whenever a zone is
// loaded or added.
type zoneLoadedEvent struct {
	Origin  string
	Records int
}

// zoneRemovedEvent is published to eventbus.TopicZone whenever a zone is removed.
type zoneRemovedEvent struct {
	Origin string
}

// zoneTransferredEvent is published to eventbus.TopicServer after a
// completed AXFR/IXFR.
type zoneTransferredEvent struct {
	Origin   string
	Peer     net.IP
	Messages int
}

// GetZone returns a zone by origin
func (s *Server) GetZone(origin string) *zone.Zone {
	return s.cfg.Zones[origin]
}

// addCookieToResponse adds DNS cookie to response
func (s *Server) addCookieToResponse(m *dns.Msg, clientCookie, serverCookie [8]byte) {
	opt := m.IsEdns0()
	if opt == nil {
		opt = &dns.OPT{
			Hdr: dns.RR_Header{
				Name:   ".",
				Rrtype: dns.TypeOPT,
				Class:  4096,
			},
		}
		m.Extra = append(m.Extra, opt)
	}

	// Combine client and server cookies
	fullCookie := make([]byte, 16)
	copy(fullCookie[0:8], clientCookie[:])
	copy(fullCookie[8:16], serverCookie[:])

	opt.Option = append(opt.Option, &dns.EDNS0_COOKIE{
		Code:   dns.EDNS0COOKIE,
		Cookie: string(fullCookie),
	})
}
