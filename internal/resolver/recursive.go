package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dnsscience/resolverd/internal/blocking"
	"github.com/dnsscience/resolverd/internal/cache"
	"github.com/dnsscience/resolverd/internal/cookie"
	"github.com/dnsscience/resolverd/internal/dnssec"
	"github.com/dnsscience/resolverd/internal/packet"
	"github.com/dnsscience/resolverd/internal/pool"
	"github.com/dnsscience/resolverd/internal/random"
	"github.com/dnsscience/resolverd/internal/rrl"
	"github.com/dnsscience/resolverd/internal/upstream"
	"github.com/dnsscience/resolverd/internal/worker"
	"github.com/miekg/dns"
)

// rootServers seed iterative resolution when no forwarders are configured.
var rootServers = []string{
	"198.41.0.4:53",     // a.root-servers.net
	"199.9.14.201:53",   // b.root-servers.net
	"192.33.4.12:53",    // c.root-servers.net
	"199.7.91.13:53",    // d.root-servers.net
	"192.203.230.10:53", // e.root-servers.net
	"192.5.5.241:53",    // f.root-servers.net
	"192.112.36.4:53",   // g.root-servers.net
	"198.97.190.53:53",  // h.root-servers.net
	"192.36.148.17:53",  // i.root-servers.net
	"192.58.128.30:53",  // j.root-servers.net
	"193.0.14.129:53",   // k.root-servers.net
	"199.7.83.42:53",    // l.root-servers.net
	"202.12.27.33:53",   // m.root-servers.net
}

var (
	ErrMaxIterations = errors.New("resolver: max iterations reached")
	ErrNoNameservers = errors.New("resolver: no nameservers available")
)

// Config holds resolver configuration.
type Config struct {
	CacheConfig cache.Config

	Workers      int
	QueryTimeout time.Duration

	// MaxIterations bounds referral-following during iterative resolution.
	MaxIterations int

	EnableCookies bool
	CookieConfig  cookie.Config

	EnableRRL bool
	RRLConfig rrl.Config

	// Upstreams, when non-empty, puts the resolver in forwarding mode:
	// every query is dispatched to one of these nameservers instead of
	// walking the root hints. UpstreamParallel controls how many are raced
	// concurrently (0 or 1 = sequential failover).
	Upstreams        []string
	UpstreamParallel int

	// EnableDNSSEC turns on validation of signed responses against Anchors.
	// A response is only validated when it already carries RRSIGs. Forwarded
	// queries carry the DO bit whenever EnableDNSSEC is set; iterative queries
	// never set it.
	EnableDNSSEC bool
	Anchors      *dnssec.TrustAnchorStore

	// Blocking, when set, is consulted before cache/upstream dispatch and
	// can short-circuit a query with a synthesized block response.
	Blocking *blocking.Engine

	// NegativeCacheTTL caps how long a synthesized NXDOMAIN/NODATA SOA-TTL
	// is honored for, per RFC 2308.
	NegativeCacheTTL uint32
}

// Recursive is the resolver's query pipeline: local blocking, then cache,
// then in-flight dedup, then upstream dispatch (forwarding or iterative),
// then optional DNSSEC validation, then cache insertion.
type Recursive struct {
	cache      *cache.ShardedCache
	workerPool *worker.Pool
	cookies    *cookie.Manager
	rrl        *rrl.Limiter
	blocking   *blocking.Engine

	dispatcher *upstream.Dispatcher // non-nil in forwarding mode
	client     *dns.Client          // used for iterative mode

	dnssecValidator *dnssec.Validator

	sf singleflight.Group

	cfg Config
}

// NewRecursive builds a Recursive resolver from cfg.
func NewRecursive(cfg Config) (*Recursive, error) {
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 20
	}
	if cfg.Workers == 0 {
		cfg.Workers = 100
	}
	if cfg.NegativeCacheTTL == 0 {
		cfg.NegativeCacheTTL = 3600
	}

	r := &Recursive{
		cache: cache.NewShardedCache(cfg.CacheConfig),
		workerPool: worker.NewPool(worker.Config{
			Workers:   cfg.Workers,
			QueueSize: cfg.Workers * 10,
		}),
		client: &dns.Client{
			Timeout: cfg.QueryTimeout,
			Net:     "udp",
		},
		blocking: cfg.Blocking,
		cfg:      cfg,
	}

	if len(cfg.Upstreams) > 0 {
		upool := upstream.NewPool(upstream.Config{
			Addresses: cfg.Upstreams,
			Parallel:  cfg.UpstreamParallel,
		})
		r.dispatcher = upstream.NewDispatcher(upool, cfg.QueryTimeout)
	}

	if cfg.EnableCookies {
		var err error
		r.cookies, err = cookie.NewManager(cfg.CookieConfig)
		if err != nil {
			return nil, fmt.Errorf("init cookies: %w", err)
		}
	}

	if cfg.EnableRRL {
		r.rrl = rrl.NewLimiter(cfg.RRLConfig)
	}

	if cfg.EnableDNSSEC && cfg.Anchors != nil {
		r.dnssecValidator = dnssec.NewValidator(cfg.Anchors)
	}

	return r, nil
}

// Resolve runs the full query pipeline for q and returns the response to
// send back to clientIP.
func (r *Recursive) Resolve(ctx context.Context, q *dns.Msg, clientIP net.IP) (*dns.Msg, error) {
	if len(q.Question) == 0 {
		return formatError(q), nil
	}

	if q.Opcode != dns.OpcodeQuery {
		return notImplemented(q), nil
	}

	question := q.Question[0]

	if question.Qtype == dns.TypeANY {
		return refused(q), nil
	}

	if r.blocking != nil {
		if blocked, _ := r.blocking.Check(question.Name); blocked {
			resp := r.blocking.Respond(q)
			return resp, nil
		}
	}

	cacheKey := packet.HashQuery(question.Name, question.Qtype, question.Qclass)
	if entry, ok := r.cache.Get(cacheKey); ok && !entry.IsExpired() {
		resp := entry.RewriteTTLs()
		resp.Id = q.Id
		resp.RecursionAvailable = true
		echoDO(q, resp)
		return resp, nil
	}

	sfKey := fmt.Sprintf("%d", cacheKey)
	v, err, _ := r.sf.Do(sfKey, func() (interface{}, error) {
		return r.resolveUncached(ctx, question.Name, question.Qtype, question.Qclass)
	})
	if err != nil {
		return serverFailure(q), nil
	}

	resp := v.(*dns.Msg).Copy()
	resp.Id = q.Id
	resp.RecursionAvailable = true
	echoDO(q, resp)
	return resp, nil
}

// resolveUncached performs the actual dispatch (forwarding or iterative),
// validates DNSSEC if enabled, and populates the cache before returning.
func (r *Recursive) resolveUncached(ctx context.Context, qname string, qtype, qclass uint16) (*dns.Msg, error) {
	resp, err := r.dispatch(ctx, qname, qtype, qclass)
	if err != nil {
		return nil, err
	}

	validated := false
	if r.dnssecValidator != nil && hasRRSIG(resp.Answer) {
		status, verr := r.dnssecValidator.ValidateRRset(qname, resp.Answer, extractRRSIGs(resp.Answer), &liveFetcher{r: r, ctx: ctx})
		switch status {
		case dnssec.StatusSecure:
			validated = true
		case dnssec.StatusBogus:
			return nil, fmt.Errorf("dnssec validation bogus for %s: %w", qname, verr)
		}
	}

	resp.AuthenticatedData = validated

	ttl := cache.SelectTTL(resp, r.cfg.NegativeCacheTTL)
	now := time.Now()
	r.cache.Set(packet.HashQuery(qname, qtype, qclass), &cache.Entry{
		Msg:             resp,
		ExpiresAt:       now.Add(time.Duration(ttl) * time.Second),
		OrigTTL:         ttl,
		InsertedAt:      now,
		Negative:        cache.IsNegative(resp),
		QName:           qname,
		QType:           qtype,
		QClass:          qclass,
		DNSSECValidated: validated,
	})

	return resp, nil
}

// dispatch sends qname/qtype/qclass to either the configured forwarders or,
// absent any, walks the root hints iteratively.
func (r *Recursive) dispatch(ctx context.Context, qname string, qtype, qclass uint16) (*dns.Msg, error) {
	if r.dispatcher != nil {
		return r.resolveForwarding(ctx, qname, qtype, qclass)
	}
	return r.resolveIterative(ctx, qname, qtype, qclass)
}

// resolveForwarding sends one query to the configured upstream pool,
// applying 0x20 encoding against cache-poisoning spoofed responses.
func (r *Recursive) resolveForwarding(ctx context.Context, qname string, qtype, qclass uint16) (*dns.Msg, error) {
	msg := pool.GetMessage()
	defer pool.PutMessage(msg)

	encoded := apply0x20(qname)
	msg.Id = random.TransactionID()
	msg.RecursionDesired = true
	msg.Question = []dns.Question{{Name: encoded, Qtype: qtype, Qclass: qclass}}
	msg.SetEdns0(4096, r.cfg.EnableDNSSEC)

	var (
		resp *dns.Msg
		err  error
	)
	if r.cfg.UpstreamParallel > 1 {
		resp, _, err = r.dispatcher.ExchangeParallel(ctx, msg)
	} else {
		resp, _, err = r.dispatcher.Exchange(ctx, msg)
	}
	if err != nil {
		return nil, fmt.Errorf("forward %s: %w", qname, err)
	}

	if len(resp.Question) > 0 && !validate0x20(encoded, resp.Question[0].Name) {
		return nil, fmt.Errorf("resolver: 0x20 mismatch in response for %s (possible spoofing)", qname)
	}

	return resp, nil
}

// resolveIterative walks referrals from the root down to an authoritative
// answer, applying RFC 7816 query-name minimization against intermediate
// nameservers and hardening every referral's glue before following it.
func (r *Recursive) resolveIterative(ctx context.Context, qname string, qtype, qclass uint16) (*dns.Msg, error) {
	servers := rootServers
	zone := "."
	ask := minimizeQName(qname, zone)
	askType := qtype
	if ask != qname {
		askType = dns.TypeNS
	}

	for i := 0; i < r.cfg.MaxIterations; i++ {
		resp, usedServer, err := r.queryAny(ctx, servers, ask, askType, qclass)
		if err != nil {
			return nil, fmt.Errorf("iterative resolve %s: %w", qname, err)
		}
		_ = usedServer

		if ask != qname {
			// Minimized probe. If it already produced an answer (the probed
			// name is itself terminal, e.g. an apex with no delegation
			// below), fall back to asking the real question at the same
			// servers instead of treating it as a referral.
			if len(resp.Answer) > 0 || resp.Rcode == dns.RcodeNameError {
				ask = qname
				askType = qtype
				continue
			}
		} else {
			if len(resp.Answer) > 0 || resp.Rcode == dns.RcodeNameError {
				scrubResponse(resp, zone)
				return resp, nil
			}
		}

		if len(resp.Ns) > 0 {
			delegatedZone := resp.Ns[0].Header().Name
			nsNames := extractNSNames(resp.Ns)
			glue := hardenGlue(resp.Extra, delegatedZone, nsNames)
			newServers := glueToAddrs(glue)
			if len(newServers) == 0 {
				return nil, ErrNoNameservers
			}

			servers = newServers
			zone = delegatedZone
			ask = minimizeQName(qname, zone)
			askType = qtype
			if ask != qname {
				askType = dns.TypeNS
			}
			continue
		}

		return resp, nil
	}

	return nil, ErrMaxIterations
}

// queryAny tries each server in turn until one answers.
func (r *Recursive) queryAny(ctx context.Context, servers []string, qname string, qtype, qclass uint16) (*dns.Msg, string, error) {
	var lastErr error
	for _, ns := range servers {
		resp, err := r.queryNameserver(ctx, ns, qname, qtype, qclass)
		if err != nil {
			lastErr = err
			continue
		}
		return resp, ns, nil
	}
	if lastErr == nil {
		lastErr = ErrNoNameservers
	}
	return nil, "", lastErr
}

func (r *Recursive) queryNameserver(ctx context.Context, ns, qname string, qtype, qclass uint16) (*dns.Msg, error) {
	msg := pool.GetMessage()
	defer pool.PutMessage(msg)

	encoded := apply0x20(qname)
	msg.Id = random.TransactionID()
	msg.RecursionDesired = false
	msg.Question = []dns.Question{{Name: encoded, Qtype: qtype, Qclass: qclass}}
	msg.SetEdns0(4096, false)

	queryCtx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	resp, _, err := r.client.ExchangeContext(queryCtx, msg, ns)
	if err != nil {
		return nil, err
	}
	if len(resp.Question) > 0 && !validate0x20(encoded, resp.Question[0].Name) {
		return nil, fmt.Errorf("resolver: 0x20 mismatch from %s (possible spoofing)", ns)
	}
	return resp, nil
}

func extractNSNames(ns []dns.RR) []string {
	names := make([]string, 0, len(ns))
	for _, rr := range ns {
		if n, ok := rr.(*dns.NS); ok {
			names = append(names, n.Ns)
		}
	}
	return names
}

func glueToAddrs(glue []dns.RR) []string {
	var addrs []string
	for _, rr := range glue {
		switch a := rr.(type) {
		case *dns.A:
			addrs = append(addrs, a.A.String()+":53")
		case *dns.AAAA:
			addrs = append(addrs, "["+a.AAAA.String()+"]:53")
		}
	}
	return addrs
}

func hasRRSIG(rrs []dns.RR) bool {
	for _, rr := range rrs {
		if rr.Header().Rrtype == dns.TypeRRSIG {
			return true
		}
	}
	return false
}

func extractRRSIGs(rrs []dns.RR) []*dns.RRSIG {
	var sigs []*dns.RRSIG
	for _, rr := range rrs {
		if sig, ok := rr.(*dns.RRSIG); ok {
			sigs = append(sigs, sig)
		}
	}
	return sigs
}

// Close stops background goroutines owned by the resolver.
func (r *Recursive) Close() error {
	r.cache.Close()
	r.workerPool.Close()
	if r.rrl != nil {
		r.rrl.Close()
	}
	if r.dispatcher != nil {
		r.dispatcher.Close()
	}
	return nil
}

// Stats aggregates resolver subsystem statistics.
type Stats struct {
	Cache cache.Stats
	Pool  worker.Stats
	RRL   *rrl.Stats
}

// GetStats returns current resolver statistics.
func (r *Recursive) GetStats() Stats {
	s := Stats{
		Cache: r.cache.GetStats(),
		Pool:  r.workerPool.GetStats(),
	}
	if r.rrl != nil {
		rrlStats := r.rrl.GetStats()
		s.RRL = &rrlStats
	}
	return s
}
