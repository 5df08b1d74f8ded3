package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// ErrAllUpstreamsFailed is returned once every candidate in a dispatch has
// been tried and failed.
var ErrAllUpstreamsFailed = errors.New("upstream: all candidates failed")

// Dispatcher sends queries to a Pool's upstreams, handling UDP-with-TCP-
// fallback-on-truncation per server and failover across servers.
type Dispatcher struct {
	pool *Pool

	udpClient *dns.Client
	tcpClient *dns.Client
	tcpConns  *tcpConnPool
}

// NewDispatcher builds a Dispatcher against pool with the given per-query
// timeout.
func NewDispatcher(pool *Pool, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		pool:      pool,
		udpClient: &dns.Client{Net: "udp", Timeout: timeout},
		tcpClient: &dns.Client{Net: "tcp", Timeout: timeout},
		tcpConns:  newTCPConnPool(),
	}
}

// Close releases pooled TCP connections.
func (d *Dispatcher) Close() {
	d.tcpConns.close()
}

// Exchange sends msg to the best candidate, falling back through the
// remaining candidates (in Pool.Candidates order) on error, and retrying
// over TCP whenever a UDP response comes back truncated.
func (d *Dispatcher) Exchange(ctx context.Context, msg *dns.Msg) (*dns.Msg, *Server, error) {
	candidates := d.pool.Candidates()
	if len(candidates) == 0 {
		return nil, nil, ErrNoUpstreams
	}

	var lastErr error
	for _, server := range candidates {
		resp, err := d.exchangeOne(ctx, server, msg)
		if err != nil {
			lastErr = err
			continue
		}
		return resp, server, nil
	}

	if lastErr != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrAllUpstreamsFailed, lastErr)
	}
	return nil, nil, ErrAllUpstreamsFailed
}

// exchangeOne performs one UDP exchange (with automatic TCP retry on
// truncation) against a single server, updating its health/latency state.
func (d *Dispatcher) exchangeOne(ctx context.Context, server *Server, msg *dns.Msg) (*dns.Msg, error) {
	server.beginQuery()
	defer server.endQuery()

	start := time.Now()
	resp, _, err := d.udpClient.ExchangeContext(ctx, msg, server.Address)
	if err != nil {
		server.RecordFailure()
		return nil, fmt.Errorf("udp exchange to %s: %w", server.Address, err)
	}

	if resp.Truncated {
		resp, err = d.exchangeTCP(ctx, server, msg)
		if err != nil {
			server.RecordFailure()
			return nil, err
		}
	}

	server.RecordSuccess(time.Since(start))
	return resp, nil
}

// exchangeTCP retries msg over TCP, reusing a pooled connection when one is
// available for this server.
func (d *Dispatcher) exchangeTCP(ctx context.Context, server *Server, msg *dns.Msg) (*dns.Msg, error) {
	conn := d.tcpConns.get(server.Address)
	if conn == nil {
		dialed, err := d.tcpClient.DialContext(ctx, server.Address)
		if err != nil {
			return nil, fmt.Errorf("tcp dial to %s: %w", server.Address, err)
		}
		conn = dialed
	}

	resp, _, err := d.tcpClient.ExchangeWithConnContext(ctx, msg, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("tcp exchange to %s: %w", server.Address, err)
	}

	d.tcpConns.put(server.Address, conn)
	return resp, nil
}

// parallelResult carries one racer's outcome back to ExchangeParallel.
type parallelResult struct {
	resp   *dns.Msg
	server *Server
	err    error
}

// ExchangeParallel races up to Pool.Parallel() best candidates
// simultaneously and returns the first successful response, canceling the
// rest. If Parallel is 0 or 1 this degrades to Exchange's sequential
// failover.
func (d *Dispatcher) ExchangeParallel(ctx context.Context, msg *dns.Msg) (*dns.Msg, *Server, error) {
	fanout := d.pool.Parallel()
	candidates := d.pool.Candidates()
	if len(candidates) == 0 {
		return nil, nil, ErrNoUpstreams
	}
	if fanout <= 1 || len(candidates) == 1 {
		return d.Exchange(ctx, msg)
	}
	if fanout > len(candidates) {
		fanout = len(candidates)
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan parallelResult, fanout)
	for _, server := range candidates[:fanout] {
		server := server
		go func() {
			resp, err := d.exchangeOne(raceCtx, server, msg.Copy())
			results <- parallelResult{resp: resp, server: server, err: err}
		}()
	}

	var lastErr error
	for i := 0; i < fanout; i++ {
		r := <-results
		if r.err == nil {
			return r.resp, r.server, nil
		}
		lastErr = r.err
	}

	if lastErr != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrAllUpstreamsFailed, lastErr)
	}
	return nil, nil, ErrAllUpstreamsFailed
}
