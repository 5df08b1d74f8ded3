package upstream

import (
	"sync"
	"time"

	"github.com/miekg/dns"
)

// tcpIdleTimeout bounds how long a pooled TCP connection is kept around
// unused before it's closed, so a forwarder that goes quiet doesn't pin a
// socket open indefinitely.
const tcpIdleTimeout = 30 * time.Second

type pooledConn struct {
	conn     *dns.Conn
	lastUsed time.Time
}

// tcpConnPool keeps one idle TCP connection per upstream address, reused
// across exchanges (TCP handshake cost otherwise dominates short queries),
// with a background sweep closing anything idle past tcpIdleTimeout.
type tcpConnPool struct {
	mu    sync.Mutex
	conns map[string]*pooledConn

	stop chan struct{}
	done sync.WaitGroup
}

func newTCPConnPool() *tcpConnPool {
	p := &tcpConnPool{
		conns: make(map[string]*pooledConn),
		stop:  make(chan struct{}),
	}
	p.done.Add(1)
	go p.sweep()
	return p
}

// get returns a pooled connection to addr if one exists, removing it from
// the pool (the caller either returns it via put or closes it on error).
func (p *tcpConnPool) get(addr string) *dns.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	pc, ok := p.conns[addr]
	if !ok {
		return nil
	}
	delete(p.conns, addr)
	return pc.conn
}

// put returns a healthy connection to the pool for reuse.
func (p *tcpConnPool) put(addr string, conn *dns.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.conns[addr]; ok {
		existing.conn.Close()
	}
	p.conns[addr] = &pooledConn{conn: conn, lastUsed: time.Now()}
}

func (p *tcpConnPool) sweep() {
	defer p.done.Done()

	ticker := time.NewTicker(tcpIdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.evictIdle()
		case <-p.stop:
			return
		}
	}
}

func (p *tcpConnPool) evictIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for addr, pc := range p.conns {
		if now.Sub(pc.lastUsed) > tcpIdleTimeout {
			pc.conn.Close()
			delete(p.conns, addr)
		}
	}
}

func (p *tcpConnPool) close() {
	close(p.stop)
	p.done.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, pc := range p.conns {
		pc.conn.Close()
		delete(p.conns, addr)
	}
}
