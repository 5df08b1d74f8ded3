package blocking

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/miekg/dns"
)

// Engine is the resolver-facing blocking engine: a trie of blocklist rules
// plus an allowlist, consulted before cache/upstream dispatch.
// Shape grounded on internal/engine/rpz.go's RPZAggregate (multiple sources,
// first-match-wins is replaced here by trie-wide dedup at insertion time).
type Engine struct {
	mu     sync.RWMutex
	trie   *Trie
	psl    *PSL
	policy PolicyConfig

	checks  atomic.Uint64
	blocked atomic.Uint64
}

// NewEngine creates an Engine with the given policy and an optional
// preloaded PSL (nil uses the built-in common-suffix fallback).
func NewEngine(policy PolicyConfig, psl *PSL) *Engine {
	if psl == nil {
		psl = NewPSL()
	}
	return &Engine{
		trie:   NewTrie(psl),
		psl:    psl,
		policy: policy,
	}
}

// LoadList parses content in the given format and inserts every extracted
// rule. It returns the number of rules inserted.
func (e *Engine) LoadList(content string, format Format) int {
	parser := NewParser(format)
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, line := range strings.Split(content, "\n") {
		domain := parser.ParseLine(line)
		if domain == "" {
			continue
		}
		wildcard := false
		if rest, ok := strings.CutPrefix(domain, "*."); ok {
			wildcard = true
			domain = rest
		}
		e.trie.Insert(domain, wildcard)
		n++
	}
	return n
}

// Allow adds an allowlist exception, overriding any blocklist match at or
// below domain.
func (e *Engine) Allow(domain string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trie.InsertAllow(domain)
}

// Check reports whether qname is blocked, and the matched rule name.
func (e *Engine) Check(qname string) (blocked bool, matched string) {
	e.checks.Add(1)
	e.mu.RLock()
	blocked, matched = e.trie.Lookup(qname)
	e.mu.RUnlock()
	if blocked {
		e.blocked.Add(1)
	}
	return blocked, matched
}

// Respond synthesizes the configured block response for req.
func (e *Engine) Respond(req *dns.Msg) *dns.Msg {
	e.mu.RLock()
	cfg := e.policy
	e.mu.RUnlock()
	return Respond(cfg, req)
}

// SetPolicy replaces the active block-response policy.
func (e *Engine) SetPolicy(cfg PolicyConfig) {
	e.mu.Lock()
	e.policy = cfg
	e.mu.Unlock()
}

// Count returns the number of distinct block rules currently loaded.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trie.Count()
}

// Stats summarizes blocking-engine activity.
type Stats struct {
	Rules   int
	Checks  uint64
	Blocked uint64
}

// Stats returns a snapshot of blocking-engine activity counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Rules:   e.Count(),
		Checks:  e.checks.Load(),
		Blocked: e.blocked.Load(),
	}
}

// ParseFormat maps a config string ("hosts", "adblock", "pihole", "dnsmasq",
// "unbound", "domains") to a Format, for use by config loaders.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "domains", "domain-list", "domainlist":
		return FormatDomainList, nil
	case "hosts":
		return FormatHosts, nil
	case "adblock", "adblockplus", "abp":
		return FormatAdBlockPlus, nil
	case "pihole", "pi-hole":
		return FormatPiHole, nil
	case "dnsmasq":
		return FormatDnsmasq, nil
	case "unbound":
		return FormatUnbound, nil
	default:
		return 0, fmt.Errorf("blocking: unknown list format %q", name)
	}
}
