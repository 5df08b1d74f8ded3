package blocking

import (
	"bufio"
	"io"
	"net"
	"strings"
)

// Format identifies a blocklist source format.
type Format int

const (
	FormatDomainList Format = iota
	FormatHosts
	FormatAdBlockPlus
	FormatPiHole
	FormatDnsmasq
	FormatUnbound
)

// Parser extracts block-rule domains from one blocklist line format.
type Parser struct {
	format Format
}

// NewParser returns a Parser for the given format.
func NewParser(format Format) *Parser {
	return &Parser{format: format}
}

// ParseLine extracts a domain (optionally "*."-prefixed for a wildcard rule)
// from a single line, or "" if the line carries no rule.
func (p *Parser) ParseLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return ""
	}

	switch p.format {
	case FormatHosts:
		return p.parseHosts(line)
	case FormatAdBlockPlus:
		return p.parseAdBlock(line)
	case FormatPiHole:
		if d := p.parseHosts(line); d != "" {
			return d
		}
		return p.parseDomainList(line)
	case FormatDnsmasq:
		return p.parseDnsmasq(line)
	case FormatUnbound:
		return p.parseUnbound(line)
	default:
		return p.parseDomainList(line)
	}
}

// ParseReader reads every line of r and returns the extracted domains.
func (p *Parser) ParseReader(r io.Reader) []string {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if d := p.ParseLine(scanner.Text()); d != "" {
			out = append(out, d)
		}
	}
	return out
}

func (p *Parser) parseDomainList(line string) string {
	domain := strings.TrimSpace(line)
	if isValidBlockDomain(domain) {
		return domain
	}
	return ""
}

func (p *Parser) parseHosts(line string) string {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return ""
	}
	if net.ParseIP(fields[0]) == nil {
		return ""
	}
	domain := fields[1]
	if domain == "localhost" || !isValidBlockDomain(domain) {
		return ""
	}
	return domain
}

func (p *Parser) parseAdBlock(line string) string {
	if strings.HasPrefix(line, "@@") || strings.Contains(line, "$") || strings.Contains(line, "/") {
		return ""
	}

	domain := line
	domain = strings.TrimPrefix(domain, "||")
	domain = strings.TrimSuffix(domain, "^")
	domain = strings.TrimSuffix(domain, "|")

	if strings.Contains(domain, "*") {
		if strings.HasPrefix(domain, "*.") {
			return domain
		}
		if !strings.Contains(domain, "**") {
			trimmed := strings.TrimPrefix(domain, "*")
			if strings.HasPrefix(trimmed, ".") {
				return "*" + trimmed
			}
		}
		return ""
	}

	if isValidBlockDomain(domain) {
		return domain
	}
	return ""
}

func (p *Parser) parseDnsmasq(line string) string {
	if rest, ok := strings.CutPrefix(line, "address=/"); ok {
		parts := strings.Split(rest, "/")
		if len(parts) >= 2 && isValidBlockDomain(parts[0]) {
			return parts[0]
		}
		return ""
	}
	if rest, ok := strings.CutPrefix(line, "server=/"); ok {
		parts := strings.Split(rest, "/")
		if len(parts) >= 2 && parts[1] == "#" && isValidBlockDomain(parts[0]) {
			return parts[0]
		}
	}
	return ""
}

func (p *Parser) parseUnbound(line string) string {
	rest, ok := strings.CutPrefix(line, "local-zone:")
	if !ok {
		return ""
	}
	rest = strings.TrimSpace(rest)
	start := strings.IndexByte(rest, '"')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(rest[start+1:], '"')
	if end < 0 {
		return ""
	}
	domain := rest[start+1 : start+1+end]
	if isValidBlockDomain(domain) {
		return domain
	}
	return ""
}

// isValidBlockDomain is a permissive RFC-1035-shaped syntax check; it
// deliberately accepts all-numeric labels, since blocklists often contain
// them.
func isValidBlockDomain(domain string) bool {
	if domain == "" || len(domain) > 253 {
		return false
	}
	parts := strings.Split(domain, ".")
	if len(parts) == 0 {
		return false
	}
	for _, part := range parts {
		if part == "*" {
			continue
		}
		if part == "" || len(part) > 63 {
			return false
		}
		for i, r := range part {
			isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			if i == 0 || i == len(part)-1 {
				if !isAlnum {
					return false
				}
			} else if !isAlnum && r != '-' {
				return false
			}
		}
	}
	return true
}
