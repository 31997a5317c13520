package utils

import (
	"fmt"
	"net"
	"net/netip"
)

// ParseCIDRs parses an allowlist such as "10.0.0.0/8,192.168.1.7/32".
func ParseCIDRs(cidrs []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return prefixes, nil
}

// IsAllowedIP reports whether addr (a bare IP or host:port) falls in one of
// the prefixes.
func IsAllowedIP(addr string, allowed []netip.Prefix) bool {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	for _, p := range allowed {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}
