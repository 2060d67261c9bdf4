package models

import (
	"net/netip"
	"strings"
)

const (
	KeyPrefixIP = "ip"
)

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// so an identifier containing ':' cannot address a neighbouring bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// NewIPRateLimitKey builds the bucket key for one client address and class.
func NewIPRateLimitKey(ip string, class EndpointClass) string {
	return "rl:" + KeyPrefixIP + ":" + SanitizeKeySegment(ip) + ":" + string(class)
}

// AnonymizeIP keeps the network part of an address for logs: the /24 of an
// IPv4 address or the /48 of an IPv6 one.
func AnonymizeIP(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.String()
}
