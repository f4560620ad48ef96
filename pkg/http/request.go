package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPConfig lists the proxies whose forwarding headers are believed
type IPConfig struct {
	trusted []netip.Prefix
}

// NewIPConfig parses CIDR ranges (or bare addresses). Invalid entries are skipped.
func NewIPConfig(trustedProxies []string) *IPConfig {
	cfg := &IPConfig{}
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if prefix, err := netip.ParsePrefix(raw); err == nil {
			cfg.trusted = append(cfg.trusted, prefix.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(raw); err == nil {
			cfg.trusted = append(cfg.trusted, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	return cfg
}

func (c *IPConfig) isTrusted(addr netip.Addr) bool {
	if c == nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range c.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ExtractClientIP returns the caller's address. X-Forwarded-For and X-Real-IP
// are only honoured when the direct peer is a trusted proxy, so a client
// cannot pick its own rate-limit identity.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remote := remoteAddr(r)

	addr, err := netip.ParseAddr(remote)
	if err != nil || !config.isTrusted(addr) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, hop := range strings.Split(xff, ",") {
			if candidate, err := netip.ParseAddr(strings.TrimSpace(hop)); err == nil {
				return candidate.String()
			}
		}
	}

	if xri, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return xri.String()
	}

	return remote
}

// ExtractUserAgent returns the User-Agent header truncated for storage
func ExtractUserAgent(r *http.Request) string {
	ua := r.Header.Get("User-Agent")
	if len(ua) > 512 {
		ua = ua[:512]
	}
	return ua
}

func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
