package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP attributes requests to a client address. X-Forwarded-For and
// X-Real-IP are honored only when the direct peer is a trusted proxy;
// otherwise the TCP peer address is used, so clients cannot pick their own
// identity by sending the headers.
type ClientIP struct {
	trusted []netip.Prefix
}

// NewClientIP returns a resolver that trusts forwarding headers from the
// given proxy ranges. With no ranges, headers are always ignored.
func NewClientIP(trustedProxies []netip.Prefix) ClientIP {
	return ClientIP{trusted: trustedProxies}
}

// FromRequest returns the client address of r.
func (c ClientIP) FromRequest(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if !c.isTrusted(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := parseFirstIP(xff); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
			return ip.String()
		}
	}
	return peer
}

func (c ClientIP) isTrusted(peer string) bool {
	if len(c.trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(peer)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range c.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// remoteHost strips the port from a "host:port" RemoteAddr.
func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// parseFirstIP parses the first address of a comma-separated list.
func parseFirstIP(s string) string {
	first, _, _ := strings.Cut(s, ",")
	if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
		return ip.String()
	}
	return ""
}
