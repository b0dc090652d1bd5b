package entity

import (
	"fmt"
	"net"
	"net/url"
)

// maxURLLength caps configured and fetched URLs.
const maxURLLength = 2048

var privateIPv4Ranges = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16", // link-local, includes cloud metadata
)

// ValidateURL checks that a URL is well-formed, uses http or https, and names a host.
// It does not resolve the host.
func ValidateURL(rawURL string) error {
	_, err := parseHTTPURL(rawURL)
	return err
}

// ValidateFetchURL validates a URL taken from an upstream payload before the
// core follows it. On top of ValidateURL it rejects hosts that resolve to
// loopback, link-local or private addresses.
func ValidateFetchURL(rawURL string) error {
	parsed, err := parseHTTPURL(rawURL)
	if err != nil {
		return err
	}

	ips, err := net.LookupIP(parsed.Hostname())
	if err != nil {
		// unresolvable hosts fail later at dial time
		return nil
	}
	for _, ip := range ips {
		if IsPrivateIP(ip) {
			return &ValidationError{Field: "url", Message: "url cannot point to private network"}
		}
	}
	return nil
}

// IsPrivateIP reports whether ip is loopback, link-local or in a private IPv4 range.
func IsPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return true
	}
	for _, subnet := range privateIPv4Ranges {
		if subnet.Contains(ip) {
			return true
		}
	}
	return false
}

func parseHTTPURL(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, &ValidationError{Field: "url", Message: "URL is required"}
	}
	if len(rawURL) > maxURLLength {
		return nil, &ValidationError{
			Field:   "url",
			Message: fmt.Sprintf("url must not exceed %d characters", maxURLLength),
		}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, &ValidationError{Field: "url", Message: "URL must use http or https scheme"}
	}
	if parsed.Host == "" {
		return nil, &ValidationError{Field: "url", Message: "URL must have a valid host"}
	}
	return parsed, nil
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, subnet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		out = append(out, subnet)
	}
	return out
}
