package identity

import (
	"net"
	"strings"
)

// containerMarkers are hostname fragments used by local container setups.
var containerMarkers = []string{"docker", "container"}

// SelectMode picks the authentication mode from environment signals.
// It is pure: identical inputs always yield the same mode. Without any
// signal it falls back to ModeEdge, the stricter of the two.
func SelectMode(hostname string, forceLocal bool) Mode {
	if forceLocal {
		return ModeLocal
	}

	host := normalizeHost(hostname)
	if host == "" {
		return ModeEdge
	}

	if isLoopback(host) {
		return ModeLocal
	}

	if ip := net.ParseIP(host); ip != nil && ip.To4() != nil && ip.IsPrivate() {
		return ModeLocal
	}

	for _, marker := range containerMarkers {
		if strings.Contains(host, marker) {
			return ModeLocal
		}
	}

	return ModeEdge
}

func normalizeHost(hostname string) string {
	host := strings.ToLower(strings.TrimSpace(hostname))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.Trim(host, "[]")
}

func isLoopback(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
