package nostr

import (
	"net"
	"net/url"
	"strings"
)

// NormalizeRelayURL validates and normalizes a relay URL.
// Returns empty string if URL is invalid/malformed.
func NormalizeRelayURL(relayURL string) string {
	relayURL = strings.TrimSpace(relayURL)
	if relayURL == "" {
		return ""
	}

	// Reject double protocols (wss://https://...)
	if strings.Count(relayURL, "://") != 1 {
		return ""
	}

	parsed, err := url.Parse(relayURL)
	if err != nil {
		return ""
	}

	// Must be ws:// or wss://
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return ""
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" || strings.Contains(host, " ") {
		return ""
	}
	if !isLoopbackHost(host) && !strings.Contains(host, ".") {
		return ""
	}
	if isInternalHost(host) {
		return ""
	}

	// Normalize: lowercase scheme and host, strip trailing slash, keep the query
	hostport := host
	if port := parsed.Port(); port != "" {
		hostport = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		hostport = "[" + host + "]"
	}
	result := scheme + "://" + hostport
	if parsed.Path != "" && parsed.Path != "/" {
		result += parsed.Path
	}
	if parsed.RawQuery != "" {
		result += "?" + parsed.RawQuery
	}
	return result
}

// isInternalHost blocks hosts a public relay can never live on
func isInternalHost(host string) bool {
	return strings.HasSuffix(host, ".local") ||
		strings.HasSuffix(host, ".internal") ||
		strings.HasSuffix(host, ".onion") ||
		strings.HasSuffix(host, ".localhost")
}

func isLoopbackHost(host string) bool {
	return host == "localhost" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.")
}
