package validation

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// AllowedOriginHosts returns the host:port pairs a viewer page served by this
// process can originate from, plus any configured extras.
func AllowedOriginHosts(host string, port int, extra []string) []string {
	p := strconv.Itoa(port)
	hosts := []string{
		net.JoinHostPort(host, p),
		net.JoinHostPort("localhost", p),
		net.JoinHostPort("127.0.0.1", p),
	}
	return append(hosts, extra...)
}

// ValidateOrigin validates WebSocket origin for CSRF protection. Entries in
// allowed may be full origins ("https://docs.example") or bare hosts.
func ValidateOrigin(origin string, allowed []string) error {
	if origin == "" {
		return fmt.Errorf("origin header is required")
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin format: %w", err)
	}

	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return fmt.Errorf("invalid origin scheme '%s': only http and https are allowed", originURL.Scheme)
	}

	for _, a := range allowed {
		if origin == a || strings.EqualFold(originURL.Host, a) {
			return nil
		}
	}

	return fmt.Errorf("origin '%s' is not in allowed origins list", origin)
}

// ValidateURL validates URLs handed to the system browser opener.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}

	for _, char := range shellMetacharacters {
		if strings.Contains(rawURL, char) {
			return fmt.Errorf("URL contains dangerous character: %q", char)
		}
	}
	if strings.Contains(rawURL, " ") {
		return fmt.Errorf("URL contains spaces")
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}

	return nil
}
