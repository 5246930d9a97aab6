// Package validate checks user-supplied identifiers and endpoint URLs.
package validate

import (
	"fmt"
	"net/url"
	"regexp"
)

// NameRe matches token and plugin names: an alphanumeric first character
// followed by alphanumerics, dots, hyphens or underscores.
var NameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// MaxNameLen is the maximum length for names.
const MaxNameLen = 128

// Name reports whether s is a valid name.
func Name(s string) bool {
	return len(s) > 0 && len(s) <= MaxNameLen && NameRe.MatchString(s)
}

// HTTPURL requires an http or https scheme and a host.
func HTTPURL(rawURL string) error {
	return schemeURL(rawURL, "http", "https")
}

// WebSocketURL requires a ws or wss scheme and a host.
func WebSocketURL(rawURL string) error {
	return schemeURL(rawURL, "ws", "wss")
}

func schemeURL(rawURL string, schemes ...string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("URL missing scheme: %s", rawURL)
	}
	allowed := false
	for _, s := range schemes {
		if u.Scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("URL scheme %q not allowed (only %s/%s)", u.Scheme, schemes[0], schemes[1])
	}
	if u.Host == "" {
		return fmt.Errorf("URL missing host: %s", rawURL)
	}
	return nil
}
