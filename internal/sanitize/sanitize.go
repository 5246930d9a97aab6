// Package sanitize normalizes untrusted names and text before they reach the
// filesystem or the logs.
package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	SlugMaxLength     = 64
	defaultModuleSlug = "module"

	// LogTextMaxBytes bounds command text and output excerpts in log fields.
	LogTextMaxBytes = 256
)

// SafeSlug normalizes value to a lowercase identifier usable as a plugin name.
// Separators become '-', anything else outside [a-z0-9_-] is dropped.
func SafeSlug(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == '/' || r == '\\':
			b.WriteRune('-')
		}
	}
	res := strings.Trim(b.String(), "-_")
	if res == "" {
		return defaultModuleSlug
	}
	if len(res) > SlugMaxLength {
		return strings.TrimRight(res[:SlugMaxLength], "-_")
	}
	return res
}

// TruncateUTF8 truncates s to at most maxBytes bytes without splitting UTF-8 runes.
func TruncateUTF8(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	truncated := s[:maxBytes]
	for len(truncated) > 0 && !utf8.ValidString(truncated) {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated
}

// LogText prepares command text for a single log field: control characters
// and terminal escapes are removed and the result is bounded.
func LogText(s string) string {
	clean := StripControlChars(s)
	if len(clean) <= LogTextMaxBytes {
		return clean
	}
	return TruncateUTF8(clean, LogTextMaxBytes) + "…"
}

// StripControlChars removes ANSI escape sequences and non-printable control
// characters (except newline and tab) from s.
func StripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		// CSI: ESC [ params final. The scan is capped so an unterminated
		// sequence cannot swallow the rest of the text.
		if i+1 < len(s) && s[i] == '\x1b' && s[i+1] == '[' {
			j := i + 2
			maxJ := min(j+64, len(s))
			for j < maxJ && (s[j] < 0x40 || s[j] > 0x7E) {
				j++
			}
			if j < len(s) && s[j] >= 0x40 && s[j] <= 0x7E {
				j++
			}
			i = j
			continue
		}
		// OSC: ESC ] ... terminated by BEL or ESC \.
		if i+1 < len(s) && s[i] == '\x1b' && s[i+1] == ']' {
			j := i + 2
			for j < len(s) {
				if s[j] == '\x07' {
					j++
					break
				}
				if j+1 < len(s) && s[j] == '\x1b' && s[j+1] == '\\' {
					j += 2
					break
				}
				j++
			}
			i = j
			continue
		}
		if s[i] == '\x1b' {
			i = min(i+2, len(s))
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == '\n' || r == '\t' || (r >= ' ' && !unicode.IsControl(r)) {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}
