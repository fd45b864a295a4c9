package util

import (
	"strings"
)

// NormalizeEmail lowercases and trims an email address so that the same
// identity always maps to the same lockout and failure-log keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail performs a cheap structural check. Full RFC validation is the
// mail system's problem; this only rejects values that cannot possibly be
// delivered to.
func ValidEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	if at < 1 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	if !strings.Contains(domain, ".") {
		return false
	}
	return !strings.ContainsAny(email, " \t\r\n")
}

// SanitizeInput trims opaque client-supplied context fields (device info,
// client IDs) before they are stored or logged.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 512 {
		s = s[:512]
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
