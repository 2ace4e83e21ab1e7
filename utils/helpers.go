package utils

import (
	"strings"
)

// FirstNonEmpty returns the first argument that is not blank after trimming
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}

// HasControlChars reports whether s contains CR, LF or other ASCII control
// characters. Values that end up on a device command line must not.
func HasControlChars(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}

// ClampInt bounds v to [lo, hi]
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Redact replaces a non-empty secret with a fixed marker for logging
func Redact(secret string) string {
	if secret == "" {
		return "<unset>"
	}
	return "<set>"
}
