// Package validate is the only path by which untrusted input reaches
// storage. Every public store method sanitizes free text and validates
// keys here before touching SQLite.
package validate

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// TruncationMarker is appended to text cut at its length limit, so a
// reader can tell a capped value from one that happened to fit.
const TruncationMarker = "... [truncated]"

// MaxKeyLen is the maximum length for pattern names and context keys.
const MaxKeyLen = 100

// keyPattern allows alphanumerics, underscores, hyphens and dots.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// SanitizeText strips null bytes, trims surrounding whitespace, and
// truncates to maxLen with a truncation marker. It never rejects input;
// rejection is the caller's job via ValidKey or emptiness checks.
func SanitizeText(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if maxLen > 0 && len(s) > maxLen {
		// Back off to a rune boundary so the cut never produces
		// invalid UTF-8.
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + TruncationMarker
	}
	return strings.TrimSpace(s)
}

// ValidKey reports whether k is safe for use as a pattern name or
// context key: alphanumeric plus underscore, hyphen, dot; 1 to
// MaxKeyLen characters.
func ValidKey(k string) bool {
	if k == "" || len(k) > MaxKeyLen {
		return false
	}
	return keyPattern.MatchString(k)
}

// EscapeLike escapes LIKE wildcards so user input matches literally.
// Backslash must be escaped before the wildcards; the resulting string
// is meant for a LIKE ? ESCAPE '\' clause.
func EscapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
