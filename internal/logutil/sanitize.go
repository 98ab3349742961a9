// Package logutil provides helpers for safely logging untrusted strings.
package logutil

import "strings"

// SanitizeForLog removes newlines and control characters from
// untrusted strings (proxy hostnames, auth error text) to prevent log
// injection where a malicious or misbehaving peer injects fake log
// entries via embedded newlines.
func SanitizeForLog(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\t", " ")

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r >= 32 || r == ' ' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
