// Package security holds helpers for handling untrusted input.
package security

import "strings"

// maxFilenameLen bounds sanitised names so that generated paths stay short.
const maxFilenameLen = 64

// SanitizeFilename turns an arbitrary label, such as a class name reported
// by a detection service, into a single path element. Runs of characters
// other than ASCII letters, digits, dot, underscore and dash become one
// underscore; leading and trailing dots and underscores are trimmed. An
// empty result is returned as "unknown".
func SanitizeFilename(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
