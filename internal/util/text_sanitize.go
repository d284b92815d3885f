package util

import "strings"

// SanitizeText strips NUL and other control bytes that Postgres text columns
// reject. PDF extraction is the usual source.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if ch < 0x20 && ch != '\n' && ch != '\r' && ch != '\t' {
			continue
		}
		b.WriteRune(ch)
	}
	return strings.TrimSpace(b.String())
}
