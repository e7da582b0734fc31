package textchain

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var wsRe = regexp.MustCompile(`[ \t\f\v\r\x{00A0}]+`)

// Normalize applies NFKC, strips zero-width and control characters and
// collapses whitespace to single spaces.
func Normalize(s string) string {
	s = clean(s)
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}

// NormalizeLines is Normalize that keeps line breaks. Blank lines are dropped.
func NormalizeLines(s string) string {
	s = clean(strings.ReplaceAll(s, "\r\n", "\n"))
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(wsRe.ReplaceAllString(l, " "))
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func clean(s string) string {
	if s == "" {
		return s
	}
	s = norm.NFKC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\u200B', r == '\u200C', r == '\u200D', r == '\u2060', r == '\uFEFF':
		case r == '\n', r == '\t', r == '\r':
			b.WriteRune(r)
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
