// Package sanitize cleans free text from providers and models before it is
// stored and rendered on dashboards.
package sanitize

import (
	"html"
	"regexp"
	"strings"
	"unicode"
)

var (
	tagPattern        = regexp.MustCompile(`</?[A-Za-z!][^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Text strips markup and control characters and collapses runs of
// whitespace to a single space. Entities are decoded, then tags hidden
// behind them are stripped again.
func Text(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = tagPattern.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// TextPtr sanitizes an optional string. Values that are empty once cleaned become nil.
func TextPtr(s *string) *string {
	if s == nil {
		return nil
	}
	cleaned := Text(*s)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}
