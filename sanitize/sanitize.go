// Package sanitize normalizes model output for Telegram delivery: service
// markers and reasoning tags are stripped, NUL bytes dropped, and the
// result is escaped for HTML parse mode.
package sanitize

import (
	"html"
	"regexp"
	"strings"
)

// SDK object reprs occasionally leak into model text verbatim.
var responseRepr = regexp.MustCompile(`Response\w+Item\([^)]*\)`)

var serviceTags = []string{
	"<think>", "</think>",
	"<reasoning>", "</reasoning>",
}

// Sanitize cleans raw model output and escapes it for the transport.
// Idempotent: entities are normalized before escaping, so a second pass
// reproduces the same output.
func Sanitize(raw string) string {
	text := html.UnescapeString(raw)

	// Stripping can join fragments into new matches; run to a fixpoint.
	for {
		next := responseRepr.ReplaceAllString(text, "")
		for _, tag := range serviceTags {
			next = strings.ReplaceAll(next, tag, "")
		}
		next = strings.ReplaceAll(next, "\x00", "")
		if next == text {
			break
		}
		text = next
	}

	return escapeHTML(strings.TrimSpace(text))
}

// escapeHTML escapes the characters significant to Telegram's HTML parse
// mode. Amp must go first.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
