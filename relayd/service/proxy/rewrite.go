package proxy

import (
	"regexp"
	"strings"
)

// Rule is a single search/replace pair applied to textual payloads.
type Rule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// Rewrite applies every rule to text in order. Pure function; callers
// decide whether the payload is eligible (textual, buffered, not
// oversized).
func Rewrite(text string, rules []Rule) string {
	for _, r := range rules {
		text = r.Pattern.ReplaceAllString(text, r.Replacement)
	}
	return text
}

// LiteralRule builds a Rule that replaces exact occurrences of search.
func LiteralRule(search, replacement string) Rule {
	return Rule{
		Pattern:     regexp.MustCompile(regexp.QuoteMeta(search)),
		Replacement: replacement,
	}
}

// textualPrefixes covers content types whose bodies are safe to rewrite
// as text.
var textualPrefixes = []string{
	"text/",
	"application/json",
	"application/javascript",
	"application/x-javascript",
	"application/xml",
	"application/xhtml+xml",
	"application/x-www-form-urlencoded",
}

// IsTextual reports whether a content type carries a rewritable text body.
func IsTextual(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	for _, prefix := range textualPrefixes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

// IsScriptOrMarkup reports whether a response content type is a script or
// markup asset, the only response shapes eligible for URL canonicalization.
func IsScriptOrMarkup(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "text/html"),
		strings.HasPrefix(ct, "text/javascript"),
		strings.HasPrefix(ct, "application/javascript"),
		strings.HasPrefix(ct, "application/x-javascript"),
		strings.HasPrefix(ct, "application/xhtml+xml"):
		return true
	}
	return false
}
