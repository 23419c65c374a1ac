package validate

import (
	"html"
	"regexp"
)

// xssSignatures are matched case-insensitively anywhere in the input.
var xssSignatures = []*regexp.Regexp{
	// a complete script element, spanning newlines
	regexp.MustCompile(`(?is)<script\b.*?</script\s*>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on(?:error|load|click|mouseover)\s*=`),
	regexp.MustCompile(`(?i)<iframe`),
	regexp.MustCompile(`(?i)<object`),
	regexp.MustCompile(`(?i)<embed`),
}

// DetectXSS reports whether s contains one of the known script-injection signatures.
// Substring matching only, so it has false negatives by construction (an unclosed
// <script>, entity-encoded payloads) and the occasional false positive in prose.
func DetectXSS(s string) bool {
	for _, re := range xssSignatures {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// EscapeHTML entity-encodes <, >, &, ' and " for safe embedding in HTML text or attributes.
func EscapeHTML(s string) string {
	return html.EscapeString(s)
}
