package validate

import "regexp"

// MaxEmailLength is the longest address accepted (RFC 5321 path limit minus brackets).
const MaxEmailLength = 254

// local part: RFC 5322 atext plus dots. domain: one or more dot-separated labels of
// 1-63 alphanumerics/hyphens that neither start nor end with a hyphen, at least two labels.
var emailRE = regexp.MustCompile("^[a-zA-Z0-9.!#$%&'*+/=?^_`{|}~-]+" +
	"@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?" +
	"(?:\\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$")

// Email reports whether s looks like a deliverable address. It does not trim: callers
// decide whether surrounding whitespace is acceptable.
func Email(s string) bool {
	if len(s) > MaxEmailLength {
		return false
	}
	return emailRE.MatchString(s)
}
