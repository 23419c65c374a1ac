package validate

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrEmpty       = errors.New("value is empty")
	ErrTooLong     = errors.New("value is too long")
	ErrInvalidText = errors.New("value contains invalid characters")
	ErrUnsafe      = errors.New("value contains disallowed markup")
	ErrEmail       = errors.New("invalid email address")
)

// Text trims s and checks it is non-empty, valid UTF-8, free of control characters other
// than tab, CR and LF, and at most max runes long. max <= 0 disables the length check.
// The trimmed value is returned on success.
func Text(s string, max int) (string, error) {
	if !utf8.ValidString(s) {
		return "", ErrInvalidText
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmpty
	}
	if max > 0 && utf8.RuneCountInString(s) > max {
		return "", ErrTooLong
	}
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		if unicode.IsControl(r) {
			return "", ErrInvalidText
		}
	}
	return s, nil
}

// SafeText is Text followed by DetectXSS, returning ErrUnsafe on a signature match.
func SafeText(s string, max int) (string, error) {
	out, err := Text(s, max)
	if err != nil {
		return "", err
	}
	if DetectXSS(out) {
		return "", ErrUnsafe
	}
	return out, nil
}

// Reason maps a validation error to a short label for metrics and client error bodies.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmpty):
		return "empty"
	case errors.Is(err, ErrTooLong):
		return "too_long"
	case errors.Is(err, ErrInvalidText):
		return "invalid_text"
	case errors.Is(err, ErrUnsafe):
		return "unsafe"
	case errors.Is(err, ErrEmail):
		return "invalid_email"
	default:
		return "invalid"
	}
}
