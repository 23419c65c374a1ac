// Package validate holds the input checks API handlers run before any payload reaches
// business logic: email format, a coarse XSS signature filter, and free-text limits.
//
// Every function is pure and total. Empty strings, NUL bytes and malformed UTF-8 produce
// an answer, never a panic.
//
// DetectXSS is a tripwire, not a sanitizer. It catches the common injection shapes in
// form fields and chat prompts so they can be rejected early. Anything stored for later
// rendering still goes through EscapeHTML.
package validate
