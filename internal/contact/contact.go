// Package contact validates contact form submissions and hands them to sinks.
package contact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keithlinneman/portfolio-web/internal/validate"
)

const (
	MaxNameLength    = 100
	MaxMessageLength = 5000
)

type Submission struct {
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Message    string    `json:"message"`
	ReceivedAt time.Time `json:"received_at"`
	ClientID   string    `json:"client_id"`
	RequestID  string    `json:"request_id,omitempty"`
}

// FieldError names the first field that failed validation.
type FieldError struct {
	Field  string
	Reason string
	Err    error
}

func (e *FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Reason) }
func (e *FieldError) Unwrap() error { return e.Err }

func fieldErr(field string, err error) *FieldError {
	return &FieldError{Field: field, Reason: validate.Reason(err), Err: err}
}

// Validate checks name, email and message in that order and normalizes them in place
// (trimmed, email lowercased). It returns a *FieldError for the first failure.
func (s *Submission) Validate() error {
	name, err := validate.SafeText(s.Name, MaxNameLength)
	if err != nil {
		return fieldErr("name", err)
	}
	email := strings.ToLower(strings.TrimSpace(s.Email))
	if email == "" {
		return fieldErr("email", validate.ErrEmpty)
	}
	if !validate.Email(email) {
		return fieldErr("email", validate.ErrEmail)
	}
	msg, err := validate.SafeText(s.Message, MaxMessageLength)
	if err != nil {
		return fieldErr("message", err)
	}
	s.Name, s.Email, s.Message = name, email, msg
	return nil
}

// escaped returns a copy with free-text fields HTML-escaped for downstream rendering.
func (s Submission) escaped() Submission {
	s.Name = validate.EscapeHTML(s.Name)
	s.Message = validate.EscapeHTML(s.Message)
	return s
}

type Sink interface {
	Store(ctx context.Context, s Submission) error
}

// MultiSink stores to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Store(ctx context.Context, s Submission) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Store(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
