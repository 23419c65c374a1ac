package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ContentInfo identifies the portfolio content a response was built from.
type ContentInfo interface {
	ContentVersion() string
	ContentHash() string
}

// ContentHeaders sets X-Content-Version and a 12 character X-Content-Hash so chat and
// search answers can be tied to the content revision they were generated from.
func ContentHeaders(info ContentInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if info == nil {
			return next
		}
		version, hash := info.ContentVersion(), info.ContentHash()
		short := hash
		if len(short) > 12 {
			short = short[:12]
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if version != "" {
				w.Header().Set("X-Content-Version", version)
			}
			if short != "" {
				w.Header().Set("X-Content-Hash", short)
			}
			if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
				span.SetAttributes(
					attribute.String("content.version", version),
					attribute.String("content.hash", hash),
				)
			}
			next.ServeHTTP(w, r)
		})
	}
}
