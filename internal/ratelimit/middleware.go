package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/keithlinneman/portfolio-web/internal/httpmw"
)

// ResetTimeFormat is RFC 3339 with millisecond precision, used for X-RateLimit-Reset.
const ResetTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// SetHeaders writes the X-RateLimit-* headers for res.
func SetHeaders(h http.Header, res Result) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", res.ResetTime.UTC().Format(ResetTimeFormat))
}

type deniedBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after"`
}

// WriteDenied writes the 429 response for a rejected request.
func WriteDenied(w http.ResponseWriter, res Result, now time.Time) {
	retry := res.RetryAfter(now)
	SetHeaders(w.Header(), res)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(deniedBody{Error: "too many requests", RetryAfter: retry})
}

// Middleware returns middleware that rejects requests over the limiter's quota with 429.
// The identifier is the one resolved by httpmw.ClientIP, so that middleware must run first.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := httpmw.ClientIPFromContext(r.Context())
		if id == "" {
			id = httpmw.UnknownClient
		}

		res := l.Check(id)
		if !res.Success {
			WriteDenied(w, res, l.now())
			return
		}

		SetHeaders(w.Header(), res)
		next.ServeHTTP(w, r)
	})
}
