package httpmw

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/portfolio-web/internal/log"
)

type capturedLog struct {
	level  string
	msg    string
	fields []any
}

// flatLogger captures With/Info/Warn calls. With returns the same logger so every
// call lands in one place.
type flatLogger struct {
	mu    sync.Mutex
	lines []capturedLog
	withs [][]any
}

func newFlatLogger() *flatLogger { return &flatLogger{} }

func (l *flatLogger) With(kv ...any) log.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.withs = append(l.withs, kv)
	return l
}

func (l *flatLogger) record(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, capturedLog{level: level, msg: msg, fields: kv})
}

func (l *flatLogger) Debug(_ context.Context, msg string, kv ...any) { l.record("debug", msg, kv) }
func (l *flatLogger) Info(_ context.Context, msg string, kv ...any)  { l.record("info", msg, kv) }
func (l *flatLogger) Warn(_ context.Context, msg string, kv ...any)  { l.record("warn", msg, kv) }
func (l *flatLogger) Error(_ context.Context, _ error, msg string, kv ...any) {
	l.record("error", msg, kv)
}
func (l *flatLogger) Sync() error { return nil }

func (l *flatLogger) last() (capturedLog, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.lines) == 0 {
		return capturedLog{}, false
	}
	return l.lines[len(l.lines)-1], true
}

func (l *flatLogger) lastWith() ([]any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.withs) == 0 {
		return nil, false
	}
	return l.withs[len(l.withs)-1], true
}

func (l *flatLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines)
}

// fieldValue extracts a value by key from a kv slice.
func fieldValue(fields []any, key string) (any, bool) {
	for i := 0; i+1 < len(fields); i += 2 {
		if k, ok := fields[i].(string); ok && k == key {
			return fields[i+1], true
		}
	}
	return nil, false
}

// withLoggerInContext installs fl as the request logger, as WithLogger would.
func withLoggerInContext(fl log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(log.WithContext(r.Context(), fl)))
	})
}

type flusherRecorder struct {
	*httptest.ResponseRecorder
	flushed bool
}

func (f *flusherRecorder) Flush() { f.flushed = true }

type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

// statusWriter

func TestStatusWriter_FirstWriteHeaderWins(t *testing.T) {
	sw := &statusWriter{ResponseWriter: httptest.NewRecorder()}
	sw.WriteHeader(http.StatusTooManyRequests)
	sw.WriteHeader(http.StatusOK)
	if sw.Status() != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", sw.Status())
	}
}

func TestStatusWriter_WriteDefaultsTo200AndCounts(t *testing.T) {
	sw := &statusWriter{ResponseWriter: httptest.NewRecorder()}
	sw.Write([]byte("hello"))
	sw.Write([]byte(" world"))
	if sw.Status() != http.StatusOK {
		t.Fatalf("status = %d", sw.Status())
	}
	if sw.bytes != 11 {
		t.Fatalf("bytes = %d, want 11", sw.bytes)
	}
}

func TestStatusWriter_StatusBeforeWrite(t *testing.T) {
	sw := &statusWriter{ResponseWriter: httptest.NewRecorder()}
	if sw.Status() != http.StatusOK {
		t.Fatalf("status = %d, want implicit 200", sw.Status())
	}
}

func TestStatusWriter_Flush(t *testing.T) {
	fr := &flusherRecorder{ResponseRecorder: httptest.NewRecorder()}
	sw := &statusWriter{ResponseWriter: fr}
	sw.Flush()
	if !fr.flushed {
		t.Fatal("Flush not forwarded")
	}

	// no panic when unsupported
	(&statusWriter{ResponseWriter: struct{ http.ResponseWriter }{httptest.NewRecorder()}}).Flush()
}

func TestStatusWriter_Hijack(t *testing.T) {
	hr := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	sw := &statusWriter{ResponseWriter: hr}
	if _, _, err := sw.Hijack(); err != nil {
		t.Fatalf("Hijack: %v", err)
	}
	if !hr.hijacked {
		t.Fatal("Hijack not forwarded")
	}

	sw = &statusWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := sw.Hijack(); err == nil {
		t.Fatal("expected error when underlying writer cannot hijack")
	}
}

func TestStatusWriter_Unwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}
	if sw.Unwrap() != rec {
		t.Fatal("Unwrap should return the wrapped writer")
	}
}

// schemeFromRequest

func TestSchemeFromRequest(t *testing.T) {
	tests := []struct {
		name  string
		xfp   string
		url   string
		tls   bool
		want  string
	}{
		{name: "default", want: "http"},
		{name: "xfp https", xfp: "https", want: "https"},
		{name: "xfp case insensitive", xfp: "HTTPS", want: "https"},
		{name: "xfp first of many", xfp: "https, http", want: "https"},
		{name: "xfp garbage ignored", xfp: "javascript", want: "http"},
		{name: "xfp injection ignored", xfp: "https\r\nX-Evil: 1", want: "http"},
		{name: "xfp garbage falls back to tls", xfp: "ftp", tls: true, want: "https"},
		{name: "absolute url", url: "https://example.com/", want: "https"},
		{name: "tls", tls: true, want: "https"},
		{name: "xfp beats tls", xfp: "http", tls: true, want: "http"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/"
			if tt.url != "" {
				target = tt.url
			}
			r := httptest.NewRequest(http.MethodGet, target, http.NoBody)
			if tt.xfp != "" {
				r.Header["X-Forwarded-Proto"] = []string{tt.xfp}
			}
			if !tt.tls {
				r.TLS = nil
			} else {
				r.TLS = &tls.ConnectionState{}
			}
			if got := schemeFromRequest(r); got != tt.want {
				t.Fatalf("schemeFromRequest = %q, want %q", got, tt.want)
			}
		})
	}
}

// WithLogger

func TestWithLogger_EnrichesContext(t *testing.T) {
	fl := newFlatLogger()

	var ctxLogger log.Logger
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxLogger = log.FromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", http.NoBody)
	req.RemoteAddr = "10.0.0.1:12345"
	ctx := WithRequestID(req.Context(), "req-123")
	ctx = WithClientIP(ctx, "203.0.113.9")

	WithLogger(fl)(handler).ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))

	if ctxLogger != fl {
		t.Fatal("request logger not placed in context")
	}
	kv, ok := fl.lastWith()
	if !ok {
		t.Fatal("With() never called")
	}

	want := map[string]any{
		"request_id":           "req-123",
		"client.address":       "203.0.113.9",
		"network.peer.address": "10.0.0.1",
		"http.request.method":  http.MethodPost,
		"url.path":             "/api/chat",
		"url.scheme":           "http",
	}
	for k, v := range want {
		if got, ok := fieldValue(kv, k); !ok || got != v {
			t.Errorf("%s = %v, want %v", k, got, v)
		}
	}
}

func TestWithLogger_UnknownClientWhenUnresolved(t *testing.T) {
	fl := newFlatLogger()
	WithLogger(fl)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	kv, _ := fl.lastWith()
	if v, _ := fieldValue(kv, "client.address"); v != UnknownClient {
		t.Fatalf("client.address = %v, want %q", v, UnknownClient)
	}
}

func TestWithLogger_NoUserSuppliedData(t *testing.T) {
	fl := newFlatLogger()

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=secret+prompt", http.NoBody)
	req.Header.Set("User-Agent", "evil\nagent")
	req.Header.Set("X-Forwarded-For", "1.2.3.4")

	WithLogger(fl)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), req)

	kv, _ := fl.lastWith()
	for _, key := range []string{"url.query", "user_agent", "user_agent.original", "http.request.header.x-forwarded-for"} {
		if _, ok := fieldValue(kv, key); ok {
			t.Errorf("field %q should not be logged", key)
		}
	}
	for i := 1; i < len(kv); i += 2 {
		if s, ok := kv[i].(string); ok && s == "secret prompt" {
			t.Fatal("query value leaked into log fields")
		}
	}
}

// AccessLog

func TestAccessLog_LogsRequest(t *testing.T) {
	fl := newFlatLogger()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "9")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("hello"))
	})

	req := httptest.NewRequest(http.MethodPost, "/api/contact", http.NoBody)
	req.ContentLength = 42
	withLoggerInContext(fl, AccessLog()(handler)).ServeHTTP(httptest.NewRecorder(), req)

	entry, ok := fl.last()
	if !ok {
		t.Fatal("no log emitted")
	}
	if entry.msg != "http request" || entry.level != "info" {
		t.Fatalf("entry = %+v", entry)
	}
	if v, _ := fieldValue(entry.fields, "http.response.status_code"); v != http.StatusCreated {
		t.Errorf("status = %v, want 201", v)
	}
	if v, _ := fieldValue(entry.fields, "http.response.body.size"); v != int64(5) {
		t.Errorf("body.size = %v, want 5", v)
	}
	if v, _ := fieldValue(entry.fields, "http.request.body.size"); v != int64(42) {
		t.Errorf("request body.size = %v, want 42", v)
	}
	if v, _ := fieldValue(entry.fields, "ratelimit.remaining"); v != "9" {
		t.Errorf("ratelimit.remaining = %v, want 9", v)
	}
	if _, ok := fieldValue(entry.fields, "http.server.request.duration"); !ok {
		t.Error("duration missing")
	}
}

func TestAccessLog_ServerErrorIsWarn(t *testing.T) {
	fl := newFlatLogger()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	withLoggerInContext(fl, AccessLog()(handler)).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/chat", http.NoBody))

	entry, _ := fl.last()
	if entry.level != "warn" {
		t.Fatalf("level = %q, want warn", entry.level)
	}
}

func TestAccessLog_SkipsAdminPaths(t *testing.T) {
	for _, p := range []string{"/-/ready", "/-/healthy"} {
		t.Run(p, func(t *testing.T) {
			fl := newFlatLogger()
			called := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

			withLoggerInContext(fl, AccessLog()(handler)).
				ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, http.NoBody))

			if !called {
				t.Fatal("handler not called")
			}
			if fl.count() != 0 {
				t.Fatalf("logged %d lines for %s", fl.count(), p)
			}
		})
	}
}

func TestAccessLog_NoLoggerInContext(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()

	// falls back to the nop logger
	AccessLog()(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAccessLog_ChiRoutePattern(t *testing.T) {
	fl := newFlatLogger()

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler { return withLoggerInContext(fl, next) })
	r.Use(AccessLog())
	r.Get("/api/items/{id}", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/items/42", http.NoBody))

	entry, ok := fl.last()
	if !ok {
		t.Fatal("no log emitted")
	}
	if v, _ := fieldValue(entry.fields, "http.route"); v != "/api/items/{id}" {
		t.Fatalf("http.route = %v", v)
	}
}

func TestAccessLog_FallsBackToURLPath(t *testing.T) {
	fl := newFlatLogger()
	withLoggerInContext(fl, AccessLog()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/no/router", http.NoBody))

	entry, _ := fl.last()
	if v, _ := fieldValue(entry.fields, "http.route"); v != "/no/router" {
		t.Fatalf("http.route = %v", v)
	}
}

// Scope

func TestScope_EnrichesLogger(t *testing.T) {
	fl := newFlatLogger()
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	withLoggerInContext(fl, Scope("chat")(handler)).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if !called {
		t.Fatal("handler not called")
	}
	kv, ok := fl.lastWith()
	if !ok {
		t.Fatal("With not called")
	}
	if v, _ := fieldValue(kv, "handler"); v != "chat" {
		t.Fatalf("handler = %v", v)
	}
}
