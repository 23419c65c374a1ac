package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// UnknownClient is the identifier used when no proxy header carries a client address.
// Every such request shares one rate limit bucket.
const UnknownClient = "unknown"

// clientHeaders are consulted in order. Edge-proxy headers injected by the platform come
// before the conventional ones any client can set.
var clientHeaders = []string{
	"CF-Connecting-IP",
	"Fly-Client-IP",
	"X-Forwarded-For",
	"X-Real-IP",
}

// ClientIPOptions configures client identity resolution.
type ClientIPOptions struct {
	// FallbackRemoteAddr uses the host part of r.RemoteAddr when no proxy header is present,
	// for deployments with no edge proxy in front. When false such requests resolve to UnknownClient.
	FallbackRemoteAddr bool
}

// ResolveClientID returns the rate limit key for a request with headers h.
// The first non-empty header in priority order wins, X-Forwarded-For contributes its
// first (client-most) entry. Falls back to UnknownClient. h is not modified.
//
// Every header here is client-controllable unless the edge strips it, so this is a
// best-effort identity and must not be used for authorization.
func ResolveClientID(h http.Header) string {
	if id, ok := fromHeaders(h); ok {
		return id
	}
	return UnknownClient
}

func fromHeaders(h http.Header) (string, bool) {
	for _, name := range clientHeaders {
		v := h.Get(name)
		if name == "X-Forwarded-For" {
			v, _, _ = strings.Cut(v, ",")
		}
		if v = strings.TrimSpace(v); v != "" {
			return v, true
		}
	}
	return "", false
}

// ClientIP resolves the client identifier and stores it in the request context.
// Uses default options (no RemoteAddr fallback).
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions returns middleware that resolves the client identifier using the
// given options and stores it in the request context.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := fromHeaders(r.Header)
			if !ok {
				id = UnknownClient
				if opts.FallbackRemoteAddr {
					if host := remoteHost(r.RemoteAddr); host != "" {
						id = host
					}
				}
			}
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), id)))
		})
	}
}

// remoteHost strips the port from addr, returning addr unchanged if it has none
func remoteHost(addr string) string {
	if addr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// ClientIPFromContext returns the identifier stored by ClientIP, or "" if none was set.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// WithClientIP returns ctx carrying ip as the client identifier. An empty ip leaves ctx unchanged.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
