// Package httpmw provides HTTP middleware for the public API server.
//
// httpserver.NewHandler composes them outermost first: security headers, request ID,
// client identity, recover, tracing headers, request logger, access log, and the chi
// router. Rate limiting is applied per route by the API handlers, not globally, since
// each endpoint belongs to a different policy.
//
// Client identity comes from proxy headers and is best-effort. Query strings, user agents
// and request bodies are never attached to log lines: they carry chat prompts and search
// terms.
package httpmw
