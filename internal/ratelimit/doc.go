// Package ratelimit provides fixed-window request quotas keyed by client
// identifier, and the named policies the API handlers apply.
//
// # Simple in-memory implementation, not shared between instances or distributed
//
// Each Limiter owns a map of identifier -> (count, resetTime) guarded by a
// mutex. A window starts on the first request from an identifier and ends
// Window later; a request at exactly the reset time opens a new window.
// Rejected requests are not counted, so sustained abuse cannot grow a counter
// past the quota.
//
// A background sweep, started by New and stopped by Cleanup or by cancelling
// the construction context, evicts expired entries every Window. That bounds
// memory for abandoned identifiers but not for an attacker cycling through
// unlimited identifiers inside one window; WithMaxEntries is available for
// deployments that want a hard cap.
//
// Counters are process-local. With N instances behind a load balancer the
// effective quota is Requests x N. Identifiers come from client-supplied
// proxy headers and are best-effort, not authenticated.
package ratelimit
