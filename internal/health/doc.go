// Package health provides probes for liveness and readiness and the handlers that
// expose them.
//
// Probes compose with [All] and [Any]. [ShutdownGate] fails readiness as soon as
// shutdown begins so the load balancer stops routing new requests while in-flight ones
// drain.
package health
