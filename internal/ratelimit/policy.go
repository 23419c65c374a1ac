package ratelimit

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// Policy names a class of endpoint with its own quota.
type Policy string

const (
	// PolicyStrict guards expensive upstream calls (LLM chat, speech synthesis)
	PolicyStrict Policy = "strict"
	// PolicyModerate guards cheap reads such as search
	PolicyModerate Policy = "moderate"
	// PolicyLenient guards the contact form. Low quota, long window.
	PolicyLenient Policy = "lenient"
	// PolicyAuth guards authentication attempts
	PolicyAuth Policy = "auth"
)

// DefaultPolicies returns a fresh copy of the standard quota table.
func DefaultPolicies() map[Policy]Config {
	return map[Policy]Config{
		PolicyStrict:   {Requests: 10, Window: time.Minute},
		PolicyModerate: {Requests: 60, Window: time.Minute},
		PolicyLenient:  {Requests: 3, Window: time.Hour},
		PolicyAuth:     {Requests: 5, Window: 15 * time.Minute},
	}
}

// Registry holds one independent Limiter per policy.
// It is built once by main and passed to handlers, nothing in this package keeps a global instance.
type Registry struct {
	limiters map[Policy]*Limiter
}

// NewRegistry builds a limiter for every policy in configs. optsFor may be nil, otherwise
// its options are applied to the limiter for that policy (hooks, clock, caps).
// On error any limiter already started is cleaned up.
func NewRegistry(ctx context.Context, configs map[Policy]Config, optsFor func(Policy) []Option) (*Registry, error) {
	if len(configs) == 0 {
		configs = DefaultPolicies()
	}
	r := &Registry{limiters: make(map[Policy]*Limiter, len(configs))}
	for p, c := range configs {
		opts := []Option{WithName(string(p))}
		if optsFor != nil {
			opts = append(opts, optsFor(p)...)
		}
		l, err := New(ctx, c, opts...)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("policy %q: %w", p, err)
		}
		r.limiters[p] = l
	}
	return r, nil
}

// Get returns the limiter for p.
func (r *Registry) Get(p Policy) (*Limiter, bool) {
	l, ok := r.limiters[p]
	return l, ok
}

// MustGet is Get for wiring code, panics on an unknown policy.
func (r *Registry) MustGet(p Policy) *Limiter {
	l, ok := r.limiters[p]
	if !ok {
		panic(fmt.Sprintf("ratelimit: unknown policy %q", p))
	}
	return l
}

func (r *Registry) Strict() *Limiter   { return r.MustGet(PolicyStrict) }
func (r *Registry) Moderate() *Limiter { return r.MustGet(PolicyModerate) }
func (r *Registry) Lenient() *Limiter  { return r.MustGet(PolicyLenient) }
func (r *Registry) Auth() *Limiter     { return r.MustGet(PolicyAuth) }

// Policies returns the registered policy names, sorted.
func (r *Registry) Policies() []Policy {
	out := make([]Policy, 0, len(r.limiters))
	for p := range r.limiters {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Close runs Cleanup on every limiter.
func (r *Registry) Close() {
	for _, l := range r.limiters {
		l.Cleanup()
	}
}
