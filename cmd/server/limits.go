package main

import (
	"context"
	"fmt"
	"time"

	"github.com/keithlinneman/portfolio-web/internal/health"
	"github.com/keithlinneman/portfolio-web/internal/log"
	"github.com/keithlinneman/portfolio-web/internal/metrics"
	"github.com/keithlinneman/portfolio-web/internal/ratelimit"
)

// limiterHooks returns the per-policy options that feed decisions into metrics and logs.
func limiterHooks(ctx context.Context, L log.Logger, m *metrics.ServerMetrics, maxEntries int) func(ratelimit.Policy) []ratelimit.Option {
	return func(p ratelimit.Policy) []ratelimit.Option {
		policy := string(p)
		return []ratelimit.Option{
			ratelimit.WithMaxEntries(maxEntries),
			ratelimit.WithOnAllowed(func(string) {
				m.ObserveRateLimit(policy, metrics.OutcomeAllowed)
			}),
			ratelimit.WithOnDenied(func(string) {
				m.ObserveRateLimit(policy, metrics.OutcomeDenied)
			}),
			// once per client per window, the counter covers the rest
			ratelimit.WithOnFirstDenied(func(id string) {
				L.Warn(ctx, "rate limit triggered", "policy", policy, "client.address", id)
			}),
			ratelimit.WithOnCapacityDenied(func(string) {
				m.ObserveRateLimit(policy, metrics.OutcomeCapacity)
			}),
			// once per episode, until the store drops below the cap
			ratelimit.WithOnCapacity(func() {
				L.Warn(ctx, "rate limit capacity reached, rejecting new clients until entries expire",
					"policy", policy, "max_entries", maxEntries)
			}),
		}
	}
}

// reportLimiterSizes publishes each limiter's entry count until ctx is done.
func reportLimiterSizes(ctx context.Context, r *ratelimit.Registry, m *metrics.ServerMetrics, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		for _, p := range r.Policies() {
			m.SetRateLimitEntries(string(p), r.MustGet(p).Len())
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// limitersRunning fails readiness once any limiter has been cleaned up.
func limitersRunning(r *ratelimit.Registry) health.CheckFunc {
	return func(context.Context) error {
		for _, p := range r.Policies() {
			if r.MustGet(p).Stopped() {
				return fmt.Errorf("rate limiter %q stopped", p)
			}
		}
		return nil
	}
}
