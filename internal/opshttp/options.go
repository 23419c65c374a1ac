package opshttp

import (
	"net/http"

	"github.com/keithlinneman/portfolio-web/internal/health"
)

type Options struct {
	// Port defaults to 9000
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// OnPanic is called after a handler panic is recovered
	OnPanic func()
}
