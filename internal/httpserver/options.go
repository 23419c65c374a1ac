package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/portfolio-web/internal/health"
	"github.com/keithlinneman/portfolio-web/internal/httpmw"
	"github.com/keithlinneman/portfolio-web/internal/log"
)

type Options struct {
	Logger log.Logger
	// Port defaults to 8080
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	// Health and Readiness are also served on the public listener under /-/
	Health    health.Probe
	Readiness health.Probe
	// APIRoutes registers the application routes on the chi router
	APIRoutes    func(chi.Router)
	ClientIPOpts httpmw.ClientIPOptions
	// MaxBodyBytes caps request bodies, 0 means 64KiB
	MaxBodyBytes int64
	Content      httpmw.ContentInfo
}
