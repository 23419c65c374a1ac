// Package apihttp implements the public JSON API: chat, speech, contact, search, admin login
// and build metadata.
// Every route sits behind the rate limit policy that matches its cost.
package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/portfolio-web/internal/contact"
	"github.com/keithlinneman/portfolio-web/internal/httpmw"
	"github.com/keithlinneman/portfolio-web/internal/llm"
	"github.com/keithlinneman/portfolio-web/internal/log"
	"github.com/keithlinneman/portfolio-web/internal/portfolio"
	"github.com/keithlinneman/portfolio-web/internal/ratelimit"
	"github.com/keithlinneman/portfolio-web/internal/tts"
	"github.com/keithlinneman/portfolio-web/internal/version"
	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

// DefaultMaxBodyBytes caps request bodies when Options.MaxBodyBytes is zero.
const DefaultMaxBodyBytes = 32 << 10

// Site is the portfolio content the API reads from.
type Site interface {
	Search(query string, limit int) []portfolio.Hit
	Digest() string
	ContentVersion() string
	ContentHash() string
}

// Completer produces a chat reply.
type Completer interface {
	Complete(ctx context.Context, msgs []llm.Message) (string, error)
}

// Synthesizer turns text into speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (tts.Audio, error)
}

// Recorder receives API counters. *metrics.ServerMetrics implements it.
type Recorder interface {
	IncValidationRejected(endpoint, reason string)
	IncContactSubmission(outcome string)
	IncLoginAttempt(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) IncValidationRejected(string, string) {}
func (nopRecorder) IncContactSubmission(string)          {}
func (nopRecorder) IncLoginAttempt(string)               {}

// Options wires the API. Limits is required. Site, LLM, TTS and Sink are optional and
// their routes answer 503 when unset; leave the field nil rather than storing a nil pointer.
type Options struct {
	Logger  log.Logger
	Limits  *ratelimit.Registry
	Metrics Recorder

	Site Site
	LLM  Completer
	TTS  Synthesizer
	Sink contact.Sink

	// AdminPasswordHash is a bcrypt hash, login is disabled when empty
	AdminPasswordHash string

	MaxBodyBytes int64
	Now          func() time.Time
	// Build is reported by /api/version
	Build version.Info
}

// API implements the public endpoints.
type API struct {
	logger  log.Logger
	limits  *ratelimit.Registry
	metrics Recorder

	site Site
	llm  Completer
	tts  Synthesizer
	sink contact.Sink

	adminHash []byte
	maxBody   int64
	now       func() time.Time
	build     version.Info
	started   time.Time
}

// New validates opts and returns the API.
func New(opts Options) (*API, error) {
	if opts.Limits == nil {
		return nil, xerrors.New("apihttp: rate limit registry is required")
	}
	for _, p := range []ratelimit.Policy{ratelimit.PolicyStrict, ratelimit.PolicyModerate, ratelimit.PolicyLenient, ratelimit.PolicyAuth} {
		if _, ok := opts.Limits.Get(p); !ok {
			return nil, xerrors.Newf("apihttp: rate limit policy %q is not registered", p)
		}
	}
	api := &API{
		logger:    opts.Logger,
		limits:    opts.Limits,
		metrics:   opts.Metrics,
		site:      opts.Site,
		llm:       opts.LLM,
		tts:       opts.TTS,
		sink:      opts.Sink,
		adminHash: []byte(opts.AdminPasswordHash),
		maxBody:   opts.MaxBodyBytes,
		now:       opts.Now,
		build:     opts.Build,
	}
	if api.logger == nil {
		api.logger = log.Nop()
	}
	if api.metrics == nil {
		api.metrics = nopRecorder{}
	}
	if api.maxBody <= 0 {
		api.maxBody = DefaultMaxBodyBytes
	}
	if api.now == nil {
		api.now = time.Now
	}
	api.started = api.now()
	return api, nil
}

// RegisterRoutes attaches the API endpoints to r.
func (api *API) RegisterRoutes(r chi.Router) {
	r.With(httpmw.Scope("chat"), api.limits.Strict().Middleware).Post("/api/chat", api.HandleChat)
	r.With(httpmw.Scope("tts"), api.limits.Strict().Middleware).Post("/api/tts", api.HandleTTS)
	r.With(httpmw.Scope("contact"), api.limits.Lenient().Middleware).Post("/api/contact", api.HandleContact)
	r.With(httpmw.Scope("search"), api.limits.Moderate().Middleware).Get("/api/search", api.HandleSearch)
	r.With(httpmw.Scope("login"), api.limits.Auth().Middleware).Post("/api/auth/login", api.HandleLogin)
	r.With(httpmw.Scope("version"), api.limits.Moderate().Middleware).Get("/api/version", api.HandleVersion)
}

type errorResponse struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
}

var (
	errBodyTooLarge = errors.New("request body too large")
	errBadJSON      = errors.New("invalid JSON body")
)

// decodeJSON reads exactly one JSON object into dst, rejecting unknown fields and
// bodies over the cap.
func (api *API) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, api.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return errBodyTooLarge
		}
		return errBadJSON
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errBadJSON
	}
	return nil
}

// writeDecodeError answers a decodeJSON failure and counts it against endpoint.
func (api *API) writeDecodeError(ctx context.Context, w http.ResponseWriter, endpoint string, err error) {
	if errors.Is(err, errBodyTooLarge) {
		api.metrics.IncValidationRejected(endpoint, "too_large")
		api.writeJSON(ctx, w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
		return
	}
	api.metrics.IncValidationRejected(endpoint, "malformed")
	api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: errBadJSON.Error()})
}

func (api *API) writeInvalid(ctx context.Context, w http.ResponseWriter, endpoint, field, reason string) {
	api.metrics.IncValidationRejected(endpoint, reason)
	api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "invalid request", Field: field, Reason: reason})
}

func (api *API) writeUnavailable(ctx context.Context, w http.ResponseWriter, what string) {
	api.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Error: what + " is not available"})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(ctx).Warn(ctx, "failed to encode JSON response", "error", err)
	}
}

// clientID is the rate limit key for r, as stored by the client IP middleware.
func clientID(r *http.Request) string {
	if id := httpmw.ClientIPFromContext(r.Context()); id != "" {
		return id
	}
	return httpmw.UnknownClient
}
