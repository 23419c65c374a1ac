package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/keithlinneman/portfolio-web/internal/log"
	"github.com/keithlinneman/portfolio-web/internal/ratelimit"
)

// EnvPrefix is prepended to every flag name to form its environment variable.
const EnvPrefix = "PORTFOLIO_"

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort     int
	AdminPort    int
	MaxBodyBytes int64
	// ShutdownDrain is how long readiness fails before the listeners stop
	ShutdownDrain time.Duration

	EnablePprof     bool
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64

	// ClientIPFallbackRemoteAddr keys requests without proxy headers on the socket peer
	// instead of the shared "unknown" bucket. Only for deployments with no edge proxy.
	ClientIPFallbackRemoteAddr bool
	RateLimitMaxEntries        int
	// RateLimit* override the default policy quotas, format "requests/window" e.g. "10/1m"
	RateLimitStrict   string
	RateLimitModerate string
	RateLimitLenient  string
	RateLimitAuth     string

	LLMEndpoint       string
	LLMModel          string
	LLMMaxTokens      int
	LLMAPIKeySSMParam string
	LLMRPS            float64

	TTSEndpoint       string
	TTSVoice          string
	TTSModel          string
	TTSAPIKeySSMParam string
	TTSRPS            float64

	ContactS3Bucket string
	ContactS3Prefix string
	ContactKMSKeyID string

	AdminPasswordHash string
	AWSRegion         string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 64<<10, "max API request body size in bytes")
	fs.DurationVar(&c.ShutdownDrain, "shutdown-drain", 15*time.Second, "time to fail readiness before stopping listeners (0..5m)")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.BoolVar(&c.ClientIPFallbackRemoteAddr, "client-ip-fallback-remote-addr", false, "key requests without proxy headers on the TCP peer address instead of a shared bucket")
	fs.IntVar(&c.RateLimitMaxEntries, "ratelimit-max-entries", 0, "max identifiers tracked per policy (0 = unbounded)")
	fs.StringVar(&c.RateLimitStrict, "ratelimit-strict", "", "override strict policy quota (requests/window, e.g. 10/1m)")
	fs.StringVar(&c.RateLimitModerate, "ratelimit-moderate", "", "override moderate policy quota (requests/window)")
	fs.StringVar(&c.RateLimitLenient, "ratelimit-lenient", "", "override lenient policy quota (requests/window)")
	fs.StringVar(&c.RateLimitAuth, "ratelimit-auth", "", "override auth policy quota (requests/window)")

	fs.StringVar(&c.LLMEndpoint, "llm-endpoint", "", "OpenAI-compatible API base URL, chat is disabled when empty")
	fs.StringVar(&c.LLMModel, "llm-model", "gpt-4o-mini", "chat model name")
	fs.IntVar(&c.LLMMaxTokens, "llm-max-tokens", 512, "max completion tokens per chat reply")
	fs.StringVar(&c.LLMAPIKeySSMParam, "llm-api-key-ssm-param", "", "ssm parameter holding the LLM api key (used when PORTFOLIO_LLM_API_KEY is unset)")
	fs.Float64Var(&c.LLMRPS, "llm-rps", 2, "max outbound LLM requests per second across all clients")

	fs.StringVar(&c.TTSEndpoint, "tts-endpoint", "", "text-to-speech API base URL, tts is disabled when empty")
	fs.StringVar(&c.TTSVoice, "tts-voice", "", "tts voice id")
	fs.StringVar(&c.TTSModel, "tts-model", "eleven_turbo_v2_5", "tts model id")
	fs.StringVar(&c.TTSAPIKeySSMParam, "tts-api-key-ssm-param", "", "ssm parameter holding the tts api key (used when PORTFOLIO_TTS_API_KEY is unset)")
	fs.Float64Var(&c.TTSRPS, "tts-rps", 1, "max outbound tts requests per second across all clients")

	fs.StringVar(&c.ContactS3Bucket, "contact-s3-bucket", "", "s3 bucket to store contact submissions in, log only when empty")
	fs.StringVar(&c.ContactS3Prefix, "contact-s3-prefix", "contact", "s3 key prefix for contact submissions")
	fs.StringVar(&c.ContactKMSKeyID, "contact-kms-key-id", "", "KMS key id for SSE-KMS on contact objects (default bucket encryption when empty)")

	fs.StringVar(&c.AdminPasswordHash, "admin-password-hash", "", "bcrypt hash of the admin password, login is disabled when empty")
	fs.StringVar(&c.AWSRegion, "aws-region", "", "AWS region (defaults to the SDK's resolution chain)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// EnvKey maps a flag name to its environment variable.
func EnvKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// ParseQuota parses "requests/window", e.g. "10/1m" or "3/1h".
func ParseQuota(s string) (ratelimit.Config, error) {
	n, w, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return ratelimit.Config{}, fmt.Errorf("quota %q: want requests/window", s)
	}
	req, err := strconv.Atoi(strings.TrimSpace(n))
	if err != nil {
		return ratelimit.Config{}, fmt.Errorf("quota %q: requests: %w", s, err)
	}
	win, err := time.ParseDuration(strings.TrimSpace(w))
	if err != nil {
		return ratelimit.Config{}, fmt.Errorf("quota %q: window: %w", s, err)
	}
	c := ratelimit.Config{Requests: req, Window: win}
	if err := c.Validate(); err != nil {
		return ratelimit.Config{}, fmt.Errorf("quota %q: %w", s, err)
	}
	return c, nil
}

// Policies returns the default policy table with any overrides applied.
func (c App) Policies() (map[ratelimit.Policy]ratelimit.Config, error) {
	out := ratelimit.DefaultPolicies()
	overrides := []struct {
		policy ratelimit.Policy
		value  string
	}{
		{ratelimit.PolicyStrict, c.RateLimitStrict},
		{ratelimit.PolicyModerate, c.RateLimitModerate},
		{ratelimit.PolicyLenient, c.RateLimitLenient},
		{ratelimit.PolicyAuth, c.RateLimitAuth},
	}
	var errs []error
	for _, o := range overrides {
		if o.value == "" {
			continue
		}
		q, err := ParseQuota(o.value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvKey(EnvPrefix, "ratelimit-"+string(o.policy)), err))
			continue
		}
		out[o.policy] = q
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// NeedsAWS reports whether any configured feature talks to AWS.
func (c App) NeedsAWS() bool {
	return c.ContactS3Bucket != "" || c.LLMAPIKeySSMParam != "" || c.TTSAPIKeySSMParam != ""
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.MaxBodyBytes < 1024 || c.MaxBodyBytes > 10<<20 {
		errs = append(errs, fmt.Errorf("invalid MAX_BODY_BYTES %d (must be 1KiB..10MiB)", c.MaxBodyBytes))
	}

	if c.ShutdownDrain < 0 || c.ShutdownDrain > 5*time.Minute {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_DRAIN %s (must be 0..5m)", c.ShutdownDrain))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if !isHTTPURL(c.PyroServer) {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.RateLimitMaxEntries < 0 {
		errs = append(errs, fmt.Errorf("RATELIMIT_MAX_ENTRIES must be >= 0 (got %d)", c.RateLimitMaxEntries))
	}
	if _, err := c.Policies(); err != nil {
		errs = append(errs, err)
	}

	if c.LLMEndpoint != "" {
		if !isHTTPURL(c.LLMEndpoint) {
			errs = append(errs, fmt.Errorf("LLM_ENDPOINT must be an http(s) URL (got %q)", c.LLMEndpoint))
		}
		if c.LLMModel == "" {
			errs = append(errs, fmt.Errorf("LLM_MODEL required when LLM_ENDPOINT is set"))
		}
		if c.LLMMaxTokens < 1 || c.LLMMaxTokens > 8192 {
			errs = append(errs, fmt.Errorf("LLM_MAX_TOKENS must be 1..8192 (got %d)", c.LLMMaxTokens))
		}
		if c.LLMRPS <= 0 {
			errs = append(errs, fmt.Errorf("LLM_RPS must be positive (got %g)", c.LLMRPS))
		}
	}
	if c.TTSEndpoint != "" {
		if !isHTTPURL(c.TTSEndpoint) {
			errs = append(errs, fmt.Errorf("TTS_ENDPOINT must be an http(s) URL (got %q)", c.TTSEndpoint))
		}
		if c.TTSVoice == "" {
			errs = append(errs, fmt.Errorf("TTS_VOICE required when TTS_ENDPOINT is set"))
		}
		if c.TTSRPS <= 0 {
			errs = append(errs, fmt.Errorf("TTS_RPS must be positive (got %g)", c.TTSRPS))
		}
	}

	if c.ContactS3Bucket != "" && strings.Trim(c.ContactS3Prefix, "/") == "" {
		errs = append(errs, fmt.Errorf("CONTACT_S3_PREFIX required when CONTACT_S3_BUCKET is set"))
	}
	if c.ContactKMSKeyID != "" && c.ContactS3Bucket == "" {
		errs = append(errs, fmt.Errorf("CONTACT_KMS_KEY_ID set without CONTACT_S3_BUCKET"))
	}

	if c.AdminPasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(c.AdminPasswordHash)); err != nil {
			errs = append(errs, fmt.Errorf("ADMIN_PASSWORD_HASH is not a bcrypt hash: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
