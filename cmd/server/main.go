package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/portfolio-web/internal/apihttp"
	"github.com/keithlinneman/portfolio-web/internal/cfg"
	"github.com/keithlinneman/portfolio-web/internal/contact"
	"github.com/keithlinneman/portfolio-web/internal/health"
	"github.com/keithlinneman/portfolio-web/internal/httpmw"
	"github.com/keithlinneman/portfolio-web/internal/httpserver"
	"github.com/keithlinneman/portfolio-web/internal/llm"
	"github.com/keithlinneman/portfolio-web/internal/log"
	"github.com/keithlinneman/portfolio-web/internal/metrics"
	"github.com/keithlinneman/portfolio-web/internal/opshttp"
	"github.com/keithlinneman/portfolio-web/internal/otelx"
	"github.com/keithlinneman/portfolio-web/internal/portfolio"
	"github.com/keithlinneman/portfolio-web/internal/prof"
	"github.com/keithlinneman/portfolio-web/internal/ratelimit"
	"github.com/keithlinneman/portfolio-web/internal/secrets"
	"github.com/keithlinneman/portfolio-web/internal/tts"
	v "github.com/keithlinneman/portfolio-web/internal/version"
	"github.com/keithlinneman/portfolio-web/internal/webassets"
)

const appName = "portfolio-web"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s %s (commit=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			appName, vi.Version, vi.Commit, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lg, err := newLogger(conf, vi.Version)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"trace_sample", conf.TraceSample,
		"llm_enabled", conf.LLMEndpoint != "",
		"tts_enabled", conf.TTSEndpoint != "",
		"contact_s3_bucket", conf.ContactS3Bucket,
		"admin_login_enabled", conf.AdminPasswordHash != "",
		"client_ip_fallback_remote_addr", conf.ClientIPFallbackRemoteAddr,
	)

	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       appName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// collector runs on localhost, no TLS
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   appName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.New()
	m.SetBuildInfoFromVersion(appName, "server", vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	// AWS is only loaded when a feature needs it, so local runs work without credentials
	resolver := &secrets.Resolver{}
	var s3Client *s3.Client
	if conf.NeedsAWS() {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if conf.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(conf.AWSRegion))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
		resolver.SSM = ssm.NewFromConfig(awsCfg)
		s3Client = s3.NewFromConfig(awsCfg)
	}

	site, err := portfolio.Load(webassets.ContentFS(), webassets.PortfolioFile)
	if err != nil {
		L.Error(ctx, err, "failed to load portfolio content")
		os.Exit(1)
	}
	L.Info(ctx, "loaded portfolio content",
		"content_version", site.ContentVersion(),
		"content_hash", site.ContentHash(),
	)

	apiOpts := apihttp.Options{
		Logger:            L,
		Metrics:           m,
		Site:              site,
		AdminPasswordHash: conf.AdminPasswordHash,
		MaxBodyBytes:      conf.MaxBodyBytes,
		Build:             vi,
	}

	if conf.LLMEndpoint != "" {
		if c, err := newLLM(ctx, conf, resolver, m); err != nil {
			L.Error(ctx, err, "chat disabled")
		} else {
			apiOpts.LLM = c
		}
	}
	if conf.TTSEndpoint != "" {
		if c, err := newTTS(ctx, conf, resolver, m); err != nil {
			L.Error(ctx, err, "speech disabled")
		} else {
			apiOpts.TTS = c
		}
	}

	sinks := contact.MultiSink{contact.LogSink{Logger: L}}
	if s3Client != nil && conf.ContactS3Bucket != "" {
		sinks = append(sinks, &contact.S3Sink{
			Client:   s3Client,
			Bucket:   conf.ContactS3Bucket,
			Prefix:   conf.ContactS3Prefix,
			KMSKeyID: conf.ContactKMSKeyID,
		})
	}
	apiOpts.Sink = sinks

	policies, err := conf.Policies()
	if err != nil {
		L.Error(ctx, err, "invalid rate limit policies")
		os.Exit(1)
	}
	limits, err := ratelimit.NewRegistry(ctx, policies, limiterHooks(ctx, L, m, conf.RateLimitMaxEntries))
	if err != nil {
		L.Error(ctx, err, "failed to create rate limiters")
		os.Exit(1)
	}
	defer limits.Close()
	go reportLimiterSizes(ctx, limits, m, 15*time.Second)
	for _, p := range limits.Policies() {
		c := limits.MustGet(p).Config()
		L.Info(ctx, "rate limit policy", "policy", string(p), "requests", c.Requests, "window", c.Window.String())
	}
	apiOpts.Limits = limits

	api, err := apihttp.New(apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to create api")
		os.Exit(1)
	}

	var gate health.ShutdownGate
	readiness := health.All(gate.Probe(), limitersRunning(limits))

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    api.RegisterRoutes,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{FallbackRemoteAddr: conf.ClientIPFallbackRemoteAddr},
		MaxBodyBytes: conf.MaxBodyBytes,
		Content:      site,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// admin listener rejects public source addresses in middleware in case the
	// security group or load balancer is ever misconfigured
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		OnPanic:     m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd readiness not sent", "reason", err.Error())
	}

	<-ctx.Done()
	stop()
	L.Info(context.Background(), "shutdown signal received")

	gate.Set("draining")
	if conf.ShutdownDrain > 0 {
		L.Info(context.Background(), "draining", "period", conf.ShutdownDrain.String())
		forceCh := make(chan os.Signal, 1)
		signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-time.After(conf.ShutdownDrain):
			L.Info(context.Background(), "drain period complete")
		case <-forceCh:
			L.Warn(context.Background(), "second signal received, skipping drain")
		}
		signal.Stop(forceCh)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	limits.Close()
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

func newLogger(conf cfg.App, version string) (log.Logger, error) {
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := log.Options{
		App:     appName,
		Version: version,
		Level:   lvl,
		JSON:    conf.LogJSON,
	}
	if conf.StacktraceLevel != "" {
		st, err := log.ParseLevel(conf.StacktraceLevel)
		if err != nil {
			return nil, err
		}
		opts.StacktraceLevel = st
	}
	if conf.IncludeErrorLinks {
		opts.ErrorLinks = conf.MaxErrorLinks
	}
	return log.New(opts)
}

func newLLM(ctx context.Context, conf cfg.App, r *secrets.Resolver, m *metrics.ServerMetrics) (*llm.Client, error) {
	key, err := r.Resolve(ctx, cfg.EnvKey(cfg.EnvPrefix, "llm-api-key"), conf.LLMAPIKeySSMParam)
	if err != nil {
		return nil, fmt.Errorf("llm api key: %w", err)
	}
	return llm.New(llm.Options{
		Endpoint:  conf.LLMEndpoint,
		APIKey:    key,
		Model:     conf.LLMModel,
		MaxTokens: conf.LLMMaxTokens,
		RPS:       conf.LLMRPS,
		Observe: func(outcome string, d time.Duration) {
			m.ObserveUpstream("llm", outcome, d)
		},
	})
}

func newTTS(ctx context.Context, conf cfg.App, r *secrets.Resolver, m *metrics.ServerMetrics) (*tts.Client, error) {
	key, err := r.Resolve(ctx, cfg.EnvKey(cfg.EnvPrefix, "tts-api-key"), conf.TTSAPIKeySSMParam)
	if err != nil {
		return nil, fmt.Errorf("tts api key: %w", err)
	}
	return tts.New(tts.Options{
		Endpoint: conf.TTSEndpoint,
		APIKey:   key,
		Voice:    conf.TTSVoice,
		Model:    conf.TTSModel,
		RPS:      conf.TTSRPS,
		Observe: func(outcome string, d time.Duration) {
			m.ObserveUpstream("tts", outcome, d)
		},
	})
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit is Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return errors.New("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	return nil
}
