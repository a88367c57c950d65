package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"

	"github.com/hacknlove/safeapi-server/internal/audit"
	"github.com/hacknlove/safeapi-server/internal/authn"
	"github.com/hacknlove/safeapi-server/internal/config"
	"github.com/hacknlove/safeapi-server/internal/keys"
	"github.com/hacknlove/safeapi-server/internal/observe"
	"github.com/hacknlove/safeapi-server/internal/verify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justinas/alice"
)

// The request body size is limited to prevent accidental or deliberate abuse.
// Bodies are buffered in full to be fingerprinted.
const requestLimitBytes = int64(1 << 20) // 1 MB

func configureServerRoutes(cfg config.Config, resolver verify.KeyResolver) (http.Handler, error) {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	pipeline, err := newPipeline(cfg.Authorization, resolver)
	if err != nil {
		return nil, fmt.Errorf("verification pipeline configuration failed: %w", err)
	}

	// configure middleware
	auditor := audit.Middleware()

	authenticator := authn.Middleware(pipeline,
		authn.WithTrustForwardedHeaders(cfg.Server.TrustForwardedHeaders),
	)

	requestLimiter := maxRequestSize(requestLimitBytes)

	standardRouteMiddleware := alice.New(requestLimiter, auditor)
	authenticatedRouteMiddleware := standardRouteMiddleware.Append(authenticator)

	protected, err := handleProtected(cfg.Proxy)
	if err != nil {
		return nil, fmt.Errorf("proxy configuration failed: %w", err)
	}

	mux.Handle("POST /verify", standardRouteMiddleware.Then(handlePostVerify(pipeline)))
	mux.Handle("/", authenticatedRouteMiddleware.Then(protected))

	// healthchecks are not included in telemetry
	muxWithoutTelemetry.Handle("GET /healthcheck", handleHealthCheck())

	return mux, nil
}

func newPipeline(cfg config.AuthorizationConfig, resolver verify.KeyResolver) (*verify.Pipeline, error) {
	algorithms, err := verify.NewAlgorithms(cfg.AllowedAlgorithms...)
	if err != nil {
		return nil, err
	}

	var opts []verify.Option
	if cfg.DeveloperMode {
		opts = append(opts, verify.WithInsecureBypass(verify.NewInsecureBypass()))
	}

	return verify.New(verify.Config{
		Mount:      cfg.MountPath,
		Algorithms: algorithms,
		Resolver:   resolver,
	}, opts...)
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HttpTransport(
		configureHttpTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	// a service that cannot resolve keys can verify nothing, so it does not start
	resolver, closeKeys, err := keys.New(ctx, cfg.Keys, http.DefaultClient)
	if err != nil {
		return errors.Join(
			fmt.Errorf("key source configuration failed: %w", err),
			shutdownTelemetry(ctx),
		)
	}

	// setup routing and dependencies
	handler, err := configureServerRoutes(cfg, resolver)
	if err != nil {
		return errors.Join(
			fmt.Errorf("server routing configuration failed: %w", err),
			closeKeys(),
			shutdownTelemetry(ctx),
		)
	}

	// start the server
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        handler,
		MaxHeaderBytes: 20 << 10, // 20 KB
	}

	server.RegisterOnShutdown(func() {
		log.Info().Msg("keys: closing key source")
		if err := closeKeys(); err != nil {
			log.Warn().Err(err).Msg("keys: close failed")
		}

		log.Info().Msg("telemetry: shutting down")
		if err := shutdownTelemetry(ctx); err != nil {
			log.Warn().Err(err).Msg("telemetry: shutdown failed")
		}
		log.Info().Msg("telemetry: shutdown complete")
	})

	err = serveHTTP(cfg.Server, server)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHttpTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHttpMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHttpMaxConnsPerHost

	return transport
}
