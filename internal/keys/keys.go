// Package keys supplies the issuer key resolvers used to verify capability
// tokens. Each resolver answers "which public key belongs to this issuer",
// returning verify.ErrKeyNotFound when the issuer is unknown.
package keys

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hacknlove/safeapi-server/internal/config"
	"github.com/hacknlove/safeapi-server/internal/verify"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	SourceStatic = "static"
	SourceJWKS   = "jwks"
	SourceRedis  = "redis"
	SourceSQLite = "sqlite"
	SourceKMS    = "kms"
)

// ErrNoSource is returned by New when no key source is configured.
var ErrNoSource = errors.New("no key source configured (set KEY_SOURCE)")

// New creates the resolver selected by cfg.Source. Store-backed sources are
// cached when a cache TTL is configured, and every resolver records its lookups to
// the audit log. The returned function releases any resources the resolver
// holds.
func New(ctx context.Context, cfg config.KeysConfig, client *http.Client) (verify.KeyResolver, func() error, error) {
	noop := func() error { return nil }

	var cache func(verify.KeyResolver) verify.KeyResolver
	if cfg.CacheTTLSeconds != 0 {
		c, err := Cached(time.Duration(cfg.CacheTTLSeconds) * time.Second)
		if err != nil {
			return nil, noop, fmt.Errorf("key cache configuration failed: %w", err)
		}
		cache = c
	}

	var (
		resolver  verify.KeyResolver
		closer    = noop
		cacheable = true
	)

	switch cfg.Source {
	case SourceStatic:
		if cfg.File == "" {
			return nil, noop, errors.New("KEYS_FILE is required for the static key source")
		}
		static, err := LoadStaticFile(cfg.File)
		if err != nil {
			return nil, noop, fmt.Errorf("static keys could not be loaded: %w", err)
		}
		log.Info().Int("issuers", static.Issuers()).Str("file", cfg.File).Msg("static keys loaded")
		resolver = static
		cacheable = false

	case SourceJWKS:
		if cfg.JWKSURL == "" {
			return nil, noop, errors.New("KEYS_JWKS_URL is required for the jwks key source")
		}
		jwks, err := NewJWKSResolver(ctx, cfg.JWKSURL, JWKSOptions{
			Client:              client,
			RefreshInterval:     time.Duration(cfg.JWKSRefreshSeconds) * time.Second,
			MissRefreshInterval: time.Duration(cfg.JWKSMissRefreshSeconds) * time.Second,
		})
		if err != nil {
			return nil, noop, err
		}
		resolver = jwks
		closer = jwks.Close
		// the set is already held in memory
		cacheable = false

	case SourceRedis:
		store, err := NewRedisStore(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), cfg.RedisPrefix)
		if err != nil {
			return nil, noop, err
		}
		resolver = store
		closer = store.Close

	case SourceSQLite:
		store, err := NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		resolver = store
		closer = store.Close

	case SourceKMS:
		kmsResolver, err := NewAWSKMSResolver(ctx, cfg.KMSAliasPrefix)
		if err != nil {
			return nil, noop, fmt.Errorf("KMS key source configuration failed: %w", err)
		}
		resolver = kmsResolver

	case "":
		return nil, noop, ErrNoSource

	default:
		return nil, noop, fmt.Errorf("unknown key source %q", cfg.Source)
	}

	if cacheable && cache != nil {
		resolver = cache(resolver)
	}

	log.Info().Str("source", cfg.Source).Msg("key source configured")

	return Auditor(resolver), closer, nil
}
