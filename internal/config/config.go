package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Authorization AuthorizationConfig
	Keys          KeysConfig
	Observe       ObserveConfig
	Proxy         ProxyConfig
	Server        ServerConfig
}

type ServerConfig struct {
	Port                   int `env:"PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHttpMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHttpMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`

	// TrustForwardedHeaders uses X-Forwarded-Host and X-Forwarded-Proto when
	// describing a request. Only enable behind a proxy that sets them.
	TrustForwardedHeaders bool `env:"SERVER_TRUST_FORWARDED_HEADERS, default=false"`
}

type AuthorizationConfig struct {
	MountPath         string   `env:"MOUNT_PATH"`
	AllowedAlgorithms []string `env:"ALLOWED_ALGORITHMS, default=RS256,RS384,RS512,PS256,PS384,PS512,ES256,ES384,ES512"`
	// DeveloperMode enables the insecure bypass. Never enable in a deployed
	// environment.
	DeveloperMode bool `env:"DEVELOPER_MODE, default=false"`
}

type KeysConfig struct {
	// Source selects the key resolver: static, jwks, redis, sqlite or kms.
	Source          string `env:"KEY_SOURCE"`
	CacheTTLSeconds int    `env:"KEYS_CACHE_TTL_SECS, default=300"`

	File string `env:"KEYS_FILE"`

	JWKSURL                string `env:"KEYS_JWKS_URL"`
	JWKSRefreshSeconds     int    `env:"KEYS_JWKS_REFRESH_SECS, default=3600"`
	JWKSMissRefreshSeconds int    `env:"KEYS_JWKS_MISS_REFRESH_SECS, default=300"`

	RedisAddr     string `env:"KEYS_REDIS_ADDR, default=127.0.0.1:6379"`
	RedisPassword string `env:"KEYS_REDIS_PASSWORD"`
	RedisDB       int    `env:"KEYS_REDIS_DB, default=0"`
	RedisPrefix   string `env:"KEYS_REDIS_PREFIX, default=safeapi:keys:"`

	SQLitePath string `env:"KEYS_SQLITE_PATH, default=keys.db"`

	KMSAliasPrefix string `env:"KEYS_KMS_ALIAS_PREFIX, default=alias/safeapi/"`
}

type ProxyConfig struct {
	UpstreamURL  string `env:"UPSTREAM_URL"`
	IssuerHeader string `env:"UPSTREAM_ISSUER_HEADER, default=X-Authenticated-Issuer"`
}

type ObserveConfig struct {
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_OTEL_SERVICE_NAME, default=safeapi-server"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HttpTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HttpConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (cfg Config, err error) {
	err = envconfig.Process(ctx, &cfg)
	return
}

// LoadWith reads the configuration from the supplied lookuper rather than the
// process environment.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (cfg Config, err error) {
	err = envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	})
	return
}
