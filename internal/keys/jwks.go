package keys

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/hacknlove/safeapi-server/internal/verify"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultJWKSRefreshInterval     = time.Hour
	DefaultJWKSMissRefreshInterval = 5 * time.Minute
)

// JWKSOptions configures a JWKSResolver. Zero values select the defaults.
type JWKSOptions struct {
	Client *http.Client
	// RefreshInterval is the period of the background refresh of the set.
	RefreshInterval time.Duration
	// MissRefreshInterval is the minimum time between refreshes caused by a
	// lookup for an issuer that is not in the set.
	MissRefreshInterval time.Duration
}

// JWKSResolver resolves issuer keys from a JSON Web Key Set served over HTTP.
// An issuer's key is the signing key whose "kid" is the issuer name.
//
// The set is held in memory and refreshed in the background. A lookup for an
// unknown issuer refetches the set at most once per MissRefreshInterval; any
// other miss is answered from memory, so unknown issuers cannot be used to
// drive requests to the key server.
type JWKSResolver struct {
	keys   keyfunc.Keyfunc
	misses *rate.Limiter
	stop   context.CancelFunc
}

// NewJWKSResolver starts the background refresh of the key set at url. The
// first fetch happens before returning; if it fails the failure is logged and
// the set is fetched again on the first lookup. Close stops the refresh.
func NewJWKSResolver(ctx context.Context, url string, opts JWKSOptions) (*JWKSResolver, error) {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultJWKSRefreshInterval
	}
	if opts.MissRefreshInterval <= 0 {
		opts.MissRefreshInterval = DefaultJWKSMissRefreshInterval
	}

	ctx, stop := context.WithCancel(ctx)

	keys, err := keyfunc.NewDefaultOverrideCtx(ctx, []string{url}, keyfunc.Override{
		Client:                  opts.Client,
		RefreshInterval:         opts.RefreshInterval,
		RefreshErrorHandlerFunc: refreshFailed,
		// misses are rate limited by the resolver, the client refetches
		// whenever it is asked for an unknown key ID
		RefreshUnknownKID: rate.NewLimiter(rate.Inf, 1),
	})
	if err != nil {
		stop()
		return nil, fmt.Errorf("key set client could not be created: %w", err)
	}

	return &JWKSResolver{
		keys:   keys,
		misses: rate.NewLimiter(rate.Every(opts.MissRefreshInterval), 1),
		stop:   stop,
	}, nil
}

func (j *JWKSResolver) ResolveKey(ctx context.Context, issuer string) (crypto.PublicKey, error) {
	key, err := j.lookup(ctx, issuer)
	if !errors.Is(err, verify.ErrKeyNotFound) || !j.misses.Allow() {
		return key, err
	}

	// reading an unknown key ID makes the client refetch the set
	_, err = j.keys.Storage().KeyRead(ctx, issuer)
	if err != nil && !errors.Is(err, jwkset.ErrKeyNotFound) {
		return nil, fmt.Errorf("key set refresh failed: %w", err)
	}

	return j.lookup(ctx, issuer)
}

// lookup finds the issuer's signing key in the set currently held in memory.
func (j *JWKSResolver) lookup(ctx context.Context, issuer string) (crypto.PublicKey, error) {
	all, err := j.keys.Storage().KeyReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("key set could not be read: %w", err)
	}

	for _, k := range all {
		m := k.Marshal()
		if m.KID != issuer || (m.USE != "" && m.USE != jwkset.UseSig) {
			continue
		}

		if key := publicKey(k.Key()); key != nil {
			return key, nil
		}
	}

	return nil, verify.ErrKeyNotFound
}

// Close stops the background refresh.
func (j *JWKSResolver) Close() error {
	j.stop()
	return nil
}

// publicKey returns the verification key for an asymmetric JWK. Sets that
// publish private keys still verify with the public half only. Symmetric keys
// are never returned.
func publicKey(key any) crypto.PublicKey {
	switch k := key.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return k
	case *rsa.PrivateKey:
		return k.Public()
	case *ecdsa.PrivateKey:
		return k.Public()
	case ed25519.PrivateKey:
		return k.Public()
	}

	return nil
}

func refreshFailed(url string) func(ctx context.Context, err error) {
	return func(ctx context.Context, err error) {
		log.Error().Err(err).Str("url", url).Msg("key set refresh failed")
	}
}
