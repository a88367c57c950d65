package keys

import (
	"context"
	"crypto"
	"time"

	"github.com/hacknlove/safeapi-server/internal/verify"
	"github.com/maypok86/otter"
	"github.com/rs/zerolog"
)

// Cached supplies a resolver that caches the keys found by the wrapped
// resolver. Lookup failures are never cached. The cache is non-locking, so
// concurrent misses for the same issuer may each reach the wrapped resolver;
// the last one to return wins.
func Cached(ttl time.Duration) (func(verify.KeyResolver) verify.KeyResolver, error) {
	cache, err := otter.
		MustBuilder[string, crypto.PublicKey](10_000).
		CollectStats().
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}

	return func(r verify.KeyResolver) verify.KeyResolver {
		return verify.KeyResolverFunc(func(ctx context.Context, issuer string) (crypto.PublicKey, error) {
			if key, ok := cache.Get(issuer); ok {
				zerolog.Ctx(ctx).Debug().Str("issuer", issuer).Msg("hit: cached key found for issuer")
				return key, nil
			}

			// cache miss: resolve and cache
			key, err := r.ResolveKey(ctx, issuer)
			if err != nil {
				return nil, err
			}

			if key != nil {
				cache.Set(issuer, key)
			}

			return key, nil
		})
	}, nil
}
