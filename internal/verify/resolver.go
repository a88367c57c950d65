package verify

import (
	"context"
	"crypto"
	"errors"
	"fmt"
)

// KeyResolver supplies the public key for a token issuer. Implementations
// should return an error matching ErrKeyNotFound when the issuer is unknown;
// any other error is treated as a fault in the resolver. The context is
// cancelled when the verification is abandoned.
type KeyResolver interface {
	ResolveKey(ctx context.Context, issuer string) (crypto.PublicKey, error)
}

// KeyResolverFunc adapts a function to the KeyResolver interface.
type KeyResolverFunc func(ctx context.Context, issuer string) (crypto.PublicKey, error)

func (f KeyResolverFunc) ResolveKey(ctx context.Context, issuer string) (crypto.PublicKey, error) {
	return f(ctx, issuer)
}

// resolveKey calls the resolver and classifies the outcome. A result that
// arrives after the context is done is discarded.
func resolveKey(ctx context.Context, resolver KeyResolver, issuer string) (crypto.PublicKey, error) {
	if resolver == nil {
		return nil, newError(KindKeyResolverNotConfigured, "", errors.New("no key resolver has been configured"))
	}

	key, err := resolver.ResolveKey(ctx, issuer)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, newError(KindInternal, "canceled", ctxErr)
	}

	if errors.Is(err, ErrKeyNotFound) || (err == nil && key == nil) {
		return nil, newError(KindKeyNotFound, "", fmt.Errorf("no key for issuer %q", issuer))
	}

	if err != nil {
		return nil, newError(KindInternal, "key resolution", err)
	}

	return key, nil
}
