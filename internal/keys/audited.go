package keys

import (
	"context"
	"crypto"
	"fmt"

	"github.com/hacknlove/safeapi-server/internal/audit"
	"github.com/hacknlove/safeapi-server/internal/verify"
)

// Auditor wraps a KeyResolver and records the result of each lookup to the
// audit log.
func Auditor(resolver verify.KeyResolver) verify.KeyResolver {
	return verify.KeyResolverFunc(func(ctx context.Context, issuer string) (crypto.PublicKey, error) {
		key, err := resolver.ResolveKey(ctx, issuer)

		entry := audit.Log(ctx)
		entry.KeyIssuer = issuer
		entry.KeyResolved = err == nil && key != nil

		if err != nil {
			entry.Error = fmt.Sprintf("key resolution failure: %v", err)
		} else if key == nil {
			entry.Error = "no key returned for issuer"
		}

		return key, err
	})
}
