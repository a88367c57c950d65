package verify

import (
	"time"

	"github.com/hacknlove/safeapi-server/internal/token"
)

// CheckTimes validates the issued-at and expiry claims against now, with no
// allowance for clock skew. A token is still valid in the second it expires.
func CheckTimes(claims token.Claims, now time.Time) error {
	epoch := now.Unix()

	if claims.ExpiresAt < epoch {
		return newError(KindExpiredToken, "", nil)
	}

	if epoch < claims.IssuedAt {
		return newError(KindTimeError, "", nil)
	}

	return nil
}
