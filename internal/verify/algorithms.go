package verify

import (
	"errors"
	"fmt"
	"slices"

	"github.com/hacknlove/safeapi-server/internal/token"
)

// supportedAlgorithms is every asymmetric algorithm the verifier knows how to
// check. Symmetric and unsigned algorithms can never be allowed.
var supportedAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// defaultAlgorithmNames is the allow-list used when none is configured.
var defaultAlgorithmNames = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
}

// Algorithms is an ordered, immutable set of allowed signature algorithms.
type Algorithms struct {
	names []string
}

// NewAlgorithms builds an allow-list. Duplicates are dropped; unknown,
// symmetric and unsigned algorithms are rejected.
func NewAlgorithms(names ...string) (Algorithms, error) {
	if len(names) == 0 {
		return Algorithms{}, errors.New("at least one algorithm must be allowed")
	}

	allowed := make([]string, 0, len(names))
	for _, name := range names {
		if !slices.Contains(supportedAlgorithms, name) {
			return Algorithms{}, fmt.Errorf("algorithm %q cannot be allowed (supported: %v)", name, supportedAlgorithms)
		}

		if !slices.Contains(allowed, name) {
			allowed = append(allowed, name)
		}
	}

	return Algorithms{names: allowed}, nil
}

// DefaultAlgorithms returns the allow-list of every RSA, RSA-PSS and ECDSA
// algorithm.
func DefaultAlgorithms() Algorithms {
	return Algorithms{names: slices.Clone(defaultAlgorithmNames)}
}

// Contains reports exact, case-sensitive membership.
func (a Algorithms) Contains(name string) bool {
	return slices.Contains(a.names, name)
}

// Names returns a copy of the allowed algorithm names, in configured order.
func (a Algorithms) Names() []string {
	return slices.Clone(a.names)
}

// CheckAlgorithm fails unless the header algorithm is allowed.
func CheckAlgorithm(header token.Header, allowed Algorithms) error {
	if !allowed.Contains(header.Algorithm) {
		return newError(KindAlgorithmNotAllowed, "", fmt.Errorf("algorithm %q", header.Algorithm))
	}

	return nil
}
