// Package token decodes compact signed tokens and verifies their signatures.
// Decoding never checks the signature: callers are expected to gate the header
// algorithm before trusting anything read from the payload.
package token

import (
	"crypto"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned when a credential is not a structurally valid
// compact token.
var ErrMalformed = errors.New("malformed token")

// Header holds the protected header fields the verifier relies on.
type Header struct {
	Algorithm string
}

// Claims are the registered claims of a capability token. Subject carries the
// request fingerprint, not an identity.
type Claims struct {
	Issuer    string
	Subject   string
	IssuedAt  int64
	ExpiresAt int64
}

// Decoded is a token split into its parts. The raw credential is not kept:
// SigningInput and Signature are all that is needed to verify it.
type Decoded struct {
	Header       Header
	Claims       Claims
	SigningInput string
	Signature    []byte
}

var parser = jwt.NewParser()

// Decode parses the credential without validating the signature. An algorithm
// unknown to the signature engine is not a decode failure; deciding whether an
// algorithm is acceptable is left to the caller.
func Decode(credential string) (*Decoded, error) {
	registered := &jwt.RegisteredClaims{}

	tok, parts, err := parser.ParseUnverified(credential, registered)
	if err != nil && !(errors.Is(err, jwt.ErrTokenUnverifiable) && tok != nil) {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	signature, err := parser.DecodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature segment: %v", ErrMalformed, err)
	}

	alg, _ := tok.Header["alg"].(string)

	return &Decoded{
		Header:       Header{Algorithm: alg},
		Claims:       claimsFrom(registered),
		SigningInput: strings.Join(parts[0:2], "."),
		Signature:    signature,
	}, nil
}

func claimsFrom(rc *jwt.RegisteredClaims) Claims {
	claims := Claims{
		Issuer:  rc.Issuer,
		Subject: rc.Subject,
	}

	if rc.IssuedAt != nil {
		claims.IssuedAt = rc.IssuedAt.Unix()
	}

	if rc.ExpiresAt != nil {
		claims.ExpiresAt = rc.ExpiresAt.Unix()
	}

	return claims
}

// SignatureEngine verifies a signature over a message with the given
// algorithm and public key.
type SignatureEngine interface {
	Verify(alg, signingInput string, signature []byte, key crypto.PublicKey) error
}

// JWTEngine is the SignatureEngine backed by the golang-jwt signing methods.
type JWTEngine struct{}

var _ SignatureEngine = JWTEngine{}

func (JWTEngine) Verify(alg, signingInput string, signature []byte, key crypto.PublicKey) error {
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return fmt.Errorf("signing method %q is unavailable", alg)
	}

	if method == jwt.SigningMethodNone {
		return errors.New("unsigned tokens are never verified")
	}

	return method.Verify(signingInput, signature, key)
}

// VerifySignature checks the signature of the decoded token using the
// algorithm declared in its header. Expiry is not considered.
func VerifySignature(engine SignatureEngine, d *Decoded, key crypto.PublicKey) error {
	if key == nil {
		return errors.New("no key supplied")
	}

	return engine.Verify(d.Header.Algorithm, d.SigningInput, d.Signature, key)
}
