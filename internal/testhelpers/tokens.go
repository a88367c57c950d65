package testhelpers

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// SigningKey pairs a private key with the algorithm used to sign test tokens.
type SigningKey struct {
	Algorithm jose.SignatureAlgorithm
	Private   crypto.Signer
}

// Public returns the public half of the key.
func (k SigningKey) Public() crypto.PublicKey {
	return k.Private.Public()
}

// PublicPEM returns the PKIX encoded public key.
func (k SigningKey) PublicPEM(t *testing.T) string {
	t.Helper()

	der, err := x509.MarshalPKIXPublicKey(k.Public())
	require.NoError(t, err)

	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// PublicDER returns the PKIX encoded public key.
func (k SigningKey) PublicDER(t *testing.T) []byte {
	t.Helper()

	der, err := x509.MarshalPKIXPublicKey(k.Public())
	require.NoError(t, err)

	return der
}

// GenerateKey creates a new key suitable for the given algorithm.
func GenerateKey(t *testing.T, alg jose.SignatureAlgorithm) SigningKey {
	t.Helper()

	var (
		key crypto.Signer
		err error
	)

	switch alg {
	case jose.RS256, jose.RS384, jose.RS512, jose.PS256, jose.PS384, jose.PS512:
		key, err = rsa.GenerateKey(rand.Reader, 2048)
	case jose.ES256:
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case jose.ES384:
		key, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case jose.ES512:
		key, err = ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	case jose.EdDSA:
		_, key, err = ed25519.GenerateKey(rand.Reader)
	default:
		t.Fatalf("unsupported test algorithm %s", alg)
	}
	require.NoError(t, err)

	return SigningKey{Algorithm: alg, Private: key}
}

// Claims describes the registered claims of a capability token.
type Claims struct {
	Issuer    string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ValidClaims returns claims valid for a minute either side of now.
func ValidClaims(issuer, subject string) Claims {
	now := time.Now()

	return Claims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  now.Add(-1 * time.Minute),
		ExpiresAt: now.Add(1 * time.Minute),
	}
}

// MintToken signs the claims with the key.
func MintToken(t *testing.T, key SigningKey, claims Claims) string {
	t.Helper()

	return mint(t, jose.SigningKey{Algorithm: key.Algorithm, Key: key.Private}, claims)
}

// MintSymmetricToken signs the claims with an HMAC secret, the kind of token
// an algorithm confusion attack relies on.
func MintSymmetricToken(t *testing.T, alg jose.SignatureAlgorithm, secret []byte, claims Claims) string {
	t.Helper()

	return mint(t, jose.SigningKey{Algorithm: alg, Key: secret}, claims)
}

// MintUnsignedToken builds an "alg: none" token.
func MintUnsignedToken(t *testing.T, claims Claims) string {
	t.Helper()

	header, err := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	require.NoError(t, err)

	payload, err := json.Marshal(joseClaims(claims))
	require.NoError(t, err)

	enc := base64.RawURLEncoding

	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + "."
}

func mint(t *testing.T, key jose.SigningKey, claims Claims) string {
	t.Helper()

	signer, err := jose.NewSigner(key, (&jose.SignerOptions{}).WithType("JWT"))
	require.NoError(t, err)

	token, err := jwt.Signed(signer).Claims(joseClaims(claims)).Serialize()
	require.NoError(t, err)

	t.Logf("issued token=%s", token)

	return token
}

func joseClaims(claims Claims) jwt.Claims {
	c := jwt.Claims{
		Issuer:  claims.Issuer,
		Subject: claims.Subject,
	}

	if !claims.IssuedAt.IsZero() {
		c.IssuedAt = jwt.NewNumericDate(claims.IssuedAt)
	}

	if !claims.ExpiresAt.IsZero() {
		c.Expiry = jwt.NewNumericDate(claims.ExpiresAt)
	}

	return c
}
