package token_test

import (
	"crypto"
	"errors"
	"strings"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/hacknlove/safeapi-server/internal/testhelpers"
	"github.com/hacknlove/safeapi-server/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	key := testhelpers.GenerateKey(t, jose.ES384)
	claims := testhelpers.ValidClaims("issuer", "fingerprint")

	credential := testhelpers.MintToken(t, key, claims)

	decoded, err := token.Decode(credential)
	require.NoError(t, err)

	assert.Equal(t, "ES384", decoded.Header.Algorithm)
	assert.Equal(t, token.Claims{
		Issuer:    "issuer",
		Subject:   "fingerprint",
		IssuedAt:  claims.IssuedAt.Unix(),
		ExpiresAt: claims.ExpiresAt.Unix(),
	}, decoded.Claims)

	parts := strings.Split(credential, ".")
	assert.Equal(t, parts[0]+"."+parts[1], decoded.SigningInput)
	assert.NotEmpty(t, decoded.Signature)
}

func TestDecode_UnknownAlgorithmIsNotADecodeFailure(t *testing.T) {
	credential := testhelpers.MintUnsignedToken(t, testhelpers.ValidClaims("issuer", "sub"))
	// replace the header with one naming an algorithm nobody implements
	parts := strings.SplitN(credential, ".", 2)
	credential = "eyJhbGciOiJYWDk5OSJ9." + parts[1] // {"alg":"XX999"}

	decoded, err := token.Decode(credential)
	require.NoError(t, err)

	assert.Equal(t, "XX999", decoded.Header.Algorithm)
	assert.Equal(t, "issuer", decoded.Claims.Issuer)
}

func TestDecode_MissingTimesAreZero(t *testing.T) {
	key := testhelpers.GenerateKey(t, jose.RS256)
	credential := testhelpers.MintToken(t, key, testhelpers.Claims{Issuer: "issuer"})

	decoded, err := token.Decode(credential)
	require.NoError(t, err)

	assert.Zero(t, decoded.Claims.IssuedAt)
	assert.Zero(t, decoded.Claims.ExpiresAt)
}

func TestDecode_Malformed(t *testing.T) {
	cases := []struct {
		name       string
		credential string
	}{
		{"empty", ""},
		{"single part", "abc"},
		{"two parts", "abc.def"},
		{"four parts", "abc.def.ghi.jkl"},
		{"invalid base64", "!!!.@@@.###"},
		{"header not json", "bm90LWpzb24.e30.c2ln"},
		{"claims not json", "eyJhbGciOiJSUzI1NiJ9.bm90LWpzb24.c2ln"},
		{"issued at not numeric", "eyJhbGciOiJSUzI1NiJ9.eyJpYXQiOiJ5ZXN0ZXJkYXkifQ.c2ln"},
		{"signature not base64", "eyJhbGciOiJSUzI1NiJ9.e30.***"},
		{"bypass form", "insecure some-issuer"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := token.Decode(tc.credential)
			require.Error(t, err)
			assert.ErrorIs(t, err, token.ErrMalformed)
		})
	}
}

func TestVerifySignature(t *testing.T) {
	algorithms := []jose.SignatureAlgorithm{
		jose.RS256, jose.RS384, jose.RS512,
		jose.PS256, jose.PS384, jose.PS512,
		jose.ES256, jose.ES384, jose.ES512,
		jose.EdDSA,
	}

	for _, alg := range algorithms {
		t.Run(string(alg), func(t *testing.T) {
			key := testhelpers.GenerateKey(t, alg)
			other := testhelpers.GenerateKey(t, alg)

			decoded, err := token.Decode(testhelpers.MintToken(t, key, testhelpers.ValidClaims("issuer", "sub")))
			require.NoError(t, err)

			assert.NoError(t, token.VerifySignature(token.JWTEngine{}, decoded, key.Public()))
			assert.Error(t, token.VerifySignature(token.JWTEngine{}, decoded, other.Public()))
		})
	}
}

func TestVerifySignature_IgnoresExpiry(t *testing.T) {
	key := testhelpers.GenerateKey(t, jose.ES256)
	claims := testhelpers.ValidClaims("issuer", "sub")
	claims.ExpiresAt = claims.IssuedAt

	decoded, err := token.Decode(testhelpers.MintToken(t, key, claims))
	require.NoError(t, err)

	assert.NoError(t, token.VerifySignature(token.JWTEngine{}, decoded, key.Public()))
}

func TestVerifySignature_TamperedPayload(t *testing.T) {
	key := testhelpers.GenerateKey(t, jose.RS256)

	decoded, err := token.Decode(testhelpers.MintToken(t, key, testhelpers.ValidClaims("issuer", "sub")))
	require.NoError(t, err)

	decoded.SigningInput += "x"

	assert.Error(t, token.VerifySignature(token.JWTEngine{}, decoded, key.Public()))
}

func TestVerifySignature_WrongKeyType(t *testing.T) {
	rsaKey := testhelpers.GenerateKey(t, jose.RS256)
	ecKey := testhelpers.GenerateKey(t, jose.ES256)

	decoded, err := token.Decode(testhelpers.MintToken(t, rsaKey, testhelpers.ValidClaims("issuer", "sub")))
	require.NoError(t, err)

	assert.Error(t, token.VerifySignature(token.JWTEngine{}, decoded, ecKey.Public()))
	assert.Error(t, token.VerifySignature(token.JWTEngine{}, decoded, nil))
}

func TestJWTEngine_RefusesNone(t *testing.T) {
	decoded, err := token.Decode(testhelpers.MintUnsignedToken(t, testhelpers.ValidClaims("issuer", "sub")))
	require.NoError(t, err)

	err = token.VerifySignature(token.JWTEngine{}, decoded, crypto.PublicKey("anything"))
	assert.ErrorContains(t, err, "unsigned tokens are never verified")
}

type engineFunc func(alg, signingInput string, signature []byte, key crypto.PublicKey) error

func (f engineFunc) Verify(alg, signingInput string, signature []byte, key crypto.PublicKey) error {
	return f(alg, signingInput, signature, key)
}

func TestVerifySignature_UsesHeaderAlgorithm(t *testing.T) {
	key := testhelpers.GenerateKey(t, jose.PS384)

	decoded, err := token.Decode(testhelpers.MintToken(t, key, testhelpers.ValidClaims("issuer", "sub")))
	require.NoError(t, err)

	var usedAlg string
	engine := engineFunc(func(alg, _ string, _ []byte, _ crypto.PublicKey) error {
		usedAlg = alg
		return errors.New("rejected")
	})

	err = token.VerifySignature(engine, decoded, key.Public())
	assert.EqualError(t, err, "rejected")
	assert.Equal(t, "PS384", usedAlg)
}
