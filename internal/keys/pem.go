package keys

import (
	"crypto"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// ParsePublicKeyPEM parses a PEM encoded RSA, ECDSA or Ed25519 public key.
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	if key, err := jwt.ParseRSAPublicKeyFromPEM(data); err == nil {
		return key, nil
	}

	if key, err := jwt.ParseECPublicKeyFromPEM(data); err == nil {
		return key, nil
	}

	key, err := jwt.ParseEdPublicKeyFromPEM(data)
	if err != nil {
		return nil, errors.New("not a PEM encoded RSA, ECDSA or Ed25519 public key")
	}

	return key, nil
}
