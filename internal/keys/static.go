package keys

import (
	"context"
	"crypto"
	"fmt"
	"maps"
	"os"

	"github.com/hacknlove/safeapi-server/internal/verify"
	"gopkg.in/yaml.v3"
)

// StaticFile is the YAML document listing issuer keys:
//
//	issuers:
//	  - issuer: billing-service
//	    publicKey: |
//	      -----BEGIN PUBLIC KEY-----
//	      ...
type StaticFile struct {
	Issuers []StaticKey `yaml:"issuers"`
}

type StaticKey struct {
	Issuer    string `yaml:"issuer"`
	PublicKey string `yaml:"publicKey"`
}

// StaticResolver resolves keys from a fixed set loaded at startup.
type StaticResolver struct {
	keys map[string]crypto.PublicKey
}

func NewStaticResolver(keys map[string]crypto.PublicKey) *StaticResolver {
	return &StaticResolver{keys: maps.Clone(keys)}
}

func LoadStaticFile(path string) (*StaticResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseStatic(data)
}

func ParseStatic(data []byte) (*StaticResolver, error) {
	file := StaticFile{}
	err := yaml.Unmarshal(data, &file)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]crypto.PublicKey, len(file.Issuers))

	for i, entry := range file.Issuers {
		if entry.Issuer == "" {
			return nil, fmt.Errorf("issuer missing from entry %d", i)
		}

		if _, ok := keys[entry.Issuer]; ok {
			return nil, fmt.Errorf("issuer %s is listed more than once", entry.Issuer)
		}

		key, err := ParsePublicKeyPEM([]byte(entry.PublicKey))
		if err != nil {
			return nil, fmt.Errorf("invalid key for issuer %s: %w", entry.Issuer, err)
		}

		keys[entry.Issuer] = key
	}

	return &StaticResolver{keys: keys}, nil
}

// Issuers returns the number of issuers with a configured key.
func (s *StaticResolver) Issuers() int {
	return len(s.keys)
}

func (s *StaticResolver) ResolveKey(_ context.Context, issuer string) (crypto.PublicKey, error) {
	key, ok := s.keys[issuer]
	if !ok {
		return nil, verify.ErrKeyNotFound
	}

	return key, nil
}
