package keys

import (
	"context"
	"crypto"
	"errors"
	"fmt"

	"github.com/hacknlove/safeapi-server/internal/verify"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps PEM encoded issuer keys in Redis under prefix+issuer.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
	}, nil
}

func (s *RedisStore) ResolveKey(ctx context.Context, issuer string) (crypto.PublicKey, error) {
	data, err := s.client.Get(ctx, s.prefix+issuer).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, verify.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis key lookup failed for issuer %s: %w", issuer, err)
	}

	key, err := ParsePublicKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("stored key for issuer %s is invalid: %w", issuer, err)
	}

	return key, nil
}

// PutKey stores the PEM encoded key for issuer, replacing any existing key.
func (s *RedisStore) PutKey(ctx context.Context, issuer string, publicKeyPEM string) error {
	if _, err := ParsePublicKeyPEM([]byte(publicKeyPEM)); err != nil {
		return err
	}

	return s.client.Set(ctx, s.prefix+issuer, publicKeyPEM, 0).Err()
}

func (s *RedisStore) DeleteKey(ctx context.Context, issuer string) error {
	return s.client.Del(ctx, s.prefix+issuer).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
