package keys

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/hacknlove/safeapi-server/internal/verify"
	"github.com/rs/zerolog"
)

// KMSClient defines the AWS API surface required by the KMSResolver.
type KMSClient interface {
	GetPublicKey(ctx context.Context, in *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// KMSClientFunc adapts a function to KMSClient.
type KMSClientFunc func(ctx context.Context, in *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)

func (f KMSClientFunc) GetPublicKey(ctx context.Context, in *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error) {
	return f(ctx, in, optFns...)
}

func NewAWSKMSResolver(ctx context.Context, aliasPrefix string) (*KMSResolver, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	client := kms.NewFromConfig(cfg)

	return NewKMSResolver(client, aliasPrefix), nil
}

// KMSResolver resolves the public half of asymmetric KMS signing keys. The
// key for an issuer is the key behind the alias aliasPrefix+issuer, so issuer
// private keys never leave KMS.
type KMSResolver struct {
	client      KMSClient
	aliasPrefix string
}

func NewKMSResolver(client KMSClient, aliasPrefix string) *KMSResolver {
	return &KMSResolver{
		client:      client,
		aliasPrefix: aliasPrefix,
	}
}

func (k *KMSResolver) ResolveKey(ctx context.Context, issuer string) (crypto.PublicKey, error) {
	defer functionDuration(ctx, func(l *zerolog.Event) { l.Str("issuer", issuer).Msg("KMSResolver.ResolveKey()") })()

	alias := k.aliasPrefix + issuer

	out, err := k.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(alias),
	})

	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return nil, verify.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("KMS public key lookup failed for %s: %w", alias, err)
	}

	if out.KeyUsage != types.KeyUsageTypeSignVerify {
		return nil, fmt.Errorf("KMS key %s is not a signing key (usage %s)", alias, out.KeyUsage)
	}

	// KMS returns the DER encoded SubjectPublicKeyInfo
	key, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("KMS key %s could not be parsed: %w", alias, err)
	}

	return key, nil
}

func functionDuration(ctx context.Context, l func(*zerolog.Event)) func() {
	start := time.Now()

	return func() {
		d := time.Since(start)
		l(zerolog.Ctx(ctx).Debug().Dur("duration", d))
	}
}
