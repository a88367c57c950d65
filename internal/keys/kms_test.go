package keys_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/go-jose/go-jose/v4"
	"github.com/hacknlove/safeapi-server/internal/keys"
	"github.com/hacknlove/safeapi-server/internal/testhelpers"
	"github.com/hacknlove/safeapi-server/internal/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKMSResolver(t *testing.T) {
	key := testhelpers.GenerateKey(t, jose.ES256)

	var requested string
	client := keys.KMSClientFunc(func(_ context.Context, in *kms.GetPublicKeyInput, _ ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error) {
		requested = aws.ToString(in.KeyId)
		return &kms.GetPublicKeyOutput{
			KeyUsage:  types.KeyUsageTypeSignVerify,
			PublicKey: key.PublicDER(t),
		}, nil
	})

	found, err := keys.NewKMSResolver(client, "alias/safeapi/").ResolveKey(context.Background(), "billing")
	require.NoError(t, err)

	assert.Equal(t, "alias/safeapi/billing", requested)
	assert.Equal(t, key.Public(), found)
}

func TestKMSResolverFailures(t *testing.T) {
	key := testhelpers.GenerateKey(t, jose.RS256)

	cases := []struct {
		name     string
		output   *kms.GetPublicKeyOutput
		err      error
		notFound bool
	}{
		{
			name:     "unknown alias",
			err:      &types.NotFoundException{Message: aws.String("alias not found")},
			notFound: true,
		},
		{
			name: "service failure",
			err:  errors.New("throttled"),
		},
		{
			name: "encryption key",
			output: &kms.GetPublicKeyOutput{
				KeyUsage:  types.KeyUsageTypeEncryptDecrypt,
				PublicKey: key.PublicDER(t),
			},
		},
		{
			name: "unparseable key",
			output: &kms.GetPublicKeyOutput{
				KeyUsage:  types.KeyUsageTypeSignVerify,
				PublicKey: []byte("garbage"),
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := keys.KMSClientFunc(func(context.Context, *kms.GetPublicKeyInput, ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error) {
				return tc.output, tc.err
			})

			_, err := keys.NewKMSResolver(client, "alias/").ResolveKey(context.Background(), "billing")
			require.Error(t, err)

			if tc.notFound {
				assert.ErrorIs(t, err, verify.ErrKeyNotFound)
			} else {
				assert.NotErrorIs(t, err, verify.ErrKeyNotFound)
			}
		})
	}
}
