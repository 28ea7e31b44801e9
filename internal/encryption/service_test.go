package encryption

import (
	"bytes"
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pay-theory/dynamodel/pkg/attr"
	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
	"github.com/pay-theory/dynamodel/pkg/model"
)

// fakeKMS wraps data keys by prefixing them, which is enough to round-trip.
type fakeKMS struct {
	generated int
}

func (f *fakeKMS) GenerateDataKey(_ context.Context, in *kms.GenerateDataKeyInput, _ ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	f.generated++
	key := bytes.Repeat([]byte{byte(f.generated)}, dataKeyLength)
	return &kms.GenerateDataKeyOutput{
		KeyId:          in.KeyId,
		Plaintext:      key,
		CiphertextBlob: append([]byte("wrapped:"), key...),
	}, nil
}

func (f *fakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	return &kms.DecryptOutput{Plaintext: bytes.TrimPrefix(in.CiphertextBlob, []byte("wrapped:"))}, nil
}

func vault(t *testing.T, table string) *model.Schema {
	t.Helper()
	s, err := model.NewSchema(model.SchemaDef{
		Table: table,
		Attributes: []model.AttributeDef{
			model.HashKey("ID", attr.TypeString),
			model.Field("Card", attr.TypeMap).Encrypt(),
			model.Field("Label", attr.TypeString),
		},
	})
	require.NoError(t, err)
	return s
}

func TestImageRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := NewService("arn:aws:kms:us-east-1:111122223333:key/test", &fakeKMS{})
	s := vault(t, "Vault")

	card := &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"number": &types.AttributeValueMemberS{Value: "4111111111111111"},
		"exp":    &types.AttributeValueMemberN{Value: "1230"},
	}}
	image := map[string]types.AttributeValue{
		"ID":    &types.AttributeValueMemberS{Value: "v1"},
		"Card":  card,
		"Label": &types.AttributeValueMemberS{Value: "primary"},
	}

	require.NoError(t, svc.EncryptImage(ctx, s, image))
	env, ok := image["Card"].(*types.AttributeValueMemberM)
	require.True(t, ok)
	assert.Equal(t, &types.AttributeValueMemberN{Value: "1"}, env.Value["v"])
	assert.NotContains(t, env.Value, "number")
	assert.Equal(t, &types.AttributeValueMemberS{Value: "primary"}, image["Label"], "plain attributes are untouched")

	require.NoError(t, svc.DecryptImage(ctx, s, image))
	assert.Equal(t, card, image["Card"])
}

func TestEnvelopeIsBoundToTableAndAttribute(t *testing.T) {
	ctx := context.Background()
	svc := NewService("arn:aws:kms:us-east-1:111122223333:key/test", &fakeKMS{})

	sealed, err := svc.EncryptAttributeValue(ctx, "Vault", "Card", &types.AttributeValueMemberS{Value: "secret"})
	require.NoError(t, err)

	_, err = svc.DecryptAttributeValue(ctx, "Other", "Card", sealed)
	assert.ErrorContains(t, err, "aes-gcm decrypt failed")
	_, err = svc.DecryptAttributeValue(ctx, "Vault", "Label", sealed)
	assert.ErrorContains(t, err, "aes-gcm decrypt failed")

	opened, err := svc.DecryptAttributeValue(ctx, "Vault", "Card", sealed)
	require.NoError(t, err)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "secret"}, opened)
}

func TestDecryptRejectsMalformedEnvelopes(t *testing.T) {
	ctx := context.Background()
	svc := NewService("arn:aws:kms:us-east-1:111122223333:key/test", &fakeKMS{})

	tests := []struct {
		name string
		av   types.AttributeValue
	}{
		{"plain string", &types.AttributeValueMemberS{Value: "secret"}},
		{"wrong version", &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"v": &types.AttributeValueMemberN{Value: "2"},
		}}},
		{"missing data key", &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"v":     &types.AttributeValueMemberN{Value: "1"},
			"nonce": &types.AttributeValueMemberB{Value: []byte("n")},
			"ct":    &types.AttributeValueMemberB{Value: []byte("c")},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.DecryptAttributeValue(ctx, "Vault", "Card", tt.av)
			assert.ErrorIs(t, err, customerrors.ErrInvalidEncryptedEnvelope)
		})
	}
}

func TestFailClosedWithoutKey(t *testing.T) {
	s := vault(t, "Vault")
	assert.True(t, SchemaHasEncryptedFields(s))
	assert.ErrorIs(t, FailClosedIfEncryptedWithoutKMSKeyARN("", s), customerrors.ErrEncryptionNotConfigured)
	assert.NoError(t, FailClosedIfEncryptedWithoutKMSKeyARN("arn:aws:kms:us-east-1:111122223333:key/test", s))

	_, err := NewService("", &fakeKMS{}).EncryptAttributeValue(context.Background(), "Vault", "Card", &types.AttributeValueMemberS{Value: "x"})
	assert.ErrorIs(t, err, customerrors.ErrEncryptionNotConfigured)
}
