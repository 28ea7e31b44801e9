// Package encryption seals the encrypted attributes of an item image with
// KMS envelope encryption before it is written, and opens them after a read.
package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmsTypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/pay-theory/dynamodel/internal/wire"
	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
	"github.com/pay-theory/dynamodel/pkg/model"
)

const (
	envelopeVersionV1 = "1"

	envelopeKeyVersion    = "v"
	envelopeKeyEDK        = "edk"
	envelopeKeyNonce      = "nonce"
	envelopeKeyCiphertext = "ct"

	dataKeyLength = 32
)

// KMSAPI is the subset of the KMS client used for envelope encryption.
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// Service implements envelope encryption for attribute values using AWS KMS.
// Every value gets its own data key. The ciphertext is bound to the table and
// attribute name through the AES-GCM additional data.
type Service struct {
	keyARN string
	kms    KMSAPI
	rand   io.Reader
}

func NewService(keyARN string, kmsClient KMSAPI) *Service {
	return &Service{
		keyARN: keyARN,
		kms:    kmsClient,
		rand:   rand.Reader,
	}
}

// EncryptImage replaces every encrypted attribute of image with its envelope.
// Attributes absent from image are left absent.
func (s *Service) EncryptImage(ctx context.Context, schema *model.Schema, image map[string]types.AttributeValue) error {
	for _, a := range schema.Attributes() {
		if !a.Encrypted() {
			continue
		}
		av, ok := image[a.Name()]
		if !ok {
			continue
		}
		sealed, err := s.EncryptAttributeValue(ctx, schema.Table(), a.Name(), av)
		if err != nil {
			return err
		}
		image[a.Name()] = sealed
	}
	return nil
}

// DecryptImage opens every encrypted attribute of image in place.
func (s *Service) DecryptImage(ctx context.Context, schema *model.Schema, image map[string]types.AttributeValue) error {
	for _, a := range schema.Attributes() {
		if !a.Encrypted() {
			continue
		}
		av, ok := image[a.Name()]
		if !ok {
			continue
		}
		opened, err := s.DecryptAttributeValue(ctx, schema.Table(), a.Name(), av)
		if err != nil {
			return err
		}
		image[a.Name()] = opened
	}
	return nil
}

func (s *Service) check(attributeName string) error {
	if s == nil {
		return fmt.Errorf("encryption service is nil")
	}
	if s.kms == nil {
		return fmt.Errorf("kms client is nil")
	}
	if s.keyARN == "" {
		return fmt.Errorf("%w: kms key ARN is empty", customerrors.ErrEncryptionNotConfigured)
	}
	if attributeName == "" {
		return fmt.Errorf("attribute name is empty")
	}
	return nil
}

func (s *Service) EncryptAttributeValue(ctx context.Context, table, attributeName string, av types.AttributeValue) (types.AttributeValue, error) {
	if err := s.check(attributeName); err != nil {
		return nil, err
	}

	plaintext, err := wire.Marshal(av)
	if err != nil {
		return nil, err
	}

	dataKey, err := s.kms.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(s.keyARN),
		KeySpec: kmsTypes.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("kms GenerateDataKey failed: %w", err)
	}
	if len(dataKey.Plaintext) != dataKeyLength {
		return nil, fmt.Errorf("unexpected data key plaintext length: %d", len(dataKey.Plaintext))
	}
	if len(dataKey.CiphertextBlob) == 0 {
		return nil, fmt.Errorf("kms returned empty ciphertext data key")
	}

	gcm, err := newGCM(dataKey.Plaintext)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return nil, fmt.Errorf("nonce generation failed: %w", err)
	}

	ct := gcm.Seal(nil, nonce, plaintext, additionalData(table, attributeName))

	return &types.AttributeValueMemberM{
		Value: map[string]types.AttributeValue{
			envelopeKeyVersion:    &types.AttributeValueMemberN{Value: envelopeVersionV1},
			envelopeKeyEDK:        &types.AttributeValueMemberB{Value: dataKey.CiphertextBlob},
			envelopeKeyNonce:      &types.AttributeValueMemberB{Value: nonce},
			envelopeKeyCiphertext: &types.AttributeValueMemberB{Value: ct},
		},
	}, nil
}

func (s *Service) DecryptAttributeValue(ctx context.Context, table, attributeName string, envelope types.AttributeValue) (types.AttributeValue, error) {
	if err := s.check(attributeName); err != nil {
		return nil, err
	}

	env, ok := envelope.(*types.AttributeValueMemberM)
	if !ok || env == nil {
		return nil, fmt.Errorf("%w: expected encrypted envelope map, got %T", customerrors.ErrInvalidEncryptedEnvelope, envelope)
	}

	versionAV, ok := env.Value[envelopeKeyVersion].(*types.AttributeValueMemberN)
	if !ok || versionAV.Value != envelopeVersionV1 {
		return nil, fmt.Errorf("%w: unsupported encrypted envelope version", customerrors.ErrInvalidEncryptedEnvelope)
	}
	edk, err := envelopeBytes(env, envelopeKeyEDK)
	if err != nil {
		return nil, err
	}
	nonce, err := envelopeBytes(env, envelopeKeyNonce)
	if err != nil {
		return nil, err
	}
	ct, err := envelopeBytes(env, envelopeKeyCiphertext)
	if err != nil {
		return nil, err
	}

	dec, err := s.kms.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: edk})
	if err != nil {
		return nil, fmt.Errorf("kms Decrypt failed: %w", err)
	}
	if len(dec.Plaintext) != dataKeyLength {
		return nil, fmt.Errorf("unexpected data key plaintext length: %d", len(dec.Plaintext))
	}

	gcm, err := newGCM(dec.Plaintext)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: nonce has %d bytes", customerrors.ErrInvalidEncryptedEnvelope, len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, ct, additionalData(table, attributeName))
	if err != nil {
		return nil, fmt.Errorf("aes-gcm decrypt failed: %w", err)
	}

	return wire.Unmarshal(plaintext)
}

func envelopeBytes(env *types.AttributeValueMemberM, key string) ([]byte, error) {
	b, ok := env.Value[key].(*types.AttributeValueMemberB)
	if !ok || len(b.Value) == 0 {
		return nil, fmt.Errorf("%w: missing %s", customerrors.ErrInvalidEncryptedEnvelope, key)
	}
	return b.Value, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher init failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aes-gcm init failed: %w", err)
	}
	return gcm, nil
}

func additionalData(table, attributeName string) []byte {
	return []byte(fmt.Sprintf("dynamodel:encrypted:v1|table=%s|attr=%s", table, attributeName))
}
