package keyring

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kms"
	"github.com/aws/aws-sdk-go/service/kms/kmsiface"

	"github.com/fabiomadge/materialproviders/materials"
)

// AWSKMSProviderID is the key provider id of encrypted data keys produced
// by AWSKMS keyrings.
const AWSKMSProviderID = "aws-kms"

// AWSKMSConfig configures an AWSKMS keyring.
type AWSKMSConfig struct {
	// Client is the KMS API client. Retry and timeout policy live inside
	// the client, not in this layer.
	Client kmsiface.KMSAPI

	// KeyID is the ARN or id of the KMS key to wrap with.
	KeyID string
}

// AWSKMS wraps data keys with an AWS KMS key. The materials' encryption
// context is passed through as the KMS encryption context, so KMS itself
// authenticates it on unwrap.
type AWSKMS struct {
	client kmsiface.KMSAPI
	keyID  string
}

// NewAWSKMS builds an AWSKMS keyring.
func NewAWSKMS(cfg AWSKMSConfig) (*AWSKMS, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("%w: AWS KMS keyring requires a client", materials.ErrConfiguration)
	}
	if cfg.KeyID == "" {
		return nil, fmt.Errorf("%w: AWS KMS keyring requires a key id", materials.ErrConfiguration)
	}
	return &AWSKMS{client: cfg.Client, keyID: cfg.KeyID}, nil
}

// OnEncrypt asks KMS to generate a data key when the materials lack one,
// and to encrypt the existing one otherwise.
func (k *AWSKMS) OnEncrypt(ctx context.Context, em materials.EncryptionMaterials) (materials.EncryptionMaterials, error) {
	encryptionContext := awsEncryptionContext(em.EncryptionContext())

	out := em
	var ciphertext []byte

	if out.PlaintextDataKey() == nil {
		resp, err := k.client.GenerateDataKeyWithContext(ctx, &kms.GenerateDataKeyInput{
			KeyId:             aws.String(k.keyID),
			NumberOfBytes:     aws.Int64(int64(out.AlgorithmSuite().DataKeyLen)),
			EncryptionContext: encryptionContext,
		})
		if err != nil {
			return em, fmt.Errorf("%w: generating data key: %v", materials.ErrPrimitive, err)
		}
		out, err = out.WithPlaintextDataKey(resp.Plaintext)
		if err != nil {
			return em, err
		}
		ciphertext = resp.CiphertextBlob
	} else {
		resp, err := k.client.EncryptWithContext(ctx, &kms.EncryptInput{
			KeyId:             aws.String(k.keyID),
			Plaintext:         out.PlaintextDataKey(),
			EncryptionContext: encryptionContext,
		})
		if err != nil {
			return em, fmt.Errorf("%w: encrypting data key: %v", materials.ErrPrimitive, err)
		}
		ciphertext = resp.CiphertextBlob
	}

	out, err := out.WithEncryptedDataKey(materials.EncryptedDataKey{
		KeyProviderID:   AWSKMSProviderID,
		KeyProviderInfo: []byte(k.keyID),
		Ciphertext:      ciphertext,
	})
	if err != nil {
		return em, err
	}
	return out, nil
}

// OnDecrypt asks KMS to decrypt the first matching candidate.
func (k *AWSKMS) OnDecrypt(ctx context.Context, dm materials.DecryptionMaterials, edks []materials.EncryptedDataKey) (materials.DecryptionMaterials, error) {
	match := func(edk materials.EncryptedDataKey) error {
		if edk.KeyProviderID != AWSKMSProviderID || !bytes.Equal(edk.KeyProviderInfo, []byte(k.keyID)) {
			return errNoMatch("provider %q/%q is not %q/%q",
				edk.KeyProviderID, edk.KeyProviderInfo, AWSKMSProviderID, k.keyID)
		}
		if len(edk.Ciphertext) == 0 {
			return errNoMatch("empty ciphertext")
		}
		return nil
	}
	unwrap := func(ctx context.Context, edk materials.EncryptedDataKey) ([]byte, error) {
		resp, err := k.client.DecryptWithContext(ctx, &kms.DecryptInput{
			KeyId:             aws.String(k.keyID),
			CiphertextBlob:    edk.Ciphertext,
			EncryptionContext: awsEncryptionContext(dm.EncryptionContext()),
		})
		if err != nil {
			return nil, err
		}
		return resp.Plaintext, nil
	}

	return decryptDataKey(ctx, dm, edks, match, unwrap)
}

func awsEncryptionContext(ec materials.EncryptionContext) map[string]*string {
	out := make(map[string]*string, len(ec))
	for k, v := range ec {
		out[k] = aws.String(v)
	}
	return out
}
