package keyring

import (
	"bytes"
	"context"
	"fmt"

	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"

	"github.com/fabiomadge/materialproviders/materials"
	"github.com/fabiomadge/materialproviders/primitives"
)

// GCPKMSProviderID is the key provider id of encrypted data keys produced
// by GCPKMS keyrings.
const GCPKMSProviderID = "gcp-kms"

// GCPKMSClient is the subset of the Cloud KMS client the keyring uses.
type GCPKMSClient interface {
	Encrypt(ctx context.Context, req *kmspb.EncryptRequest, opts ...gax.CallOption) (*kmspb.EncryptResponse, error)
	Decrypt(ctx context.Context, req *kmspb.DecryptRequest, opts ...gax.CallOption) (*kmspb.DecryptResponse, error)
}

// GCPKMSConfig configures a GCPKMS keyring.
type GCPKMSConfig struct {
	Client GCPKMSClient

	// KeyName is the fully qualified Cloud KMS key name:
	// projects/{project}/locations/{location}/keyRings/{keyRing}/cryptoKeys/{cryptoKey}
	KeyName string

	// Primitives defaults to primitives.Default when nil.
	Primitives primitives.Provider
}

// GCPKMS wraps data keys with a Cloud KMS key. The data key is generated
// locally and wrapped remotely; the serialized encryption context is bound
// as additional authenticated data.
type GCPKMS struct {
	client     GCPKMSClient
	keyName    string
	primitives primitives.Provider
}

// NewGCPKMS builds a GCPKMS keyring.
func NewGCPKMS(cfg GCPKMSConfig) (*GCPKMS, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("%w: GCP KMS keyring requires a client", materials.ErrConfiguration)
	}
	if cfg.KeyName == "" {
		return nil, fmt.Errorf("%w: GCP KMS keyring requires a key name", materials.ErrConfiguration)
	}
	k := &GCPKMS{client: cfg.Client, keyName: cfg.KeyName, primitives: cfg.Primitives}
	if k.primitives == nil {
		k.primitives = primitives.Default()
	}
	return k, nil
}

// OnEncrypt generates a data key when the materials lack one and appends a
// Cloud-KMS-wrapped copy.
func (k *GCPKMS) OnEncrypt(ctx context.Context, em materials.EncryptionMaterials) (materials.EncryptionMaterials, error) {
	out := em
	if out.PlaintextDataKey() == nil {
		key, err := k.primitives.GenerateRandomBytes(out.AlgorithmSuite().DataKeyLen)
		if err != nil {
			return em, fmt.Errorf("%w: generating data key: %v", materials.ErrPrimitive, err)
		}
		out, err = out.WithPlaintextDataKey(key)
		if err != nil {
			return em, err
		}
	}

	resp, err := k.client.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:                        k.keyName,
		Plaintext:                   out.PlaintextDataKey(),
		AdditionalAuthenticatedData: materials.ContextToBytes(out.EncryptionContext()),
	})
	if err != nil {
		return em, fmt.Errorf("%w: wrapping data key: %v", materials.ErrPrimitive, err)
	}

	out, err = out.WithEncryptedDataKey(materials.EncryptedDataKey{
		KeyProviderID:   GCPKMSProviderID,
		KeyProviderInfo: []byte(k.keyName),
		Ciphertext:      resp.Ciphertext,
	})
	if err != nil {
		return em, err
	}
	return out, nil
}

// OnDecrypt asks Cloud KMS to unwrap the first matching candidate.
func (k *GCPKMS) OnDecrypt(ctx context.Context, dm materials.DecryptionMaterials, edks []materials.EncryptedDataKey) (materials.DecryptionMaterials, error) {
	match := func(edk materials.EncryptedDataKey) error {
		if edk.KeyProviderID != GCPKMSProviderID || !bytes.Equal(edk.KeyProviderInfo, []byte(k.keyName)) {
			return errNoMatch("provider %q/%q is not %q/%q",
				edk.KeyProviderID, edk.KeyProviderInfo, GCPKMSProviderID, k.keyName)
		}
		if len(edk.Ciphertext) == 0 {
			return errNoMatch("empty ciphertext")
		}
		return nil
	}
	unwrap := func(ctx context.Context, edk materials.EncryptedDataKey) ([]byte, error) {
		resp, err := k.client.Decrypt(ctx, &kmspb.DecryptRequest{
			Name:                        k.keyName,
			Ciphertext:                  edk.Ciphertext,
			AdditionalAuthenticatedData: materials.ContextToBytes(dm.EncryptionContext()),
		})
		if err != nil {
			return nil, err
		}
		return resp.Plaintext, nil
	}

	return decryptDataKey(ctx, dm, edks, match, unwrap)
}
