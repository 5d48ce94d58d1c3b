package keyring

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/fabiomadge/materialproviders/materials"
	"github.com/fabiomadge/materialproviders/primitives"
)

const gcmNonceSize = 12

// RawAESConfig configures a RawAES keyring.
type RawAESConfig struct {
	// Namespace and Name identify this keyring to itself on decrypt.
	Namespace string
	Name      string

	// WrapKey is the AES key protecting data keys. Must be 16, 24 or 32
	// bytes.
	WrapKey []byte

	// Primitives defaults to primitives.Default when nil.
	Primitives primitives.Provider
}

// RawAES wraps data keys with AES-GCM under a locally held symmetric key.
// The serialized encryption context is bound as additional authenticated
// data, so a wrapped key only unwraps under the same context.
type RawAES struct {
	namespace  string
	name       string
	aead       cipher.AEAD
	primitives primitives.Provider
}

// NewRawAES builds a RawAES keyring. The wrap key is validated up front so
// a bad key surfaces at construction, not per request.
func NewRawAES(cfg RawAESConfig) (*RawAES, error) {
	if cfg.Namespace == "" || cfg.Name == "" {
		return nil, fmt.Errorf("%w: raw AES keyring requires a namespace and name", materials.ErrConfiguration)
	}
	switch len(cfg.WrapKey) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: raw AES wrap key must be 16, 24 or 32 bytes, got %d",
			materials.ErrConfiguration, len(cfg.WrapKey))
	}

	block, err := aes.NewCipher(cfg.WrapKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", materials.ErrConfiguration, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", materials.ErrConfiguration, err)
	}

	k := &RawAES{
		namespace:  cfg.Namespace,
		name:       cfg.Name,
		aead:       aead,
		primitives: cfg.Primitives,
	}
	if k.primitives == nil {
		k.primitives = primitives.Default()
	}
	return k, nil
}

// OnEncrypt generates a data key when the materials lack one and appends an
// AES-GCM wrapped copy. The nonce is prepended to the ciphertext.
func (k *RawAES) OnEncrypt(ctx context.Context, em materials.EncryptionMaterials) (materials.EncryptionMaterials, error) {
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

	nonce, err := k.primitives.GenerateRandomBytes(gcmNonceSize)
	if err != nil {
		return em, fmt.Errorf("%w: generating nonce: %v", materials.ErrPrimitive, err)
	}

	aad := materials.ContextToBytes(out.EncryptionContext())
	ciphertext := k.aead.Seal(nonce, nonce, out.PlaintextDataKey(), aad)

	out, err = out.WithEncryptedDataKey(materials.EncryptedDataKey{
		KeyProviderID:   k.namespace,
		KeyProviderInfo: []byte(k.name),
		Ciphertext:      ciphertext,
	})
	if err != nil {
		return em, err
	}
	return out, nil
}

// OnDecrypt unwraps the first matching candidate under the materials'
// encryption context.
func (k *RawAES) OnDecrypt(ctx context.Context, dm materials.DecryptionMaterials, edks []materials.EncryptedDataKey) (materials.DecryptionMaterials, error) {
	match := func(edk materials.EncryptedDataKey) error {
		if edk.KeyProviderID != k.namespace || !bytes.Equal(edk.KeyProviderInfo, []byte(k.name)) {
			return errNoMatch("provider %q/%q is not %q/%q",
				edk.KeyProviderID, edk.KeyProviderInfo, k.namespace, k.name)
		}
		if len(edk.Ciphertext) <= gcmNonceSize {
			return errNoMatch("ciphertext shorter than nonce")
		}
		return nil
	}
	unwrap := func(ctx context.Context, edk materials.EncryptedDataKey) ([]byte, error) {
		aad := materials.ContextToBytes(dm.EncryptionContext())
		nonce, sealed := edk.Ciphertext[:gcmNonceSize], edk.Ciphertext[gcmNonceSize:]
		return k.aead.Open(nil, nonce, sealed, aad)
	}

	return decryptDataKey(ctx, dm, edks, match, unwrap)
}
