// Package materials holds the data model threaded through keyrings: the
// encryption context, encrypted data keys and the encryption/decryption
// materials records. Materials are value objects; every mutation is a
// transition method that returns a new value and enforces the set-once and
// append-only invariants by construction.
package materials

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/fabiomadge/materialproviders/suite"
)

// EncryptedDataKey is one wrapped copy of the data key. It is produced once
// per successful wrap and never mutated. The provider id and info identify
// the keyring that can unwrap it.
type EncryptedDataKey struct {
	KeyProviderID   string
	KeyProviderInfo []byte
	Ciphertext      []byte
}

// EncryptionMaterials is the in-flight record of an encryption request. The
// zero value is not usable; build one with NewEncryptionMaterials and grow
// it through WithPlaintextDataKey and WithEncryptedDataKey.
type EncryptionMaterials struct {
	algorithmSuite    suite.AlgorithmSuite
	encryptionContext EncryptionContext
	signingKey        *ecdsa.PrivateKey
	plaintextDataKey  []byte
	encryptedDataKeys []EncryptedDataKey
}

// NewEncryptionMaterials builds empty materials: no data key, no encrypted
// data keys. The signing key may be nil for suites that do not sign.
func NewEncryptionMaterials(s suite.AlgorithmSuite, ec EncryptionContext, signingKey *ecdsa.PrivateKey) EncryptionMaterials {
	return EncryptionMaterials{
		algorithmSuite:    s,
		encryptionContext: ec.Clone(),
		signingKey:        signingKey,
	}
}

// AlgorithmSuite returns the suite the materials were built for.
func (m EncryptionMaterials) AlgorithmSuite() suite.AlgorithmSuite {
	return m.algorithmSuite
}

// EncryptionContext returns the context the materials carry. The caller must
// not mutate the returned map.
func (m EncryptionMaterials) EncryptionContext() EncryptionContext {
	return m.encryptionContext
}

// SigningKey returns the signing key, nil for non-signing suites.
func (m EncryptionMaterials) SigningKey() *ecdsa.PrivateKey {
	return m.signingKey
}

// PlaintextDataKey returns the data key, nil while none has been generated.
func (m EncryptionMaterials) PlaintextDataKey() []byte {
	return m.plaintextDataKey
}

// EncryptedDataKeys returns the wrapped data keys in append order.
func (m EncryptionMaterials) EncryptedDataKeys() []EncryptedDataKey {
	return m.encryptedDataKeys
}

// WithPlaintextDataKey returns materials with the data key set. Only the
// none-to-some transition is legal, and the key length must match the suite.
func (m EncryptionMaterials) WithPlaintextDataKey(key []byte) (EncryptionMaterials, error) {
	if m.plaintextDataKey != nil {
		return m, fmt.Errorf("%w: plaintext data key already set", ErrInvariantViolation)
	}
	if len(key) != m.algorithmSuite.DataKeyLen {
		return m, fmt.Errorf("%w: data key length %d does not match suite %s (%d)",
			ErrInvariantViolation, len(key), m.algorithmSuite.Name, m.algorithmSuite.DataKeyLen)
	}
	m.plaintextDataKey = append([]byte(nil), key...)
	return m, nil
}

// WithEncryptedDataKey returns materials with one more wrapped data key
// appended. The list only grows.
func (m EncryptionMaterials) WithEncryptedDataKey(edk EncryptedDataKey) (EncryptionMaterials, error) {
	if len(edk.Ciphertext) == 0 {
		return m, fmt.Errorf("%w: encrypted data key with empty ciphertext", ErrInvariantViolation)
	}
	keys := make([]EncryptedDataKey, len(m.encryptedDataKeys), len(m.encryptedDataKeys)+1)
	copy(keys, m.encryptedDataKeys)
	m.encryptedDataKeys = append(keys, edk)
	return m, nil
}

// Complete reports whether the materials are ready to hand back to the
// caller: data key set and at least one encrypted data key present.
func (m EncryptionMaterials) Complete() bool {
	return m.plaintextDataKey != nil && len(m.encryptedDataKeys) > 0
}

// DecryptionMaterials is the in-flight record of a decryption request.
type DecryptionMaterials struct {
	algorithmSuite    suite.AlgorithmSuite
	encryptionContext EncryptionContext
	verificationKey   []byte
	plaintextDataKey  []byte
}

// NewDecryptionMaterials builds empty decryption materials. The verification
// key may be nil for suites that do not sign.
func NewDecryptionMaterials(s suite.AlgorithmSuite, ec EncryptionContext, verificationKey []byte) DecryptionMaterials {
	return DecryptionMaterials{
		algorithmSuite:    s,
		encryptionContext: ec.Clone(),
		verificationKey:   verificationKey,
	}
}

// AlgorithmSuite returns the suite the materials were built for.
func (m DecryptionMaterials) AlgorithmSuite() suite.AlgorithmSuite {
	return m.algorithmSuite
}

// EncryptionContext returns the context the materials carry.
func (m DecryptionMaterials) EncryptionContext() EncryptionContext {
	return m.encryptionContext
}

// VerificationKey returns the decoded public verification key, nil for
// non-signing suites.
func (m DecryptionMaterials) VerificationKey() []byte {
	return m.verificationKey
}

// PlaintextDataKey returns the unwrapped data key, nil until a keyring has
// decrypted one.
func (m DecryptionMaterials) PlaintextDataKey() []byte {
	return m.plaintextDataKey
}

// WithPlaintextDataKey returns materials with the unwrapped data key set.
// The key is set at most once across the whole decrypt pipeline.
func (m DecryptionMaterials) WithPlaintextDataKey(key []byte) (DecryptionMaterials, error) {
	if m.plaintextDataKey != nil {
		return m, fmt.Errorf("%w: plaintext data key already set", ErrInvariantViolation)
	}
	if len(key) != m.algorithmSuite.DataKeyLen {
		return m, fmt.Errorf("%w: data key length %d does not match suite %s (%d)",
			ErrInvariantViolation, len(key), m.algorithmSuite.Name, m.algorithmSuite.DataKeyLen)
	}
	m.plaintextDataKey = append([]byte(nil), key...)
	return m, nil
}
