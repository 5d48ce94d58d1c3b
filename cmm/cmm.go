// Package cmm implements the cryptographic materials manager: the single
// component a framing layer talks to. It turns a high-level request into
// sealed materials via one configured keyring, owns algorithm suite
// defaulting and the signing key lifecycle, and guards the encryption
// context's reserved fields.
package cmm

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/fabiomadge/materialproviders/keyring"
	"github.com/fabiomadge/materialproviders/materials"
	"github.com/fabiomadge/materialproviders/metrics"
	"github.com/fabiomadge/materialproviders/primitives"
	"github.com/fabiomadge/materialproviders/suite"
)

// EncryptionMaterialsRequest is a framing layer's request for encryption
// materials.
type EncryptionMaterialsRequest struct {
	EncryptionContext materials.EncryptionContext

	// AlgorithmSuiteID selects the suite; zero means the default suite.
	AlgorithmSuiteID suite.ID

	// PlaintextLength is the length of the plaintext about to be
	// encrypted, negative when unknown.
	PlaintextLength int64
}

// DecryptMaterialsRequest is a framing layer's request for decryption
// materials. The encrypted data key list must be non-empty; that is the
// caller's contract and is not re-derived here.
type DecryptMaterialsRequest struct {
	AlgorithmSuiteID  suite.ID
	EncryptedDataKeys []materials.EncryptedDataKey
	EncryptionContext materials.EncryptionContext
}

// MaterialsManager produces and consumes materials for one configured
// keyring or tree of keyrings.
type MaterialsManager interface {
	GetEncryptionMaterials(ctx context.Context, req EncryptionMaterialsRequest) (materials.EncryptionMaterials, error)
	DecryptMaterials(ctx context.Context, req DecryptMaterialsRequest) (materials.DecryptionMaterials, error)
}

// Options tunes a Default materials manager.
type Options struct {
	// Primitives defaults to primitives.Default when nil.
	Primitives primitives.Provider

	// Metrics defaults to metrics.NopHandler when nil.
	Metrics metrics.Handler
}

// Default is the standard MaterialsManager over a single keyring.
type Default struct {
	keyring    keyring.Keyring
	primitives primitives.Provider
	metrics    metrics.Handler
}

// New builds a Default materials manager. The keyring must not be nil.
func New(kr keyring.Keyring, opts Options) (*Default, error) {
	if kr == nil {
		return nil, fmt.Errorf("%w: materials manager requires a keyring", materials.ErrConfiguration)
	}
	m := &Default{
		keyring:    kr,
		primitives: opts.Primitives,
		metrics:    opts.Metrics,
	}
	if m.primitives == nil {
		m.primitives = primitives.Default()
	}
	if m.metrics == nil {
		m.metrics = metrics.NopHandler
	}
	return m, nil
}

// GetEncryptionMaterials builds sealed encryption materials for a request:
// reserved field check, suite resolution, signing key generation and
// injection, context validation, keyring delegation and the final
// completeness gate.
func (m *Default) GetEncryptionMaterials(ctx context.Context, req EncryptionMaterialsRequest) (materials.EncryptionMaterials, error) {
	start := time.Now()
	m.metrics.Counter(metrics.MaterialsManagerGetRequests).Inc(1)
	em, err := m.getEncryptionMaterials(ctx, req)
	m.metrics.Timer(metrics.MaterialsManagerGetLatency).Record(time.Since(start))
	if err != nil {
		m.metrics.Counter(metrics.MaterialsManagerGetErrors).Inc(1)
		return em, err
	}
	m.metrics.Counter(metrics.MaterialsManagerGetSuccess).Inc(1)
	return em, nil
}

func (m *Default) getEncryptionMaterials(ctx context.Context, req EncryptionMaterialsRequest) (materials.EncryptionMaterials, error) {
	var zero materials.EncryptionMaterials

	// The reserved field is system-managed only.
	if _, ok := req.EncryptionContext[materials.ReservedVerificationKeyField]; ok {
		return zero, fmt.Errorf("%w: caller supplied %q",
			materials.ErrReservedField, materials.ReservedVerificationKeyField)
	}

	s, err := m.resolveSuite(req.AlgorithmSuiteID)
	if err != nil {
		return zero, err
	}

	ec := req.EncryptionContext.Clone()
	em := materials.NewEncryptionMaterials(s, ec, nil)
	if s.Signs() {
		kp, err := m.primitives.GenerateSignatureKeyPair(s.Signature)
		if err != nil {
			return zero, fmt.Errorf("%w: generating signing keypair: %v", materials.ErrPrimitive, err)
		}
		ec[materials.ReservedVerificationKeyField] = base64.StdEncoding.EncodeToString(kp.VerificationKey)
		em = materials.NewEncryptionMaterials(s, ec, kp.SigningKey)
	}

	if err := materials.ValidateContext(ec); err != nil {
		return zero, err
	}

	// Keyring failures pass through unchanged.
	em, err = m.keyring.OnEncrypt(ctx, em)
	if err != nil {
		return zero, err
	}

	// Final gate: the manager, not the keyring, vouches for completeness.
	if !em.Complete() {
		return zero, fmt.Errorf("%w: keyring returned incomplete encryption materials",
			materials.ErrInvariantViolation)
	}

	return em, nil
}

// DecryptMaterials recovers decryption materials for a set of candidate
// encrypted data keys: verification key decoding, keyring delegation and the
// final plaintext key gate.
func (m *Default) DecryptMaterials(ctx context.Context, req DecryptMaterialsRequest) (materials.DecryptionMaterials, error) {
	start := time.Now()
	m.metrics.Counter(metrics.MaterialsManagerDecryptRequests).Inc(1)
	dm, err := m.decryptMaterials(ctx, req)
	m.metrics.Timer(metrics.MaterialsManagerDecryptLatency).Record(time.Since(start))
	if err != nil {
		m.metrics.Counter(metrics.MaterialsManagerDecryptErrors).Inc(1)
		return dm, err
	}
	m.metrics.Counter(metrics.MaterialsManagerDecryptSuccess).Inc(1)
	return dm, nil
}

func (m *Default) decryptMaterials(ctx context.Context, req DecryptMaterialsRequest) (materials.DecryptionMaterials, error) {
	var zero materials.DecryptionMaterials

	s, err := suite.Lookup(req.AlgorithmSuiteID)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", materials.ErrSerialization, err)
	}

	verificationKey, err := decodeVerificationKey(s, req.EncryptionContext)
	if err != nil {
		return zero, err
	}

	dm := materials.NewDecryptionMaterials(s, req.EncryptionContext, verificationKey)
	dm, err = m.keyring.OnDecrypt(ctx, dm, req.EncryptedDataKeys)
	if err != nil {
		return zero, err
	}

	if dm.PlaintextDataKey() == nil {
		return zero, fmt.Errorf("%w: keyring returned decryption materials without a plaintext data key",
			materials.ErrInvariantViolation)
	}

	return dm, nil
}

func (m *Default) resolveSuite(id suite.ID) (suite.AlgorithmSuite, error) {
	if id == 0 {
		return suite.Default(), nil
	}
	s, err := suite.Lookup(id)
	if err != nil {
		return suite.AlgorithmSuite{}, fmt.Errorf("%w: %v", materials.ErrSerialization, err)
	}
	return s, nil
}

// decodeVerificationKey recovers the verification key from the reserved
// context field. Signing suites require the field; non-signing suites must
// not carry it.
func decodeVerificationKey(s suite.AlgorithmSuite, ec materials.EncryptionContext) ([]byte, error) {
	encoded, ok := ec[materials.ReservedVerificationKeyField]
	if !s.Signs() {
		if ok {
			return nil, fmt.Errorf("%w: %q present but suite %s does not sign",
				materials.ErrReservedField, materials.ReservedVerificationKeyField, s.Name)
		}
		return nil, nil
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q missing from encryption context",
			materials.ErrReservedField, materials.ReservedVerificationKeyField)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %q: %v",
			materials.ErrReservedField, materials.ReservedVerificationKeyField, err)
	}
	return key, nil
}
