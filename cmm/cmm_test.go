package cmm

import (
	"bytes"
	"context"
	"crypto/elliptic"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabiomadge/materialproviders/keyring"
	"github.com/fabiomadge/materialproviders/materials"
	"github.com/fabiomadge/materialproviders/suite"
)

func newTestKeyring(t *testing.T) *keyring.RawAES {
	t.Helper()
	k, err := keyring.NewRawAES(keyring.RawAESConfig{
		Namespace: "ns",
		Name:      "aes-1",
		WrapKey:   bytes.Repeat([]byte{0x42}, 32),
	})
	require.NoError(t, err)
	return k
}

// stubKeyring returns canned materials, letting tests exercise the manager's
// completeness gates independently of real keyring behavior.
type stubKeyring struct {
	onEncrypt func(materials.EncryptionMaterials) (materials.EncryptionMaterials, error)
	onDecrypt func(materials.DecryptionMaterials) (materials.DecryptionMaterials, error)
}

func (s *stubKeyring) OnEncrypt(ctx context.Context, em materials.EncryptionMaterials) (materials.EncryptionMaterials, error) {
	return s.onEncrypt(em)
}

func (s *stubKeyring) OnDecrypt(ctx context.Context, dm materials.DecryptionMaterials, edks []materials.EncryptedDataKey) (materials.DecryptionMaterials, error) {
	return s.onDecrypt(dm)
}

func TestNew(t *testing.T) {
	_, err := New(nil, Options{})
	assert.ErrorIs(t, err, materials.ErrConfiguration)

	m, err := New(newTestKeyring(t), Options{})
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestGetEncryptionMaterials_RejectsReservedField(t *testing.T) {
	m, err := New(newTestKeyring(t), Options{})
	require.NoError(t, err)

	_, err = m.GetEncryptionMaterials(context.Background(), EncryptionMaterialsRequest{
		EncryptionContext: materials.EncryptionContext{
			materials.ReservedVerificationKeyField: "sneaky",
		},
	})
	assert.ErrorIs(t, err, materials.ErrReservedField)
}

func TestGetEncryptionMaterials_DefaultSuiteSigns(t *testing.T) {
	m, err := New(newTestKeyring(t), Options{})
	require.NoError(t, err)

	em, err := m.GetEncryptionMaterials(context.Background(), EncryptionMaterialsRequest{
		EncryptionContext: materials.EncryptionContext{"purpose": "test"},
		PlaintextLength:   -1,
	})
	require.NoError(t, err)

	assert.Equal(t, suite.Default().ID, em.AlgorithmSuite().ID)
	require.NotNil(t, em.SigningKey())
	assert.Equal(t, elliptic.P384(), em.SigningKey().Curve)
	assert.True(t, em.Complete())

	// The verification key rides in the reserved context field, base64
	// alongside the caller's pairs.
	encoded, ok := em.EncryptionContext()[materials.ReservedVerificationKeyField]
	require.True(t, ok)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	x, _ := elliptic.UnmarshalCompressed(elliptic.P384(), decoded)
	assert.NotNil(t, x)
	assert.Equal(t, "test", em.EncryptionContext()["purpose"])
}

func TestGetEncryptionMaterials_NonSigningSuite(t *testing.T) {
	m, err := New(newTestKeyring(t), Options{})
	require.NoError(t, err)

	em, err := m.GetEncryptionMaterials(context.Background(), EncryptionMaterialsRequest{
		AlgorithmSuiteID: suite.AES256GCMNoSignature,
	})
	require.NoError(t, err)

	assert.Nil(t, em.SigningKey())
	_, ok := em.EncryptionContext()[materials.ReservedVerificationKeyField]
	assert.False(t, ok)
}

func TestGetEncryptionMaterials_UnknownSuite(t *testing.T) {
	m, err := New(newTestKeyring(t), Options{})
	require.NoError(t, err)

	_, err = m.GetEncryptionMaterials(context.Background(), EncryptionMaterialsRequest{
		AlgorithmSuiteID: 0x9999,
	})
	assert.ErrorIs(t, err, materials.ErrSerialization)
}

func TestGetEncryptionMaterials_KeyringErrorPassesThrough(t *testing.T) {
	keyringErr := errors.New("keyring exploded")
	m, err := New(&stubKeyring{
		onEncrypt: func(em materials.EncryptionMaterials) (materials.EncryptionMaterials, error) {
			return em, keyringErr
		},
	}, Options{})
	require.NoError(t, err)

	_, err = m.GetEncryptionMaterials(context.Background(), EncryptionMaterialsRequest{})
	assert.ErrorIs(t, err, keyringErr)
}

func TestGetEncryptionMaterials_IncompleteMaterialsRejected(t *testing.T) {
	// A keyring that reports success without producing a data key must be
	// caught by the manager's completeness gate.
	m, err := New(&stubKeyring{
		onEncrypt: func(em materials.EncryptionMaterials) (materials.EncryptionMaterials, error) {
			return em, nil
		},
	}, Options{})
	require.NoError(t, err)

	_, err = m.GetEncryptionMaterials(context.Background(), EncryptionMaterialsRequest{
		AlgorithmSuiteID: suite.AES256GCMNoSignature,
	})
	assert.ErrorIs(t, err, materials.ErrInvariantViolation)
}

func TestDecryptMaterials_RequiresExplicitSuite(t *testing.T) {
	m, err := New(newTestKeyring(t), Options{})
	require.NoError(t, err)

	// Unlike encryption there is no defaulting on decrypt; the id comes from
	// the message header and must resolve.
	_, err = m.DecryptMaterials(context.Background(), DecryptMaterialsRequest{
		AlgorithmSuiteID:  0,
		EncryptedDataKeys: []materials.EncryptedDataKey{{KeyProviderID: "ns"}},
	})
	assert.ErrorIs(t, err, materials.ErrSerialization)
}

func TestDecryptMaterials_MissingVerificationKey(t *testing.T) {
	m, err := New(newTestKeyring(t), Options{})
	require.NoError(t, err)

	_, err = m.DecryptMaterials(context.Background(), DecryptMaterialsRequest{
		AlgorithmSuiteID:  suite.AES256GCMECDSAP384,
		EncryptedDataKeys: []materials.EncryptedDataKey{{KeyProviderID: "ns"}},
		EncryptionContext: materials.EncryptionContext{"purpose": "test"},
	})
	assert.ErrorIs(t, err, materials.ErrReservedField)
}

func TestDecryptMaterials_UnexpectedVerificationKey(t *testing.T) {
	m, err := New(newTestKeyring(t), Options{})
	require.NoError(t, err)

	_, err = m.DecryptMaterials(context.Background(), DecryptMaterialsRequest{
		AlgorithmSuiteID:  suite.AES256GCMNoSignature,
		EncryptedDataKeys: []materials.EncryptedDataKey{{KeyProviderID: "ns"}},
		EncryptionContext: materials.EncryptionContext{
			materials.ReservedVerificationKeyField: "c3R1ZmY=",
		},
	})
	assert.ErrorIs(t, err, materials.ErrReservedField)
}

func TestDecryptMaterials_MalformedVerificationKey(t *testing.T) {
	m, err := New(newTestKeyring(t), Options{})
	require.NoError(t, err)

	_, err = m.DecryptMaterials(context.Background(), DecryptMaterialsRequest{
		AlgorithmSuiteID:  suite.AES256GCMECDSAP384,
		EncryptedDataKeys: []materials.EncryptedDataKey{{KeyProviderID: "ns"}},
		EncryptionContext: materials.EncryptionContext{
			materials.ReservedVerificationKeyField: "not-base64!!!",
		},
	})
	assert.ErrorIs(t, err, materials.ErrReservedField)
}

func TestDecryptMaterials_MissingPlaintextKeyRejected(t *testing.T) {
	m, err := New(&stubKeyring{
		onDecrypt: func(dm materials.DecryptionMaterials) (materials.DecryptionMaterials, error) {
			return dm, nil
		},
	}, Options{})
	require.NoError(t, err)

	_, err = m.DecryptMaterials(context.Background(), DecryptMaterialsRequest{
		AlgorithmSuiteID:  suite.AES256GCMNoSignature,
		EncryptedDataKeys: []materials.EncryptedDataKey{{KeyProviderID: "ns"}},
	})
	assert.ErrorIs(t, err, materials.ErrInvariantViolation)
}

func TestRoundTrip(t *testing.T) {
	kr := newTestKeyring(t)
	m, err := New(kr, Options{})
	require.NoError(t, err)

	ctx := context.Background()
	ec := materials.EncryptionContext{"tenant": "acme", "purpose": "test"}

	em, err := m.GetEncryptionMaterials(ctx, EncryptionMaterialsRequest{
		EncryptionContext: ec,
		PlaintextLength:   1024,
	})
	require.NoError(t, err)
	require.True(t, em.Complete())

	// Decrypt with the full context the encrypt side produced, reserved
	// field included, as a framing layer would after parsing a header.
	dm, err := m.DecryptMaterials(ctx, DecryptMaterialsRequest{
		AlgorithmSuiteID:  em.AlgorithmSuite().ID,
		EncryptedDataKeys: em.EncryptedDataKeys(),
		EncryptionContext: em.EncryptionContext(),
	})
	require.NoError(t, err)

	assert.Equal(t, em.PlaintextDataKey(), dm.PlaintextDataKey())
	require.NotNil(t, dm.VerificationKey())

	encoded := em.EncryptionContext()[materials.ReservedVerificationKeyField]
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, decoded, dm.VerificationKey())
}

func TestRoundTrip_MultiKeyring(t *testing.T) {
	generator := newTestKeyring(t)
	child, err := keyring.NewRawAES(keyring.RawAESConfig{
		Namespace: "ns",
		Name:      "aes-2",
		WrapKey:   bytes.Repeat([]byte{0x43}, 32),
	})
	require.NoError(t, err)

	multi, err := keyring.NewMulti(generator, child)
	require.NoError(t, err)

	m, err := New(multi, Options{})
	require.NoError(t, err)

	ctx := context.Background()
	em, err := m.GetEncryptionMaterials(ctx, EncryptionMaterialsRequest{
		AlgorithmSuiteID: suite.AES256GCMNoSignature,
	})
	require.NoError(t, err)
	require.Len(t, em.EncryptedDataKeys(), 2)

	// A manager holding only the child keyring still recovers the data key
	// from its own wrapped copy.
	childOnly, err := New(child, Options{})
	require.NoError(t, err)
	dm, err := childOnly.DecryptMaterials(ctx, DecryptMaterialsRequest{
		AlgorithmSuiteID:  em.AlgorithmSuite().ID,
		EncryptedDataKeys: em.EncryptedDataKeys(),
		EncryptionContext: em.EncryptionContext(),
	})
	require.NoError(t, err)
	assert.Equal(t, em.PlaintextDataKey(), dm.PlaintextDataKey())
}
