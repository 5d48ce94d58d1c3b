package keyring

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabiomadge/materialproviders/materials"
)

func TestNewRawAES(t *testing.T) {
	tests := []struct {
		name          string
		cfg           RawAESConfig
		expectedError bool
	}{
		{
			name: "aes-128 key",
			cfg:  RawAESConfig{Namespace: "ns", Name: "aes-1", WrapKey: make([]byte, 16)},
		},
		{
			name: "aes-192 key",
			cfg:  RawAESConfig{Namespace: "ns", Name: "aes-1", WrapKey: make([]byte, 24)},
		},
		{
			name: "aes-256 key",
			cfg:  RawAESConfig{Namespace: "ns", Name: "aes-1", WrapKey: make([]byte, 32)},
		},
		{
			name:          "bad key size",
			cfg:           RawAESConfig{Namespace: "ns", Name: "aes-1", WrapKey: make([]byte, 20)},
			expectedError: true,
		},
		{
			name:          "missing name",
			cfg:           RawAESConfig{Namespace: "ns", WrapKey: make([]byte, 32)},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := NewRawAES(tt.cfg)
			if tt.expectedError {
				assert.ErrorIs(t, err, materials.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, k)
		})
	}
}

func TestRawAES_RoundTrip(t *testing.T) {
	k, err := NewRawAES(RawAESConfig{Namespace: "ns", Name: "aes-1", WrapKey: bytes.Repeat([]byte{0x42}, 32)})
	require.NoError(t, err)

	ctx := context.Background()
	ec := materials.EncryptionContext{"purpose": "test"}
	em := materials.NewEncryptionMaterials(noSignatureSuite(t), ec, nil)

	em, err = k.OnEncrypt(ctx, em)
	require.NoError(t, err)
	require.NotNil(t, em.PlaintextDataKey())
	require.Len(t, em.EncryptedDataKeys(), 1)

	dm := materials.NewDecryptionMaterials(noSignatureSuite(t), ec, nil)
	dm, err = k.OnDecrypt(ctx, dm, em.EncryptedDataKeys())
	require.NoError(t, err)
	assert.Equal(t, em.PlaintextDataKey(), dm.PlaintextDataKey())
}

func TestRawAES_ContextMismatchFailsUnwrap(t *testing.T) {
	k, err := NewRawAES(RawAESConfig{Namespace: "ns", Name: "aes-1", WrapKey: bytes.Repeat([]byte{0x42}, 32)})
	require.NoError(t, err)

	ctx := context.Background()
	em := materials.NewEncryptionMaterials(noSignatureSuite(t), materials.EncryptionContext{"tenant": "a"}, nil)
	em, err = k.OnEncrypt(ctx, em)
	require.NoError(t, err)

	// The context is bound as AAD; a different context must not unwrap.
	dm := materials.NewDecryptionMaterials(noSignatureSuite(t), materials.EncryptionContext{"tenant": "b"}, nil)
	_, err = k.OnDecrypt(ctx, dm, em.EncryptedDataKeys())
	require.ErrorIs(t, err, materials.ErrNoApplicableKey)

	var nak *materials.NoApplicableKeyError
	require.ErrorAs(t, err, &nak)
	require.Len(t, nak.Errors, 1)
	assert.ErrorIs(t, nak.Errors[0], materials.ErrPrimitive)
}

func TestRawAES_FilterSkipsForeignCandidates(t *testing.T) {
	k, err := NewRawAES(RawAESConfig{Namespace: "ns", Name: "aes-1", WrapKey: bytes.Repeat([]byte{0x42}, 32)})
	require.NoError(t, err)

	ctx := context.Background()
	em := materials.NewEncryptionMaterials(noSignatureSuite(t), nil, nil)
	em, err = k.OnEncrypt(ctx, em)
	require.NoError(t, err)
	valid := em.EncryptedDataKeys()[0]

	candidates := []materials.EncryptedDataKey{
		{KeyProviderID: "ns", KeyProviderInfo: []byte("aes-other"), Ciphertext: valid.Ciphertext},
		{KeyProviderID: "ns", KeyProviderInfo: []byte("aes-1"), Ciphertext: []byte("short")},
		valid,
	}

	dm := materials.NewDecryptionMaterials(noSignatureSuite(t), nil, nil)
	dm, err = k.OnDecrypt(ctx, dm, candidates)
	require.NoError(t, err)
	assert.Equal(t, em.PlaintextDataKey(), dm.PlaintextDataKey())
}

func TestRawAES_WrongWrapKeyFailsUnwrap(t *testing.T) {
	encryptor, err := NewRawAES(RawAESConfig{Namespace: "ns", Name: "aes-1", WrapKey: bytes.Repeat([]byte{0x42}, 32)})
	require.NoError(t, err)
	decryptor, err := NewRawAES(RawAESConfig{Namespace: "ns", Name: "aes-1", WrapKey: bytes.Repeat([]byte{0x43}, 32)})
	require.NoError(t, err)

	ctx := context.Background()
	em := materials.NewEncryptionMaterials(noSignatureSuite(t), nil, nil)
	em, err = encryptor.OnEncrypt(ctx, em)
	require.NoError(t, err)

	dm := materials.NewDecryptionMaterials(noSignatureSuite(t), nil, nil)
	_, err = decryptor.OnDecrypt(ctx, dm, em.EncryptedDataKeys())
	assert.ErrorIs(t, err, materials.ErrNoApplicableKey)
}
