// Package keyring defines the uniform wrap/unwrap contract for data keys
// and its concrete variants: raw RSA, raw AES, composite multi-keyrings and
// the AWS/GCP KMS-backed keyrings. Every variant is interchangeable from the
// materials manager's perspective.
package keyring

import (
	"context"
	"fmt"

	"github.com/fabiomadge/materialproviders/materials"
)

// Keyring wraps and unwraps data keys using one specific key-protection
// mechanism. Implementations must not mutate anything beyond the materials
// value they return, and must be safe for concurrent use across requests.
//
// OnEncrypt returns a valid transition of its input: the plaintext data key
// is set at most once (generated when absent), the encrypted data key list
// grows by at least one entry and the encryption context is left untouched.
// On failure the input materials are returned unchanged.
//
// OnDecrypt fails immediately when the input materials already carry a
// plaintext data key. Candidates are tried in input order; an applicability
// filter (provider id/info match, non-empty ciphertext) runs before the
// unwrap primitive, and the first successful unwrap wins. When nothing
// unwraps, the returned error aggregates every candidate's failure.
type Keyring interface {
	OnEncrypt(ctx context.Context, em materials.EncryptionMaterials) (materials.EncryptionMaterials, error)
	OnDecrypt(ctx context.Context, dm materials.DecryptionMaterials, edks []materials.EncryptedDataKey) (materials.DecryptionMaterials, error)
}

// matchFunc is the cheap applicability filter run before the unwrap
// primitive. A non-nil error means the candidate is skipped, not attempted.
type matchFunc func(edk materials.EncryptedDataKey) error

// unwrapFunc runs the expensive unwrap primitive on one candidate.
type unwrapFunc func(ctx context.Context, edk materials.EncryptedDataKey) ([]byte, error)

// errNoMatch builds the generic "did not match" error reported for
// candidates that fail the applicability filter.
func errNoMatch(format string, args ...any) error {
	return fmt.Errorf("encrypted data key did not match keyring: "+format, args...)
}

// decryptDataKey is the candidate-iteration algorithm shared by all keyring
// variants. It returns on the first candidate that both matches and
// unwraps; otherwise it fails with the collected per-candidate errors.
func decryptDataKey(ctx context.Context, dm materials.DecryptionMaterials,
	edks []materials.EncryptedDataKey, match matchFunc, unwrap unwrapFunc) (materials.DecryptionMaterials, error) {

	if dm.PlaintextDataKey() != nil {
		return dm, fmt.Errorf("%w: decryption materials already contain a plaintext data key",
			materials.ErrInvariantViolation)
	}

	var collected []error
	for _, edk := range edks {
		if err := match(edk); err != nil {
			collected = append(collected, err)
			continue
		}
		key, err := unwrap(ctx, edk)
		if err != nil {
			collected = append(collected, fmt.Errorf("%w: %v", materials.ErrPrimitive, err))
			continue
		}
		out, err := dm.WithPlaintextDataKey(key)
		if err != nil {
			collected = append(collected, err)
			continue
		}
		return out, nil
	}

	return dm, &materials.NoApplicableKeyError{Errors: collected}
}
