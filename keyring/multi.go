package keyring

import (
	"context"
	"errors"
	"fmt"

	"github.com/fabiomadge/materialproviders/materials"
)

// Multi is a composite keyring. On encrypt it threads the materials through
// the generator and then each child in turn, so every member appends its own
// wrapped copy of the one data key. On decrypt it tries members in order and
// stops at the first success.
type Multi struct {
	generator Keyring
	children  []Keyring
}

// NewMulti builds a composite keyring. The generator may be nil, in which
// case encryption only succeeds when an earlier keyring already populated
// the plaintext data key.
func NewMulti(generator Keyring, children ...Keyring) (*Multi, error) {
	if generator == nil && len(children) == 0 {
		return nil, fmt.Errorf("%w: multi-keyring requires a generator or at least one child", materials.ErrConfiguration)
	}
	for i, c := range children {
		if c == nil {
			return nil, fmt.Errorf("%w: multi-keyring child %d is nil", materials.ErrConfiguration, i)
		}
	}
	return &Multi{generator: generator, children: children}, nil
}

// OnEncrypt sequences the members' OnEncrypt, each member's output feeding
// the next. Any member failure aborts the chain with the input materials
// unchanged.
func (k *Multi) OnEncrypt(ctx context.Context, em materials.EncryptionMaterials) (materials.EncryptionMaterials, error) {
	out := em
	var err error

	if k.generator != nil {
		out, err = k.generator.OnEncrypt(ctx, out)
		if err != nil {
			return em, err
		}
	}
	if out.PlaintextDataKey() == nil {
		return em, fmt.Errorf("%w: multi-keyring has no generator and the materials carry no plaintext data key",
			materials.ErrConfiguration)
	}

	for _, child := range k.children {
		out, err = child.OnEncrypt(ctx, out)
		if err != nil {
			return em, err
		}
	}
	return out, nil
}

// OnDecrypt tries the generator and then each child in order, returning the
// first success. On total failure every member's candidate errors are
// aggregated rather than failing fast, so diagnostics cover each attempt.
func (k *Multi) OnDecrypt(ctx context.Context, dm materials.DecryptionMaterials, edks []materials.EncryptedDataKey) (materials.DecryptionMaterials, error) {
	if dm.PlaintextDataKey() != nil {
		return dm, fmt.Errorf("%w: decryption materials already contain a plaintext data key",
			materials.ErrInvariantViolation)
	}

	members := make([]Keyring, 0, len(k.children)+1)
	if k.generator != nil {
		members = append(members, k.generator)
	}
	members = append(members, k.children...)

	var collected []error
	for _, member := range members {
		out, err := member.OnDecrypt(ctx, dm, edks)
		if err == nil && out.PlaintextDataKey() != nil {
			return out, nil
		}
		if err == nil {
			// A conforming keyring either errors or sets the key.
			err = fmt.Errorf("%w: keyring returned no plaintext data key and no error",
				materials.ErrInvariantViolation)
		}
		var nak *materials.NoApplicableKeyError
		if errors.As(err, &nak) {
			collected = append(collected, nak.Errors...)
		} else {
			collected = append(collected, err)
		}
	}

	return dm, &materials.NoApplicableKeyError{Errors: collected}
}
