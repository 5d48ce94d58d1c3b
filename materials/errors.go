package materials

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds surfaced by the materials layer. Callers match them with
// errors.Is; the concrete message carries the detail.
var (
	// ErrConfiguration indicates a keyring is missing the key material it
	// needs for the requested direction.
	ErrConfiguration = errors.New("keyring configuration error")

	// ErrUnsupportedFeature indicates the algorithm suite requests a
	// feature the keyring variant does not implement.
	ErrUnsupportedFeature = errors.New("unsupported algorithm suite feature")

	// ErrReservedField indicates a caller-supplied encryption context
	// contains a system-reserved key, or a required reserved field is
	// missing or malformed on decrypt.
	ErrReservedField = errors.New("reserved encryption context field")

	// ErrSerialization indicates a wire-format constraint violation: the
	// encryption context exceeds size or charset limits, or an algorithm
	// suite id does not resolve.
	ErrSerialization = errors.New("encryption context is not serializable")

	// ErrPrimitive wraps a failure from the crypto primitive provider.
	ErrPrimitive = errors.New("crypto primitive failure")

	// ErrNoApplicableKey indicates no candidate encrypted data key both
	// matched the keyring and unwrapped successfully.
	ErrNoApplicableKey = errors.New("no encrypted data key could be decrypted")

	// ErrInvariantViolation indicates a step would produce materials
	// violating the set-once or append-only rules. It signals a bug in a
	// keyring implementation rather than a condition to handle.
	ErrInvariantViolation = errors.New("materials invariant violation")
)

// NoApplicableKeyError aggregates the per-candidate errors collected while
// attempting to decrypt a list of encrypted data keys. Filter mismatches and
// unwrap failures are both retained so callers can distinguish "nothing
// applicable" from "tried and failed".
type NoApplicableKeyError struct {
	Errors []error
}

func (e *NoApplicableKeyError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%v: %d candidate(s) failed: %s",
		ErrNoApplicableKey, len(e.Errors), strings.Join(msgs, "; "))
}

// Is makes errors.Is(err, ErrNoApplicableKey) hold for aggregated failures.
func (e *NoApplicableKeyError) Is(target error) bool {
	return target == ErrNoApplicableKey
}

// Unwrap exposes the per-candidate errors to errors.Is and errors.As.
func (e *NoApplicableKeyError) Unwrap() []error {
	return e.Errors
}
