package materials

import (
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf8"
)

// EncryptionContext is caller-supplied metadata carried unencrypted
// alongside the ciphertext and bound to it for authentication. Insertion
// order is irrelevant.
type EncryptionContext map[string]string

// ReservedVerificationKeyField is the system-owned encryption context key
// holding the encoded public verification key of signing suites. Callers
// must not supply it; the materials manager injects it. The same constant is
// used on the encode and decode paths.
const ReservedVerificationKeyField = "public-verification-key"

// Maximum field and entry sizes the wire format can represent. Lengths are
// serialized as 16-bit values.
const maxContextLen = 1<<16 - 1

// Clone returns an independent copy of the context. Cloning a nil context
// yields an empty, non-nil one.
func (c EncryptionContext) Clone() EncryptionContext {
	out := make(EncryptionContext, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// ValidateContext checks that a context is serializable under the wire
// format's constraints: at most 2^16-1 entries, keys non-empty, each key and
// value at most 2^16-1 bytes of valid UTF-8. Violations are reported as
// ErrSerialization.
func ValidateContext(c EncryptionContext) error {
	if len(c) > maxContextLen {
		return fmt.Errorf("%w: %d entries exceeds %d", ErrSerialization, len(c), maxContextLen)
	}
	for k, v := range c {
		if len(k) == 0 {
			return fmt.Errorf("%w: empty key", ErrSerialization)
		}
		if len(k) > maxContextLen || len(v) > maxContextLen {
			return fmt.Errorf("%w: entry %q exceeds %d bytes", ErrSerialization, k, maxContextLen)
		}
		if !utf8.ValidString(k) || !utf8.ValidString(v) {
			return fmt.Errorf("%w: entry %q is not valid UTF-8", ErrSerialization, k)
		}
	}
	return nil
}

// ContextToBytes converts an EncryptionContext to a deterministic byte array
// for use as additional authenticated data by AES-based keyrings.
func ContextToBytes(c EncryptionContext) []byte {
	// Sort keys for deterministic ordering
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sortedMap := make(map[string]string, len(c))
	for _, k := range keys {
		sortedMap[k] = c[k]
	}

	data, err := json.Marshal(sortedMap)
	if err != nil {
		// Cannot happen for a string map; return an empty slice rather
		// than crashing.
		return []byte{}
	}

	return data
}
