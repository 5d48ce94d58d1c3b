// Package suite is the algorithm suite registry. A suite identifier maps to
// a fixed bundle of cryptographic parameters: data key length, signature
// requirement and key derivation choice. The registry is immutable; the same
// identifier always resolves to the same parameters.
package suite

import (
	"crypto/elliptic"
	"fmt"
)

// ID identifies an algorithm suite.
type ID uint16

const (
	// AES128GCMNoSignature is AES-128-GCM with no message signature.
	AES128GCMNoSignature ID = 0x0014
	// AES192GCMECDSAP384 is AES-192-GCM with an ECDSA P-384 signature.
	AES192GCMECDSAP384 ID = 0x0046
	// AES256GCMNoSignature is AES-256-GCM with no message signature.
	AES256GCMNoSignature ID = 0x0078
	// AES256GCMECDSAP384 is AES-256-GCM with an ECDSA P-384 signature.
	AES256GCMECDSAP384 ID = 0x0178
	// AES256GCMHMACCommitKey is AES-256-GCM with an HMAC-based symmetric
	// signature derived from the data key. Not every keyring variant can
	// serve it.
	AES256GCMHMACCommitKey ID = 0x0378
)

// SignatureAlgorithm names the asymmetric signature algorithm a suite
// requires. The empty value means the suite does not sign.
type SignatureAlgorithm string

const (
	SignatureECDSAP256 SignatureAlgorithm = "ecdsa-p256"
	SignatureECDSAP384 SignatureAlgorithm = "ecdsa-p384"
)

// Curve returns the elliptic curve backing the signature algorithm.
func (a SignatureAlgorithm) Curve() elliptic.Curve {
	switch a {
	case SignatureECDSAP256:
		return elliptic.P256()
	case SignatureECDSAP384:
		return elliptic.P384()
	}
	return nil
}

// KDF names the key derivation function a suite uses to derive the content
// encryption key from the data key.
type KDF string

const (
	KDFNone       KDF = "none"
	KDFHKDFSHA256 KDF = "hkdf-sha256"
	KDFHKDFSHA512 KDF = "hkdf-sha512"
)

// AlgorithmSuite holds the fixed parameters of one suite.
type AlgorithmSuite struct {
	ID   ID
	Name string

	// DataKeyLen is the length in bytes of the symmetric data key.
	DataKeyLen int

	// Signature is the asymmetric signature algorithm, empty when the
	// suite does not sign.
	Signature SignatureAlgorithm

	// SymmetricSignature is set for suites that authenticate with an
	// HMAC derived from the data key instead of (or in addition to) an
	// asymmetric signature.
	SymmetricSignature bool

	KDF KDF
}

// Signs reports whether the suite requires an asymmetric signature.
func (s AlgorithmSuite) Signs() bool {
	return s.Signature != ""
}

var registry = map[ID]AlgorithmSuite{
	AES128GCMNoSignature: {
		ID:         AES128GCMNoSignature,
		Name:       "AES_128_GCM_HKDF_SHA256_NO_SIGNATURE",
		DataKeyLen: 16,
		KDF:        KDFHKDFSHA256,
	},
	AES192GCMECDSAP384: {
		ID:         AES192GCMECDSAP384,
		Name:       "AES_192_GCM_HKDF_SHA384_ECDSA_P384",
		DataKeyLen: 24,
		Signature:  SignatureECDSAP384,
		KDF:        KDFHKDFSHA512,
	},
	AES256GCMNoSignature: {
		ID:         AES256GCMNoSignature,
		Name:       "AES_256_GCM_HKDF_SHA512_NO_SIGNATURE",
		DataKeyLen: 32,
		KDF:        KDFHKDFSHA512,
	},
	AES256GCMECDSAP384: {
		ID:         AES256GCMECDSAP384,
		Name:       "AES_256_GCM_HKDF_SHA512_ECDSA_P384",
		DataKeyLen: 32,
		Signature:  SignatureECDSAP384,
		KDF:        KDFHKDFSHA512,
	},
	AES256GCMHMACCommitKey: {
		ID:                 AES256GCMHMACCommitKey,
		Name:               "AES_256_GCM_HKDF_SHA512_COMMIT_KEY",
		DataKeyLen:         32,
		SymmetricSignature: true,
		KDF:                KDFHKDFSHA512,
	},
}

// Lookup resolves a suite identifier to its parameters.
func Lookup(id ID) (AlgorithmSuite, error) {
	s, ok := registry[id]
	if !ok {
		return AlgorithmSuite{}, fmt.Errorf("unknown algorithm suite id 0x%04x", uint16(id))
	}
	return s, nil
}

// Default returns the suite used when a request does not name one.
func Default() AlgorithmSuite {
	return registry[AES256GCMECDSAP384]
}
