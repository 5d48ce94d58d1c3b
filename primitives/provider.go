// Package primitives is the crypto primitive capability set consumed by
// keyrings and the materials manager: random byte generation, raw RSA
// encrypt/decrypt and signature key generation. Every call is synchronous
// and individually fallible; no retries happen at this layer.
package primitives

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/fabiomadge/materialproviders/suite"
)

// RSAPadding selects the padding mode for raw RSA wrap and unwrap.
type RSAPadding int

const (
	RSAPaddingOAEPSHA256 RSAPadding = iota
	RSAPaddingOAEPSHA1
	RSAPaddingPKCS1v15
)

func (p RSAPadding) String() string {
	switch p {
	case RSAPaddingOAEPSHA256:
		return "oaep-sha256"
	case RSAPaddingOAEPSHA1:
		return "oaep-sha1"
	case RSAPaddingPKCS1v15:
		return "pkcs1v15"
	}
	return fmt.Sprintf("rsa-padding(%d)", int(p))
}

// SignatureKeyPair is a freshly generated signing keypair. VerificationKey
// is the compressed EC point of the public key, ready for encoding into the
// encryption context.
type SignatureKeyPair struct {
	SigningKey      *ecdsa.PrivateKey
	VerificationKey []byte
}

// Provider is the capability set keyrings consult. Implementations must be
// safe for concurrent use.
type Provider interface {
	GenerateRandomBytes(n int) ([]byte, error)
	RSAEncrypt(padding RSAPadding, pub *rsa.PublicKey, plaintext []byte) ([]byte, error)
	RSADecrypt(padding RSAPadding, priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error)
	GenerateSignatureKeyPair(alg suite.SignatureAlgorithm) (SignatureKeyPair, error)
}

type defaultProvider struct{}

// Default returns the standard-library-backed provider.
func Default() Provider {
	return defaultProvider{}
}

func (defaultProvider) GenerateRandomBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative length %d", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}

func (defaultProvider) RSAEncrypt(padding RSAPadding, pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	switch padding {
	case RSAPaddingOAEPSHA256:
		return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	case RSAPaddingOAEPSHA1:
		return rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, plaintext, nil)
	case RSAPaddingPKCS1v15:
		return rsa.EncryptPKCS1v15(rand.Reader, pub, plaintext)
	}
	return nil, fmt.Errorf("unknown RSA padding mode %v", padding)
}

func (defaultProvider) RSADecrypt(padding RSAPadding, priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	switch padding {
	case RSAPaddingOAEPSHA256:
		return rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	case RSAPaddingOAEPSHA1:
		return rsa.DecryptOAEP(sha1.New(), rand.Reader, priv, ciphertext, nil)
	case RSAPaddingPKCS1v15:
		return rsa.DecryptPKCS1v15(rand.Reader, priv, ciphertext)
	}
	return nil, fmt.Errorf("unknown RSA padding mode %v", padding)
}

func (defaultProvider) GenerateSignatureKeyPair(alg suite.SignatureAlgorithm) (SignatureKeyPair, error) {
	curve := alg.Curve()
	if curve == nil {
		return SignatureKeyPair{}, fmt.Errorf("unknown signature algorithm %q", alg)
	}
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return SignatureKeyPair{}, fmt.Errorf("generating %s keypair: %w", alg, err)
	}
	return SignatureKeyPair{
		SigningKey:      key,
		VerificationKey: elliptic.MarshalCompressed(curve, key.PublicKey.X, key.PublicKey.Y),
	}, nil
}
