package keyring

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/fabiomadge/materialproviders/materials"
	"github.com/fabiomadge/materialproviders/primitives"
)

// RawRSAConfig configures a RawRSA keyring. At least one of PublicKeyPEM
// and PrivateKeyPEM must be set; a keyring configured with only one half is
// deliberately limited to the matching direction.
type RawRSAConfig struct {
	// Namespace and Name identify this keyring to itself on decrypt.
	Namespace string
	Name      string

	// PublicKeyPEM is the PKIX-encoded wrapping key, required for encrypt.
	PublicKeyPEM []byte

	// PrivateKeyPEM is the PKCS#8 or PKCS#1 encoded unwrapping key,
	// required for decrypt.
	PrivateKeyPEM []byte

	Padding primitives.RSAPadding

	// Primitives defaults to primitives.Default when nil.
	Primitives primitives.Provider
}

// RawRSA wraps data keys with a locally held RSA keypair. It never derives
// the public key from a configured private key; the asymmetry of capability
// is intentional.
type RawRSA struct {
	namespace  string
	name       string
	publicKey  *rsa.PublicKey
	privateKey *rsa.PrivateKey
	padding    primitives.RSAPadding
	primitives primitives.Provider
}

// NewRawRSA builds a RawRSA keyring from PEM-encoded key material.
func NewRawRSA(cfg RawRSAConfig) (*RawRSA, error) {
	if cfg.Namespace == "" || cfg.Name == "" {
		return nil, fmt.Errorf("%w: raw RSA keyring requires a namespace and name", materials.ErrConfiguration)
	}
	if cfg.PublicKeyPEM == nil && cfg.PrivateKeyPEM == nil {
		return nil, fmt.Errorf("%w: raw RSA keyring requires a public or private key", materials.ErrConfiguration)
	}

	k := &RawRSA{
		namespace:  cfg.Namespace,
		name:       cfg.Name,
		padding:    cfg.Padding,
		primitives: cfg.Primitives,
	}
	if k.primitives == nil {
		k.primitives = primitives.Default()
	}

	if cfg.PublicKeyPEM != nil {
		pub, err := parseRSAPublicKey(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing public key: %v", materials.ErrConfiguration, err)
		}
		k.publicKey = pub
	}
	if cfg.PrivateKeyPEM != nil {
		priv, err := parseRSAPrivateKey(cfg.PrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing private key: %v", materials.ErrConfiguration, err)
		}
		k.privateKey = priv
	}

	return k, nil
}

// OnEncrypt generates a data key when the materials lack one, wraps it with
// the configured public key and appends the result.
func (k *RawRSA) OnEncrypt(ctx context.Context, em materials.EncryptionMaterials) (materials.EncryptionMaterials, error) {
	if k.publicKey == nil {
		return em, fmt.Errorf("%w: raw RSA keyring has no public key, cannot encrypt", materials.ErrConfiguration)
	}
	if em.AlgorithmSuite().SymmetricSignature {
		return em, fmt.Errorf("%w: raw RSA keyring cannot serve suite %s with a symmetric signature",
			materials.ErrUnsupportedFeature, em.AlgorithmSuite().Name)
	}

	out := em
	if out.PlaintextDataKey() == nil {
		key, err := k.primitives.GenerateRandomBytes(out.AlgorithmSuite().DataKeyLen)
		if err != nil {
			return em, fmt.Errorf("%w: generating data key: %v", materials.ErrPrimitive, err)
		}
		out, err = out.WithPlaintextDataKey(key)
		if err != nil {
			return em, err
		}
	}

	ciphertext, err := k.primitives.RSAEncrypt(k.padding, k.publicKey, out.PlaintextDataKey())
	if err != nil {
		return em, fmt.Errorf("%w: wrapping data key: %v", materials.ErrPrimitive, err)
	}

	out, err = out.WithEncryptedDataKey(materials.EncryptedDataKey{
		KeyProviderID:   k.namespace,
		KeyProviderInfo: []byte(k.name),
		Ciphertext:      ciphertext,
	})
	if err != nil {
		return em, err
	}
	return out, nil
}

// OnDecrypt unwraps the first matching candidate with the configured
// private key.
func (k *RawRSA) OnDecrypt(ctx context.Context, dm materials.DecryptionMaterials, edks []materials.EncryptedDataKey) (materials.DecryptionMaterials, error) {
	if k.privateKey == nil {
		return dm, fmt.Errorf("%w: raw RSA keyring has no private key, cannot decrypt", materials.ErrConfiguration)
	}
	if dm.AlgorithmSuite().SymmetricSignature {
		return dm, fmt.Errorf("%w: raw RSA keyring cannot serve suite %s with a symmetric signature",
			materials.ErrUnsupportedFeature, dm.AlgorithmSuite().Name)
	}

	match := func(edk materials.EncryptedDataKey) error {
		if edk.KeyProviderID != k.namespace || !bytes.Equal(edk.KeyProviderInfo, []byte(k.name)) {
			return errNoMatch("provider %q/%q is not %q/%q",
				edk.KeyProviderID, edk.KeyProviderInfo, k.namespace, k.name)
		}
		if len(edk.Ciphertext) == 0 {
			return errNoMatch("empty ciphertext")
		}
		return nil
	}
	unwrap := func(ctx context.Context, edk materials.EncryptedDataKey) ([]byte, error) {
		return k.primitives.RSADecrypt(k.padding, k.privateKey, edk.Ciphertext)
	}

	return decryptDataKey(ctx, dm, edks, match, unwrap)
}

func parseRSAPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		// PKCS#1 public keys are still common in key files.
		if pkcs1, pkcs1Err := x509.ParsePKCS1PublicKey(block.Bytes); pkcs1Err == nil {
			return pkcs1, nil
		}
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key: %T", pub)
	}
	return rsaPub, nil
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if priv, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaPriv, ok := priv.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA private key: %T", priv)
		}
		return rsaPriv, nil
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}
