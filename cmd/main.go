package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"strings"

	cloudkms "cloud.google.com/go/kms/apiv1"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kms"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fabiomadge/materialproviders/cmm"
	"github.com/fabiomadge/materialproviders/config"
	"github.com/fabiomadge/materialproviders/keyring"
	"github.com/fabiomadge/materialproviders/metrics"
	"github.com/fabiomadge/materialproviders/primitives"
	"github.com/fabiomadge/materialproviders/server"
)

func main() {
	app := &cli.App{
		Name:  "materialsd",
		Usage: "envelope encryption materials service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    config.ConfigPathFlag,
				Usage:   "config file",
				Aliases: []string{"c"},
				Value:   config.DefaultConfigPath,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "serve materials operations over HTTP",
				Action: func(ctx *cli.Context) error {
					fx.New(
						fx.Supply(ctx),
						fx.Provide(newLogger, newKeyring, newMaterialsManager),
						config.Module,
						metrics.Module,
						server.Module,
						fx.Invoke(func(server.ServerProvider) {}),
						fx.Invoke(func(metrics.MetricsProvider) {}),
					).Run()
					return nil
				},
			},
			{
				Name:  "keygen",
				Usage: "generate an RSA keypair for raw-rsa keyring configs",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "bits", Value: 4096, Usage: "RSA modulus size"},
					&cli.StringFlag{Name: "out", Value: "wrapping-key", Usage: "output file prefix"},
				},
				Action: keygen,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func newLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}

func newMaterialsManager(kr keyring.Keyring) (cmm.MaterialsManager, error) {
	return cmm.New(kr, cmm.Options{
		Metrics: metrics.NewMetricsHandler(metrics.MetricsHandlerOptions{}),
	})
}

func newKeyring(configProvider config.ConfigProvider) (keyring.Keyring, error) {
	return buildKeyring(configProvider.GetServiceConfig().Keyring)
}

// buildKeyring turns a keyring config node into a keyring, recursing for
// multi-keyrings.
func buildKeyring(cfg config.KeyringConfig) (keyring.Keyring, error) {
	switch cfg.Type {
	case "raw-rsa":
		rsaCfg := keyring.RawRSAConfig{
			Namespace: cfg.Namespace,
			Name:      cfg.Name,
		}
		var err error
		if rsaCfg.Padding, err = parsePadding(cfg.Padding); err != nil {
			return nil, err
		}
		if cfg.PublicKeyFile != "" {
			if rsaCfg.PublicKeyPEM, err = os.ReadFile(cfg.PublicKeyFile); err != nil {
				return nil, fmt.Errorf("reading public key: %w", err)
			}
		}
		if cfg.PrivateKeyFile != "" {
			if rsaCfg.PrivateKeyPEM, err = os.ReadFile(cfg.PrivateKeyFile); err != nil {
				return nil, fmt.Errorf("reading private key: %w", err)
			}
		}
		return keyring.NewRawRSA(rsaCfg)

	case "raw-aes":
		raw, err := os.ReadFile(cfg.WrapKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading wrap key: %w", err)
		}
		wrapKey, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("decoding wrap key: %w", err)
		}
		return keyring.NewRawAES(keyring.RawAESConfig{
			Namespace: cfg.Namespace,
			Name:      cfg.Name,
			WrapKey:   wrapKey,
		})

	case "aws-kms":
		sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.Region)})
		if err != nil {
			return nil, fmt.Errorf("creating AWS session: %w", err)
		}
		return keyring.NewAWSKMS(keyring.AWSKMSConfig{
			Client: kms.New(sess),
			KeyID:  cfg.KeyID,
		})

	case "gcp-kms":
		client, err := cloudkms.NewKeyManagementClient(context.Background())
		if err != nil {
			return nil, fmt.Errorf("creating Cloud KMS client: %w", err)
		}
		return keyring.NewGCPKMS(keyring.GCPKMSConfig{
			Client:  client,
			KeyName: cfg.KeyName,
		})

	case "multi":
		var generator keyring.Keyring
		if cfg.Generator != nil {
			var err error
			if generator, err = buildKeyring(*cfg.Generator); err != nil {
				return nil, err
			}
		}
		children := make([]keyring.Keyring, len(cfg.Children))
		for i, childCfg := range cfg.Children {
			child, err := buildKeyring(childCfg)
			if err != nil {
				return nil, err
			}
			children[i] = child
		}
		return keyring.NewMulti(generator, children...)

	default:
		return nil, fmt.Errorf("unsupported keyring type: %s", cfg.Type)
	}
}

func parsePadding(s string) (primitives.RSAPadding, error) {
	switch s {
	case "", "oaep-sha256":
		return primitives.RSAPaddingOAEPSHA256, nil
	case "oaep-sha1":
		return primitives.RSAPaddingOAEPSHA1, nil
	case "pkcs1v15":
		return primitives.RSAPaddingPKCS1v15, nil
	}
	return 0, fmt.Errorf("unsupported RSA padding: %s", s)
}

func keygen(ctx *cli.Context) error {
	key, err := rsa.GenerateKey(rand.Reader, ctx.Int("bits"))
	if err != nil {
		return err
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return err
	}

	prefix := ctx.String("out")
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	if err := os.WriteFile(prefix+".pem", privPEM, 0o600); err != nil {
		return err
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(prefix+".pub.pem", pubPEM, 0o644); err != nil {
		return err
	}

	fmt.Printf("wrote %s.pem and %s.pub.pem\n", prefix, prefix)
	return nil
}
