// Package config loads the service configuration: listen addresses and the
// keyring tree the materials manager is built from.
package config

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

const (
	ConfigPathFlag    = "config"
	DefaultConfigPath = "config.yaml"
)

type (
	ConfigProvider interface {
		GetServiceConfig() ServiceConfig
	}

	ServiceConfig struct {
		Server  ServerConfig  `yaml:"server"`
		Metrics MetricsConfig `yaml:"metrics"`
		Keyring KeyringConfig `yaml:"keyring"`
	}

	ServerConfig struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	}

	MetricsConfig struct {
		Port int `yaml:"port"`
	}

	// KeyringConfig describes one node of the keyring tree. Type selects
	// the variant; the remaining fields apply per type.
	KeyringConfig struct {
		Type string `yaml:"type"`

		// raw-rsa and raw-aes
		Namespace string `yaml:"namespace,omitempty"`
		Name      string `yaml:"name,omitempty"`

		// raw-rsa
		PublicKeyFile  string `yaml:"public_key_file,omitempty"`
		PrivateKeyFile string `yaml:"private_key_file,omitempty"`
		Padding        string `yaml:"padding,omitempty"`

		// raw-aes; hex-encoded wrap key material
		WrapKeyFile string `yaml:"wrap_key_file,omitempty"`

		// aws-kms
		KeyID  string `yaml:"key_id,omitempty"`
		Region string `yaml:"region,omitempty"`

		// gcp-kms
		KeyName string `yaml:"key_name,omitempty"`

		// multi
		Generator *KeyringConfig  `yaml:"generator,omitempty"`
		Children  []KeyringConfig `yaml:"children,omitempty"`
	}

	cliConfigProvider struct {
		ctx           *cli.Context
		serviceConfig ServiceConfig
	}
)

func newConfigProvider(ctx *cli.Context) (ConfigProvider, error) {
	serviceConfig, err := LoadConfig(ctx.String(ConfigPathFlag))
	if err != nil {
		return nil, err
	}

	return &cliConfigProvider{
		ctx:           ctx,
		serviceConfig: serviceConfig,
	}, nil
}

func (c *cliConfigProvider) GetServiceConfig() ServiceConfig {
	return c.serviceConfig
}

func LoadConfig(configFilePath string) (ServiceConfig, error) {
	var config ServiceConfig

	configFile, err := os.ReadFile(configFilePath)
	if err != nil {
		return config, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal(configFile, &config); err != nil {
		return config, fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	return config, nil
}
