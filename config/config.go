// Package config reads the deployment configuration of the relay from the
// environment.
package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ruteri/certificate-registry/interfaces"
)

const (
	ModeMemory  = "memory"
	ModeOnchain = "onchain"
)

// RelayConfig configures the HTTP relay and the infrastructure behind it.
type RelayConfig struct {
	Mode   string `env:"REGISTRY_MODE" envDefault:"memory"`
	Policy string `env:"REGISTRY_POLICY" envDefault:"verified"`

	// Admin is the initial admin of the in-memory registry.
	Admin string `env:"ADMIN_ADDRESS"`

	DatabaseURI string   `env:"DATABASE_URI" envDefault:"memory://"`
	StoragePath string   `env:"STORAGE_PATH" envDefault:"./storage"`
	StorageURIs []string `env:"STORAGE_URIS" envSeparator:","`

	RedisURL     string        `env:"REDIS_URL"`
	AuthMaxSkew  time.Duration `env:"AUTH_MAX_SKEW" envDefault:"5m"`
	KafkaBrokers []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string        `env:"KAFKA_TOPIC" envDefault:"certificate-registry-events"`

	OTelEndpoint string `env:"OTEL_EXPORTER_ENDPOINT"`

	Chain ChainConfig
}

// ChainConfig configures access to the deployed registry contract.
type ChainConfig struct {
	BlockchainURL   string `env:"BLOCKCHAIN_URL" envDefault:"http://127.0.0.1:8545"`
	ContractAddress string `env:"CONTRACT_ADDRESS"`

	// ChainID of zero means the node is asked.
	ChainID int64 `env:"CHAIN_ID"`

	AdminPrivateKey string   `env:"ADMIN_PRIVATE_KEY"`
	SignerKeys      []string `env:"SIGNER_PRIVATE_KEYS" envSeparator:","`

	ConfirmTimeout time.Duration `env:"TX_CONFIRM_TIMEOUT" envDefault:"2m"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadRelayConfig parses and validates the relay configuration.
func LoadRelayConfig() (RelayConfig, error) {
	var cfg RelayConfig
	if err := ParseEnv(&cfg); err != nil {
		return RelayConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

func (c RelayConfig) Validate() error {
	if _, err := c.IssuancePolicy(); err != nil {
		return err
	}

	switch c.Mode {
	case ModeMemory:
		if _, err := c.AdminIdentity(); err != nil {
			return err
		}
	case ModeOnchain:
		if _, err := c.Chain.Contract(); err != nil {
			return err
		}
		keys, err := c.Chain.PrivateKeys()
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return errors.New("onchain mode needs ADMIN_PRIVATE_KEY or SIGNER_PRIVATE_KEYS")
		}
	default:
		return fmt.Errorf("unknown REGISTRY_MODE %q", c.Mode)
	}
	return nil
}

func (c RelayConfig) IssuancePolicy() (interfaces.IssuancePolicy, error) {
	policy, err := interfaces.ParseIssuancePolicy(c.Policy)
	if err != nil {
		return 0, fmt.Errorf("REGISTRY_POLICY: %w", err)
	}
	return policy, nil
}

func (c RelayConfig) AdminIdentity() (interfaces.Identity, error) {
	if c.Admin == "" {
		return interfaces.Identity{}, errors.New("ADMIN_ADDRESS is required in memory mode")
	}
	id, err := interfaces.NewIdentityFromHex(c.Admin)
	if err != nil {
		return interfaces.Identity{}, fmt.Errorf("ADMIN_ADDRESS: %w", err)
	}
	return id, nil
}

// StorageLocations returns STORAGE_URIS, or a file backend at STORAGE_PATH
// when none are set.
func (c RelayConfig) StorageLocations() []interfaces.StorageBackendLocation {
	if len(c.StorageURIs) == 0 {
		return []interfaces.StorageBackendLocation{interfaces.StorageBackendLocation("file://" + c.StoragePath)}
	}
	locations := make([]interfaces.StorageBackendLocation, 0, len(c.StorageURIs))
	for _, uri := range c.StorageURIs {
		if uri = strings.TrimSpace(uri); uri != "" {
			locations = append(locations, interfaces.StorageBackendLocation(uri))
		}
	}
	return locations
}

func (c ChainConfig) Contract() (common.Address, error) {
	if !common.IsHexAddress(c.ContractAddress) {
		return common.Address{}, fmt.Errorf("CONTRACT_ADDRESS %q is not a valid address", c.ContractAddress)
	}
	return common.HexToAddress(c.ContractAddress), nil
}

// PrivateKeys parses ADMIN_PRIVATE_KEY followed by SIGNER_PRIVATE_KEYS.
func (c ChainConfig) PrivateKeys() ([]*ecdsa.PrivateKey, error) {
	raw := c.SignerKeys
	if c.AdminPrivateKey != "" {
		raw = append([]string{c.AdminPrivateKey}, raw...)
	}

	keys := make([]*ecdsa.PrivateKey, 0, len(raw))
	for i, hexKey := range raw {
		hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
		if hexKey == "" {
			continue
		}
		key, err := crypto.HexToECDSA(hexKey)
		if err != nil {
			return nil, fmt.Errorf("private key %d: %w", i, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
