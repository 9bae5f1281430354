// Package config loads the TOML configuration shared by the ledger daemon,
// the gateway and the audit service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress       string `toml:"RPCAddress"`
	GatewayAddress   string `toml:"GatewayAddress"`
	DataDir          string `toml:"DataDir"`
	Env              string `toml:"Env"`
	RPCAuthToken     string `toml:"RPCAuthToken"`
	RPCAuthTokenEnv  string `toml:"RPCAuthTokenEnv"`
	GatewaySecret    string `toml:"GatewaySecret"`
	GatewaySecretEnv string `toml:"GatewaySecretEnv"`
	NonceStorePath   string `toml:"NonceStorePath"`
	AuditDatabase    string `toml:"AuditDatabase"`
	AuditPollSeconds int    `toml:"AuditPollSeconds"`
}

// Load loads the configuration from the given path. A missing file is
// replaced with a persisted default.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults(path)
	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults(path string) {
	dir := filepath.Dir(path)
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8080"
	}
	if strings.TrimSpace(c.GatewayAddress) == "" {
		c.GatewayAddress = ":8081"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = filepath.Join(dir, "escrow-data")
	}
	if strings.TrimSpace(c.Env) == "" {
		c.Env = "local"
	}
	if strings.TrimSpace(c.NonceStorePath) == "" {
		c.NonceStorePath = filepath.Join(c.DataDir, "gateway-nonces.db")
	}
	if strings.TrimSpace(c.AuditDatabase) == "" {
		c.AuditDatabase = filepath.Join(c.DataDir, "audit.db")
	}
	if c.AuditPollSeconds <= 0 {
		c.AuditPollSeconds = 5
	}
}

func (c *Config) resolveSecrets() error {
	if c.RPCAuthToken == "" && c.RPCAuthTokenEnv != "" {
		value, ok := os.LookupEnv(c.RPCAuthTokenEnv)
		if !ok {
			return fmt.Errorf("environment variable %s named by RPCAuthTokenEnv is not set", c.RPCAuthTokenEnv)
		}
		c.RPCAuthToken = strings.TrimSpace(value)
	}
	if c.GatewaySecret == "" && c.GatewaySecretEnv != "" {
		value, ok := os.LookupEnv(c.GatewaySecretEnv)
		if !ok {
			return fmt.Errorf("environment variable %s named by GatewaySecretEnv is not set", c.GatewaySecretEnv)
		}
		c.GatewaySecret = strings.TrimSpace(value)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:     ":8080",
		GatewayAddress: ":8081",
		DataDir:        "./escrow-data",
		Env:            "local",
	}
	cfg.applyDefaults(path)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
