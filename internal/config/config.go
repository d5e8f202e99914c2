// Package config provides centralized configuration for the nevekod
// daemon. All operational parameters (wallet RPC, i2p proxy, thresholds,
// timeouts) are defined here; the assembled Config is read-only during
// operation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ReleaseEnv separates development and production concerns.
type ReleaseEnv string

const (
	Development ReleaseEnv = "dev"
	Production  ReleaseEnv = "prod"
)

// AppName names the process wallet file and the data directory.
const AppName = "neveko"

// MoneroWalletPasswordEnv is the environment variable injecting the app
// wallet password.
const MoneroWalletPasswordEnv = "MONERO_WALLET_PASSWORD"

// Scheduler and consensus constants.
const (
	// FTSRetryInterval is how often the failed-to-send queue retries.
	FTSRetryInterval = time.Minute

	// DisputeCheckInterval is the auto-settle scheduler period.
	DisputeCheckInterval = 30 * time.Minute

	// DisputeAutoSettle is the grace period before a dispute's staged
	// txset is signed and submitted without further input.
	DisputeAutoSettle = 7 * 24 * time.Hour

	// I2PCheckInterval is the router connectivity probe period.
	I2PCheckInterval = time.Minute

	// BlockUnlockLimit caps acceptable unlock times on incoming funds.
	BlockUnlockLimit = 20

	// RingSize is fixed for all outgoing transfers.
	RingSize = 0x10
)

// Config holds all configuration for the daemon.
type Config struct {
	// Env is the release environment (dev or prod).
	Env ReleaseEnv `yaml:"env"`

	// DataDir is the directory for the database and wallet files.
	DataDir string `yaml:"data_dir"`

	// AppPort is the port the peer surface listens on.
	AppPort uint16 `yaml:"app_port"`

	// Wallet holds monero-wallet-rpc and daemon connection settings.
	Wallet WalletConfig `yaml:"wallet"`

	// I2P holds hidden-service transport settings.
	I2P I2PConfig `yaml:"i2p"`

	// TokenTimeout is the internal auth token lifetime in minutes.
	TokenTimeout int64 `yaml:"token_timeout"`

	// PaymentThreshold is the minimum payment (atomic units) for a JWP.
	PaymentThreshold uint64 `yaml:"payment_threshold"`

	// ConfirmationThreshold is the block count after which a JWP expires.
	ConfirmationThreshold uint64 `yaml:"confirmation_threshold"`

	// ClearFTS drops the failed-to-send queue on startup.
	ClearFTS bool `yaml:"clear_fts"`

	// Logging holds logging settings.
	Logging LoggingConfig `yaml:"logging"`
}

// WalletConfig holds wallet daemon connection settings. The RPC endpoint
// uses HTTP digest authentication.
type WalletConfig struct {
	// RPCURL is the monero-wallet-rpc endpoint.
	RPCURL string `yaml:"rpc_url"`

	// DaemonURL is the monerod endpoint for height/block/tx lookups.
	DaemonURL string `yaml:"daemon_url"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// I2PConfig holds hidden-service transport settings.
type I2PConfig struct {
	// ProxyURL is the local HTTP proxy reaching .b32.i2p destinations.
	ProxyURL string `yaml:"proxy_url"`

	// Destination is this node's own .b32.i2p address.
	Destination string `yaml:"destination"`

	// TunnelsJSON is the router tunnel configuration path.
	TunnelsJSON string `yaml:"tunnels_json"`

	// AdvancedMode skips automatic tunnel creation.
	AdvancedMode bool `yaml:"advanced_mode"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`
}

// IsProduction returns true when running with prod concerns.
func (c *Config) IsProduction() bool {
	return c.Env == Production
}

// WalletPassword reads the app wallet password from the environment.
func (c *Config) WalletPassword() string {
	if p, ok := os.LookupEnv(MoneroWalletPasswordEnv); ok {
		return p
	}
	return "password"
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Env:     Development,
		DataDir: "~/.neveko",
		AppPort: 9000,
		Wallet: WalletConfig{
			RPCURL:    "http://localhost:38083",
			DaemonURL: "http://localhost:38081",
			Username:  "user",
			Password:  "pass",
		},
		I2P: I2PConfig{
			ProxyURL: "http://localhost:4444",
		},
		TokenTimeout:          60,
		PaymentThreshold:      1,
		ConfirmationThreshold: 720,
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file in dataDir. If the file
// doesn't exist, it is created with default values.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.DataDir = dataDir
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# nevekod configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for a data dir.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
