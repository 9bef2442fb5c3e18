// Package config loads mount configuration from a JSON file, applies
// environment variable and CLI overrides on top, and validates the
// result. Shape and load order follow the teacher's
// pkg/infrastructure/config package: defaults, then file, then
// environment, then validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds every setting a vaultfs-mount process needs.
type Config struct {
	Mount       MountConfig       `json:"mount"`
	ObjectStore ObjectStoreConfig `json:"object_store"`
	KeyProvider KeyProviderConfig `json:"key_provider"`
	Logging     LoggingConfig     `json:"logging"`
	Cache       CacheConfig       `json:"cache"`
}

// MountConfig holds FUSE mount parameters.
type MountConfig struct {
	Path       string `json:"path"`
	VolumeName string `json:"volume_name"`
	ReadOnly   bool   `json:"read_only"`
	AllowOther bool   `json:"allow_other"`
	Debug      bool   `json:"debug"`
	TempDir    string `json:"temp_dir"`
}

// ObjectStoreConfig holds the IPFS daemon endpoint this mount talks to.
type ObjectStoreConfig struct {
	APIEndpoint   string `json:"api_endpoint"`
	TimeoutSecond int    `json:"timeout_seconds"`
}

// KeyProviderConfig selects and parameterizes the recipient key
// provider (pkg/keyprovider). Mode is one of "static" or
// "passphrase-prompt" or "passphrase-env".
type KeyProviderConfig struct {
	Mode               string `json:"mode"`
	StaticPrivateHex   string `json:"static_private_key_hex,omitempty"`
	StaticPublicHex    string `json:"static_public_key_hex,omitempty"`
	PassphraseEnvVar   string `json:"passphrase_env_var,omitempty"`
	RootIPNSName       string `json:"root_ipns_name"`
	RootFolderKeyHex   string `json:"root_folder_key_hex"`
	RootSigningSeedHex string `json:"root_signing_seed_hex,omitempty"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
	File   string `json:"file"`
}

// CacheConfig sizes the in-memory plaintext content cache.
type CacheConfig struct {
	ContentCacheSizeMB int `json:"content_cache_size_mb"`
}

const (
	ModeStatic           = "static"
	ModePassphrasePrompt = "passphrase-prompt"
	ModePassphraseEnv    = "passphrase-env"
)

// DefaultConfig returns a configuration with sensible defaults; Mount.Path
// and the key-provider identifiers are left empty for the caller to fill
// in via file, environment, or CLI flag.
func DefaultConfig() *Config {
	return &Config{
		Mount: MountConfig{
			VolumeName: "CipherBox",
			ReadOnly:   false,
			AllowOther: false,
			Debug:      false,
			TempDir:    filepath.Join(os.TempDir(), "vaultfs"),
		},
		ObjectStore: ObjectStoreConfig{
			APIEndpoint:   "127.0.0.1:5001",
			TimeoutSecond: 30,
		},
		KeyProvider: KeyProviderConfig{
			Mode: ModePassphrasePrompt,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Cache: CacheConfig{
			ContentCacheSizeMB: 256,
		},
	}
}

// LoadConfig builds a Config starting from defaults, overlaying
// configPath's JSON contents if it exists, then environment variable
// overrides, then validates the result.
func LoadConfig(configPath string) (*Config, error) {
	c := DefaultConfig()
	if configPath != "" {
		if err := c.loadFromFile(configPath); err != nil {
			return nil, err
		}
	}
	c.applyEnvironmentOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	if v := os.Getenv("VAULTFS_MOUNT_PATH"); v != "" {
		c.Mount.Path = v
	}
	if v := os.Getenv("VAULTFS_VOLUME_NAME"); v != "" {
		c.Mount.VolumeName = v
	}
	if v := os.Getenv("VAULTFS_READ_ONLY"); v != "" {
		c.Mount.ReadOnly = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("VAULTFS_ALLOW_OTHER"); v != "" {
		c.Mount.AllowOther = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("VAULTFS_DEBUG"); v != "" {
		c.Mount.Debug = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("VAULTFS_TEMP_DIR"); v != "" {
		c.Mount.TempDir = v
	}

	if v := os.Getenv("VAULTFS_IPFS_API"); v != "" {
		c.ObjectStore.APIEndpoint = v
	}
	if v := os.Getenv("VAULTFS_IPFS_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ObjectStore.TimeoutSecond = n
		}
	}

	if v := os.Getenv("VAULTFS_KEY_MODE"); v != "" {
		c.KeyProvider.Mode = v
	}
	if v := os.Getenv("VAULTFS_KEY_STATIC_PRIVATE_HEX"); v != "" {
		c.KeyProvider.StaticPrivateHex = v
	}
	if v := os.Getenv("VAULTFS_KEY_STATIC_PUBLIC_HEX"); v != "" {
		c.KeyProvider.StaticPublicHex = v
	}
	if v := os.Getenv("VAULTFS_KEY_PASSPHRASE_ENV_VAR"); v != "" {
		c.KeyProvider.PassphraseEnvVar = v
	}
	if v := os.Getenv("VAULTFS_ROOT_IPNS_NAME"); v != "" {
		c.KeyProvider.RootIPNSName = v
	}
	if v := os.Getenv("VAULTFS_ROOT_FOLDER_KEY_HEX"); v != "" {
		c.KeyProvider.RootFolderKeyHex = v
	}
	if v := os.Getenv("VAULTFS_ROOT_SIGNING_SEED_HEX"); v != "" {
		c.KeyProvider.RootSigningSeedHex = v
	}

	if v := os.Getenv("VAULTFS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("VAULTFS_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("VAULTFS_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}
	if v := os.Getenv("VAULTFS_LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	if v := os.Getenv("VAULTFS_CONTENT_CACHE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.ContentCacheSizeMB = n
		}
	}
}

// Validate checks the configuration for internally-inconsistent or
// missing required values. It does not check Mount.Path, since that is
// ordinarily supplied as a required CLI flag rather than config.
func (c *Config) Validate() error {
	if c.ObjectStore.APIEndpoint == "" {
		return fmt.Errorf("object_store.api_endpoint cannot be empty")
	}
	if c.ObjectStore.TimeoutSecond <= 0 {
		return fmt.Errorf("object_store.timeout_seconds must be positive")
	}

	switch c.KeyProvider.Mode {
	case ModeStatic:
		if c.KeyProvider.StaticPrivateHex == "" || c.KeyProvider.StaticPublicHex == "" {
			return fmt.Errorf("key_provider.mode=static requires static_private_key_hex and static_public_key_hex")
		}
	case ModePassphrasePrompt:
		// nothing further required; passphrase is read interactively.
	case ModePassphraseEnv:
		if c.KeyProvider.PassphraseEnvVar == "" {
			return fmt.Errorf("key_provider.mode=passphrase-env requires passphrase_env_var")
		}
	default:
		return fmt.Errorf("invalid key_provider.mode: %s", c.KeyProvider.Mode)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}
	validOutputs := map[string]bool{"stderr": true, "stdout": true, "file": true, "both": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid logging.output: %s", c.Logging.Output)
	}
	if (c.Logging.Output == "file" || c.Logging.Output == "both") && c.Logging.File == "" {
		return fmt.Errorf("logging.file required when logging.output is %q", c.Logging.Output)
	}

	if c.Cache.ContentCacheSizeMB <= 0 {
		return fmt.Errorf("cache.content_cache_size_mb must be positive")
	}

	return nil
}

// SaveToFile writes c to path as indented JSON, creating parent
// directories as needed.
func (c *Config) SaveToFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// GetDefaultConfigPath returns ~/.cipherbox/config.json.
func GetDefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".cipherbox", "config.json"), nil
}
