// Package config manages credchain global configuration and locates the
// AWS shared profile files.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const (
	ConfigDirName   = ".credchain"
	ConfigFileName  = "config.json"
	DefaultLogLevel = "info"

	// Environment overrides honored by the AWS CLI and SDKs.
	EnvConfigFile      = "AWS_CONFIG_FILE"
	EnvCredentialsFile = "AWS_SHARED_CREDENTIALS_FILE"
)

// GlobalConfig holds user-level configuration for the credchain CLI and
// daemon.
type GlobalConfig struct {
	DefaultRegion string `json:"default_region"`
	LogLevel      string `json:"log_level"`
	// TokenCacheMode selects where SSO tokens live: file | encrypted | memory.
	TokenCacheMode string `json:"token_cache_mode"`
	// AuditLogPath is the SQLite journal location; empty disables auditing.
	AuditLogPath string `json:"audit_log_path"`
	// SocketPath is the daemon's unix socket.
	SocketPath string `json:"socket_path"`
	// DebounceMillis is the file-watch settle window.
	DebounceMillis int `json:"debounce_millis"`
}

// DefaultGlobalConfig returns sensible defaults.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		DefaultRegion:  "us-east-1",
		LogLevel:       DefaultLogLevel,
		TokenCacheMode: "file",
		AuditLogPath:   filepath.Join(ConfigDir(), "audit.db"),
		SocketPath:     filepath.Join(ConfigDir(), "credchain.sock"),
		DebounceMillis: 250,
	}
}

// ConfigDir returns the global credchain config directory path.
func ConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ConfigDirName)
}

// TokenCacheDir returns the SSO token cache directory.
func TokenCacheDir() string {
	return filepath.Join(ConfigDir(), "sso-cache")
}

// ProfileFilePaths returns the config and credentials file locations,
// honoring the standard environment overrides.
func ProfileFilePaths() (configPath, credentialsPath string) {
	home, _ := os.UserHomeDir()

	configPath = os.Getenv(EnvConfigFile)
	if configPath == "" {
		configPath = filepath.Join(home, ".aws", "config")
	}
	credentialsPath = os.Getenv(EnvCredentialsFile)
	if credentialsPath == "" {
		credentialsPath = filepath.Join(home, ".aws", "credentials")
	}
	return configPath, credentialsPath
}

// LoadGlobalConfig loads the global config from ~/.credchain/config.json.
func LoadGlobalConfig() (GlobalConfig, error) {
	path := filepath.Join(ConfigDir(), ConfigFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultGlobalConfig(), nil
		}
		return GlobalConfig{}, err
	}

	cfg := DefaultGlobalConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return GlobalConfig{}, err
	}
	return cfg, nil
}

// SaveGlobalConfig persists the global config to ~/.credchain/config.json.
func SaveGlobalConfig(cfg GlobalConfig) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, ConfigFileName), data, 0600)
}
