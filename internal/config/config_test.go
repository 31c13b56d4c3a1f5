package config

import (
	"path/filepath"
	"testing"
)

func TestProfileFilePathsDefaults(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv(EnvCredentialsFile, "")

	configPath, credentialsPath := ProfileFilePaths()
	if filepath.Base(configPath) != "config" || filepath.Base(filepath.Dir(configPath)) != ".aws" {
		t.Errorf("unexpected default config path: %s", configPath)
	}
	if filepath.Base(credentialsPath) != "credentials" {
		t.Errorf("unexpected default credentials path: %s", credentialsPath)
	}
}

func TestProfileFilePathsEnvOverride(t *testing.T) {
	t.Setenv(EnvConfigFile, "/tmp/custom-config")
	t.Setenv(EnvCredentialsFile, "/tmp/custom-credentials")

	configPath, credentialsPath := ProfileFilePaths()
	if configPath != "/tmp/custom-config" {
		t.Errorf("config override ignored: %s", configPath)
	}
	if credentialsPath != "/tmp/custom-credentials" {
		t.Errorf("credentials override ignored: %s", credentialsPath)
	}
}

func TestDefaultGlobalConfig(t *testing.T) {
	cfg := DefaultGlobalConfig()
	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("log level mismatch: %s", cfg.LogLevel)
	}
	if cfg.TokenCacheMode != "file" {
		t.Errorf("token cache mode mismatch: %s", cfg.TokenCacheMode)
	}
	if cfg.DebounceMillis <= 0 {
		t.Errorf("debounce default missing: %d", cfg.DebounceMillis)
	}
}
