// Package config provides configuration loading and defaults for the
// metabase-mcp server.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ResourceFilter holds allowlist and denylist entries for a resource category.
type ResourceFilter struct {
	Allowlist []string `yaml:"allowlist"`
	Denylist  []string `yaml:"denylist"`
}

// SafetyConfig groups the guard rails applied to tool invocations.
type SafetyConfig struct {
	// ConfirmDestructive makes delete/remove tools require a confirmation token.
	ConfirmDestructive bool `yaml:"confirm_destructive"`
	// Databases filters database IDs for tools that run SQL or mutate a database.
	Databases ResourceFilter `yaml:"databases"`
}

// AuditConfig controls audit logging behaviour.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	LogPath string `yaml:"log_path"`
}

// ServerConfig holds transport and authentication settings for the MCP
// server itself.
type ServerConfig struct {
	// Transport is either "stdio" or "http".
	Transport string `yaml:"transport"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// MetabaseConfig holds connection details for the remote Metabase instance.
// At most one credential shape is used; see Resolve.
type MetabaseConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	SessionID string `yaml:"session_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	VerifySSL bool   `yaml:"verify_ssl"`
	// Timeout is the HTTP request timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// ImagesConfig controls where exported card images are written.
type ImagesConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// Config is the top-level configuration structure for the metabase-mcp server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Metabase MetabaseConfig `yaml:"metabase"`
	Safety   SafetyConfig   `yaml:"safety"`
	Audit    AuditConfig    `yaml:"audit"`
	Images   ImagesConfig   `yaml:"images"`
}

// LoadConfig reads and parses a YAML configuration file from the given path.
// Fields absent from the file keep the values from DefaultConfig. On error,
// nil is returned for the config pointer.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a new Config populated with sensible default values.
// Each call returns a distinct instance.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: "stdio",
			Port:      8080,
		},
		Metabase: MetabaseConfig{
			VerifySSL: true,
			Timeout:   defaultTimeoutSeconds,
		},
		Safety: SafetyConfig{
			ConfirmDestructive: true,
		},
		Audit: AuditConfig{
			Enabled: false,
			LogPath: "audit.log",
		},
		Images: ImagesConfig{
			OutputDir: "output",
		},
	}
}

// EnsureAuthToken generates a random auth token and sets it on cfg if
// cfg.Server.AuthToken is empty. It returns the token (existing or generated)
// and any error encountered during generation.
func EnsureAuthToken(cfg *Config) (string, error) {
	if cfg.Server.AuthToken != "" {
		return cfg.Server.AuthToken, nil
	}
	token, err := GenerateRandomToken()
	if err != nil {
		return "", fmt.Errorf("generate auth token: %w", err)
	}
	cfg.Server.AuthToken = token
	return token, nil
}

// GenerateRandomToken returns a 32-character hex-encoded cryptographically
// random token string.
func GenerateRandomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("rand.Read: %w", err)
	}
	return hex.EncodeToString(b), nil
}
