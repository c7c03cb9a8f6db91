package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables recognised by ApplyEnvOverrides.
const (
	EnvURL        = "METABASE_URL"
	EnvAPIKey     = "METABASE_API_KEY"
	EnvSessionID  = "METABASE_SESSION_ID"
	EnvUserEmail  = "METABASE_USER_EMAIL"
	EnvUsername   = "METABASE_USERNAME"
	EnvPassword   = "METABASE_PASSWORD"
	EnvVerifySSL  = "METABASE_VERIFY_SSL"
	EnvTimeout    = "METABASE_TIMEOUT"
	EnvOutputDir  = "METABASE_OUTPUT_DIR"
	EnvAuthToken  = "METABASE_MCP_AUTH_TOKEN"
	EnvAuditLog   = "METABASE_MCP_AUDIT_LOG"
	EnvConfigPath = "METABASE_MCP_CONFIG_PATH"
)

// ApplyEnvOverrides updates cfg in place with values from environment
// variables. Empty variables never override a configured value.
//
//   - METABASE_URL, METABASE_API_KEY, METABASE_SESSION_ID and
//     METABASE_PASSWORD override the matching cfg.Metabase fields
//   - METABASE_USER_EMAIL (or, when unset, METABASE_USERNAME) overrides
//     cfg.Metabase.Username
//   - METABASE_VERIFY_SSL disables TLS verification only when it is "false"
//     (case-insensitive); any other value enables it
//   - METABASE_TIMEOUT must be an integer number of seconds
//   - METABASE_MCP_AUTH_TOKEN, METABASE_OUTPUT_DIR and METABASE_MCP_AUDIT_LOG
//     override the server token, image directory and audit log path; setting
//     the audit log path also enables auditing
func ApplyEnvOverrides(cfg *Config) error {
	setIfPresent(&cfg.Metabase.URL, EnvURL)
	setIfPresent(&cfg.Metabase.APIKey, EnvAPIKey)
	setIfPresent(&cfg.Metabase.SessionID, EnvSessionID)
	setIfPresent(&cfg.Metabase.Password, EnvPassword)

	if user := os.Getenv(EnvUserEmail); user != "" {
		cfg.Metabase.Username = user
	} else {
		setIfPresent(&cfg.Metabase.Username, EnvUsername)
	}

	if v := os.Getenv(EnvVerifySSL); v != "" {
		cfg.Metabase.VerifySSL = !strings.EqualFold(strings.TrimSpace(v), "false")
	}

	if v := os.Getenv(EnvTimeout); v != "" {
		secs, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvTimeout, v, err)
		}
		cfg.Metabase.Timeout = secs
	}

	setIfPresent(&cfg.Server.AuthToken, EnvAuthToken)
	setIfPresent(&cfg.Images.OutputDir, EnvOutputDir)
	if path := os.Getenv(EnvAuditLog); path != "" {
		cfg.Audit.LogPath = path
		cfg.Audit.Enabled = true
	}

	return nil
}

func setIfPresent(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
