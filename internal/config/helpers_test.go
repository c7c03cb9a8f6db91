package config

import (
	"encoding/hex"
	"os"
	"sync"
	"testing"
)

// clearMetabaseEnv unsets every variable ApplyEnvOverrides reads so the host
// environment cannot leak into a test case.
func clearMetabaseEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvURL, EnvAPIKey, EnvSessionID, EnvUserEmail, EnvUsername, EnvPassword,
		EnvVerifySSL, EnvTimeout, EnvOutputDir, EnvAuthToken, EnvAuditLog,
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// ---------------------------------------------------------------------------
// ApplyEnvOverrides
// ---------------------------------------------------------------------------

func Test_ApplyEnvOverrides_Cases(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		initial  *Config
		wantErr  bool
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name: "url and api key from env",
			env: map[string]string{
				EnvURL:    "https://metabase.example.com/",
				EnvAPIKey: "mb_key",
			},
			initial: DefaultConfig(),
			validate: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Metabase.URL != "https://metabase.example.com/" {
					t.Errorf("URL = %q", cfg.Metabase.URL)
				}
				if cfg.Metabase.APIKey != "mb_key" {
					t.Errorf("APIKey = %q, want %q", cfg.Metabase.APIKey, "mb_key")
				}
			},
		},
		{
			name: "user email wins over username",
			env: map[string]string{
				EnvUserEmail: "analyst@example.com",
				EnvUsername:  "analyst",
				EnvPassword:  "hunter2",
			},
			initial: DefaultConfig(),
			validate: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Metabase.Username != "analyst@example.com" {
					t.Errorf("Username = %q, want %q", cfg.Metabase.Username, "analyst@example.com")
				}
				if cfg.Metabase.Password != "hunter2" {
					t.Errorf("Password = %q, want %q", cfg.Metabase.Password, "hunter2")
				}
			},
		},
		{
			name:    "username used when user email is unset",
			env:     map[string]string{EnvUsername: "analyst"},
			initial: DefaultConfig(),
			validate: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Metabase.Username != "analyst" {
					t.Errorf("Username = %q, want %q", cfg.Metabase.Username, "analyst")
				}
			},
		},
		{
			name:    "verify ssl false is case insensitive",
			env:     map[string]string{EnvVerifySSL: "FALSE"},
			initial: DefaultConfig(),
			validate: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Metabase.VerifySSL {
					t.Error("VerifySSL = true, want false")
				}
			},
		},
		{
			name: "verify ssl with any other value stays enabled",
			env:  map[string]string{EnvVerifySSL: "no"},
			initial: &Config{
				Metabase: MetabaseConfig{VerifySSL: false},
			},
			validate: func(t *testing.T, cfg *Config) {
				t.Helper()
				if !cfg.Metabase.VerifySSL {
					t.Error("VerifySSL = false, want true")
				}
			},
		},
		{
			name:    "timeout parsed as seconds",
			env:     map[string]string{EnvTimeout: "45"},
			initial: DefaultConfig(),
			validate: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Metabase.Timeout != 45 {
					t.Errorf("Timeout = %d, want 45", cfg.Metabase.Timeout)
				}
			},
		},
		{
			name:    "non-numeric timeout is an error",
			env:     map[string]string{EnvTimeout: "soon"},
			initial: DefaultConfig(),
			wantErr: true,
		},
		{
			name: "server token and output dir",
			env: map[string]string{
				EnvAuthToken: "bearer-token",
				EnvOutputDir: "/tmp/charts",
			},
			initial: DefaultConfig(),
			validate: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Server.AuthToken != "bearer-token" {
					t.Errorf("AuthToken = %q", cfg.Server.AuthToken)
				}
				if cfg.Images.OutputDir != "/tmp/charts" {
					t.Errorf("OutputDir = %q", cfg.Images.OutputDir)
				}
			},
		},
		{
			name:    "audit log path enables auditing",
			env:     map[string]string{EnvAuditLog: "/var/log/mcp-audit.log"},
			initial: DefaultConfig(),
			validate: func(t *testing.T, cfg *Config) {
				t.Helper()
				if !cfg.Audit.Enabled {
					t.Error("Audit.Enabled = false, want true")
				}
				if cfg.Audit.LogPath != "/var/log/mcp-audit.log" {
					t.Errorf("Audit.LogPath = %q", cfg.Audit.LogPath)
				}
			},
		},
		{
			name: "empty env does not override existing values",
			env:  map[string]string{},
			initial: &Config{
				Server:   ServerConfig{AuthToken: "existing"},
				Metabase: MetabaseConfig{URL: "http://file.local", APIKey: "file-key", Timeout: 12},
			},
			validate: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Server.AuthToken != "existing" {
					t.Errorf("AuthToken = %q, want %q", cfg.Server.AuthToken, "existing")
				}
				if cfg.Metabase.URL != "http://file.local" || cfg.Metabase.APIKey != "file-key" {
					t.Errorf("Metabase = %+v, want file values preserved", cfg.Metabase)
				}
				if cfg.Metabase.Timeout != 12 {
					t.Errorf("Timeout = %d, want 12", cfg.Metabase.Timeout)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearMetabaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			err := ApplyEnvOverrides(tt.initial)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.validate(t, tt.initial)
		})
	}
}

// ---------------------------------------------------------------------------
// EnsureAuthToken
// ---------------------------------------------------------------------------

func Test_EnsureAuthToken_Cases(t *testing.T) {
	t.Run("token already set returns existing token unchanged", func(t *testing.T) {
		cfg := &Config{
			Server: ServerConfig{
				AuthToken: "pre-set",
			},
		}

		token, err := EnsureAuthToken(cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token != "pre-set" {
			t.Errorf("returned token = %q, want %q", token, "pre-set")
		}
		if cfg.Server.AuthToken != "pre-set" {
			t.Errorf("cfg.Server.AuthToken = %q, want %q", cfg.Server.AuthToken, "pre-set")
		}
	})

	t.Run("empty token generates and sets new token", func(t *testing.T) {
		cfg := &Config{
			Server: ServerConfig{
				AuthToken: "",
			},
		}

		token, err := EnsureAuthToken(cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token == "" {
			t.Fatal("returned token is empty, expected a generated value")
		}
		if cfg.Server.AuthToken != token {
			t.Errorf("cfg.Server.AuthToken = %q, want %q (returned token)", cfg.Server.AuthToken, token)
		}
	})

	t.Run("generated token is 32 characters", func(t *testing.T) {
		cfg := &Config{
			Server: ServerConfig{
				AuthToken: "",
			},
		}

		token, err := EnsureAuthToken(cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(token) != 32 {
			t.Errorf("len(token) = %d, want 32", len(token))
		}
	})

	t.Run("generated token is valid hex", func(t *testing.T) {
		cfg := &Config{
			Server: ServerConfig{
				AuthToken: "",
			},
		}

		token, err := EnsureAuthToken(cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		decoded, err := hex.DecodeString(token)
		if err != nil {
			t.Fatalf("token %q is not valid hex: %v", token, err)
		}
		if len(decoded) != 16 {
			t.Errorf("decoded length = %d, want 16 bytes", len(decoded))
		}
	})

	t.Run("two calls produce different tokens", func(t *testing.T) {
		cfg1 := &Config{Server: ServerConfig{AuthToken: ""}}
		cfg2 := &Config{Server: ServerConfig{AuthToken: ""}}

		token1, err := EnsureAuthToken(cfg1)
		if err != nil {
			t.Fatalf("first call error: %v", err)
		}

		token2, err := EnsureAuthToken(cfg2)
		if err != nil {
			t.Fatalf("second call error: %v", err)
		}

		if token1 == token2 {
			t.Errorf("two generated tokens are identical: %q", token1)
		}
	})
}

// ---------------------------------------------------------------------------
// GenerateRandomToken
// ---------------------------------------------------------------------------

func Test_GenerateRandomToken_Cases(t *testing.T) {
	t.Run("returns 32 character string", func(t *testing.T) {
		token, err := GenerateRandomToken()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(token) != 32 {
			t.Errorf("len(token) = %d, want 32", len(token))
		}
	})

	t.Run("output is valid hex encoding 16 bytes", func(t *testing.T) {
		token, err := GenerateRandomToken()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		decoded, err := hex.DecodeString(token)
		if err != nil {
			t.Fatalf("token %q is not valid hex: %v", token, err)
		}
		if len(decoded) != 16 {
			t.Errorf("decoded byte length = %d, want 16", len(decoded))
		}
	})

	t.Run("two calls return different values", func(t *testing.T) {
		token1, err := GenerateRandomToken()
		if err != nil {
			t.Fatalf("first call error: %v", err)
		}

		token2, err := GenerateRandomToken()
		if err != nil {
			t.Fatalf("second call error: %v", err)
		}

		if token1 == token2 {
			t.Errorf("two generated tokens are identical: %q", token1)
		}
	})

	t.Run("concurrent calls all succeed with unique tokens", func(t *testing.T) {
		const goroutines = 100

		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			tokens = make(map[string]struct{}, goroutines)
			errs   []error
		)

		wg.Add(goroutines)
		for i := 0; i < goroutines; i++ {
			go func() {
				defer wg.Done()
				token, err := GenerateRandomToken()
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				tokens[token] = struct{}{}
			}()
		}
		wg.Wait()

		if len(errs) > 0 {
			t.Fatalf("got %d errors in concurrent calls; first: %v", len(errs), errs[0])
		}

		if len(tokens) != goroutines {
			t.Errorf("expected %d unique tokens, got %d (collisions detected)", goroutines, len(tokens))
		}
	})
}
