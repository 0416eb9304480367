package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, doc map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sbc.json")
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshaling test config: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func clearOverlayEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{"SBC_BIND_PORT", "SBC_SIP_DOMAIN", "SBC_LOG_LEVEL", "SBC_LOG_FORMAT", "SBC_CONFIG"} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestDefaultsWithoutConfigFile(t *testing.T) {
	clearOverlayEnv(t)
	os.Args = []string{"sbc"}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.BindPort != defaultBindPort {
		t.Errorf("Server.BindPort = %d, want %d", cfg.Server.BindPort, defaultBindPort)
	}
	if cfg.SIP.UserAgent != defaultUserAgent {
		t.Errorf("SIP.UserAgent = %q, want %q", cfg.SIP.UserAgent, defaultUserAgent)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
}

func TestLoadsConfigFile(t *testing.T) {
	clearOverlayEnv(t)
	path := writeConfig(t, map[string]any{
		"server": map[string]any{"bind_address": "127.0.0.1", "bind_port": 9000, "workers": 8},
		"sip":    map[string]any{"domain": "sbc.example.com", "user_agent": "rustalk-sbc-test"},
	})
	os.Args = []string{"sbc", "--config", path}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.BindPort != 9000 {
		t.Errorf("Server.BindPort = %d, want 9000", cfg.Server.BindPort)
	}
	if cfg.SIP.Domain != "sbc.example.com" {
		t.Errorf("SIP.Domain = %q, want sbc.example.com", cfg.SIP.Domain)
	}
}

func TestConfigEnvVarSelectsFile(t *testing.T) {
	clearOverlayEnv(t)
	path := writeConfig(t, map[string]any{"sip": map[string]any{"domain": "env-selected.example.com"}})
	t.Setenv("SBC_CONFIG", path)
	os.Args = []string{"sbc"}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SIP.Domain != "env-selected.example.com" {
		t.Errorf("SIP.Domain = %q, want env-selected.example.com", cfg.SIP.Domain)
	}
}

func TestOverlayEnvVarOverridesFile(t *testing.T) {
	clearOverlayEnv(t)
	path := writeConfig(t, map[string]any{"server": map[string]any{"bind_port": 9000}})
	os.Args = []string{"sbc", "--config", path}
	t.Setenv("SBC_BIND_PORT", "9443")
	t.Setenv("SBC_SIP_DOMAIN", "from-env.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.BindPort != 9443 {
		t.Errorf("Server.BindPort = %d, want 9443 (env should override file)", cfg.Server.BindPort)
	}
	if cfg.SIP.Domain != "from-env.example.com" {
		t.Errorf("SIP.Domain = %q, want from-env.example.com", cfg.SIP.Domain)
	}
}

func TestOverlayFlagOverridesEnvVar(t *testing.T) {
	clearOverlayEnv(t)
	path := writeConfig(t, map[string]any{"server": map[string]any{"bind_port": 9000}})
	os.Args = []string{"sbc", "--config", path, "--bind-port", "7000", "--log-level", "warn"}
	t.Setenv("SBC_BIND_PORT", "9443")
	t.Setenv("SBC_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.BindPort != 7000 {
		t.Errorf("Server.BindPort = %d, want 7000 (flag should override env)", cfg.Server.BindPort)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (flag should override env)", cfg.LogLevel)
	}
}

func TestValidateInvalidBindPort(t *testing.T) {
	clearOverlayEnv(t)
	os.Args = []string{"sbc", "--bind-port", "99999"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid bind port, got nil")
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	clearOverlayEnv(t)
	os.Args = []string{"sbc", "--log-level", "verbose"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestValidateTLSMismatch(t *testing.T) {
	clearOverlayEnv(t)
	path := writeConfig(t, map[string]any{
		"transport": map[string]any{"protocols": []string{"udp", "tls"}, "tls_cert": "cert.pem"},
	})
	os.Args = []string{"sbc", "--config", path}
	if _, err := Load(); err == nil {
		t.Fatal("expected error when tls is requested with tls_cert but no tls_key")
	}
}

func TestValidateACMERequiresEmailAndDomains(t *testing.T) {
	clearOverlayEnv(t)
	path := writeConfig(t, map[string]any{"acme": map[string]any{"enabled": true}})
	os.Args = []string{"sbc", "--config", path}
	if _, err := Load(); err == nil {
		t.Fatal("expected error when acme.enabled is true without email/domains")
	}
}

func TestValidateTeamsRequiresFQDNs(t *testing.T) {
	clearOverlayEnv(t)
	path := writeConfig(t, map[string]any{"teams": map[string]any{"enabled": true}})
	os.Args = []string{"sbc", "--config", path}
	if _, err := Load(); err == nil {
		t.Fatal("expected error when teams.enabled is true without sbc_fqdn/trunk_fqdn")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
