package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
site:
  id: "test-site"
  hub_id: "hub-42"
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "broker.local"
    port: 1883
  qos: 1
ble:
  adapter: "hci1"
  name_patterns: ["Survon"]
  scan_duration: 5s
  chunk_gap: 250ms
scheduler:
  inter_command_delay: 0s
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.HubID != "hub-42" {
		t.Errorf("Site.HubID = %q, want %q", cfg.Site.HubID, "hub-42")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.BLE.Adapter != "hci1" {
		t.Errorf("BLE.Adapter = %q, want %q", cfg.BLE.Adapter, "hci1")
	}
	if cfg.BLE.ScanDuration != 5*time.Second {
		t.Errorf("BLE.ScanDuration = %v, want 5s", cfg.BLE.ScanDuration)
	}
	if cfg.BLE.ChunkGap != 250*time.Millisecond {
		t.Errorf("BLE.ChunkGap = %v, want 250ms", cfg.BLE.ChunkGap)
	}
	if len(cfg.BLE.NamePatterns) != 1 || cfg.BLE.NamePatterns[0] != "Survon" {
		t.Errorf("BLE.NamePatterns = %v, want [Survon]", cfg.BLE.NamePatterns)
	}
	if cfg.Scheduler.InterCommandDelay != 0 {
		t.Errorf("Scheduler.InterCommandDelay = %v, want 0", cfg.Scheduler.InterCommandDelay)
	}
	// Untouched values keep their defaults.
	if cfg.BLE.ReconnectDelay != 5*time.Second {
		t.Errorf("BLE.ReconnectDelay = %v, want 5s", cfg.BLE.ReconnectDelay)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error for empty site.id, got nil")
	}
	if !strings.Contains(err.Error(), "site.id is required") {
		t.Errorf("error = %v, want mention of site.id", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FIELDLINK_HUB_ID", "env-hub")
	t.Setenv("FIELDLINK_BLE_ADAPTER", "hci3")
	t.Setenv("FIELDLINK_MQTT_PORT", "8883")
	t.Setenv("FIELDLINK_JWT_SECRET", validJWTSecret)

	cfg, err := Load(writeConfig(t, "site:\n  id: env-site\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Site.HubID != "env-hub" {
		t.Errorf("Site.HubID = %q, want env-hub", cfg.Site.HubID)
	}
	if cfg.BLE.Adapter != "hci3" {
		t.Errorf("BLE.Adapter = %q, want hci3", cfg.BLE.Adapter)
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
}

func TestDefaultConfig_RadioTimings(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"scan duration", cfg.BLE.ScanDuration, 10 * time.Second},
		{"scan interval", cfg.BLE.ScanInterval, 30 * time.Second},
		{"handshake timeout", cfg.BLE.HandshakeTimeout, 10 * time.Second},
		{"silence timeout", cfg.BLE.SilenceTimeout, 15 * time.Second},
		{"reconnect delay", cfg.BLE.ReconnectDelay, 5 * time.Second},
		{"chunk gap", cfg.BLE.ChunkGap, 500 * time.Millisecond},
		{"imminent threshold", cfg.Scheduler.ImminentThreshold, 10 * time.Second},
		{"inter command delay", cfg.Scheduler.InterCommandDelay, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Security.JWT.Secret = validJWTSecret
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:    "missing hub id",
			mutate:  func(c *Config) { c.Site.HubID = "" },
			wantErr: "site.hub_id",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid API port",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
		{
			name:   "API port ignored when API disabled",
			mutate: func(c *Config) { c.API.Enabled = false; c.API.Port = 0; c.Security.JWT.Secret = "" },
		},
		{
			name:    "short JWT secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: "at least 32 characters",
		},
		{
			name:    "missing JWT secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "" },
			wantErr: "security.jwt.secret is required",
		},
		{
			name:    "no name patterns",
			mutate:  func(c *Config) { c.BLE.NamePatterns = nil },
			wantErr: "ble.name_patterns",
		},
		{
			name:    "zero chunk gap",
			mutate:  func(c *Config) { c.BLE.ChunkGap = 0 },
			wantErr: "ble.chunk_gap",
		},
		{
			name:   "BLE settings ignored when BLE disabled",
			mutate: func(c *Config) { c.BLE.Enabled = false; c.BLE.ChunkGap = 0 },
		},
		{
			name:    "non-positive command TTL",
			mutate:  func(c *Config) { c.Scheduler.CommandTTL = 0 },
			wantErr: "scheduler.command_ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 120},
		},
	}

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 45*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 45s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 120*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 2m", got)
	}
}
