package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the fieldlink radio core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	BLE       BLEConfig       `yaml:"ble"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig identifies the hub. HubID is sent to field units in every
// registration request.
type SiteConfig struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	HubID string `yaml:"hub_id"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains operator HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains settings for the live event relay.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// BLEConfig contains radio adapter, discovery and connection settings.
type BLEConfig struct {
	Enabled bool `yaml:"enabled"`

	// Adapter is the BlueZ adapter name. Empty selects the first powered adapter.
	Adapter string `yaml:"adapter"`

	// NamePatterns are substrings a peripheral name must contain to be
	// considered a field unit.
	NamePatterns []string `yaml:"name_patterns"`

	ServiceUUID   string `yaml:"service_uuid"`
	CommandUUID   string `yaml:"command_uuid"`
	TelemetryUUID string `yaml:"telemetry_uuid"`

	ScanDuration     time.Duration `yaml:"scan_duration"`
	ScanInterval     time.Duration `yaml:"scan_interval"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	SilenceTimeout   time.Duration `yaml:"silence_timeout"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	ChunkGap         time.Duration `yaml:"chunk_gap"`
	MaxMessageSize   int           `yaml:"max_message_size"`

	// ModulesDir is where generated module config artifacts are written.
	ModulesDir string `yaml:"modules_dir"`
}

// SchedulerConfig contains command scheduling settings.
type SchedulerConfig struct {
	CommandTTL          time.Duration `yaml:"command_ttl"`
	InterCommandDelay   time.Duration `yaml:"inter_command_delay"`
	ImminentThreshold   time.Duration `yaml:"imminent_threshold"`
	StaleScheduleAge    time.Duration `yaml:"stale_schedule_age"`
	PruneInterval       time.Duration `yaml:"prune_interval"`
	DefaultWindowLength time.Duration `yaml:"default_window_length"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains operator token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FIELDLINK_SECTION_KEY
// For example: FIELDLINK_DATABASE_PATH, FIELDLINK_BLE_ADAPTER
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:    "site-001",
			Name:  "Gray Logic",
			HubID: "fieldlink-hub",
		},
		Database: DatabaseConfig{
			Path:        "./data/fieldlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-fieldlink",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		BLE: BLEConfig{
			Enabled:          true,
			NamePatterns:     []string{"Survon", "Field Unit"},
			ServiceUUID:      "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
			CommandUUID:      "6e400002-b5a3-f393-e0a9-e50e24dcca9e",
			TelemetryUUID:    "6e400003-b5a3-f393-e0a9-e50e24dcca9e",
			ScanDuration:     10 * time.Second,
			ScanInterval:     30 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			SilenceTimeout:   15 * time.Second,
			ReconnectDelay:   5 * time.Second,
			ChunkGap:         500 * time.Millisecond,
			MaxMessageSize:   16 * 1024,
			ModulesDir:       "./modules",
		},
		Scheduler: SchedulerConfig{
			CommandTTL:          5 * time.Minute,
			InterCommandDelay:   100 * time.Millisecond,
			ImminentThreshold:   10 * time.Second,
			StaleScheduleAge:    5 * time.Minute,
			PruneInterval:       time.Minute,
			DefaultWindowLength: 10 * time.Second,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FIELDLINK_HUB_ID"); v != "" {
		cfg.Site.HubID = v
	}

	// Database
	if v := os.Getenv("FIELDLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("FIELDLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FIELDLINK_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("FIELDLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FIELDLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("FIELDLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("FIELDLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// BLE
	if v := os.Getenv("FIELDLINK_BLE_ADAPTER"); v != "" {
		cfg.BLE.Adapter = v
	}
	if v := os.Getenv("FIELDLINK_MODULES_DIR"); v != "" {
		cfg.BLE.ModulesDir = v
	}

	// Security - operator token secret (always override in production)
	if v := os.Getenv("FIELDLINK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if c.Site.HubID == "" {
		errs = append(errs, "site.hub_id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.BLE.Enabled {
		errs = append(errs, c.BLE.validate()...)
	}

	if c.Scheduler.CommandTTL <= 0 {
		errs = append(errs, "scheduler.command_ttl must be positive")
	}
	if c.Scheduler.InterCommandDelay < 0 {
		errs = append(errs, "scheduler.inter_command_delay must not be negative")
	}

	// Trust decisions are made through the API, so an enabled API needs a
	// secret strong enough that operator tokens cannot be forged.
	const minJWTSecretLength = 32
	if c.API.Enabled {
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required (set FIELDLINK_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (b BLEConfig) validate() []string {
	var errs []string
	if len(b.NamePatterns) == 0 {
		errs = append(errs, "ble.name_patterns must contain at least one pattern")
	}
	if b.CommandUUID == "" || b.TelemetryUUID == "" {
		errs = append(errs, "ble.command_uuid and ble.telemetry_uuid are required")
	}
	if b.ScanDuration <= 0 {
		errs = append(errs, "ble.scan_duration must be positive")
	}
	if b.HandshakeTimeout <= 0 {
		errs = append(errs, "ble.handshake_timeout must be positive")
	}
	if b.SilenceTimeout <= 0 {
		errs = append(errs, "ble.silence_timeout must be positive")
	}
	if b.ReconnectDelay <= 0 {
		errs = append(errs, "ble.reconnect_delay must be positive")
	}
	if b.ChunkGap <= 0 {
		errs = append(errs, "ble.chunk_gap must be positive")
	}
	if b.ModulesDir == "" {
		errs = append(errs, "ble.modules_dir is required")
	}
	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
