package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hash schemes accepted for device and superuser credentials.
const (
	HashSchemeSHA256   = "sha256"
	HashSchemeArgon2id = "argon2id"
)

// Config is the root configuration structure for devcontrol.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Auth     AuthConfig     `yaml:"auth"`
	Broker   BrokerConfig   `yaml:"broker"`
	Loop     LoopConfig     `yaml:"loop"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
//
// Auth holds the superuser credentials: the control plane connects as the
// superuser so the broker ACL lets it read and write every device topic.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	KeepAlive int                 `yaml:"keepalive"`
	InboxSize int                 `yaml:"inbox_size"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	CAFile   string `yaml:"ca_file"`
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
}

// AuthConfig controls how device credentials are issued and revoked.
type AuthConfig struct {
	// HashScheme selects the credential hash stored in the auth table.
	// "sha256" matches the broker auth plugin; "argon2id" is stronger but
	// needs a plugin that understands PHC strings.
	HashScheme string `yaml:"hash_scheme"`

	// KickPSK is the broker pre-shared key used to evict the session of a
	// deleted device, whose own credentials no longer exist.
	KickPSK string `yaml:"kick_psk"`

	// SuperuserDisplayName is the profile display name of the superuser.
	SuperuserDisplayName string `yaml:"superuser_display_name"`
}

// BrokerConfig contains settings for supervising a local mosquitto broker.
type BrokerConfig struct {
	// Managed indicates whether devcontrol starts and supervises mosquitto.
	// If false, the broker is expected to be running externally.
	Managed bool `yaml:"managed"`

	// Binary is the path to the mosquitto executable.
	// Default: "/usr/sbin/mosquitto"
	Binary string `yaml:"binary"`

	// ConfigPath is where the generated mosquitto.conf is written.
	ConfigPath string `yaml:"config_path"`

	// AuthPlugin is the path to the auth plugin shared object that checks
	// credentials against the devcontrol database.
	AuthPlugin string `yaml:"auth_plugin"`

	// CertFile and KeyFile enable the TLS listener when both are set.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// LogPath is the rotating file receiving the broker's stderr.
	LogPath string `yaml:"log_path"`

	// LogMaxAgeDays bounds how long rotated broker logs are kept.
	LogMaxAgeDays int `yaml:"log_max_age_days"`

	RestartOnFailure    bool `yaml:"restart_on_failure"`
	RestartDelaySeconds int  `yaml:"restart_delay_seconds"`
	MaxRestartAttempts  int  `yaml:"max_restart_attempts"`
}

// LoopConfig tunes the single control loop.
type LoopConfig struct {
	// PollTimeout is the longest the loop waits for input before running
	// housekeeping (seconds). Must be shorter than mqtt.keepalive.
	PollTimeout int `yaml:"poll_timeout"`

	// ErrorBackoff is the pause after an unexpected failure in one
	// iteration (seconds).
	ErrorBackoff int `yaml:"error_backoff"`
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
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Rotation is time based; the active file is a symlink at Path.
type FileLoggingConfig struct {
	Path          string `yaml:"path"`
	MaxAgeDays    int    `yaml:"max_age_days"`
	RotationHours int    `yaml:"rotation_hours"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DEVCONTROL_SECTION_KEY
// For example: DEVCONTROL_DATABASE_PATH, DEVCONTROL_MQTT_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/devcontrol.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     8883,
				TLS:      true,
				ClientID: "devcontrol",
			},
			KeepAlive: 300,
			InboxSize: 256,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Auth: AuthConfig{
			HashScheme:           HashSchemeSHA256,
			SuperuserDisplayName: "devmaster",
		},
		Broker: BrokerConfig{
			Managed:             false,
			Binary:              "/usr/sbin/mosquitto",
			ConfigPath:          "./data/mosquitto.conf",
			LogPath:             "./data/mosquitto.log",
			LogMaxAgeDays:       10,
			RestartOnFailure:    true,
			RestartDelaySeconds: 5,
			MaxRestartAttempts:  10,
		},
		Loop: LoopConfig{
			PollTimeout:  30,
			ErrorBackoff: 10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
			File: FileLoggingConfig{
				MaxAgeDays:    7,
				RotationHours: 24,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DEVCONTROL_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("DEVCONTROL_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("DEVCONTROL_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DEVCONTROL_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("DEVCONTROL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DEVCONTROL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Auth
	if v := os.Getenv("DEVCONTROL_AUTH_KICK_PSK"); v != "" {
		cfg.Auth.KickPSK = v
	}
	if v := os.Getenv("DEVCONTROL_AUTH_HASH_SCHEME"); v != "" {
		cfg.Auth.HashScheme = v
	}

	// InfluxDB
	if v := os.Getenv("DEVCONTROL_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("DEVCONTROL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Auth.Username == "" || c.MQTT.Auth.Password == "" {
		errs = append(errs, "mqtt.auth.username and mqtt.auth.password are required (set DEVCONTROL_MQTT_PASSWORD)")
	}
	if c.MQTT.KeepAlive < 1 {
		errs = append(errs, "mqtt.keepalive must be positive")
	}

	if c.Loop.PollTimeout < 1 {
		errs = append(errs, "loop.poll_timeout must be positive")
	} else if c.Loop.PollTimeout >= c.MQTT.KeepAlive {
		errs = append(errs, "loop.poll_timeout must be shorter than mqtt.keepalive")
	}
	if c.Loop.ErrorBackoff < 0 {
		errs = append(errs, "loop.error_backoff cannot be negative")
	}

	switch c.Auth.HashScheme {
	case HashSchemeSHA256, HashSchemeArgon2id:
	default:
		errs = append(errs, fmt.Sprintf("auth.hash_scheme %q is not one of %s, %s",
			c.Auth.HashScheme, HashSchemeSHA256, HashSchemeArgon2id))
	}
	if c.Auth.SuperuserDisplayName == "" {
		errs = append(errs, "auth.superuser_display_name is required")
	}

	if c.Broker.Managed {
		if c.Broker.Binary == "" {
			errs = append(errs, "broker.binary is required when broker.managed is set")
		}
		if c.Broker.ConfigPath == "" {
			errs = append(errs, "broker.config_path is required when broker.managed is set")
		}
		if (c.Broker.CertFile == "") != (c.Broker.KeyFile == "") {
			errs = append(errs, "broker.cert_file and broker.key_file must be set together")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb.enabled is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// PollTimeout returns the loop poll timeout as a Duration.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.Loop.PollTimeout) * time.Second
}

// ErrorBackoff returns the loop error backoff as a Duration.
func (c *Config) ErrorBackoff() time.Duration {
	return time.Duration(c.Loop.ErrorBackoff) * time.Second
}
