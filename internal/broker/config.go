package broker

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"
)

//go:embed mosquitto.conf.tmpl
var confTemplateText string

var confTemplate = template.Must(template.New("mosquitto.conf").Parse(confTemplateText))

// confFileMode keeps the generated file private: it carries the guest secret.
const confFileMode = 0o600

// Config holds the settings for a managed mosquitto instance.
type Config struct {
	// Binary is the path to the mosquitto executable.
	// Default: "/usr/sbin/mosquitto"
	Binary string

	// ConfigPath is where the generated mosquitto.conf is written.
	ConfigPath string

	// Port is the listener port devices and devcontrol connect to.
	// Default: 8883
	Port int

	// CertFile and KeyFile enable TLS on the listener when both are set.
	CertFile string
	KeyFile  string

	// AuthPlugin is the auth plugin shared object. Empty leaves the broker
	// without credential checks, which is only useful for local testing.
	AuthPlugin string

	// DBPath is the devcontrol database the auth plugin reads.
	DBPath string

	// Superuser is the username the plugin grants access to every topic.
	Superuser string

	// GuestSecret is the pre-shared key the plugin accepts for any username.
	GuestSecret string

	RestartOnFailure   bool
	RestartDelay       time.Duration
	MaxRestartAttempts int
	GracefulTimeout    time.Duration

	// HealthCheckInterval is the watchdog period. The watchdog kills a
	// broker whose listener stops accepting connections.
	// Default: 30s
	HealthCheckInterval time.Duration

	// ReadyTimeout bounds how long Start waits for the listener.
	// Default: 30s
	ReadyTimeout time.Duration

	// LineBuffer is how many output lines may wait for the reader before
	// new ones are dropped.
	// Default: 256
	LineBuffer int
}

// DefaultConfig returns a Config with the package defaults.
func DefaultConfig() Config {
	return Config{
		Binary:              "/usr/sbin/mosquitto",
		Port:                8883,
		RestartOnFailure:    true,
		RestartDelay:        5 * time.Second,
		MaxRestartAttempts:  10,
		GracefulTimeout:     10 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		ReadyTimeout:        30 * time.Second,
		LineBuffer:          256,
	}
}

// applyDefaults fills zero fields from DefaultConfig.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Binary == "" {
		c.Binary = d.Binary
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.RestartDelay == 0 {
		c.RestartDelay = d.RestartDelay
	}
	if c.GracefulTimeout == 0 {
		c.GracefulTimeout = d.GracefulTimeout
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = d.ReadyTimeout
	}
	if c.LineBuffer == 0 {
		c.LineBuffer = d.LineBuffer
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Binary == "" {
		return fmt.Errorf("binary is required")
	}
	if c.ConfigPath == "" {
		return fmt.Errorf("config path is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", c.Port)
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("cert file and key file must be set together")
	}
	if c.AuthPlugin != "" {
		if c.DBPath == "" {
			return fmt.Errorf("db path is required with an auth plugin")
		}
		if c.Superuser == "" {
			return fmt.Errorf("superuser is required with an auth plugin")
		}
	}

	// Every value lands on its own line of mosquitto.conf.
	for name, value := range map[string]string{
		"cert file":    c.CertFile,
		"key file":     c.KeyFile,
		"auth plugin":  c.AuthPlugin,
		"db path":      c.DBPath,
		"superuser":    c.Superuser,
		"guest secret": c.GuestSecret,
	} {
		if err := validateConfValue(value, name); err != nil {
			return err
		}
	}
	return nil
}

func validateConfValue(value, name string) error {
	if strings.ContainsAny(value, "\r\n\x00") {
		return fmt.Errorf("%s contains a line break or NUL", name)
	}
	if value != strings.TrimSpace(value) {
		return fmt.Errorf("%s has leading or trailing whitespace", name)
	}
	return nil
}

// confData is what the template sees.
type confData struct {
	Config
	TLS bool
}

// Render writes the mosquitto configuration for c to w.
func (c *Config) Render(w io.Writer) error {
	if err := confTemplate.Execute(w, confData{Config: *c, TLS: c.CertFile != ""}); err != nil {
		return fmt.Errorf("rendering mosquitto.conf: %w", err)
	}
	return nil
}

// WriteFile renders the configuration to ConfigPath. The file is replaced
// atomically so a restarting broker never reads a partial file.
func (c *Config) WriteFile() error {
	var buf bytes.Buffer
	if err := c.Render(&buf); err != nil {
		return err
	}

	dir := filepath.Dir(c.ConfigPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".mosquitto.conf-*")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // already renamed on success

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := tmp.Chmod(confFileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("setting config permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.ConfigPath); err != nil {
		return fmt.Errorf("installing %s: %w", c.ConfigPath, err)
	}
	return nil
}

// Args returns the mosquitto command line.
func (c *Config) Args() []string {
	return []string{"-c", c.ConfigPath}
}
