package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel string       `yaml:"log_level"`
	Stack    StackConfig  `yaml:"stack"`
	Device   DeviceConfig `yaml:"device"`
	Sensor   SensorConfig `yaml:"sensor"`
	Update   UpdateConfig `yaml:"update"`
}

// StackConfig selects and tunes the radio stack backend.
type StackConfig struct {
	Backend       string        `yaml:"backend"`    // "tinygo" or "hci"
	HCIDevice     int           `yaml:"hci_device"` // -1 picks the first LE capable device
	EnableTimeout time.Duration `yaml:"enable_timeout"`
}

// DeviceConfig holds the advertised name and Device Information strings.
type DeviceConfig struct {
	Name         string `yaml:"name"`
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	Serial       string `yaml:"serial"`
}

// SensorConfig holds measurement source settings.
type SensorConfig struct {
	Source      string        `yaml:"source"` // "auto", "w1" or "random"
	W1BaseDir   string        `yaml:"w1_base_dir"`
	W1Device    string        `yaml:"w1_device"` // explicit w1_slave path, overrides discovery
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	RandomMin   float64       `yaml:"random_min"`
	RandomMax   float64       `yaml:"random_max"`
}

// UpdateConfig controls the periodic notify loop.
type UpdateConfig struct {
	Interval time.Duration `yaml:"interval"`
	Notify   bool          `yaml:"notify"`
	Indicate bool          `yaml:"indicate"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "envsense")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Stack: StackConfig{
			Backend:       "tinygo",
			HCIDevice:     -1,
			EnableTimeout: 10 * time.Second,
		},
		Device: DeviceConfig{
			Name:         "envsense",
			Manufacturer: "envsense",
			Model:        "DS18B20",
			Serial:       "0001",
		},
		Sensor: SensorConfig{
			Source:      "auto",
			W1BaseDir:   "/sys/bus/w1/devices",
			MaxAttempts: 5,
			RetryDelay:  200 * time.Millisecond,
			ReadTimeout: 2 * time.Second,
			RandomMin:   23.0,
			RandomMax:   24.5,
		},
		Update: UpdateConfig{
			Interval: time.Second,
			Notify:   true,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in sensor paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Sensor.W1BaseDir = expandTilde(cfg.Sensor.W1BaseDir)
	cfg.Sensor.W1Device = expandTilde(cfg.Sensor.W1Device)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.Stack.Backend {
	case "tinygo", "hci":
	default:
		return fmt.Errorf("stack.backend must be \"tinygo\" or \"hci\", got %q", c.Stack.Backend)
	}
	if c.Stack.HCIDevice < -1 {
		return fmt.Errorf("stack.hci_device must be >= -1, got %d", c.Stack.HCIDevice)
	}
	if c.Stack.EnableTimeout <= 0 {
		return fmt.Errorf("stack.enable_timeout must be > 0")
	}

	if c.Device.Name == "" {
		return fmt.Errorf("device.name must not be empty")
	}
	// Name must fit a legacy advertising packet next to the service list.
	if len(c.Device.Name) > 20 {
		return fmt.Errorf("device.name must be at most 20 bytes, got %d", len(c.Device.Name))
	}

	switch c.Sensor.Source {
	case "auto", "w1", "random":
	default:
		return fmt.Errorf("sensor.source must be auto, w1, or random, got %q", c.Sensor.Source)
	}
	if c.Sensor.MaxAttempts < 1 {
		return fmt.Errorf("sensor.max_attempts must be >= 1")
	}
	if c.Sensor.RetryDelay < 0 {
		return fmt.Errorf("sensor.retry_delay must not be negative")
	}
	if c.Sensor.ReadTimeout <= 0 {
		return fmt.Errorf("sensor.read_timeout must be > 0")
	}
	if c.Sensor.RandomMin > c.Sensor.RandomMax {
		return fmt.Errorf("sensor.random_min (%.2f) must not exceed sensor.random_max (%.2f)", c.Sensor.RandomMin, c.Sensor.RandomMax)
	}

	if c.Update.Interval < time.Second {
		return fmt.Errorf("update.interval must be >= 1s, got %s", c.Update.Interval)
	}
	// The interval is also served as a uint16 count of seconds.
	if c.Update.Interval > math.MaxUint16*time.Second {
		return fmt.Errorf("update.interval must be at most %s, got %s", math.MaxUint16*time.Second, c.Update.Interval)
	}
	if c.Update.Interval%time.Second != 0 {
		return fmt.Errorf("update.interval must be a whole number of seconds, got %s", c.Update.Interval)
	}

	return nil
}

// SlogLevel maps LogLevel to a slog.Level. Unknown values map to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# envsense configuration
# Generated with defaults. Edit as needed.
# stack.backend: tinygo (BlueZ, CoreBluetooth, WinRT) or hci (raw HCI socket, Linux, needs CAP_NET_ADMIN)
# sensor.source: auto, w1 (DS18B20 over 1-Wire) or random
# update.interval: whole seconds, 1s to 65535s
# update.notify/indicate: with the tinygo backend both off also stops refreshing the served value
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the written path, or "" when a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
