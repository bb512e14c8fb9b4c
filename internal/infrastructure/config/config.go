package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardware backends.
const (
	BackendSimulated = "simulated"
	BackendArtNet    = "artnet"
	BackendMQTT      = "mqtt"
)

// LED kinds.
const (
	LEDKindColor    = "color"
	LEDKindPosition = "position"
)

// Update queue policies.
const (
	PolicyCoalesce = "coalesce"
	PolicyFIFO     = "fifo"
)

// Config is the root configuration structure for VimRGB Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Theme    ThemeConfig    `yaml:"theme"`
	Hardware HardwareConfig `yaml:"hardware"`
	Updater  UpdaterConfig  `yaml:"updater"`
	Editor   EditorConfig   `yaml:"editor"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ThemeConfig locates the theme file and controls hot reload.
type ThemeConfig struct {
	Path string `yaml:"path"`

	// Watch reloads the theme when the file changes on disk.
	Watch bool `yaml:"watch"`

	// DebounceMS collapses bursts of file events (milliseconds).
	DebounceMS int `yaml:"debounce_ms"`
}

// HardwareConfig selects the LED backend and describes the attached devices.
type HardwareConfig struct {
	// Backend is one of "simulated", "artnet" or "mqtt".
	Backend string         `yaml:"backend"`
	Devices []DeviceConfig `yaml:"devices"`
	ArtNet  ArtNetConfig   `yaml:"artnet"`
	MQTT    LEDMQTTConfig  `yaml:"mqtt"`

	// SimulatedLatencyMS adds a delay to every simulated write.
	SimulatedLatencyMS int `yaml:"simulated_latency_ms"`
}

// DeviceConfig describes one keyboard.
//
// LEDs are enumerated in the order given: first every entry of Keys
// (colour-capable LEDs), then every entry of LEDs.
type DeviceConfig struct {
	Name string `yaml:"name"`

	// Keys is shorthand for colour-capable LEDs named by key.
	Keys []string    `yaml:"keys"`
	LEDs []LEDConfig `yaml:"leds"`

	// Host and Universe address the device on the Art-Net backend.
	Host     string `yaml:"host"`
	Universe int    `yaml:"universe"`
}

// LEDConfig describes one LED of a device.
type LEDConfig struct {
	Key  string `yaml:"key"`
	Kind string `yaml:"kind"`
}

// ArtNetConfig contains Art-Net transport settings.
type ArtNetConfig struct {
	Port int `yaml:"port"`
}

// LEDMQTTConfig configures the MQTT LED backend.
type LEDMQTTConfig struct {
	// TopicPrefix is prepended to the device name for frame topics.
	TopicPrefix string `yaml:"topic_prefix"`
	Retain      bool   `yaml:"retain"`
}

// UpdaterConfig tunes the update queue and the consumer loop.
type UpdaterConfig struct {
	QueueSize              int    `yaml:"queue_size"`
	Policy                 string `yaml:"policy"`
	WriteTimeoutMS         int    `yaml:"write_timeout_ms"`
	RetryOnce              bool   `yaml:"retry_once"`
	MaxConsecutiveFailures int    `yaml:"max_consecutive_failures"`
}

// EditorConfig configures the editor integration.
type EditorConfig struct {
	// Enabled subscribes to editor events over MQTT.
	Enabled bool `yaml:"enabled"`

	// InitialMode is applied on start and after every reload.
	InitialMode string `yaml:"initial_mode"`

	// Aliases translates raw editor mode codes (e.g. "i", "V") to theme modes.
	Aliases map[string]string `yaml:"aliases"`
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

// DatabaseConfig contains SQLite settings for the apply history.
type DatabaseConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	WALMode       bool   `yaml:"wal_mode"`
	BusyTimeout   int    `yaml:"busy_timeout"`
	RetentionDays int    `yaml:"retention_days"`
}

// APIConfig contains HTTP control API settings.
type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Host      string             `yaml:"host"`
	Port      int                `yaml:"port"`
	Timeouts  APITimeoutConfig   `yaml:"timeouts"`
	WebSocket APIWebSocketConfig `yaml:"websocket"`
}

// APIWebSocketConfig contains settings for the event stream at /api/v1/ws.
type APIWebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: VIMRGB_SECTION_KEY
// For example: VIMRGB_THEME_PATH, VIMRGB_MQTT_HOST
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

// Default returns the built-in configuration with environment overrides
// applied. It is used when no config file is given.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Theme: ThemeConfig{
			Path:       "./theme.yaml",
			Watch:      true,
			DebounceMS: 500,
		},
		Hardware: HardwareConfig{
			Backend: BackendSimulated,
			ArtNet:  ArtNetConfig{Port: 6454},
			MQTT:    LEDMQTTConfig{TopicPrefix: "vimrgb/leds"},
		},
		Updater: UpdaterConfig{
			QueueSize:              16,
			Policy:                 PolicyCoalesce,
			WriteTimeoutMS:         1000,
			RetryOnce:              true,
			MaxConsecutiveFailures: 5,
		},
		Editor: EditorConfig{
			Enabled:     true,
			InitialMode: "normal",
			Aliases: map[string]string{
				"n":  "normal",
				"no": "normal",
				"i":  "insert",
				"ic": "insert",
				"c":  "command",
				"cv": "command",
				"v":  "visual",
				"V":  "visual",
				"^V": "visual",
				"s":  "visual",
				"S":  "visual",
				"R":  "replace",
				"Rv": "replace",
				"t":  "terminal",
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "vimrgb-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "vimrgb",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Database: DatabaseConfig{
			Path:          "./data/vimrgb.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8484,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
			WebSocket: APIWebSocketConfig{
				MaxMessageSize: 4096,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VIMRGB_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Logging
	if v := os.Getenv("VIMRGB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Theme
	if v := os.Getenv("VIMRGB_THEME_PATH"); v != "" {
		cfg.Theme.Path = v
	}

	// Hardware
	if v := os.Getenv("VIMRGB_HARDWARE_BACKEND"); v != "" {
		cfg.Hardware.Backend = v
	}

	// Database
	if v := os.Getenv("VIMRGB_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("VIMRGB_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VIMRGB_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("VIMRGB_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VIMRGB_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("VIMRGB_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("VIMRGB_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Theme.Path == "" {
		errs = append(errs, "theme.path is required")
	}
	if c.Theme.DebounceMS < 0 {
		errs = append(errs, "theme.debounce_ms must not be negative")
	}

	errs = append(errs, c.Hardware.validate()...)

	// Updater validation
	if c.Updater.QueueSize < 1 {
		errs = append(errs, "updater.queue_size must be at least 1")
	}
	switch c.Updater.Policy {
	case PolicyCoalesce, PolicyFIFO:
	default:
		errs = append(errs, fmt.Sprintf("updater.policy must be %q or %q", PolicyCoalesce, PolicyFIFO))
	}
	if c.Updater.WriteTimeoutMS < 0 {
		errs = append(errs, "updater.write_timeout_ms must not be negative")
	}
	if c.Updater.MaxConsecutiveFailures < 0 {
		errs = append(errs, "updater.max_consecutive_failures must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Enabled && (c.API.WebSocket.PingInterval < 1 || c.API.WebSocket.PongTimeout < 1) {
		errs = append(errs, "api.websocket ping_interval and pong_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (h *HardwareConfig) validate() []string {
	var errs []string

	switch h.Backend {
	case BackendSimulated, BackendMQTT:
	case BackendArtNet:
		if h.ArtNet.Port < 1 || h.ArtNet.Port > 65535 {
			errs = append(errs, "hardware.artnet.port must be between 1 and 65535")
		}
	default:
		errs = append(errs, fmt.Sprintf("hardware.backend %q is not one of simulated, artnet, mqtt", h.Backend))
	}

	names := make(map[string]bool, len(h.Devices))
	for i, d := range h.Devices {
		if d.Name == "" {
			errs = append(errs, fmt.Sprintf("hardware.devices[%d].name is required", i))
		} else if names[d.Name] {
			errs = append(errs, fmt.Sprintf("hardware.devices[%d].name %q is duplicated", i, d.Name))
		}
		names[d.Name] = true

		if h.Backend == BackendArtNet && d.Host == "" {
			errs = append(errs, fmt.Sprintf("hardware.devices[%d].host is required for artnet", i))
		}
		for j, led := range d.LEDs {
			if led.Key == "" {
				errs = append(errs, fmt.Sprintf("hardware.devices[%d].leds[%d].key is required", i, j))
			}
			switch led.Kind {
			case "", LEDKindColor, LEDKindPosition:
			default:
				errs = append(errs, fmt.Sprintf("hardware.devices[%d].leds[%d].kind %q is not color or position", i, j, led.Kind))
			}
		}
	}

	return errs
}

// DebounceDuration returns the theme watcher debounce as a Duration.
func (c *Config) DebounceDuration() time.Duration {
	return time.Duration(c.Theme.DebounceMS) * time.Millisecond
}

// WriteTimeout returns the hardware write timeout as a Duration.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Updater.WriteTimeoutMS) * time.Millisecond
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
