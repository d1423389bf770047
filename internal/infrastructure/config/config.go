package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for scanlink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	Capture   CaptureConfig   `yaml:"capture"`
}

// ServiceConfig identifies this host instance.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
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

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for scanner telemetry.
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

// BluetoothConfig contains host radio and pairing settings.
type BluetoothConfig struct {
	// Adapter is the BlueZ adapter name, e.g. "hci0".
	Adapter string `yaml:"adapter"`

	// DiscoveryFilter is the default name prefix applied when a discovery
	// request does not carry its own. Empty means no filter.
	DiscoveryFilter string `yaml:"discovery_filter"`

	// UnbondTimeout bounds the wait for a removed bond to be confirmed.
	// Default: 10s
	UnbondTimeout time.Duration `yaml:"unbond_timeout"`

	// BondTimeout bounds a bond request that never resolves.
	// Default: 60s
	BondTimeout time.Duration `yaml:"bond_timeout"`
}

// CaptureConfig contains hardware driver settings.
type CaptureConfig struct {
	// Driver selects the capture driver: "serial" or "none".
	Driver string `yaml:"driver"`

	Serial SerialConfig `yaml:"serial"`

	// Application credentials presented to vendor drivers.
	AppID       string `yaml:"app_id"`
	DeveloperID string `yaml:"developer_id"`
	AppKey      string `yaml:"app_key"`

	// Debug enables verbose driver logging.
	Debug bool `yaml:"debug"`

	// ListenerPriorities orders scan listener kinds, highest first. Each
	// scan goes to the first kind with a registered listener.
	ListenerPriorities []string `yaml:"listener_priorities"`

	// ScanLogSize is how many scans are kept in the history table.
	// Zero disables the history.
	ScanLogSize int `yaml:"scan_log_size"`
}

// SerialConfig configures a scanner bound to an RFCOMM tty in SPP mode.
type SerialConfig struct {
	Port         string        `yaml:"port"`
	BaudRate     int           `yaml:"baud_rate"`
	Address      string        `yaml:"address"`
	Name         string        `yaml:"name"`
	PollInterval time.Duration `yaml:"poll_interval"`

	// RFCOMM, when enabled, keeps the tty connected by supervising
	// `rfcomm connect`. Leave disabled when the link is managed elsewhere.
	RFCOMM RFCOMMConfig `yaml:"rfcomm"`
}

// RFCOMMConfig configures the supervised rfcomm helper.
type RFCOMMConfig struct {
	Enabled bool   `yaml:"enabled"`
	Binary  string `yaml:"binary"`
	Channel int    `yaml:"channel"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SCANLINK_SECTION_KEY
// For example: SCANLINK_DATABASE_PATH, SCANLINK_SERIAL_PORT
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
// applied. Used when no config file is given.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "scanlink-001",
			Name: "scanlink",
		},
		Database: DatabaseConfig{
			Path:        "./data/scanlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "scanlink",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8095,
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
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Bluetooth: BluetoothConfig{
			Adapter:       "hci0",
			UnbondTimeout: 10 * time.Second,
			BondTimeout:   60 * time.Second,
		},
		Capture: CaptureConfig{
			Driver:             "serial",
			ListenerPriorities: []string{"cart", "home"},
			ScanLogSize:        500,
			Serial: SerialConfig{
				Port:         "/dev/rfcomm0",
				BaudRate:     9600,
				PollInterval: 2 * time.Second,
				RFCOMM: RFCOMMConfig{
					Binary:  "rfcomm",
					Channel: 1,
				},
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCANLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("SCANLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SCANLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SCANLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("SCANLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("SCANLINK_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("SCANLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("SCANLINK_BLUETOOTH_ADAPTER"); v != "" {
		cfg.Bluetooth.Adapter = v
	}
	if v := os.Getenv("SCANLINK_SERIAL_PORT"); v != "" {
		cfg.Capture.Serial.Port = v
	}
	if v := os.Getenv("SCANLINK_CAPTURE_APP_KEY"); v != "" {
		cfg.Capture.AppKey = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Bluetooth.Adapter == "" {
		errs = append(errs, "bluetooth.adapter is required")
	}
	if c.Bluetooth.UnbondTimeout <= 0 {
		errs = append(errs, "bluetooth.unbond_timeout must be positive")
	}

	if c.Capture.ScanLogSize < 0 {
		errs = append(errs, "capture.scan_log_size must not be negative")
	}

	switch c.Capture.Driver {
	case "none":
	case "serial":
		if c.Capture.Serial.Port == "" {
			errs = append(errs, "capture.serial.port is required for the serial driver")
		}
		if c.Capture.Serial.BaudRate <= 0 {
			errs = append(errs, "capture.serial.baud_rate must be positive")
		}
		if c.Capture.Serial.RFCOMM.Enabled && c.Capture.Serial.Address == "" {
			errs = append(errs, "capture.serial.address is required when capture.serial.rfcomm is enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("capture.driver %q is not supported (serial, none)", c.Capture.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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
