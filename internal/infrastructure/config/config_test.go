package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
service:
  id: "bench-01"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: true
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8095
bluetooth:
  adapter: "hci1"
  discovery_filter: "Socket"
  unbond_timeout: 5s
capture:
  driver: serial
  serial:
    port: "/dev/rfcomm1"
    baud_rate: 115200
  listener_priorities: ["kiosk", "cart"]
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.ID != "bench-01" {
		t.Errorf("Service.ID = %q, want %q", cfg.Service.ID, "bench-01")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.Bluetooth.Adapter != "hci1" {
		t.Errorf("Bluetooth.Adapter = %q, want %q", cfg.Bluetooth.Adapter, "hci1")
	}
	if cfg.Bluetooth.DiscoveryFilter != "Socket" {
		t.Errorf("Bluetooth.DiscoveryFilter = %q, want %q", cfg.Bluetooth.DiscoveryFilter, "Socket")
	}
	if cfg.Bluetooth.UnbondTimeout != 5*time.Second {
		t.Errorf("Bluetooth.UnbondTimeout = %v, want 5s", cfg.Bluetooth.UnbondTimeout)
	}
	// Not in the file, so the default survives.
	if cfg.Bluetooth.BondTimeout != 60*time.Second {
		t.Errorf("Bluetooth.BondTimeout = %v, want 60s", cfg.Bluetooth.BondTimeout)
	}
	if cfg.Capture.Serial.BaudRate != 115200 {
		t.Errorf("Capture.Serial.BaudRate = %d, want 115200", cfg.Capture.Serial.BaudRate)
	}
	if p := cfg.Capture.ListenerPriorities; len(p) != 2 || p[0] != "kiosk" || p[1] != "cart" {
		t.Errorf("Capture.ListenerPriorities = %v, want [kiosk cart]", p)
	}
	if cfg.Capture.ScanLogSize != 500 {
		t.Errorf("Capture.ScanLogSize = %d, want default 500", cfg.Capture.ScanLogSize)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
service:
  id: ""
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty service.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config { return defaultConfig() }

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}, wantErr: false},
		{name: "missing service ID", mutate: func(c *Config) { c.Service.ID = "" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "missing adapter", mutate: func(c *Config) { c.Bluetooth.Adapter = "" }, wantErr: true},
		{name: "zero unbond timeout", mutate: func(c *Config) { c.Bluetooth.UnbondTimeout = 0 }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.Capture.Driver = "usb-hid" }, wantErr: true},
		{name: "serial without port", mutate: func(c *Config) { c.Capture.Serial.Port = "" }, wantErr: true},
		{name: "rfcomm without address", mutate: func(c *Config) { c.Capture.Serial.RFCOMM.Enabled = true }, wantErr: true},
		{
			name: "rfcomm with address",
			mutate: func(c *Config) {
				c.Capture.Serial.RFCOMM.Enabled = true
				c.Capture.Serial.Address = "AA:BB:CC:00:00:01"
			},
			wantErr: false,
		},
		{name: "negative scan log size", mutate: func(c *Config) { c.Capture.ScanLogSize = -1 }, wantErr: true},
		{
			name: "driver none ignores serial settings",
			mutate: func(c *Config) {
				c.Capture.Driver = "none"
				c.Capture.Serial.Port = ""
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("SCANLINK_DATABASE_PATH", "/custom/path.db")
	t.Setenv("SCANLINK_MQTT_HOST", "mqtt.example.com")
	t.Setenv("SCANLINK_MQTT_USERNAME", "testuser")
	t.Setenv("SCANLINK_MQTT_PASSWORD", "testpass")
	t.Setenv("SCANLINK_API_HOST", "192.168.1.1")
	t.Setenv("SCANLINK_API_PORT", "9000")
	t.Setenv("SCANLINK_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("SCANLINK_BLUETOOTH_ADAPTER", "hci2")
	t.Setenv("SCANLINK_SERIAL_PORT", "/dev/rfcomm3")

	applyEnvOverrides(cfg)

	checks := []struct {
		field string
		got   any
		want  any
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"API.Port", cfg.API.Port, 9000},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Bluetooth.Adapter", cfg.Bluetooth.Adapter, "hci2"},
		{"Capture.Serial.Port", cfg.Capture.Serial.Port, "/dev/rfcomm3"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.field, c.got, c.want)
		}
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("SCANLINK_API_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.API.Port != 8095 {
		t.Errorf("API.Port = %d, want default 8095", cfg.API.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Service.ID == "" {
		t.Error("defaultConfig should have non-empty Service.ID")
	}
	if cfg.Bluetooth.UnbondTimeout != 10*time.Second {
		t.Errorf("defaultConfig Bluetooth.UnbondTimeout = %v, want 10s", cfg.Bluetooth.UnbondTimeout)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig should validate, got %v", err)
	}
}
