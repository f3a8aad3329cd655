package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
storage:
  driver: "sqlite"
  sqlite:
    path: "/tmp/tvfleet.db"
mqtt:
  enabled: true
  broker:
    host: "broker.local"
    port: 1883
  qos: 1
services:
  adb:
    enabled: true
    port: 2616
  cec:
    enabled: false
`
	configPath := writeConfig(t, content)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.Driver != StorageDriverSQLite {
		t.Errorf("Storage.Driver = %q, want %q", cfg.Storage.Driver, StorageDriverSQLite)
	}
	if cfg.Storage.SQLite.Path != "/tmp/tvfleet.db" {
		t.Errorf("Storage.SQLite.Path = %q, want %q", cfg.Storage.SQLite.Path, "/tmp/tvfleet.db")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.Services.ADB.Port != 2616 {
		t.Errorf("Services.ADB.Port = %d, want 2616", cfg.Services.ADB.Port)
	}
	// Unset keys keep their defaults.
	if cfg.Services.ADB.Binary != "adb" {
		t.Errorf("Services.ADB.Binary = %q, want adb", cfg.Services.ADB.Binary)
	}
	if cfg.Services.CEC.Enabled {
		t.Error("Services.CEC.Enabled = true, want false")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(DefaultPath)
	if err != nil {
		t.Fatalf("Load(DefaultPath) error = %v", err)
	}
	if cfg.Services.ADB.Port != 1616 || cfg.Services.CEC.Port != 1618 {
		t.Errorf("ports = %d/%d, want 1616/1618", cfg.Services.ADB.Port, cfg.Services.CEC.Port)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
storage:
  driver: "postgres"
`
	configPath := writeConfig(t, content)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for unknown driver, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown storage driver",
			mutate:  func(c *Config) { c.Storage.Driver = "redis" },
			wantErr: "storage.driver",
		},
		{
			name:    "json driver without dir",
			mutate:  func(c *Config) { c.Storage.Dir = "" },
			wantErr: "storage.dir",
		},
		{
			name: "sqlite driver without path",
			mutate: func(c *Config) {
				c.Storage.Driver = StorageDriverSQLite
				c.Storage.SQLite.Path = ""
			},
			wantErr: "storage.sqlite.path",
		},
		{
			name: "invalid QoS when mqtt enabled",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.QoS = 3
			},
			wantErr: "mqtt.qos",
		},
		{
			name:   "invalid QoS ignored when mqtt disabled",
			mutate: func(c *Config) { c.MQTT.QoS = 3 },
		},
		{
			name: "no services enabled",
			mutate: func(c *Config) {
				c.Services.ADB.Enabled = false
				c.Services.CEC.Enabled = false
			},
			wantErr: "at least one",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Services.ADB.Port = 70000 },
			wantErr: "services.adb.port",
		},
		{
			name:    "ports collide",
			mutate:  func(c *Config) { c.Services.CEC.Port = c.Services.ADB.Port },
			wantErr: "must differ",
		},
		{
			name:    "empty probe ports",
			mutate:  func(c *Config) { c.Services.CEC.ProbePorts = nil },
			wantErr: "services.cec.probe_ports",
		},
		{
			name:    "unknown scan method",
			mutate:  func(c *Config) { c.Services.ADB.ScanMethod = "arp" },
			wantErr: "scan_method",
		},
		{
			name: "disabled service skips validation",
			mutate: func(c *Config) {
				c.Services.CEC.Enabled = false
				c.Services.CEC.Binary = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestAPITimeouts(t *testing.T) {
	timeouts := APITimeoutConfig{Read: 30, Write: 45, Idle: 60}

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"read", timeouts.ReadTimeout(), 30 * time.Second},
		{"write", timeouts.WriteTimeout(), 45 * time.Second},
		{"idle", timeouts.IdleTimeout(), time.Minute},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s timeout = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestServiceConfig_Durations(t *testing.T) {
	s := defaultConfig().Services.CEC

	if got := s.CommandTimeoutDuration().Seconds(); got != 5 {
		t.Errorf("CommandTimeoutDuration() = %v, want 5s", got)
	}
	if got := s.MonitorIntervalDuration().Seconds(); got != 10 {
		t.Errorf("MonitorIntervalDuration() = %v, want 10s", got)
	}
	if got := s.ScanProbeTimeoutDuration().Milliseconds(); got != 500 {
		t.Errorf("ScanProbeTimeoutDuration() = %vms, want 500ms", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("TVFLEET_STORAGE_DRIVER", "sqlite")
	t.Setenv("TVFLEET_SQLITE_PATH", "/custom/path.db")
	t.Setenv("TVFLEET_MQTT_HOST", "mqtt.example.com")
	t.Setenv("TVFLEET_MQTT_USERNAME", "testuser")
	t.Setenv("TVFLEET_MQTT_PASSWORD", "testpass")
	t.Setenv("TVFLEET_API_HOST", "192.168.1.1")
	t.Setenv("TVFLEET_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("TVFLEET_ADB_PORT", "3000")
	t.Setenv("TVFLEET_CEC_PORT", "not-a-number")
	t.Setenv("TVFLEET_CEC_BINARY", "/opt/cec/cec-client")

	applyEnvOverrides(cfg)

	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Storage.SQLite.Path != "/custom/path.db" {
		t.Errorf("Storage.SQLite.Path = %q, want %q", cfg.Storage.SQLite.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Services.ADB.Port != 3000 {
		t.Errorf("Services.ADB.Port = %d, want 3000", cfg.Services.ADB.Port)
	}
	if cfg.Services.CEC.Port != 1618 {
		t.Errorf("Services.CEC.Port = %d, want unchanged 1618", cfg.Services.CEC.Port)
	}
	if cfg.Services.CEC.Binary != "/opt/cec/cec-client" {
		t.Errorf("Services.CEC.Binary = %q", cfg.Services.CEC.Binary)
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv("TVFLEET_CONFIG", "")
	if got := PathFromEnv(); got != DefaultPath {
		t.Errorf("PathFromEnv() = %q, want %q", got, DefaultPath)
	}

	t.Setenv("TVFLEET_CONFIG", "/etc/tvfleet.yaml")
	if got := PathFromEnv(); got != "/etc/tvfleet.yaml" {
		t.Errorf("PathFromEnv() = %q, want /etc/tvfleet.yaml", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Services.ADB.Port != 1616 {
		t.Errorf("ADB port = %d, want 1616", cfg.Services.ADB.Port)
	}
	if cfg.Services.CEC.Port != 1618 {
		t.Errorf("CEC port = %d, want 1618", cfg.Services.CEC.Port)
	}
	if cfg.Services.ADB.CommandTimeout != 30 {
		t.Errorf("ADB command timeout = %d, want 30", cfg.Services.ADB.CommandTimeout)
	}
	if got := cfg.Services.CEC.ProbePorts; len(got) != 2 || got[0] != 9740 || got[1] != 80 {
		t.Errorf("CEC probe ports = %v, want [9740 80]", got)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}
