package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	StorageDriverJSON   = "json"
	StorageDriverSQLite = "sqlite"
)

// Scan methods.
const (
	ScanMethodTCP  = "tcp"
	ScanMethodNmap = "nmap"
)

// DefaultPath is used when TVFLEET_CONFIG is unset.
const DefaultPath = "configs/config.yaml"

// Config mirrors configs/config.yaml.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Services  ServicesConfig  `yaml:"services"`
}

// LoggingConfig selects level (debug, info, warn, error), format (json,
// text) and output (stdout, stderr).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// StorageConfig selects the persistence backend for registry, scan and
// overlay documents.
type StorageConfig struct {
	// Driver is "json" (one file per document) or "sqlite".
	Driver string `yaml:"driver"`

	// Dir holds the JSON documents. Each backend service uses its own
	// subdirectory (e.g. data/adb/devices.json).
	Dir string `yaml:"dir"`

	SQLite SQLiteConfig `yaml:"sqlite"`
}

// SQLiteConfig is used when Driver is "sqlite". BusyTimeout is in seconds.
type SQLiteConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains settings shared by every backend HTTP server.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// MaxUploadMB bounds media uploads accepted by POST /media/{address}.
	MaxUploadMB int `yaml:"max_upload_mb"`
}

// APITimeoutConfig holds HTTP server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig lists what browsers may call the API. No origins means any.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig tunes the event stream. Intervals are in seconds.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MQTTConfig enables the optional broker link.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds the reconnect backoff, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig enables telemetry writes. FlushInterval is in seconds.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// ServicesConfig holds one section per transport backend.
type ServicesConfig struct {
	ADB ServiceConfig `yaml:"adb"`
	CEC ServiceConfig `yaml:"cec"`
}

// ServiceConfig configures one isolated backend service (registry, monitor,
// dispatcher, scanner and HTTP listener).
type ServiceConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`

	// Binary is the external tool invoked for commands ("adb" or "cec-client").
	Binary string `yaml:"binary"`

	// CommandTimeout bounds a single transport invocation, in seconds.
	CommandTimeout int `yaml:"command_timeout"`

	// MonitorInterval is the delay between health cycles, in seconds.
	MonitorInterval int `yaml:"monitor_interval"`

	// ProbePorts are tried in order; the first successful connect wins.
	ProbePorts []int `yaml:"probe_ports"`

	// ProbeTimeout bounds one TCP connect, in milliseconds.
	ProbeTimeout int `yaml:"probe_timeout_ms"`

	// ScanProbeTimeout bounds one connect during a network sweep, in milliseconds.
	ScanProbeTimeout int `yaml:"scan_probe_timeout_ms"`

	// ScanConcurrency caps in-flight probes during a tcp sweep.
	ScanConcurrency int `yaml:"scan_concurrency"`

	// ScanMethod is "tcp" or "nmap".
	ScanMethod string `yaml:"scan_method"`

	// DefaultSubnet is used when a scan request omits one.
	DefaultSubnet string `yaml:"default_subnet"`

	// BatchConcurrency caps parallel sends in a batch command.
	BatchConcurrency int `yaml:"batch_concurrency"`

	// ADB only.
	DevicePort  int    `yaml:"device_port"`
	MediaDir    string `yaml:"media_dir"`
	OverlayApp  string `yaml:"overlay_app"`
	PushTimeout int    `yaml:"push_timeout"`

	// CEC only.
	CECHeader string `yaml:"cec_header"`
}

// Load builds the configuration in three layers: built-in defaults, the
// YAML file at path, then TVFLEET_* environment variables. The result is
// validated. A missing file is tolerated only at DefaultPath.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if err := mergeFile(cfg, path); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && path == DefaultPath {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// PathFromEnv returns TVFLEET_CONFIG or DefaultPath.
func PathFromEnv() string {
	if v := os.Getenv("TVFLEET_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// defaultConfig is the configuration used for anything config.yaml omits.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Storage: StorageConfig{
			Driver: StorageDriverJSON,
			Dir:    "./data",
			SQLite: SQLiteConfig{
				Path:        "./data/tvfleet.db",
				WALMode:     true,
				BusyTimeout: 5,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 120,
				Idle:  60,
			},
			MaxUploadMB: 512,
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tvfleet",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "tvfleet",
			Bucket:        "tvfleet",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Services: ServicesConfig{
			ADB: ServiceConfig{
				Enabled:          true,
				Port:             1616,
				Binary:           "adb",
				CommandTimeout:   30,
				MonitorInterval:  5,
				ProbePorts:       []int{5555},
				ProbeTimeout:     1000,
				ScanProbeTimeout: 500,
				ScanConcurrency:  64,
				ScanMethod:       ScanMethodTCP,
				DefaultSubnet:    "192.168.1",
				BatchConcurrency: 16,
				DevicePort:       5555,
				MediaDir:         "/sdcard/Download",
				OverlayApp:       "com.mosys.billing/.MainActivity",
				PushTimeout:      300,
			},
			CEC: ServiceConfig{
				Enabled:          true,
				Port:             1618,
				Binary:           "cec-client",
				CommandTimeout:   5,
				MonitorInterval:  10,
				ProbePorts:       []int{9740, 80},
				ProbeTimeout:     1000,
				ScanProbeTimeout: 500,
				ScanConcurrency:  64,
				ScanMethod:       ScanMethodTCP,
				DefaultSubnet:    "192.168.1",
				BatchConcurrency: 16,
				CECHeader:        "10",
			},
		},
	}
}

// applyEnvOverrides lets TVFLEET_* variables replace file values. Integer
// variables that do not parse are ignored.
func applyEnvOverrides(cfg *Config) {
	strs := map[string]*string{
		"TVFLEET_LOG_LEVEL":      &cfg.Logging.Level,
		"TVFLEET_STORAGE_DRIVER": &cfg.Storage.Driver,
		"TVFLEET_STORAGE_DIR":    &cfg.Storage.Dir,
		"TVFLEET_SQLITE_PATH":    &cfg.Storage.SQLite.Path,
		"TVFLEET_API_HOST":       &cfg.API.Host,
		"TVFLEET_ADB_BINARY":     &cfg.Services.ADB.Binary,
		"TVFLEET_CEC_BINARY":     &cfg.Services.CEC.Binary,
		"TVFLEET_MQTT_HOST":      &cfg.MQTT.Broker.Host,
		"TVFLEET_MQTT_USERNAME":  &cfg.MQTT.Auth.Username,
		"TVFLEET_MQTT_PASSWORD":  &cfg.MQTT.Auth.Password,
		"TVFLEET_INFLUXDB_TOKEN": &cfg.InfluxDB.Token,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"TVFLEET_ADB_PORT": &cfg.Services.ADB.Port,
		"TVFLEET_CEC_PORT": &cfg.Services.CEC.Port,
	}
	for key, dst := range ints {
		if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
			*dst = n
		}
	}
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []string

	switch c.Storage.Driver {
	case StorageDriverJSON:
		if c.Storage.Dir == "" {
			errs = append(errs, "storage.dir is required for the json driver")
		}
	case StorageDriverSQLite:
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, "storage.sqlite.path is required for the sqlite driver")
		}
	default:
		errs = append(errs, "storage.driver must be json or sqlite")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, fmt.Sprintf("mqtt.qos %d is not 0, 1 or 2", c.MQTT.QoS))
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if !c.Services.ADB.Enabled && !c.Services.CEC.Enabled {
		errs = append(errs, "at least one of services.adb or services.cec must be enabled")
	}

	errs = append(errs, c.Services.ADB.validate("services.adb")...)
	errs = append(errs, c.Services.CEC.validate("services.cec")...)

	if c.Services.ADB.Enabled && c.Services.CEC.Enabled && c.Services.ADB.Port == c.Services.CEC.Port {
		errs = append(errs, "services.adb.port and services.cec.port must differ")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
}

func (s ServiceConfig) validate(prefix string) []string {
	if !s.Enabled {
		return nil
	}

	var errs []string
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, prefix+".port must be between 1 and 65535")
	}
	if s.Binary == "" {
		errs = append(errs, prefix+".binary is required")
	}
	if s.CommandTimeout <= 0 {
		errs = append(errs, prefix+".command_timeout must be positive")
	}
	if s.MonitorInterval <= 0 {
		errs = append(errs, prefix+".monitor_interval must be positive")
	}
	if len(s.ProbePorts) == 0 {
		errs = append(errs, prefix+".probe_ports must list at least one port")
	}
	for _, p := range s.ProbePorts {
		if p < 1 || p > 65535 {
			errs = append(errs, fmt.Sprintf("%s.probe_ports contains invalid port %d", prefix, p))
		}
	}
	if s.ScanMethod != ScanMethodTCP && s.ScanMethod != ScanMethodNmap {
		errs = append(errs, prefix+".scan_method must be tcp or nmap")
	}
	return errs
}

// ReadTimeout is Read in seconds as a Duration.
func (t APITimeoutConfig) ReadTimeout() time.Duration { return seconds(t.Read) }

// WriteTimeout is Write in seconds as a Duration.
func (t APITimeoutConfig) WriteTimeout() time.Duration { return seconds(t.Write) }

// IdleTimeout is Idle in seconds as a Duration.
func (t APITimeoutConfig) IdleTimeout() time.Duration { return seconds(t.Idle) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// CommandTimeoutDuration bounds one transport invocation.
func (s ServiceConfig) CommandTimeoutDuration() time.Duration { return seconds(s.CommandTimeout) }

// MonitorIntervalDuration is the pause between health cycles.
func (s ServiceConfig) MonitorIntervalDuration() time.Duration { return seconds(s.MonitorInterval) }

// ProbeTimeoutDuration bounds one health probe connect.
func (s ServiceConfig) ProbeTimeoutDuration() time.Duration {
	return time.Duration(s.ProbeTimeout) * time.Millisecond
}

// ScanProbeTimeoutDuration bounds one connect during a sweep.
func (s ServiceConfig) ScanProbeTimeoutDuration() time.Duration {
	return time.Duration(s.ScanProbeTimeout) * time.Millisecond
}

// PushTimeoutDuration bounds one media upload to a display.
func (s ServiceConfig) PushTimeoutDuration() time.Duration { return seconds(s.PushTimeout) }
