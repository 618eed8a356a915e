package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for ja2mqtt.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Topology  map[string]any  `yaml:"topology"`
	Serial    SerialConfig    `yaml:"serial"`
	Simulator SimulatorConfig `yaml:"simulator"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`

	// path is the file the configuration was loaded from.
	path string
}

// BridgeConfig contains settings of the serial/MQTT bridge itself.
type BridgeConfig struct {
	// Name is used for the MQTT client ID prefix and the status topic.
	Name string `yaml:"name"`

	// RulesFile is the path to the rule definition file (YAML or JSON/JSONC).
	// Relative paths are resolved against the directory of the config file.
	RulesFile string `yaml:"rules_file"`

	// HealthInterval is how often the bridge status is published.
	HealthInterval time.Duration `yaml:"health_interval"`
}

// SerialConfig contains serial port settings.
type SerialConfig struct {
	Port         string        `yaml:"port"`
	BaudRate     int           `yaml:"baudrate"`
	ByteSize     int           `yaml:"bytesize"`
	Parity       string        `yaml:"parity"`
	StopBits     int           `yaml:"stopbits"`
	RTSCTS       bool          `yaml:"rtscts"`
	XONXOFF      bool          `yaml:"xonxoff"`
	Encoding     string        `yaml:"encoding"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	UseSimulator bool          `yaml:"use_simulator"`
}

// SimulatorConfig contains settings of the built-in panel simulator.
type SimulatorConfig struct {
	Pin           string               `yaml:"pin"`
	ResponseDelay time.Duration        `yaml:"response_delay"`
	PRFStateBits  int                  `yaml:"prf_state_bits"`
	Sections      []SimulatorSection   `yaml:"sections"`
	Rules         []SimulatorTimedRule `yaml:"rules"`
}

// SimulatorSection is the initial state of one simulated alarm section.
type SimulatorSection struct {
	Code  string `yaml:"code"`
	State string `yaml:"state"`
}

// SimulatorTimedRule emits a line periodically.
//
// TimeNext and Write are either literals or expressions (the "!expr" tag),
// which is why they are kept as raw YAML nodes here.
type SimulatorTimedRule struct {
	TimeNext yaml.Node `yaml:"time_next"`
	Write    yaml.Node `yaml:"write"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Retain    bool                `yaml:"retain"`
	KeepAlive int                 `yaml:"keepalive"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// DatabaseConfig contains settings of the SQLite message journal.
type DatabaseConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Path        string        `yaml:"path"`
	WALMode     bool          `yaml:"wal_mode"`
	BusyTimeout int           `yaml:"busy_timeout"`
	Retention   time.Duration `yaml:"retention"`
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

// APIConfig contains settings of the status HTTP server.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`

	// DashboardDir serves the status page from disk instead of the
	// embedded copy when set.
	DashboardDir string `yaml:"dashboard_dir,omitempty"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: JA2MQTT_SECTION_KEY
// For example: JA2MQTT_SERIAL_PORT, JA2MQTT_MQTT_HOST
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
	cfg.path = path

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Name:           "ja2mqtt",
			RulesFile:      "ja2mqtt.yaml",
			HealthInterval: 30 * time.Second,
		},
		Serial: SerialConfig{
			BaudRate:    9600,
			ByteSize:    8,
			Parity:      "N",
			StopBits:    1,
			Encoding:    "ascii",
			ReadTimeout: 200 * time.Millisecond,
		},
		Simulator: SimulatorConfig{
			ResponseDelay: 500 * time.Millisecond,
			PRFStateBits:  24,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS:       1,
			KeepAlive: 60,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 30,
				MaxDelay:     60,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/ja2mqtt.db",
			WALMode:     true,
			BusyTimeout: 5,
			Retention:   7 * 24 * time.Hour,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: JA2MQTT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Bridge
	if v := os.Getenv("JA2MQTT_BRIDGE_RULES_FILE"); v != "" {
		cfg.Bridge.RulesFile = v
	}

	// Serial
	if v := os.Getenv("JA2MQTT_SERIAL_PORT"); v != "" {
		cfg.Serial.Port = v
	}
	if v := os.Getenv("JA2MQTT_SERIAL_BAUDRATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Serial.BaudRate = n
		}
	}
	if v := os.Getenv("JA2MQTT_SERIAL_USE_SIMULATOR"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Serial.UseSimulator = b
		}
	}

	// MQTT
	if v := os.Getenv("JA2MQTT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("JA2MQTT_MQTT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = n
		}
	}
	if v := os.Getenv("JA2MQTT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("JA2MQTT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("JA2MQTT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("JA2MQTT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("JA2MQTT_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of all validation failures, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.Name == "" {
		errs = append(errs, "bridge.name is required")
	}
	if c.Bridge.RulesFile == "" {
		errs = append(errs, "bridge.rules_file is required")
	}

	errs = append(errs, c.validateSerial()...)
	errs = append(errs, c.validateMQTT()...)

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateSerial() []string {
	var errs []string

	if !c.Serial.UseSimulator && c.Serial.Port == "" {
		errs = append(errs, "serial.port is required unless serial.use_simulator is set")
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, "serial.baudrate must be positive")
	}
	if c.Serial.ByteSize < 5 || c.Serial.ByteSize > 8 {
		errs = append(errs, "serial.bytesize must be between 5 and 8")
	}
	switch strings.ToUpper(c.Serial.Parity) {
	case "N", "E", "O", "M", "S":
	default:
		errs = append(errs, "serial.parity must be one of N, E, O, M, S")
	}
	if c.Serial.StopBits != 1 && c.Serial.StopBits != 2 {
		errs = append(errs, "serial.stopbits must be 1 or 2")
	}
	if c.Serial.ReadTimeout <= 0 {
		errs = append(errs, "serial.read_timeout must be positive")
	}

	return errs
}

func (c *Config) validateMQTT() []string {
	var errs []string

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.KeepAlive < 0 {
		errs = append(errs, "mqtt.keepalive must not be negative")
	}

	return errs
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// RulesPath returns the rule definition file path, resolved against the
// directory of the configuration file when relative.
func (c *Config) RulesPath() string {
	if filepath.IsAbs(c.Bridge.RulesFile) || c.path == "" {
		return c.Bridge.RulesFile
	}
	return filepath.Join(filepath.Dir(c.path), c.Bridge.RulesFile)
}

// StatusTopic returns the retained topic the bridge publishes its status to.
func (c *Config) StatusTopic() string {
	return c.Bridge.Name + "/status"
}

// Redacted returns a copy of the configuration with secrets masked,
// suitable for printing.
func (c *Config) Redacted() Config {
	out := *c
	if out.MQTT.Auth.Password != "" {
		out.MQTT.Auth.Password = "***"
	}
	if out.InfluxDB.Token != "" {
		out.InfluxDB.Token = "***"
	}
	return out
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
