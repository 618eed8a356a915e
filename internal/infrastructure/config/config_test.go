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
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
bridge:
  name: "panel"
  rules_file: "rules.yaml"
topology:
  pin: 1234
  sections: [1, 2]
serial:
  port: "/dev/ttyUSB0"
  baudrate: 115200
  read_timeout: 100ms
mqtt:
  broker:
    host: "broker.local"
    port: 1884
  qos: 0
simulator:
  pin: "1234"
  rules:
    - time_next: !expr random(5, 10)
      write: "PRFSTATE 000000"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bridge.Name != "panel" {
		t.Errorf("Bridge.Name = %q, want %q", cfg.Bridge.Name, "panel")
	}
	if cfg.Serial.BaudRate != 115200 {
		t.Errorf("Serial.BaudRate = %d, want %d", cfg.Serial.BaudRate, 115200)
	}
	if cfg.Serial.ReadTimeout != 100*time.Millisecond {
		t.Errorf("Serial.ReadTimeout = %v, want %v", cfg.Serial.ReadTimeout, 100*time.Millisecond)
	}
	if cfg.Serial.Encoding != "ascii" {
		t.Errorf("Serial.Encoding = %q, want default %q", cfg.Serial.Encoding, "ascii")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.Topology["pin"] != 1234 {
		t.Errorf("Topology[pin] = %v, want 1234", cfg.Topology["pin"])
	}
	if len(cfg.Simulator.Rules) != 1 {
		t.Fatalf("len(Simulator.Rules) = %d, want 1", len(cfg.Simulator.Rules))
	}
	if tag := cfg.Simulator.Rules[0].TimeNext.Tag; tag != "!expr" {
		t.Errorf("Simulator.Rules[0].TimeNext.Tag = %q, want %q", tag, "!expr")
	}
	if got, want := cfg.RulesPath(), filepath.Join(filepath.Dir(configPath), "rules.yaml"); got != want {
		t.Errorf("RulesPath() = %q, want %q", got, want)
	}
	if cfg.StatusTopic() != "panel/status" {
		t.Errorf("StatusTopic() = %q, want %q", cfg.StatusTopic(), "panel/status")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
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
	configPath := writeConfig(t, `
serial:
  use_simulator: false
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for missing serial.port, got nil")
	}
	if !strings.Contains(err.Error(), "serial.port is required") {
		t.Errorf("Load() error = %v, want mention of serial.port", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Serial.Port = "/dev/ttyUSB0"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}, wantErr: false},
		{name: "simulator without port", mutate: func(c *Config) {
			c.Serial.Port = ""
			c.Serial.UseSimulator = true
		}, wantErr: false},
		{name: "missing bridge name", mutate: func(c *Config) { c.Bridge.Name = "" }, wantErr: true},
		{name: "missing rules file", mutate: func(c *Config) { c.Bridge.RulesFile = "" }, wantErr: true},
		{name: "missing serial port", mutate: func(c *Config) { c.Serial.Port = "" }, wantErr: true},
		{name: "invalid parity", mutate: func(c *Config) { c.Serial.Parity = "X" }, wantErr: true},
		{name: "invalid stop bits", mutate: func(c *Config) { c.Serial.StopBits = 3 }, wantErr: true},
		{name: "invalid byte size", mutate: func(c *Config) { c.Serial.ByteSize = 9 }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid broker port", mutate: func(c *Config) { c.MQTT.Broker.Port = 0 }, wantErr: true},
		{name: "journal without path", mutate: func(c *Config) {
			c.Database.Enabled = true
			c.Database.Path = ""
		}, wantErr: true},
		{name: "influxdb without url", mutate: func(c *Config) {
			c.InfluxDB.Enabled = true
			c.InfluxDB.Bucket = "ja2mqtt"
		}, wantErr: true},
		{name: "api port ignored when disabled", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: false},
		{name: "invalid api port", mutate: func(c *Config) {
			c.API.Enabled = true
			c.API.Port = 70000
		}, wantErr: true},
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

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Bridge.Name = ""
	cfg.MQTT.QoS = 5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	for _, want := range []string{"bridge.name", "serial.port", "mqtt.qos"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error = %q, want it to mention %q", err, want)
		}
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

	t.Setenv("JA2MQTT_SERIAL_PORT", "/dev/ttyS1")
	t.Setenv("JA2MQTT_SERIAL_BAUDRATE", "19200")
	t.Setenv("JA2MQTT_SERIAL_USE_SIMULATOR", "true")
	t.Setenv("JA2MQTT_MQTT_HOST", "mqtt.example.com")
	t.Setenv("JA2MQTT_MQTT_PORT", "8883")
	t.Setenv("JA2MQTT_MQTT_USERNAME", "testuser")
	t.Setenv("JA2MQTT_MQTT_PASSWORD", "testpass")
	t.Setenv("JA2MQTT_DATABASE_PATH", "/custom/path.db")
	t.Setenv("JA2MQTT_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("JA2MQTT_LOGGING_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.Serial.Port != "/dev/ttyS1" {
		t.Errorf("Serial.Port = %q, want %q", cfg.Serial.Port, "/dev/ttyS1")
	}
	if cfg.Serial.BaudRate != 19200 {
		t.Errorf("Serial.BaudRate = %d, want %d", cfg.Serial.BaudRate, 19200)
	}
	if !cfg.Serial.UseSimulator {
		t.Error("Serial.UseSimulator = false, want true")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want %d", cfg.MQTT.Broker.Port, 8883)
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestApplyEnvOverrides_IgnoresMalformedNumbers(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("JA2MQTT_SERIAL_BAUDRATE", "fast")

	applyEnvOverrides(cfg)

	if cfg.Serial.BaudRate != 9600 {
		t.Errorf("Serial.BaudRate = %d, want default 9600", cfg.Serial.BaudRate)
	}
}

func TestConfig_Redacted(t *testing.T) {
	cfg := defaultConfig()
	cfg.MQTT.Auth.Password = "hunter2"
	cfg.InfluxDB.Token = "tok"

	red := cfg.Redacted()

	if red.MQTT.Auth.Password != "***" {
		t.Errorf("Redacted().MQTT.Auth.Password = %q, want %q", red.MQTT.Auth.Password, "***")
	}
	if red.InfluxDB.Token != "***" {
		t.Errorf("Redacted().InfluxDB.Token = %q, want %q", red.InfluxDB.Token, "***")
	}
	if cfg.MQTT.Auth.Password != "hunter2" {
		t.Error("Redacted() modified the original configuration")
	}
}

func TestRulesPath_Absolute(t *testing.T) {
	cfg := defaultConfig()
	cfg.path = "/etc/ja2mqtt/config.yaml"
	cfg.Bridge.RulesFile = "/opt/rules.yaml"

	if got := cfg.RulesPath(); got != "/opt/rules.yaml" {
		t.Errorf("RulesPath() = %q, want %q", got, "/opt/rules.yaml")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Bridge.Name != "ja2mqtt" {
		t.Errorf("defaultConfig Bridge.Name = %q, want %q", cfg.Bridge.Name, "ja2mqtt")
	}
	if cfg.Serial.BaudRate != 9600 {
		t.Errorf("defaultConfig Serial.BaudRate = %d, want 9600", cfg.Serial.BaudRate)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.KeepAlive != 60 {
		t.Errorf("defaultConfig MQTT.KeepAlive = %d, want 60", cfg.MQTT.KeepAlive)
	}
	if cfg.Simulator.ResponseDelay != 500*time.Millisecond {
		t.Errorf("defaultConfig Simulator.ResponseDelay = %v, want 500ms", cfg.Simulator.ResponseDelay)
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	path := filepath.Join("..", "..", "..", "configs", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%s) error = %v", path, err)
	}
	if got, want := cfg.RulesPath(), filepath.Join("..", "..", "..", "configs", "ja2mqtt.yaml"); got != want {
		t.Errorf("RulesPath() = %q, want %q", got, want)
	}
	if cfg.StatusTopic() != "ja2mqtt/status" {
		t.Errorf("StatusTopic() = %q, want %q", cfg.StatusTopic(), "ja2mqtt/status")
	}
	if len(cfg.Simulator.Sections) != 3 {
		t.Errorf("len(Simulator.Sections) = %d, want 3", len(cfg.Simulator.Sections))
	}
	if len(cfg.Simulator.Rules) != 1 {
		t.Errorf("len(Simulator.Rules) = %d, want 1", len(cfg.Simulator.Rules))
	}
	if cfg.Database.Retention != 168*time.Hour {
		t.Errorf("Database.Retention = %v, want %v", cfg.Database.Retention, 168*time.Hour)
	}
}
