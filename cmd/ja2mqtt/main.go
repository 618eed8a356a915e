// ja2mqtt bridges a Jablotron JA-121T serial interface and an MQTT broker.
//
// Panel output lines are translated to JSON messages on MQTT topics, and
// JSON messages on subscribed topics are translated to panel commands,
// following the rules of a YAML (or JSONC) definition file.
//
// Usage:
//
//	ja2mqtt [--config path] [--debug] [--no-ansi] <command>
//
// Commands: run, config, publish, console, version.
package main

import (
	"context"
	"os"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	defaultConfigPath = "/etc/ja2mqtt/config.yaml"
	configEnvVar      = "JA2MQTT_CONFIG"
)

func main() {
	// cobra prints the error; the exit code is ours.
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// getConfigPath returns the configuration file path from the environment
// or the default location.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}
