// Package logging provides structured logging for ja2mqtt.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same handler, level and default fields.
//
// # Features
//
//   - JSON output for service deployments
//   - Text output for interactive use (the console command)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// The --debug flag of the CLI forces the debug level.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("bridge started", "serial2mqtt", 4, "mqtt2serial", 2)
//
// Never log the MQTT password or the InfluxDB token.
package logging
