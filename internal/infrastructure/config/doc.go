// Package config handles loading and validating ja2mqtt configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (JA2MQTT_SECTION_KEY)
//   - Validation of required fields
//   - Default value handling
//
// The rule definitions that drive the bridge live in a separate file
// referenced by bridge.rules_file; they are parsed by the rules package.
//
// Security Considerations:
//   - The MQTT password and InfluxDB token should be set via environment variables
//   - Use Config.Redacted before printing a configuration
//
// Usage:
//
//	cfg, err := config.Load("/etc/ja2mqtt/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.RulesPath())
package config
