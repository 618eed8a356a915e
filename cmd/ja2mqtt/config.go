package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/ja2mqtt/internal/infrastructure/config"
	"github.com/nerrad567/ja2mqtt/internal/infrastructure/serial"
	"github.com/nerrad567/ja2mqtt/internal/rules"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	var listPorts bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate and print the effective configuration",
		Long: "Load the configuration and the rule definitions, validate both and print\n" +
			"the effective configuration with secrets masked, followed by a rule summary.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if listPorts {
				return printPorts(out, opts)
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			defs, err := rules.LoadDefinitions(cfg.RulesPath())
			if err != nil {
				return fmt.Errorf("loading rules: %w", err)
			}

			fmt.Fprintf(out, "%s %s\n", opts.paint(ansiBold, "configuration:"), cfg.Path())
			if err := printEffectiveConfig(out, cfg); err != nil {
				return err
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "%s %s\n", opts.paint(ansiBold, "rules:"), cfg.RulesPath())
			printRuleSummary(out, opts, defs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&listPorts, "ports", false, "list the serial ports present on this system")
	return cmd
}

func printPorts(out io.Writer, opts *rootOptions) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(out, opts.paint(ansiYellow, "no serial ports found"))
		return nil
	}
	for _, p := range ports {
		fmt.Fprintln(out, p)
	}
	return nil
}

// effectiveConfig is the printable view of config.Config. Simulator timed
// rules hold raw YAML nodes and are summarised by count.
type effectiveConfig struct {
	Bridge    config.BridgeConfig   `yaml:"bridge"`
	Topology  map[string]any        `yaml:"topology,omitempty"`
	Serial    config.SerialConfig   `yaml:"serial"`
	Simulator *effectiveSimulator   `yaml:"simulator,omitempty"`
	MQTT      config.MQTTConfig     `yaml:"mqtt"`
	Database  config.DatabaseConfig `yaml:"database"`
	InfluxDB  config.InfluxDBConfig `yaml:"influxdb"`
	API       config.APIConfig      `yaml:"api"`
	Logging   config.LoggingConfig  `yaml:"logging"`
}

type effectiveSimulator struct {
	Pin           string                    `yaml:"pin"`
	ResponseDelay time.Duration             `yaml:"response_delay"`
	PRFStateBits  int                       `yaml:"prf_state_bits"`
	Sections      []config.SimulatorSection `yaml:"sections"`
	TimedRules    int                       `yaml:"timed_rules"`
}

func newEffectiveConfig(cfg *config.Config) effectiveConfig {
	red := cfg.Redacted()
	eff := effectiveConfig{
		Bridge:   red.Bridge,
		Topology: red.Topology,
		Serial:   red.Serial,
		MQTT:     red.MQTT,
		Database: red.Database,
		InfluxDB: red.InfluxDB,
		API:      red.API,
		Logging:  red.Logging,
	}
	if red.Serial.UseSimulator {
		pin := ""
		if red.Simulator.Pin != "" {
			pin = "***"
		}
		eff.Simulator = &effectiveSimulator{
			Pin:           pin,
			ResponseDelay: red.Simulator.ResponseDelay,
			PRFStateBits:  red.Simulator.PRFStateBits,
			Sections:      red.Simulator.Sections,
			TimedRules:    len(red.Simulator.Rules),
		}
	}
	return eff
}

func printEffectiveConfig(out io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(newEffectiveConfig(cfg)); err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}
	return enc.Close()
}

func printRuleSummary(out io.Writer, opts *rootOptions, defs *rules.Definitions) {
	printTopics(out, opts, rules.SerialToMQTT, defs.SerialToMQTT)
	printTopics(out, opts, rules.MQTTToSerial, defs.MQTTToSerial)

	field := defs.Options.CorrelationID
	if field == "" {
		field = "(none)"
	}
	fmt.Fprintf(out, "  correlation_id: %s, correlation_timeout: %s\n", field, defs.Options.CorrelationTimeout)
}

func printTopics(out io.Writer, opts *rootOptions, dir rules.Direction, topics []*rules.Topic) {
	fmt.Fprintf(out, "  %s: %d topics\n", dir, len(topics))
	for _, t := range topics {
		state := opts.paint(ansiGreen, "enabled")
		if t.Disabled {
			state = opts.paint(ansiDim, "disabled")
		}
		fmt.Fprintf(out, "    %-40s %2d rules  %s\n", t.Name, len(t.Rules), state)
	}
}
