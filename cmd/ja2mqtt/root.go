package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/ja2mqtt/internal/infrastructure/config"
	"github.com/nerrad567/ja2mqtt/internal/infrastructure/logging"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	Debug      bool
	NoANSI     bool
}

// newRootCommand creates the root command for the ja2mqtt CLI.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ja2mqtt",
		Short: "Jablotron serial to MQTT bridge",
		Long: "ja2mqtt translates the line protocol of a Jablotron JA-121T serial interface\n" +
			"to MQTT messages and back, following a rule definition file.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "",
		fmt.Sprintf("configuration file (default $%s or %s)", configEnvVar, defaultConfigPath))
	cmd.PersistentFlags().BoolVarP(&opts.Debug, "debug", "d", false, "force debug logging")
	cmd.PersistentFlags().BoolVar(&opts.NoANSI, "no-ansi", false, "disable colored console output")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))
	cmd.AddCommand(newPublishCommand(opts))
	cmd.AddCommand(newConsoleCommand(opts))
	cmd.AddCommand(newDBCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// configPath resolves the configuration file: flag, then environment,
// then the default location.
func (o *rootOptions) configPath() string {
	if o.ConfigPath != "" {
		return o.ConfigPath
	}
	return getConfigPath()
}

// loadConfig loads and validates the configuration, applying --debug.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	if o.Debug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds the process logger from the loaded configuration.
func (o *rootOptions) newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(cfg.Logging, version)
}

const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
)

// paint wraps s in an ANSI color unless --no-ansi is set.
func (o *rootOptions) paint(color, s string) string {
	if o.NoANSI {
		return s
	}
	return color + s + ansiReset
}
