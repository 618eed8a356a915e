package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/nerrad567/ja2mqtt/internal/infrastructure/logging"
)

func newConsoleCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive console on the serial interface",
		Long: "Open the serial port (or the panel simulator when serial.use_simulator is\n" +
			"set), write every entered line to it and print every line it sends.\n" +
			"Lines starting with a dot are console commands; enter .help for a list.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGHUP)
			defer cancel()
			return runConsole(ctx, opts)
		},
	}
}

func runConsole(ctx context.Context, opts *rootOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          opts.paint(ansiCyan, "ja2mqtt> "),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	var closeOnce sync.Once
	closeReadline := func() {
		closeOnce.Do(func() { rl.Close() }) //nolint:errcheck // best effort on exit
	}
	defer closeReadline()

	// Log records go through readline so they do not garble the prompt.
	log := logging.NewWithWriter(rl.Stderr(), cfg.Logging, version)

	port, portName, err := openLinePort(cfg, log)
	if err != nil {
		return err
	}
	defer port.Close() //nolint:errcheck // best effort on exit

	c := &console{port: port, out: rl.Stdout(), opts: opts}
	port.SetOnLine(c.received)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	portDone := make(chan error, 1)
	go func() { portDone <- port.Run(ctx) }()

	// Readline only returns on input; closing it unblocks a pending read.
	go func() {
		<-ctx.Done()
		closeReadline()
	}()

	fmt.Fprintf(c.out, "connected to %s, enter .help for commands\n", portName)
	c.loop(ctx, rl)
	cancel()
	return <-portDone
}

// lineReader is the part of readline.Instance the console loop uses.
type lineReader interface {
	Readline() (string, error)
}

// console forwards entered lines to the panel and prints its output.
type console struct {
	port linePort
	out  io.Writer
	opts *rootOptions
}

func (c *console) received(line string) {
	fmt.Fprintf(c.out, "%s %s\n", c.opts.paint(ansiGreen, "-->"), line)
}

// loop reads input until EOF, .quit or ctx ends.
func (c *console) loop(ctx context.Context, r lineReader) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := r.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if !c.handle(input) {
			return
		}
	}
}

// handle executes one input line and reports whether to keep reading.
func (c *console) handle(input string) bool {
	if !strings.HasPrefix(input, ".") {
		if err := c.port.WriteLine(input); err != nil {
			fmt.Fprintf(c.out, "%s %v\n", c.opts.paint(ansiRed, "error:"), err)
			return true
		}
		fmt.Fprintf(c.out, "%s %s\n", c.opts.paint(ansiCyan, "<--"), input)
		return true
	}

	switch strings.ToLower(input) {
	case ".quit", ".exit":
		fmt.Fprintln(c.out, "Exiting...")
		return false
	case ".stats":
		s := c.port.Stats()
		fmt.Fprintf(c.out, "connected=%t lines_in=%d lines_out=%d errors=%d reconnects=%d\n",
			s.Connected, s.LinesIn, s.LinesOut, s.Errors, s.Reconnects)
	case ".help":
		c.printHelp()
	default:
		fmt.Fprintf(c.out, "unknown command: %s (enter .help for commands)\n", input)
	}
	return true
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out, `
Anything not starting with a dot is sent to the panel as one line,
for example "1234 STATE" or "1234 SET 1".

Commands:
  .stats   show serial counters
  .help    show this help
  .quit    leave the console`)
}
