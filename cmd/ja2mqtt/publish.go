package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/ja2mqtt/internal/infrastructure/mqtt"
)

const defaultPublishTimeout = 10 * time.Second

var errReplyTopicRequired = errors.New("--reply-topic is required with --wait")

type publishOptions struct {
	Wait       bool
	ReplyTopic string
	Timeout    time.Duration
}

func newPublishCommand(opts *rootOptions) *cobra.Command {
	pubOpts := &publishOptions{}

	cmd := &cobra.Command{
		Use:   "publish <topic> <json>",
		Short: "Publish one message to the broker",
		Long: "Publish a JSON message to a topic, typically an mqtt2serial topic of a\n" +
			"running bridge. With --wait the command prints the first message received\n" +
			"on --reply-topic.",
		Example: "  ja2mqtt publish ja2mqtt/section/set '{\"section\": 1, \"state\": \"ARMED\"}' \\\n" +
			"    --wait --reply-topic ja2mqtt/section/state",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, payload := args[0], []byte(args[1])
			if err := validatePublish(topic, payload, pubOpts); err != nil {
				return err
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), pubOpts.Timeout)
			defer cancel()

			client, err := mqtt.Connect(ctx, cfg.MQTT, mqtt.ClientID(cfg.Bridge.Name+"-cli"), "")
			if err != nil {
				return err
			}
			defer client.Close() //nolint:errcheck // best effort on exit

			out := cmd.OutOrStdout()
			if !pubOpts.Wait {
				if err := client.Publish(topic, payload, byte(cfg.MQTT.QoS), false); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %s %s\n", opts.paint(ansiCyan, "<--"), topic, payload)
				return nil
			}

			// Request subscribes to the reply topic before publishing.
			msg, err := client.Request(ctx, topic, payload, pubOpts.ReplyTopic)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s %s\n", opts.paint(ansiCyan, "<--"), topic, payload)
			fmt.Fprintf(out, "%s %s %s\n", opts.paint(ansiGreen, "-->"), msg.Topic, msg.Payload)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&pubOpts.Wait, "wait", "w", false, "wait for a reply on --reply-topic")
	cmd.Flags().StringVarP(&pubOpts.ReplyTopic, "reply-topic", "r", "", "topic to wait on for the reply")
	cmd.Flags().DurationVarP(&pubOpts.Timeout, "timeout", "t", defaultPublishTimeout, "connect and reply timeout")

	return cmd
}

// validatePublish checks the arguments before any connection is made.
func validatePublish(topic string, payload []byte, opts *publishOptions) error {
	if err := mqtt.ValidateTopic(topic); err != nil {
		return err
	}
	if !json.Valid(payload) {
		return fmt.Errorf("payload is not valid JSON: %s", payload)
	}
	if opts.Wait {
		if opts.ReplyTopic == "" {
			return errReplyTopicRequired
		}
		if err := mqtt.ValidateFilter(opts.ReplyTopic); err != nil {
			return err
		}
		if mqtt.MatchFilter(opts.ReplyTopic, topic) {
			return fmt.Errorf("--reply-topic %s matches the published topic %s", opts.ReplyTopic, topic)
		}
	}
	if opts.Timeout <= 0 {
		return fmt.Errorf("--timeout must be positive, got %s", opts.Timeout)
	}
	return nil
}
