package mqtt

import (
	"context"
	"fmt"
)

// Message is a single received MQTT message.
type Message struct {
	Topic   string
	Payload []byte
}

// Request publishes payload to topic and waits for the first message on
// replyTopic. The reply subscription is removed before returning.
//
// replyTopic must not match topic and must not be subscribed already:
// removing the reply subscription would drop the existing one.
//
// It backs the publish --wait command, which sends a request to the bridge
// and prints the panel's answer.
func (c *Client) Request(ctx context.Context, topic string, payload []byte, replyTopic string) (Message, error) {
	if MatchFilter(replyTopic, topic) {
		return Message{}, fmt.Errorf("%w: %s matches the request topic %s", ErrReplyTopicInUse, replyTopic, topic)
	}
	if c.HasSubscription(replyTopic) {
		return Message{}, fmt.Errorf("%w: %s is already subscribed", ErrReplyTopicInUse, replyTopic)
	}

	replies := make(chan Message, 1)
	err := c.SubscribeDefault(replyTopic, func(t string, p []byte) error {
		select {
		case replies <- Message{Topic: t, Payload: p}:
		default:
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	defer c.Unsubscribe(replyTopic) //nolint:errcheck // best effort cleanup

	if err := c.Publish(topic, payload, byte(c.cfg.QoS), false); err != nil {
		return Message{}, err
	}

	select {
	case msg := <-replies:
		return msg, nil
	case <-ctx.Done():
		return Message{}, fmt.Errorf("%w: waiting for %s: %w", ErrTimeout, replyTopic, ctx.Err())
	}
}
