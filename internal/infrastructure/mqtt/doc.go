// Package mqtt provides the broker side of the ja2mqtt bridge.
//
// This package manages:
//   - Connection to the broker with connect retry and auto-reconnect
//   - Message publishing with QoS and retain settings from configuration
//   - Topic subscriptions, restored automatically after reconnect
//   - A retained status topic with Last Will and Testament
//   - Request/reply helper used by the CLI publish --wait command
//
// # Architecture
//
// The bridge translates between the panel's serial line protocol and MQTT.
// This client only moves bytes; rule evaluation happens in the bridge
// package, which sees the client through small Publisher and Subscriber
// interfaces.
//
//	Security panel ↔ serial ↔ bridge ↔ mqtt.Client ↔ broker
//
// # Status Topic
//
// When a status topic is given to Connect, the client publishes a retained
// JSON document there:
//
//	{"status":"online","client_id":"ja2mqtt-1a2b3c4d","timestamp":"..."}
//
// A graceful Close replaces it with status "offline" and reason
// "graceful_shutdown". If the process dies, the broker publishes the will
// with reason "unexpected_disconnect".
//
// # Topic Validation
//
// Publish rejects wildcards in topic names. Subscribe accepts + and #
// only when they occupy whole levels (# last). Both return ErrInvalidTopic.
//
// # Usage
//
//	ctx, cancel := context.WithTimeout(ctx, time.Minute)
//	defer cancel()
//	client, err := mqtt.Connect(ctx, cfg.MQTT, mqtt.ClientID("ja2mqtt"), cfg.StatusTopic())
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.SubscribeDefault("ja2mqtt/section/get", func(topic string, payload []byte) error {
//	    return bridge.OnMQTTMessage(topic, payload)
//	})
package mqtt
