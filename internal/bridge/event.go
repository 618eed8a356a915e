package bridge

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/ja2mqtt/internal/rules"
)

// Event describes one message carried across the bridge.
type Event struct {
	Time      time.Time       `json:"time"`
	Direction rules.Direction `json:"direction"`

	// Topic is the MQTT topic the message was published to or received on.
	Topic string `json:"topic"`

	// Line is the serial line that was read (serial2mqtt) or written
	// (mqtt2serial).
	Line string `json:"line"`

	// Payload is the MQTT payload that was published or received.
	Payload json.RawMessage `json:"payload,omitempty"`

	// CorrelationID is the id injected into (serial2mqtt) or read from
	// (mqtt2serial) the payload, if any.
	CorrelationID any `json:"correlation_id,omitempty"`
}

// Observer receives bridged events. Observers are called synchronously
// after the message has been delivered and must not block.
type Observer func(Event)
