package bridge

import "errors"

var (
	// ErrInvalidPayload is returned when an MQTT payload is not a JSON object.
	ErrInvalidPayload = errors.New("bridge: invalid payload")

	// ErrPublisherOffline is returned when a serial line arrives while the
	// MQTT client is disconnected. The line is dropped.
	ErrPublisherOffline = errors.New("bridge: MQTT publisher not connected")

	// ErrMissingDependency is returned by New when a required collaborator is nil.
	ErrMissingDependency = errors.New("bridge: missing dependency")
)
