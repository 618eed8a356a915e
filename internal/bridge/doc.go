// Package bridge translates between the panel's serial line protocol and
// MQTT.
//
// # Directions
//
// serial2mqtt: each line read from the panel is matched against the
// serial2mqtt topics in declaration order. The first rule whose read
// matches claims the line, even if its topic is disabled. The matched
// text is bound as "data", the correlation tracker is consulted, and the
// rule's write template is evaluated, JSON encoded and published on the
// topic name.
//
// mqtt2serial: each MQTT message is decoded as a JSON object and checked
// against every rule of the enabled topics with that name. Every rule
// whose read validates writes its evaluated line to the panel and
// enqueues a correlation request carrying the payload's correlation id.
//
// # Correlation
//
// The panel has no request ids. The tracker remembers the most recent
// MQTT request and attaches its id to the next request_ttl serial
// responses, as long as they arrive within correlation_timeout. Template
// fields win over the injected id; no_correlation suppresses it.
//
// # Concurrency
//
// OnSerialLine and OnMQTTMessage may be called concurrently from the
// serial and MQTT loops. A single mutex serialises rule evaluation.
//
// # Health
//
// HealthReporter publishes a retained JSON status (transport state, bridge
// counters, correlation snapshot) on <bridge.name>/status at a fixed
// interval and a final "stopping" status on shutdown.
package bridge
