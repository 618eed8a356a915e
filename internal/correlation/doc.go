// Package correlation associates asynchronous serial responses with the MQTT
// request that triggered them.
//
// The panel protocol carries no request identifiers, so the bridge assumes
// responses arrive in the order commands were written and within a timeout.
// Every MQTT→serial command enqueues a Request; every serial→MQTT output
// calls Tracker.UpdateAndApply, which promotes the oldest pending request
// into a single active slot and, while it is live, copies its correlation id
// into the outgoing payload.
//
// A request is live while now - CreatedAt < timeout and TTL > 0. Each
// application decrements TTL. A newly promoted request always displaces the
// active one regardless of the TTL the old one had left.
package correlation
