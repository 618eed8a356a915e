package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementEvents = "bridge_events"
	measurementBridge = "bridge_stats"
	measurementSerial = "serial_port"
)

// BridgeEvent is one message carried across the bridge.
type BridgeEvent struct {
	Time       time.Time
	Direction  string
	Topic      string
	LineBytes  int
	Payload    int
	Correlated bool
}

// BridgeCounters is a snapshot of the bridge's cumulative counters.
type BridgeCounters struct {
	SerialLines        uint64
	Unmatched          uint64
	Published          uint64
	MQTTMessages       uint64
	SerialWrites       uint64
	ValidationFailures uint64
	Errors             uint64
	Pending            int
	Applied            uint64
	Expired            uint64
}

// SerialCounters is a snapshot of the serial port counters.
type SerialCounters struct {
	Connected  bool
	LinesIn    uint64
	LinesOut   uint64
	Errors     uint64
	Reconnects uint64
}

// WriteBridgeEvent records one bridged message. Tags are direction and
// topic; the zero Time means now.
func (c *Client) WriteBridgeEvent(ev BridgeEvent) {
	at := ev.Time
	if at.IsZero() {
		at = c.now()
	}
	c.WritePointWithTime(
		measurementEvents,
		map[string]string{
			"direction": ev.Direction,
			"topic":     ev.Topic,
		},
		map[string]any{
			"count":         int64(1),
			"line_bytes":    int64(ev.LineBytes),
			"payload_bytes": int64(ev.Payload),
			"correlated":    ev.Correlated,
		},
		at,
	)
}

// WriteBridgeCounters records cumulative bridge and correlation counters.
func (c *Client) WriteBridgeCounters(bridge string, s BridgeCounters) {
	c.WritePoint(
		measurementBridge,
		map[string]string{"bridge": bridge},
		map[string]any{
			"serial_lines":        s.SerialLines,
			"unmatched":           s.Unmatched,
			"published":           s.Published,
			"mqtt_messages":       s.MQTTMessages,
			"serial_writes":       s.SerialWrites,
			"validation_failures": s.ValidationFailures,
			"errors":              s.Errors,
			"pending_requests":    int64(s.Pending),
			"correlation_applied": s.Applied,
			"correlation_expired": s.Expired,
		},
	)
}

// WriteSerialCounters records the serial port state.
func (c *Client) WriteSerialCounters(port string, s SerialCounters) {
	c.WritePoint(
		measurementSerial,
		map[string]string{"port": port},
		map[string]any{
			"connected":  s.Connected,
			"lines_in":   s.LinesIn,
			"lines_out":  s.LinesOut,
			"errors":     s.Errors,
			"reconnects": s.Reconnects,
		},
	)
}

// WritePoint writes a point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, c.now())
}

// WritePointWithTime writes a point with an explicit timestamp. It is a
// no-op once the client is closed.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
