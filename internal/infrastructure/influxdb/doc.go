// Package influxdb exports bridge activity to InfluxDB v2.
//
// It wraps influxdb-client-go's non-blocking, batched write API. Three
// measurements are written:
//
//	bridge_events   one point per bridged message (tags: direction, topic)
//	bridge_stats    cumulative bridge and correlation counters (tag: bridge)
//	serial_port     serial connection state and line counters (tag: port)
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { log.Warn("influx write", "error", err) })
//	client.WriteBridgeEvent(influxdb.BridgeEvent{Direction: "serial2mqtt", Topic: "ja2mqtt/section/1"})
package influxdb
