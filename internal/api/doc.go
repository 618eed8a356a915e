// Package api provides the read-only HTTP status server of the bridge.
//
// Routes:
//
//	GET /api/v1/health    bridge health (503 when degraded or stopping)
//	GET /api/v1/status    health document, runtime, task and database stats
//	GET /api/v1/topics    loaded rule topics in evaluation order
//	GET /api/v1/journal   journal page (direction, topic, limit, offset)
//	GET /api/v1/ws        websocket; subscribe to the "events" channel
//	GET /metrics          Prometheus exposition
//
// The server runs as a supervised task:
//
//	srv, err := api.New(deps)
//	b.AddObserver(srv.Observe)
//	group.Add(process.DefaultConfig("api", srv.Run))
package api
