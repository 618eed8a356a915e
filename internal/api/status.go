package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/ja2mqtt/internal/bridge"
	"github.com/nerrad567/ja2mqtt/internal/process"
)

// SystemStatus is the /api/v1/status response.
type SystemStatus struct {
	Timestamp     string               `json:"timestamp"`
	Version       string               `json:"version"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Runtime       RuntimeMetrics       `json:"runtime"`
	WebSocket     WSMetrics            `json:"websocket"`
	Bridge        bridge.HealthMessage `json:"bridge"`
	Tasks         []process.Stats      `json:"tasks,omitempty"`
	Database      *DatabaseMetrics     `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains websocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// DatabaseMetrics contains journal connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleHealth reports the bridge health status. Degraded and stopping
// bridges answer 503 so load balancers and health checks can act on it.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	msg := s.health.Message()

	code := http.StatusOK
	if msg.Status == bridge.HealthDegraded || msg.Status == bridge.HealthStopping {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":  msg.Status,
		"reason":  msg.Reason,
		"version": s.version,
	})
}

// handleStatus returns the full health document plus process statistics.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Bridge:    s.health.Message(),
	}

	if s.tasks != nil {
		status.Tasks = s.tasks()
	}
	if s.dbStats != nil {
		st := s.dbStats()
		status.Database = &DatabaseMetrics{
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			Idle:            st.Idle,
			WaitCount:       st.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, status)
}
