package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/ja2mqtt/internal/correlation"
	"github.com/nerrad567/ja2mqtt/internal/infrastructure/serial"
)

// HealthStatus is the overall state reported on the status topic.
type HealthStatus string

const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

// HealthPublisher publishes health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// PortStatus is the serial side as seen by the health reporter.
type PortStatus interface {
	IsConnected() bool
	Stats() serial.Stats
}

// HealthMessage is the retained JSON document on the status topic.
type HealthMessage struct {
	Status      HealthStatus         `json:"status"`
	Reason      string               `json:"reason,omitempty"`
	Version     string               `json:"version"`
	Timestamp   time.Time            `json:"timestamp"`
	Uptime      int64                `json:"uptime_seconds"`
	Serial      serial.Stats         `json:"serial"`
	Bridge      Stats                `json:"bridge"`
	Correlation correlation.Snapshot `json:"correlation"`

	Subscriptions   int    `json:"subscriptions"`
	MQTTDisconnects uint64 `json:"mqtt_disconnects"`
	LastDisconnect  string `json:"last_disconnect,omitempty"`
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Topic is the status topic, <bridge.name>/status.
	Topic string

	Version string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher
	Port      PortStatus
	Bridge    *Bridge

	// Subscriptions reports the number of active MQTT subscriptions. Optional.
	Subscriptions func() int
}

// HealthReporter publishes bridge health at regular intervals.
type HealthReporter struct {
	topic     string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	port      PortStatus
	bridge    *Bridge
	subs      func() int

	mu             sync.Mutex
	disconnects    uint64
	lastDisconnect string

	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a health reporter. Call Run to start it.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	return &HealthReporter{
		topic:     cfg.Topic,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		port:      cfg.Port,
		bridge:    cfg.Bridge,
		subs:      cfg.Subscriptions,
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Run publishes health immediately and then every interval until ctx ends.
// A final "stopping" status is published on the way out.
func (h *HealthReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			h.stop()
			return nil
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) stop() {
	h.stopOnce.Do(func() {
		//nolint:errcheck // best effort during shutdown
		h.publish(HealthStopping, "bridge stopping")
	})
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publish(status, reason)
}

// Message builds the current health message without publishing it.
func (h *HealthReporter) Message() HealthMessage {
	status, reason := h.determineStatus()
	return h.message(status, reason)
}

// MQTTDisconnected records a lost broker connection. Its signature matches
// the MQTT client's disconnect callback.
func (h *HealthReporter) MQTTDisconnected(err error) {
	h.mu.Lock()
	h.disconnects++
	if err != nil {
		h.lastDisconnect = err.Error()
	}
	h.mu.Unlock()
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		h.mu.Lock()
		last := h.lastDisconnect
		h.mu.Unlock()
		if last != "" {
			return HealthDegraded, "MQTT disconnected: " + last
		}
		return HealthDegraded, "MQTT disconnected"
	}
	if h.port == nil || !h.port.IsConnected() {
		return HealthDegraded, "serial port disconnected"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Status:    status,
		Reason:    reason,
		Version:   h.version,
		Timestamp: time.Now().UTC(),
		Uptime:    int64(time.Since(h.startTime).Seconds()),
	}
	if h.port != nil {
		msg.Serial = h.port.Stats()
	}
	if h.bridge != nil {
		msg.Bridge = h.bridge.Stats()
		msg.Correlation = h.bridge.Tracker().Snapshot()
	}
	if h.subs != nil {
		msg.Subscriptions = h.subs()
	}

	h.mu.Lock()
	msg.MQTTDisconnects = h.disconnects
	msg.LastDisconnect = h.lastDisconnect
	h.mu.Unlock()
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.publisher == nil || h.topic == "" {
		return nil
	}
	if !h.publisher.IsConnected() {
		return nil
	}

	payload, err := json.Marshal(h.message(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topic, payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
