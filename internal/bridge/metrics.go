package bridge

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/ja2mqtt/internal/correlation"
)

// Metrics holds Prometheus metrics for the bridge.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	serialLines        *prometheus.CounterVec
	published          *prometheus.CounterVec
	mqttMessages       *prometheus.CounterVec
	serialWrites       *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec
}

// NewMetrics creates the bridge metrics and registers them with reg,
// together with collectors reading the correlation tracker.
func NewMetrics(reg prometheus.Registerer, tracker *correlation.Tracker) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		serialLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ja2mqtt",
			Subsystem: "bridge",
			Name:      "serial_lines_total",
			Help:      "Serial lines received, by outcome",
		}, []string{"result"}),

		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ja2mqtt",
			Subsystem: "bridge",
			Name:      "published_total",
			Help:      "MQTT messages published from serial lines",
		}, []string{"topic"}),

		mqttMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ja2mqtt",
			Subsystem: "bridge",
			Name:      "mqtt_messages_total",
			Help:      "MQTT messages received for translation",
		}, []string{"topic"}),

		serialWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ja2mqtt",
			Subsystem: "bridge",
			Name:      "serial_writes_total",
			Help:      "Serial command lines written from MQTT messages",
		}, []string{"topic"}),

		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ja2mqtt",
			Subsystem: "bridge",
			Name:      "validation_failures_total",
			Help:      "MQTT messages that did not satisfy a rule's read shape",
		}, []string{"topic"}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ja2mqtt",
			Subsystem: "bridge",
			Name:      "errors_total",
			Help:      "Bridge processing errors",
		}, []string{"direction", "error_type"}),
	}

	reg.MustRegister(
		m.serialLines,
		m.published,
		m.mqttMessages,
		m.serialWrites,
		m.validationFailures,
		m.errorsTotal,
	)

	if tracker != nil {
		reg.MustRegister(
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "ja2mqtt",
				Subsystem: "correlation",
				Name:      "applied_total",
				Help:      "Correlation ids applied to outbound messages",
			}, func() float64 { return float64(tracker.Snapshot().Applied) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "ja2mqtt",
				Subsystem: "correlation",
				Name:      "expired_total",
				Help:      "Correlation requests discarded by timeout or TTL",
			}, func() float64 { return float64(tracker.Snapshot().Expired) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "ja2mqtt",
				Subsystem: "correlation",
				Name:      "pending_requests",
				Help:      "Requests waiting for the active slot",
			}, func() float64 { return float64(tracker.Pending()) }),
		)
	}

	return m
}

func (m *Metrics) serialLine(result string) {
	if m != nil {
		m.serialLines.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) publish(topic string) {
	if m != nil {
		m.published.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) mqttMessage(topic string) {
	if m != nil {
		m.mqttMessages.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) serialWrite(topic string) {
	if m != nil {
		m.serialWrites.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) validationFailure(topic string) {
	if m != nil {
		m.validationFailures.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) failure(direction, errorType string) {
	if m != nil {
		m.errorsTotal.WithLabelValues(direction, errorType).Inc()
	}
}
