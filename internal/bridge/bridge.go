package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/nerrad567/ja2mqtt/internal/correlation"
	"github.com/nerrad567/ja2mqtt/internal/rules"
)

// LineWriter writes command lines to the panel.
type LineWriter interface {
	WriteLine(line string) error
}

// Publisher publishes MQTT messages.
type Publisher interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// Subscriber subscribes to MQTT topics.
type Subscriber interface {
	Subscribe(topic string, handler func(topic string, payload []byte) error) error
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config wires a Bridge to its rule set and transports.
type Config struct {
	// Definitions is the parsed rule definition file. Required.
	Definitions *rules.Definitions

	// Scope is the base scope for expressions. Defaults to
	// rules.BaseScope(nil).
	Scope *rules.Scope

	// Tracker defaults to a tracker built from Definitions.Options.
	Tracker *correlation.Tracker

	// Serial receives mqtt2serial command lines. Required.
	Serial LineWriter

	// Publisher receives serial2mqtt messages. Required.
	Publisher Publisher

	// Metrics is optional.
	Metrics *Metrics

	// Logger is optional.
	Logger Logger

	// Clock defaults to time.Now. Used for event timestamps.
	Clock func() time.Time
}

// Stats holds bridge counters for status reporting.
type Stats struct {
	SerialLines        uint64 `json:"serial_lines"`
	Unmatched          uint64 `json:"unmatched"`
	Published          uint64 `json:"published"`
	MQTTMessages       uint64 `json:"mqtt_messages"`
	SerialWrites       uint64 `json:"serial_writes"`
	ValidationFailures uint64 `json:"validation_failures"`
	Errors             uint64 `json:"errors"`
}

// Bridge translates between the panel's serial protocol and MQTT.
//
// OnSerialLine and OnMQTTMessage are called from the serial read loop and
// the MQTT network loop respectively. One mutex serialises rule
// evaluation so the correlation tracker sees a consistent order of
// requests and responses.
type Bridge struct {
	defs      *rules.Definitions
	scope     *rules.Scope
	tracker   *correlation.Tracker
	serial    LineWriter
	publisher Publisher
	metrics   *Metrics
	logger    Logger
	now       func() time.Time

	mu sync.Mutex

	observers []Observer
	obsMu     sync.RWMutex

	serialLines        atomic.Uint64
	unmatched          atomic.Uint64
	published          atomic.Uint64
	mqttMessages       atomic.Uint64
	serialWrites       atomic.Uint64
	validationFailures atomic.Uint64
	errorsTotal        atomic.Uint64
}

// New creates a Bridge.
func New(cfg Config) (*Bridge, error) {
	if cfg.Definitions == nil {
		return nil, fmt.Errorf("%w: definitions", ErrMissingDependency)
	}
	if cfg.Serial == nil {
		return nil, fmt.Errorf("%w: serial writer", ErrMissingDependency)
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("%w: publisher", ErrMissingDependency)
	}

	b := &Bridge{
		defs:      cfg.Definitions,
		scope:     cfg.Scope,
		tracker:   cfg.Tracker,
		serial:    cfg.Serial,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       cfg.Clock,
	}
	if b.scope == nil {
		b.scope = rules.BaseScope(nil)
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.tracker == nil {
		opts := cfg.Definitions.Options
		b.tracker = correlation.New(opts.CorrelationID, opts.CorrelationTimeout,
			correlation.WithLogger(b.logger))
	}
	return b, nil
}

// Tracker returns the correlation tracker.
func (b *Bridge) Tracker() *correlation.Tracker {
	return b.tracker
}

// Definitions returns the rule set.
func (b *Bridge) Definitions() *rules.Definitions {
	return b.defs
}

// AddObserver registers fn to receive every bridged event.
func (b *Bridge) AddObserver(fn Observer) {
	b.obsMu.Lock()
	b.observers = append(b.observers, fn)
	b.obsMu.Unlock()
}

func (b *Bridge) notify(ev Event) {
	b.obsMu.RLock()
	observers := b.observers
	b.obsMu.RUnlock()

	for _, fn := range observers {
		fn(ev)
	}
}

// OnMQTTConnect subscribes to every mqtt2serial topic. It is called on the
// initial connection and after every reconnect.
func (b *Bridge) OnMQTTConnect(sub Subscriber) error {
	var errs []error
	for _, name := range rules.SubscriptionTopics(b.defs.MQTTToSerial) {
		b.logger.Info("subscribing to events", "topic", name)
		if err := sub.Subscribe(name, b.OnMQTTMessage); err != nil {
			errs = append(errs, fmt.Errorf("subscribe %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// OnSerialLine translates one panel line into at most one MQTT message.
//
// The first matching rule across all serial2mqtt topics claims the line,
// even when its topic is disabled or the rule requires a request that is
// not active. The correlation tracker is consulted for every claimed line.
//
// Matching, correlation and evaluation run under the bridge mutex. The
// publish runs outside it.
func (b *Bridge) OnSerialLine(line string) error {
	b.serialLines.Add(1)

	if !b.publisher.IsConnected() {
		b.metrics.serialLine("dropped")
		b.logger.Warn("no events will be published, the client is not connected to the MQTT broker", "line", line)
		return ErrPublisherOffline
	}

	out, err := b.translateLine(line)
	if err != nil || out == nil {
		return err
	}

	b.logger.Info("<-- send", "topic", out.topic, "data", string(out.payload))
	if err := b.publisher.Publish(out.topic, out.payload); err != nil {
		return b.serialFailure(line, out.topic, "publish", err)
	}

	b.published.Add(1)
	b.metrics.publish(out.topic)

	b.notify(Event{
		Time:          b.now(),
		Direction:     rules.SerialToMQTT,
		Topic:         out.topic,
		Line:          line,
		Payload:       out.payload,
		CorrelationID: out.correlationID,
	})
	return nil
}

// outbound is a serial line translated into an MQTT message.
type outbound struct {
	topic         string
	payload       []byte
	correlationID any
}

// translateLine matches line and builds its message. A nil result with a
// nil error means nothing is to be published.
func (b *Bridge) translateLine(line string) (*outbound, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	match, ok, err := rules.FindMatch(b.defs.SerialToMQTT, line, b.scope)
	if err != nil {
		return nil, b.serialFailure(line, "", "match", err)
	}
	if !ok {
		b.unmatched.Add(1)
		b.metrics.serialLine("unmatched")
		b.logger.Debug("no rule found for the data", "line", line)
		return nil, nil
	}
	b.metrics.serialLine("matched")

	topic, rule := match.Topic, match.Rule
	child := b.scope.With("data", match.Data)

	// The tracker runs for every claimed line, before the disabled and
	// require_request checks, so an inert match still consumes the request.
	base := b.tracker.UpdateAndApply(map[string]any{})

	if topic.Disabled {
		b.logger.Debug("matching topic is disabled", "topic", topic.Name, "line", line)
		return nil, nil
	}
	if rule.RequireRequest && !b.tracker.Active() {
		b.logger.Debug("rule requires an active request", "topic", topic.Name, "line", line)
		return nil, nil
	}
	if rule.NoCorrelation {
		base = map[string]any{}
	}

	var merged any = base
	if write, isMap := rule.Write.(map[string]any); isMap {
		merged = rules.DeepMerge(base, write)
	} else if rule.Write != nil {
		merged = rule.Write
	}

	value, err := rules.DeepEvaluate(merged, child)
	if err != nil {
		return nil, b.serialFailure(line, topic.Name, "evaluate", err)
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return nil, b.serialFailure(line, topic.Name, "encode", err)
	}

	out := &outbound{topic: topic.Name, payload: payload}
	if field := b.tracker.Field(); field != "" && !rule.NoCorrelation {
		out.correlationID = base[field]
	}
	return out, nil
}

func (b *Bridge) serialFailure(line, topic, kind string, err error) error {
	b.errorsTotal.Add(1)
	b.metrics.failure(string(rules.SerialToMQTT), kind)
	b.logger.Error("cannot translate serial line", "line", line, "topic", topic, "stage", kind, "error", err)
	return err
}

// OnMQTTMessage translates one MQTT message into panel command lines.
//
// Every rule of every enabled topic with the message's name is tried.
// Each rule whose read validates writes its line and enqueues a
// correlation request. The returned error joins all rule failures.
func (b *Bridge) OnMQTTMessage(topicName string, payload []byte) error {
	b.mqttMessages.Add(1)
	b.metrics.mqttMessage(topicName)
	b.logger.Info("--> recv", "topic", topicName, "payload", string(payload))

	data, err := decodePayload(payload)
	if err != nil {
		b.errorsTotal.Add(1)
		b.metrics.failure(string(rules.MQTTToSerial), "payload")
		return fmt.Errorf("%w: %s: %w", ErrInvalidPayload, topicName, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	child := b.scope.With("data", data)

	var errs []error
	for _, topic := range rules.TopicsNamed(b.defs.MQTTToSerial, topicName) {
		if topic.Disabled {
			b.logger.Debug("topic is disabled", "topic", topicName)
			continue
		}
		for i, rule := range topic.Rules {
			if err := b.applyMQTTRule(topicName, rule, data, payload, child); err != nil {
				errs = append(errs, fmt.Errorf("%s rule %d: %w", topicName, i, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (b *Bridge) applyMQTTRule(topicName string, rule *rules.Rule, data map[string]any, payload []byte, child *rules.Scope) error {
	if err := rules.Validate(rule.Read, data, child); err != nil {
		if errors.Is(err, rules.ErrValidation) {
			b.validationFailures.Add(1)
			b.metrics.validationFailure(topicName)
		} else {
			b.errorsTotal.Add(1)
			b.metrics.failure(string(rules.MQTTToSerial), "evaluate")
		}
		b.logger.Debug("event data does not satisfy rule", "topic", topicName, "error", err)
		return err
	}

	value, err := rules.DeepEvaluate(rule.Write, child)
	if err != nil {
		b.errorsTotal.Add(1)
		b.metrics.failure(string(rules.MQTTToSerial), "evaluate")
		return err
	}
	line, ok := value.(string)
	if !ok {
		line = fmt.Sprintf("%v", value)
	}

	var correlationID any
	if field := b.tracker.Field(); field != "" {
		correlationID = data[field]
	}
	ttl := rule.RequestTTL
	b.tracker.Enqueue(correlationID, ttl)

	if err := b.serial.WriteLine(line); err != nil {
		b.errorsTotal.Add(1)
		b.metrics.failure(string(rules.MQTTToSerial), "write")
		b.logger.Error("cannot write to serial", "topic", topicName, "line", line, "error", err)
		return err
	}

	b.serialWrites.Add(1)
	b.metrics.serialWrite(topicName)
	b.logger.Debug("written to serial", "topic", topicName, "line", line)

	b.notify(Event{
		Time:          b.now(),
		Direction:     rules.MQTTToSerial,
		Topic:         topicName,
		Line:          line,
		Payload:       json.RawMessage(bytes.Clone(payload)),
		CorrelationID: correlationID,
	})
	return nil
}

// decodePayload parses an MQTT payload as a JSON object.
func decodePayload(payload []byte) (map[string]any, error) {
	if !utf8.Valid(payload) {
		return nil, errors.New("payload is not valid UTF-8")
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	obj, ok := rules.Normalize(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected JSON object, got %s", rules.TypeName(rules.Normalize(raw)))
	}
	return obj, nil
}

// Stats returns the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		SerialLines:        b.serialLines.Load(),
		Unmatched:          b.unmatched.Load(),
		Published:          b.published.Load(),
		MQTTMessages:       b.mqttMessages.Load(),
		SerialWrites:       b.serialWrites.Load(),
		ValidationFailures: b.validationFailures.Load(),
		Errors:             b.errorsTotal.Load(),
	}
}
