package bridge

import (
	"errors"
	"sync"

	"github.com/nerrad567/ja2mqtt/internal/infrastructure/serial"
)

type published struct {
	topic    string
	payload  string
	qos      byte
	retained bool
}

// fakePublisher records published messages.
type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	err       error
	messages  []published
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{connected: true}
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	return p.PublishQoS(topic, payload, 0, false)
}

func (p *fakePublisher) PublishQoS(topic string, payload []byte, qos byte, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, published{topic: topic, payload: string(payload), qos: qos, retained: retained})
	return nil
}

func (p *fakePublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePublisher) Messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.messages...)
}

// blockingPublisher holds every Publish until release is closed.
type blockingPublisher struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingPublisher() *blockingPublisher {
	return &blockingPublisher{entered: make(chan struct{}), release: make(chan struct{})}
}

func (p *blockingPublisher) Publish(string, []byte) error {
	p.once.Do(func() { close(p.entered) })
	<-p.release
	return nil
}

func (p *blockingPublisher) IsConnected() bool { return true }

// healthPublisher adapts fakePublisher to HealthPublisher.
type healthPublisher struct{ *fakePublisher }

func (h healthPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return h.PublishQoS(topic, payload, qos, retained)
}

// fakeSerial records written lines.
type fakeSerial struct {
	mu        sync.Mutex
	lines     []string
	err       error
	connected bool
}

func (s *fakeSerial) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.lines = append(s.lines, line)
	return nil
}

func (s *fakeSerial) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func (s *fakeSerial) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSerial) Stats() serial.Stats {
	return serial.Stats{Connected: s.IsConnected(), LinesOut: uint64(len(s.Lines()))}
}

// fakeSubscriber records subscriptions.
type fakeSubscriber struct {
	mu     sync.Mutex
	topics []string
	fail   map[string]bool
}

func (s *fakeSubscriber) Subscribe(topic string, _ func(string, []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[topic] {
		return errors.New("refused")
	}
	s.topics = append(s.topics, topic)
	return nil
}
