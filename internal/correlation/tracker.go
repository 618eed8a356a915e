package correlation

import (
	"sync"
	"time"
)

// Request is an MQTT-originated command awaiting serial responses.
type Request struct {
	// CorrelationID is copied from the inbound payload; nil when the
	// payload did not carry one.
	CorrelationID any

	CreatedAt time.Time

	// TTL is the number of responses the request may still be applied to.
	TTL int
}

// Logger defines the logging interface used by the tracker.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Snapshot is a point-in-time view of the tracker for status reporting.
type Snapshot struct {
	Active  *Request `json:"active,omitempty"`
	Pending int      `json:"pending"`
	Applied uint64   `json:"applied"`
	Expired uint64   `json:"expired"`
}

// Tracker links serial responses to the MQTT request that most plausibly
// caused them.
//
// It holds one active request and a FIFO of pending ones. Each serial→MQTT
// candidate output calls UpdateAndApply exactly once: a pending request, if
// any, replaces the active one; the active request is then applied if it is
// younger than the timeout and has TTL left, or discarded otherwise.
//
// The correlation is ordering based. Interleaved commands cannot be told
// apart because only one request is tracked at a time.
//
// Thread Safety: all methods are safe for concurrent use.
type Tracker struct {
	field   string
	timeout time.Duration
	now     func() time.Time
	logger  Logger

	mu      sync.Mutex
	active  *Request
	pending []*Request
	applied uint64
	expired uint64
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger used for expiry messages.
func WithLogger(l Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates a tracker that injects ids under field. An empty field
// disables injection but requests are still tracked, so require_request
// rules keep working. A non-positive timeout expires every request on its
// first use.
func New(field string, timeout time.Duration, opts ...Option) *Tracker {
	t := &Tracker{
		field:   field,
		timeout: timeout,
		now:     time.Now,
		logger:  noopLogger{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Enqueue appends a fresh request to the pending queue.
func (t *Tracker) Enqueue(correlationID any, ttl int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending = append(t.pending, &Request{
		CorrelationID: correlationID,
		CreatedAt:     t.now(),
		TTL:           ttl,
	})
}

// UpdateAndApply promotes the oldest pending request (if any) into the
// active slot, then injects the active request's id into out when the
// request is still live. out is modified in place and returned; a nil out
// is replaced by a new map.
func (t *Tracker) UpdateAndApply(out map[string]any) map[string]any {
	if out == nil {
		out = make(map[string]any)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.pending) > 0 {
		t.active = t.pending[0]
		t.pending[0] = nil
		t.pending = t.pending[1:]
	}

	if t.active == nil {
		return out
	}

	if t.now().Sub(t.active.CreatedAt) < t.timeout && t.active.TTL > 0 {
		if t.active.CorrelationID != nil && t.field != "" {
			out[t.field] = t.active.CorrelationID
		}
		t.active.TTL--
		t.applied++
		return out
	}

	t.logger.Debug("discarding the request for correlation, the correlation timeout or ttl expired",
		"correlation_id", t.active.CorrelationID,
		"age", t.now().Sub(t.active.CreatedAt),
		"ttl", t.active.TTL)
	t.active = nil
	t.expired++
	return out
}

// Active reports whether a request occupies the active slot.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active != nil
}

// Pending returns the number of queued requests.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Field returns the payload field ids are injected under.
func (t *Tracker) Field() string {
	return t.field
}

// Snapshot returns a copy of the tracker state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Pending: len(t.pending),
		Applied: t.applied,
		Expired: t.expired,
	}
	if t.active != nil {
		active := *t.active
		s.Active = &active
	}
	return s
}
