package journal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/ja2mqtt/internal/bridge"
	"github.com/nerrad567/ja2mqtt/internal/rules"
)

type memRepo struct {
	mu        sync.Mutex
	entries   []Entry
	prunedAt  []time.Time
	createErr error
}

func (m *memRepo) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memRepo) List(context.Context, Filter) (*ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &ListResult{Entries: append([]Entry(nil), m.entries...), Total: len(m.entries)}, nil
}

func (m *memRepo) Prune(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prunedAt = append(m.prunedAt, before)
	return 0, nil
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *memRepo) prunes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prunedAt)
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// runStopped drains rec with an already cancelled context.
func runStopped(t *testing.T, rec *Recorder) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rec.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestEntryFromEvent(t *testing.T) {
	ev := bridge.Event{
		Time:          base,
		Direction:     rules.SerialToMQTT,
		Topic:         "ja2mqtt/section/1",
		Line:          "STATE 1 READY",
		Payload:       json.RawMessage(`{"state":"READY","corrid":7}`),
		CorrelationID: json.Number("7"),
	}

	e := EntryFromEvent(ev)
	if e.Direction != "serial2mqtt" || e.Topic != "ja2mqtt/section/1" || e.Line != "STATE 1 READY" {
		t.Errorf("EntryFromEvent() = %+v", e)
	}
	if e.CorrelationID != "7" {
		t.Errorf("CorrelationID = %q, want 7", e.CorrelationID)
	}
	if !base.Equal(e.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, base)
	}

	if e = EntryFromEvent(bridge.Event{Direction: rules.MQTTToSerial}); e.CorrelationID != "" {
		t.Errorf("CorrelationID = %q, want empty", e.CorrelationID)
	}
}

func TestRecorder_WritesObservedEvents(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, RecorderConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	for i := 0; i < 3; i++ {
		rec.Observe(bridge.Event{Time: base, Direction: rules.SerialToMQTT, Topic: "t"})
	}

	waitFor(t, func() bool { return repo.count() == 3 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := rec.Stats().Recorded; got != 3 {
		t.Errorf("Recorded = %d, want 3", got)
	}
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, RecorderConfig{QueueSize: 2})

	for i := 0; i < 5; i++ {
		rec.Observe(bridge.Event{Direction: rules.SerialToMQTT})
	}
	if got := rec.Stats().Dropped; got != 3 {
		t.Errorf("Dropped = %d, want 3", got)
	}

	runStopped(t, rec)
	// Queued entries are flushed on shutdown.
	if got := repo.count(); got != 2 {
		t.Errorf("stored %d entries, want 2", got)
	}
}

func TestRecorder_CountsWriteFailures(t *testing.T) {
	repo := &memRepo{createErr: errors.New("disk full")}
	rec := NewRecorder(repo, RecorderConfig{})

	rec.Observe(bridge.Event{Direction: rules.SerialToMQTT})
	runStopped(t, rec)

	stats := rec.Stats()
	if stats.Failed != 1 || stats.Recorded != 0 {
		t.Errorf("Stats() failed=%d recorded=%d, want 1 and 0", stats.Failed, stats.Recorded)
	}
}

func TestRecorder_PruneUsesRetention(t *testing.T) {
	repo := &memRepo{}
	now := base.Add(48 * time.Hour)
	rec := NewRecorder(repo, RecorderConfig{
		Retention: 24 * time.Hour,
		Now:       func() time.Time { return now },
	})

	if _, err := rec.Prune(context.Background()); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if len(repo.prunedAt) != 1 {
		t.Fatalf("pruned %d times, want 1", len(repo.prunedAt))
	}
	if want := base.Add(24 * time.Hour); !want.Equal(repo.prunedAt[0]) {
		t.Errorf("pruned before %v, want %v", repo.prunedAt[0], want)
	}
}

func TestRecorder_PruneDisabled(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, RecorderConfig{})

	n, err := rec.Prune(context.Background())
	if err != nil || n != 0 {
		t.Errorf("Prune() = %d, %v, want 0, nil", n, err)
	}
	if got := repo.prunes(); got != 0 {
		t.Errorf("pruned %d times, want 0", got)
	}
}

func TestRecorder_PrunesOnInterval(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, RecorderConfig{Retention: time.Hour, PruneInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = rec.Run(ctx) }()

	waitFor(t, func() bool { return repo.prunes() >= 3 })
}

func TestRecorder_WithSQLite(t *testing.T) {
	repo := openRepo(t)
	rec := NewRecorder(repo, RecorderConfig{})

	rec.Observe(bridge.Event{
		Time:      base,
		Direction: rules.MQTTToSerial,
		Topic:     "ja2mqtt/request/state",
		Line:      "1234 STATE",
		Payload:   json.RawMessage(`{}`),
	})
	runStopped(t, rec)

	res, err := repo.List(context.Background(), Filter{Direction: "mqtt2serial"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(res.Entries) != 1 || res.Entries[0].Line != "1234 STATE" {
		t.Errorf("List() = %+v, want one 1234 STATE entry", res.Entries)
	}
}
