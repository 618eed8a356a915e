package journal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ja2mqtt/internal/bridge"
)

const (
	defaultQueueSize     = 256
	defaultPruneInterval = time.Hour
	writeTimeout         = 5 * time.Second
)

// Logger defines the logging interface for the journal.
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

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Retention is how long entries are kept. Zero disables pruning.
	Retention time.Duration

	// PruneInterval defaults to one hour.
	PruneInterval time.Duration

	// QueueSize bounds the number of events waiting to be written.
	QueueSize int

	// Now is used for prune cut-offs. Defaults to time.Now.
	Now func() time.Time
}

// RecorderStats are counters of the recorder.
type RecorderStats struct {
	Recorded uint64 `json:"recorded"`
	Dropped  uint64 `json:"dropped"`
	Failed   uint64 `json:"failed"`
	Pruned   uint64 `json:"pruned"`
}

// Recorder writes bridged events to a Repository off the bridge's hot path
// and prunes entries older than the retention period.
type Recorder struct {
	repo  Repository
	cfg   RecorderConfig
	queue chan Entry

	logger   Logger
	loggerMu sync.RWMutex

	recorded atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64
	pruned   atomic.Uint64
}

// NewRecorder creates a recorder for repo.
func NewRecorder(repo Repository, cfg RecorderConfig) *Recorder {
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = defaultPruneInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Recorder{
		repo:   repo,
		cfg:    cfg,
		queue:  make(chan Entry, cfg.QueueSize),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	defer r.loggerMu.Unlock()
	r.logger = logger
}

func (r *Recorder) log() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// EntryFromEvent converts a bridged event into a journal entry.
func EntryFromEvent(ev bridge.Event) Entry {
	e := Entry{
		CreatedAt: ev.Time.UTC(),
		Direction: string(ev.Direction),
		Topic:     ev.Topic,
		Line:      ev.Line,
		Payload:   ev.Payload,
	}
	if ev.CorrelationID != nil {
		e.CorrelationID = fmt.Sprint(ev.CorrelationID)
	}
	return e
}

// Observe queues ev for writing. It never blocks; events are dropped when
// the queue is full. It satisfies bridge.Observer.
func (r *Recorder) Observe(ev bridge.Event) {
	select {
	case r.queue <- EntryFromEvent(ev):
	default:
		r.dropped.Add(1)
		r.log().Warn("journal queue full, dropping event", "topic", ev.Topic)
	}
}

// Run writes queued entries and prunes until ctx is cancelled. Entries
// still queued at cancellation are flushed before returning.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PruneInterval)
	defer ticker.Stop()

	r.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			r.flush()
			return nil
		case e := <-r.queue:
			r.write(ctx, e)
		case <-ticker.C:
			r.prune(ctx)
		}
	}
}

func (r *Recorder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	for {
		select {
		case e := <-r.queue:
			r.write(ctx, e)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, e Entry) {
	// Writes in flight complete even when shutdown has begun.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := r.repo.Create(wctx, &e); err != nil {
		r.failed.Add(1)
		r.log().Error("failed to write journal entry", "topic", e.Topic, "error", err)
		return
	}
	r.recorded.Add(1)
}

// Prune removes entries older than the retention period. It is a no-op
// when retention is zero.
func (r *Recorder) Prune(ctx context.Context) (int64, error) {
	if r.cfg.Retention <= 0 {
		return 0, nil
	}
	n, err := r.repo.Prune(ctx, r.cfg.Now().Add(-r.cfg.Retention))
	if err != nil {
		return 0, err
	}
	r.pruned.Add(uint64(n)) //nolint:gosec // RowsAffected is never negative
	return n, nil
}

func (r *Recorder) prune(ctx context.Context) {
	n, err := r.Prune(ctx)
	if err != nil {
		r.log().Error("failed to prune journal", "error", err)
		return
	}
	if n > 0 {
		r.log().Info("journal pruned", "removed", n, "retention", r.cfg.Retention)
	}
}

// Stats returns recorder counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Recorded: r.recorded.Load(),
		Dropped:  r.dropped.Load(),
		Failed:   r.failed.Load(),
		Pruned:   r.pruned.Load(),
	}
}
