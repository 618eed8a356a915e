package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Status represents the current state of a supervised task.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// ErrAlreadyRunning is returned by Start when the task is already running.
var ErrAlreadyRunning = errors.New("process: task already running")

// Task is a long-lived unit of work. It must return when ctx is cancelled.
// A nil return before cancellation means the task finished and is not restarted.
type Task func(ctx context.Context) error

// RecoverableError lets a task signal that restarting will not help.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether err should trigger a restart.
// Errors that do not implement RecoverableError are treated as recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return true
}

type permanentError struct{ err error }

func (e permanentError) Error() string       { return e.err.Error() }
func (e permanentError) Unwrap() error       { return e.err }
func (e permanentError) IsRecoverable() bool { return false }

// Permanent marks err as non-recoverable so the manager gives up on it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Config holds configuration for a supervised task.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Task is the function to run.
	Task Task

	// RestartOnFailure enables automatic restart when the task returns an error.
	RestartOnFailure bool

	// RestartDelay is the base wait before restarting after a failure.
	RestartDelay time.Duration

	// MaxRestartDelay caps the exponential restart delay.
	MaxRestartDelay time.Duration

	// StableThreshold is how long a task must run before the restart
	// counter resets.
	StableThreshold time.Duration

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long Stop waits for the task to return.
	GracefulTimeout time.Duration

	OnStart   func()
	OnStop    func(err error)
	OnRestart func(attempt int)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(name string, task Task) Config {
	return Config{
		Name:               name,
		Task:               task,
		RestartOnFailure:   true,
		RestartDelay:       5 * time.Second,
		MaxRestartDelay:    5 * time.Minute,
		StableThreshold:    2 * time.Minute,
		MaxRestartAttempts: 10,
		GracefulTimeout:    10 * time.Second,
	}
}

// Logger defines the logging interface for the process manager.
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

// Manager supervises a single task.
type Manager struct {
	config Config

	mu            sync.RWMutex
	logger        Logger
	status        Status
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewManager creates a new manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.MaxRestartDelay == 0 {
		cfg.MaxRestartDelay = 5 * time.Minute
	}
	if cfg.StableThreshold == 0 {
		cfg.StableThreshold = 2 * time.Minute
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

func (m *Manager) log() Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logger
}

// Name returns the task name.
func (m *Manager) Name() string {
	return m.config.Name
}

// Start launches the task in its own goroutine and supervises it.
func (m *Manager) Start(ctx context.Context) error {
	if m.config.Task == nil {
		return fmt.Errorf("process %s: no task configured", m.config.Name)
	}

	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.config.Name)
	}
	taskCtx, cancel := context.WithCancel(ctx)
	m.status = StatusStarting
	m.stopRequested = false
	m.restartCount = 0
	m.lastError = nil
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.monitor(taskCtx)
	return nil
}

// runOnce executes the task, converting panics into errors.
func (m *Manager) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", m.config.Name, r)
		}
	}()
	return m.config.Task(ctx)
}

// monitor runs the task and handles restarts.
func (m *Manager) monitor(ctx context.Context) {
	m.mu.RLock()
	done := m.done
	m.mu.RUnlock()
	defer close(done)

	for {
		m.mu.Lock()
		m.status = StatusRunning
		m.startTime = time.Now()
		m.mu.Unlock()

		m.log().Info("task started", "name", m.config.Name)
		if m.config.OnStart != nil {
			m.config.OnStart()
		}

		err := m.runOnce(ctx)
		ranFor := m.Uptime()

		m.mu.Lock()
		stopRequested := m.stopRequested
		m.mu.Unlock()

		if stopRequested || ctx.Err() != nil || err == nil {
			m.log().Info("task stopped", "name", m.config.Name)
			m.setStopped(nil)
			return
		}

		m.log().Warn("task exited unexpectedly",
			"name", m.config.Name,
			"error", err,
		)
		m.mu.Lock()
		m.lastError = err
		m.status = StatusFailed
		if ranFor >= m.config.StableThreshold {
			m.restartCount = 0
		}
		m.mu.Unlock()

		if m.config.OnStop != nil {
			m.config.OnStop(err)
		}

		if !m.config.RestartOnFailure {
			m.log().Info("restart disabled, not restarting", "name", m.config.Name)
			return
		}
		if !IsRecoverable(err) {
			m.log().Error("task failed permanently", "name", m.config.Name, "error", err)
			return
		}

		m.mu.Lock()
		m.restartCount++
		attempt := m.restartCount
		m.mu.Unlock()

		if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
			m.log().Error("max restart attempts reached",
				"name", m.config.Name,
				"attempts", attempt,
			)
			return
		}

		delay := m.calculateBackoffDelay(attempt)
		m.log().Info("restarting task",
			"name", m.config.Name,
			"attempt", attempt,
			"delay", delay,
		)
		if m.config.OnRestart != nil {
			m.config.OnRestart(attempt)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.log().Info("context cancelled, not restarting", "name", m.config.Name)
			m.mu.Lock()
			m.status = StatusStopped
			m.mu.Unlock()
			return
		case <-timer.C:
		}
	}
}

func (m *Manager) setStopped(err error) {
	m.mu.Lock()
	m.status = StatusStopped
	m.mu.Unlock()
	if m.config.OnStop != nil {
		m.config.OnStop(err)
	}
}

// calculateBackoffDelay doubles RestartDelay per attempt, capped at MaxRestartDelay.
func (m *Manager) calculateBackoffDelay(attempt int) time.Duration {
	delay := m.config.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.MaxRestartDelay {
			return m.config.MaxRestartDelay
		}
	}
	return delay
}

// Stop cancels the task and waits up to GracefulTimeout for it to return.
func (m *Manager) Stop() error {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.stopRequested = true
	m.mu.Unlock()

	if cancel == nil || done == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.log().Warn("graceful shutdown timeout",
			"name", m.config.Name,
			"timeout", m.config.GracefulTimeout,
		)
		return fmt.Errorf("task %s did not stop within %s", m.config.Name, m.config.GracefulTimeout)
	}
}

// Done returns a channel closed when supervision ends. Nil before Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// Status returns the current status of the task.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the task is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the last error returned by the task.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns the number of restarts since the last stable run.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// Uptime returns how long the task has been running, or 0.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != StatusRunning {
		return 0
	}
	return time.Since(m.startTime)
}

// Stats returns statistics about a supervised task.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the task.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.status == StatusRunning {
		stats.Uptime = time.Since(m.startTime)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}
