package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ja2mqtt/internal/infrastructure/config"
	"github.com/nerrad567/ja2mqtt/internal/infrastructure/serial"
	"github.com/nerrad567/ja2mqtt/internal/rules"
)

const (
	defaultResponseDelay = 500 * time.Millisecond
	defaultPRFStateBits  = 24
	defaultTick          = 500 * time.Millisecond
	outputQueueSize      = 64
)

var (
	setCommand   = regexp.MustCompile(`^(?P<pin>[0-9]+) (?P<command>SET|UNSET) (?P<code>[0-9]+)$`)
	stateCommand = regexp.MustCompile(`^(?P<pin>[0-9]+) STATE(?: (?P<code>[0-9]+))?$`)
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("simulator: closed")

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// timedRule pushes a line every time_next seconds.
type timedRule struct {
	timeNext  any
	write     any
	lastWrite time.Time
}

// Simulator emulates the panel behind the serial port.
//
// It has the same surface as serial.Port (Run, WriteLine, SetOnLine,
// IsConnected, Stats, Close) so the bridge runs unchanged against it.
type Simulator struct {
	pin   string
	delay time.Duration
	tick  time.Duration

	mu       sync.Mutex
	sections []*Section
	byCode   map[string]*Section
	timed    []*timedRule

	scope *rules.Scope
	out   chan string
	now   func() time.Time

	onLine     func(line string)
	callbackMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	running   atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once

	linesIn      atomic.Uint64
	linesOut     atomic.Uint64
	dropped      atomic.Uint64
	lastActivity atomic.Int64
}

// New builds a simulator from the simulator section of the configuration.
// topology is exposed to timed-rule expressions like in the bridge scope.
func New(cfg config.SimulatorConfig, topology map[string]any) (*Simulator, error) {
	delay := cfg.ResponseDelay
	if delay < 0 {
		delay = defaultResponseDelay
	}
	bits := cfg.PRFStateBits
	if bits <= 0 {
		bits = defaultPRFStateBits
	}

	s := &Simulator{
		pin:    cfg.Pin,
		delay:  delay,
		tick:   defaultTick,
		byCode: make(map[string]*Section, len(cfg.Sections)),
		out:    make(chan string, outputQueueSize),
		now:    time.Now,
		closed: make(chan struct{}),
	}

	var errs []string
	for i, sc := range cfg.Sections {
		state := strings.ToUpper(sc.State)
		if state != StateReady && state != StateArmed {
			errs = append(errs, fmt.Sprintf("sections[%d]: invalid state %q (READY or ARMED)", i, sc.State))
			continue
		}
		if _, dup := s.byCode[sc.Code]; dup {
			errs = append(errs, fmt.Sprintf("sections[%d]: duplicate code %q", i, sc.Code))
			continue
		}
		section := &Section{Code: sc.Code, State: state}
		s.sections = append(s.sections, section)
		s.byCode[sc.Code] = section
	}

	for i := range cfg.Rules {
		timeNext, err := rules.DecodeNode(&cfg.Rules[i].TimeNext)
		if err != nil {
			errs = append(errs, fmt.Sprintf("rules[%d].time_next: %v", i, err))
			continue
		}
		write, err := rules.DecodeNode(&cfg.Rules[i].Write)
		if err != nil {
			errs = append(errs, fmt.Sprintf("rules[%d].write: %v", i, err))
			continue
		}
		if timeNext == nil || write == nil {
			continue
		}
		s.timed = append(s.timed, &timedRule{timeNext: timeNext, write: write})
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("simulator: invalid configuration: %s", strings.Join(errs, "; "))
	}

	rnd := &randSource{rng: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))} //nolint:gosec // simulated data
	s.scope = rules.BaseScope(topology, scopeFunctions(rnd, bits)...)
	return s, nil
}

// SetOnLine sets the callback for lines emitted by the simulated panel.
func (s *Simulator) SetOnLine(callback func(line string)) {
	s.callbackMu.Lock()
	s.onLine = callback
	s.callbackMu.Unlock()
}

// SetLogger sets the logger for this simulator.
func (s *Simulator) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// Run delivers panel output and fires timed rules until ctx ends or Close
// is called.
func (s *Simulator) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)
	s.logInfo("panel simulator started", "sections", len(s.sections), "timed_rules", len(s.timed))

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closed:
			return ErrClosed
		case line := <-s.out:
			s.deliver(line)
		case <-ticker.C:
			s.fireTimedRules()
		}
	}
}

// WriteLine accepts a command line sent to the panel.
//
// Responses are emitted after the configured response delay. Unknown
// commands are ignored, as the panel does.
func (s *Simulator) WriteLine(line string) error {
	select {
	case <-s.closed:
		return serial.ErrNotConnected
	default:
	}

	s.linesIn.Add(1)
	s.lastActivity.Store(s.now().Unix())
	line = strings.TrimRight(line, "\r\n")

	responses := s.execute(line)
	if len(responses) == 0 {
		s.logDebug("simulator ignored command", "line", line)
		return nil
	}

	time.AfterFunc(s.delay, func() {
		for _, r := range responses {
			s.emit(r)
		}
	})
	return nil
}

// execute applies a command to the panel state and returns the response lines.
func (s *Simulator) execute(line string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m := setCommand.FindStringSubmatch(line); m != nil {
		pin, command, code := m[1], m[2], m[3]
		if pin != s.pin {
			return []string{ErrorNoAccess}
		}
		section, ok := s.byCode[code]
		if !ok {
			return []string{ErrorInvalidValue}
		}
		if command == "SET" {
			return []string{section.set()}
		}
		return []string{section.unset()}
	}

	if m := stateCommand.FindStringSubmatch(line); m != nil {
		pin, code := m[1], m[2]
		if pin != s.pin {
			return []string{ErrorNoAccess}
		}
		var out []string
		for _, section := range s.sections {
			if code == "" || section.Code == code {
				out = append(out, section.String())
			}
		}
		return out
	}

	return nil
}

// emit queues a line for delivery by Run.
func (s *Simulator) emit(line string) {
	select {
	case s.out <- line:
	case <-s.closed:
	default:
		s.dropped.Add(1)
		s.logWarn("simulator output queue full, dropping line", "line", line)
	}
}

func (s *Simulator) deliver(line string) {
	s.linesOut.Add(1)
	s.lastActivity.Store(s.now().Unix())

	s.callbackMu.RLock()
	callback := s.onLine
	s.callbackMu.RUnlock()
	if callback != nil {
		callback(line)
	}
}

// fireTimedRules emits the write of every rule whose interval has passed.
// time_next is evaluated on every tick, so expressions may vary it.
func (s *Simulator) fireTimedRules() {
	now := s.now()
	for _, rule := range s.timed {
		if rule.lastWrite.IsZero() {
			rule.lastWrite = now
			continue
		}

		v, err := rules.DeepEvaluate(rule.timeNext, s.scope)
		if err != nil {
			s.logError("cannot evaluate time_next", err)
			continue
		}
		seconds, _, err := number(v)
		if err != nil {
			s.logError("time_next is not a number", err)
			continue
		}
		if now.Sub(rule.lastWrite).Seconds() <= seconds {
			continue
		}

		out, err := rules.DeepEvaluate(rule.write, s.scope)
		if err != nil {
			s.logError("cannot evaluate timed write", err)
			continue
		}
		rule.lastWrite = now
		line, ok := out.(string)
		if !ok {
			line = fmt.Sprint(out)
		}
		s.emit(line)
	}
}

// Sections returns a snapshot of the section states.
func (s *Simulator) Sections() []Section {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Section, 0, len(s.sections))
	for _, section := range s.sections {
		out = append(out, *section)
	}
	return slices.Clip(out)
}

// IsConnected reports whether Run is active.
func (s *Simulator) IsConnected() bool {
	return s.running.Load()
}

// Stats reports counters in the serial port's format. Lines the panel
// received count as LinesOut of the bridge and vice versa.
func (s *Simulator) Stats() serial.Stats {
	return serial.Stats{
		LinesIn:      s.linesOut.Load(),
		LinesOut:     s.linesIn.Load(),
		Errors:       s.dropped.Load(),
		Connected:    s.IsConnected(),
		LastActivity: time.Unix(s.lastActivity.Load(), 0),
	}
}

// Close stops Run. Safe to call multiple times.
func (s *Simulator) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *Simulator) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

func (s *Simulator) logDebug(msg string, args ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Debug(msg, args...)
	}
}

func (s *Simulator) logInfo(msg string, args ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Info(msg, args...)
	}
}

func (s *Simulator) logWarn(msg string, args ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Warn(msg, args...)
	}
}

func (s *Simulator) logError(msg string, err error) {
	if logger := s.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
