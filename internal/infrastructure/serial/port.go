package serial

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	bugserial "go.bug.st/serial"
	"golang.org/x/text/encoding"

	"github.com/nerrad567/ja2mqtt/internal/infrastructure/config"
)

const (
	defaultReadTimeout    = 200 * time.Millisecond
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
	backoffFactor         = 1.5
	readBufferSize        = 256

	// maxLineLength drops runaway input that never sees a newline.
	maxLineLength = 4096
)

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// device is the subset of go.bug.st/serial.Port the line port uses.
type device interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	SetRTS(rts bool) error
	ResetInputBuffer() error
}

// openDevice is swapped out in tests.
var openDevice = func(name string, mode *bugserial.Mode) (device, error) {
	return bugserial.Open(name, mode)
}

// listPorts is swapped out in tests.
var listPorts = bugserial.GetPortsList

// ListPorts returns the serial devices present on the system.
func ListPorts() ([]string, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("serial: list ports: %w", err)
	}
	return ports, nil
}

// Stats holds operational counters for a Port.
type Stats struct {
	LinesIn      uint64    `json:"lines_in"`
	LinesOut     uint64    `json:"lines_out"`
	Errors       uint64    `json:"errors"`
	Reconnects   uint64    `json:"reconnects"`
	Connected    bool      `json:"connected"`
	LastActivity time.Time `json:"last_activity"`
}

// Port is a line-oriented serial connection to the panel.
//
// Run owns the device: it opens it, reads newline-terminated lines and
// hands them to the OnLine callback, and reopens it with exponential
// backoff after any read error. WriteLine may be called concurrently.
type Port struct {
	cfg  config.SerialConfig
	mode *bugserial.Mode
	enc  encoding.Encoding

	initialBackoff time.Duration
	maxBackoff     time.Duration

	dev   device
	devMu sync.Mutex

	// writeMu serialises whole lines on the wire.
	writeMu sync.Mutex

	onLine     func(line string)
	callbackMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	closed    chan struct{}
	closeOnce sync.Once

	linesIn      atomic.Uint64
	linesOut     atomic.Uint64
	errorsTotal  atomic.Uint64
	reconnects   atomic.Uint64
	opens        atomic.Uint64
	lastActivity atomic.Int64
}

// New creates a Port for the configured device. The device is opened by Run.
func New(cfg config.SerialConfig) (*Port, error) {
	enc, err := LookupEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}

	return &Port{
		cfg:            cfg,
		mode:           buildMode(cfg),
		enc:            enc,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		closed:         make(chan struct{}),
	}, nil
}

// buildMode converts the configuration into a go.bug.st/serial mode.
func buildMode(cfg config.SerialConfig) *bugserial.Mode {
	mode := &bugserial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.ByteSize,
	}

	switch cfg.Parity {
	case "O":
		mode.Parity = bugserial.OddParity
	case "E":
		mode.Parity = bugserial.EvenParity
	case "M":
		mode.Parity = bugserial.MarkParity
	case "S":
		mode.Parity = bugserial.SpaceParity
	default:
		mode.Parity = bugserial.NoParity
	}

	if cfg.StopBits == 2 {
		mode.StopBits = bugserial.TwoStopBits
	} else {
		mode.StopBits = bugserial.OneStopBit
	}

	return mode
}

// SetOnLine sets the callback for received lines.
//
// The callback runs on the read goroutine, so lines are delivered in
// order and one at a time.
func (p *Port) SetOnLine(callback func(line string)) {
	p.callbackMu.Lock()
	p.onLine = callback
	p.callbackMu.Unlock()
}

// SetLogger sets the logger for this port.
func (p *Port) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

// Run opens the device and reads lines until ctx ends or Close is called.
//
// Open and read failures are logged and retried with backoff starting at
// 1s, growing ×1.5 and capped at 30s. Run returns nil when ctx is
// cancelled and ErrClosed after Close.
func (p *Port) Run(ctx context.Context) error {
	backoff := p.initialBackoff

	for {
		if err := p.open(); err != nil {
			p.errorsTotal.Add(1)
			p.logError("cannot open serial port", err, "port", p.cfg.Port, "retry_in", backoff.String())
		} else {
			backoff = p.initialBackoff
			err := p.readLoop(ctx)
			p.closeDevice()
			if err == nil {
				return p.stopReason()
			}
			p.errorsTotal.Add(1)
			p.logError("serial read failed, reopening", err, "port", p.cfg.Port)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-p.closed:
			return ErrClosed
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * backoffFactor)
		if backoff > p.maxBackoff {
			backoff = p.maxBackoff
		}
	}
}

// stopReason distinguishes Close from context cancellation.
func (p *Port) stopReason() error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
		return nil
	}
}

// open opens the device and installs it.
func (p *Port) open() error {
	dev, err := openDevice(p.cfg.Port, p.mode)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrOpenFailed, p.cfg.Port, err)
	}
	if err := dev.SetReadTimeout(p.cfg.ReadTimeout); err != nil {
		dev.Close()
		return fmt.Errorf("%w: set read timeout: %w", ErrOpenFailed, err)
	}
	if p.cfg.RTSCTS {
		if err := dev.SetRTS(true); err != nil {
			dev.Close()
			return fmt.Errorf("%w: set RTS: %w", ErrOpenFailed, err)
		}
	}
	if p.cfg.XONXOFF {
		p.logWarn("software flow control is not supported by the serial driver, ignoring xonxoff")
	}
	// Discard anything buffered before we were listening.
	_ = dev.ResetInputBuffer()

	p.devMu.Lock()
	p.dev = dev
	p.devMu.Unlock()

	if p.opens.Add(1) > 1 {
		p.reconnects.Add(1)
	}
	p.lastActivity.Store(time.Now().Unix())
	p.logInfo("serial port opened", "port", p.cfg.Port, "baudrate", p.cfg.BaudRate)
	return nil
}

func (p *Port) closeDevice() {
	p.devMu.Lock()
	if p.dev != nil {
		p.dev.Close()
		p.dev = nil
	}
	p.devMu.Unlock()
}

func (p *Port) currentDevice() device {
	p.devMu.Lock()
	defer p.devMu.Unlock()
	return p.dev
}

// readLoop reads until ctx ends (returns nil) or the device fails.
//
// The device read timeout bounds each Read, which returns 0 bytes on
// timeout, so cancellation is noticed within one read_timeout.
func (p *Port) readLoop(ctx context.Context) error {
	dev := p.currentDevice()
	if dev == nil {
		return ErrNotConnected
	}

	buf := make([]byte, readBufferSize)
	var pending []byte

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.closed:
			return nil
		default:
		}

		n, err := dev.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			pending = p.dispatchLines(pending)
		}
		if err != nil {
			select {
			case <-p.closed:
				return nil
			default:
			}
			return fmt.Errorf("serial: read: %w", err)
		}
	}
}

// dispatchLines delivers every complete line in data and returns the rest.
func (p *Port) dispatchLines(data []byte) []byte {
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		raw := bytes.TrimRight(data[:i], "\r")
		data = data[i+1:]
		p.deliver(raw)
	}

	if len(data) > maxLineLength {
		p.errorsTotal.Add(1)
		p.logWarn("discarding oversized serial input without newline", "bytes", len(data))
		return nil
	}
	return data
}

func (p *Port) deliver(raw []byte) {
	line, err := p.enc.NewDecoder().Bytes(raw)
	if err != nil {
		p.errorsTotal.Add(1)
		p.logError("cannot decode serial line", err)
		return
	}

	p.linesIn.Add(1)
	p.lastActivity.Store(time.Now().Unix())
	p.logDebug("serial line received", "line", string(line))

	p.callbackMu.RLock()
	callback := p.onLine
	p.callbackMu.RUnlock()
	if callback != nil {
		callback(string(line))
	}
}

// WriteLine encodes line and writes it followed by a newline.
func (p *Port) WriteLine(line string) error {
	data, err := p.enc.NewEncoder().Bytes([]byte(line))
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrWriteFailed, err)
	}
	data = append(data, '\n')

	dev := p.currentDevice()
	if dev == nil {
		return ErrNotConnected
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := dev.Write(data); err != nil {
		p.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	p.linesOut.Add(1)
	p.lastActivity.Store(time.Now().Unix())
	p.logDebug("serial line written", "line", line)
	return nil
}

// IsConnected reports whether the device is currently open.
func (p *Port) IsConnected() bool {
	return p.currentDevice() != nil
}

// Stats returns current operational statistics.
func (p *Port) Stats() Stats {
	return Stats{
		LinesIn:      p.linesIn.Load(),
		LinesOut:     p.linesOut.Load(),
		Errors:       p.errorsTotal.Load(),
		Reconnects:   p.reconnects.Load(),
		Connected:    p.IsConnected(),
		LastActivity: time.Unix(p.lastActivity.Load(), 0),
	}
}

// Close stops Run and closes the device. Safe to call multiple times.
func (p *Port) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	p.closeDevice()
	return nil
}

func (p *Port) getLogger() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}

func (p *Port) logDebug(msg string, args ...any) {
	if logger := p.getLogger(); logger != nil {
		logger.Debug(msg, args...)
	}
}

func (p *Port) logInfo(msg string, args ...any) {
	if logger := p.getLogger(); logger != nil {
		logger.Info(msg, args...)
	}
}

func (p *Port) logWarn(msg string, args ...any) {
	if logger := p.getLogger(); logger != nil {
		logger.Warn(msg, args...)
	}
}

func (p *Port) logError(msg string, err error, args ...any) {
	if logger := p.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, args...)...)
	}
}
