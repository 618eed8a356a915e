package serial

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	bugserial "go.bug.st/serial"

	"github.com/nerrad567/ja2mqtt/internal/infrastructure/config"
)

// fakeDevice feeds queued chunks to Read and records writes.
type fakeDevice struct {
	mu      sync.Mutex
	chunks  chan []byte
	written bytes.Buffer
	timeout time.Duration
	closed  chan struct{}
	once    sync.Once
	rts     bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		chunks:  make(chan []byte, 16),
		timeout: 10 * time.Millisecond,
		closed:  make(chan struct{}),
	}
}

func (d *fakeDevice) Read(b []byte) (int, error) {
	select {
	case chunk := <-d.chunks:
		if chunk == nil {
			return 0, errors.New("device unplugged")
		}
		return copy(b, chunk), nil
	case <-d.closed:
		return 0, errors.New("port closed")
	case <-time.After(d.timeout):
		return 0, nil
	}
}

func (d *fakeDevice) Write(b []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written.Write(b)
}

func (d *fakeDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

func (d *fakeDevice) SetReadTimeout(t time.Duration) error { d.timeout = t; return nil }
func (d *fakeDevice) SetRTS(rts bool) error                { d.rts = rts; return nil }
func (d *fakeDevice) ResetInputBuffer() error              { return nil }

func (d *fakeDevice) Written() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written.String()
}

func testSerialConfig() config.SerialConfig {
	return config.SerialConfig{
		Port:        "/dev/ttyTEST",
		BaudRate:    9600,
		ByteSize:    8,
		Parity:      "N",
		StopBits:    1,
		Encoding:    "ascii",
		ReadTimeout: 10 * time.Millisecond,
	}
}

// useDevices makes openDevice hand out the given devices in order.
func useDevices(t *testing.T, devices ...*fakeDevice) *int {
	t.Helper()
	orig := openDevice
	t.Cleanup(func() { openDevice = orig })

	var mu sync.Mutex
	opened := 0
	openDevice = func(string, *bugserial.Mode) (device, error) {
		mu.Lock()
		defer mu.Unlock()
		if opened >= len(devices) {
			return nil, errors.New("no such device")
		}
		d := devices[opened]
		opened++
		return d, nil
	}
	return &opened
}

func collectLines(p *Port) (func() []string, chan struct{}) {
	var mu sync.Mutex
	var lines []string
	signal := make(chan struct{}, 16)
	p.SetOnLine(func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
		signal <- struct{}{}
	})
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), lines...)
	}, signal
}

func waitFor(t *testing.T, signal chan struct{}, n int) {
	t.Helper()
	for range n {
		select {
		case <-signal:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for line")
		}
	}
}

func TestPort_SplitsLines(t *testing.T) {
	dev := newFakeDevice()
	useDevices(t, dev)

	p, err := New(testSerialConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	lines, signal := collectLines(p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	dev.chunks <- []byte("STATE 1 RE")
	dev.chunks <- []byte("ADY\r\nSTATE 2 ARMED\n")
	waitFor(t, signal, 2)

	got := lines()
	if len(got) != 2 || got[0] != "STATE 1 READY" || got[1] != "STATE 2 ARMED" {
		t.Errorf("lines = %q", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v, want nil after cancel", err)
	}
	if p.Stats().LinesIn != 2 {
		t.Errorf("LinesIn = %d, want 2", p.Stats().LinesIn)
	}
}

func TestPort_WriteLine(t *testing.T) {
	dev := newFakeDevice()
	useDevices(t, dev)

	p, _ := New(testSerialConfig())
	if err := p.WriteLine("1234 STATE"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("WriteLine() before open error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for !p.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := p.WriteLine("1234 SET 1"); err != nil {
		t.Fatalf("WriteLine() error = %v", err)
	}
	if got := dev.Written(); got != "1234 SET 1\n" {
		t.Errorf("written = %q, want %q", got, "1234 SET 1\n")
	}
	if p.Stats().LinesOut != 1 {
		t.Errorf("LinesOut = %d, want 1", p.Stats().LinesOut)
	}
}

func TestPort_ReopensAfterReadError(t *testing.T) {
	first, second := newFakeDevice(), newFakeDevice()
	opened := useDevices(t, first, second)

	p, _ := New(testSerialConfig())
	p.initialBackoff = time.Millisecond
	lines, signal := collectLines(p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	first.chunks <- nil
	second.chunks <- []byte("OK\n")
	waitFor(t, signal, 1)

	if got := lines(); len(got) != 1 || got[0] != "OK" {
		t.Errorf("lines = %q", got)
	}
	if *opened != 2 {
		t.Errorf("opened = %d, want 2", *opened)
	}
	stats := p.Stats()
	if stats.Reconnects != 1 || stats.Errors == 0 {
		t.Errorf("stats = %+v, want 1 reconnect and errors > 0", stats)
	}
}

func TestPort_CloseStopsRun(t *testing.T) {
	useDevices(t, newFakeDevice())

	p, _ := New(testSerialConfig())
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	p.Close()
	p.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Run() error = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after Close()")
	}
}

func TestPort_RetriesOpen(t *testing.T) {
	useDevices(t)

	p, _ := New(testSerialConfig())
	p.initialBackoff = time.Millisecond
	p.maxBackoff = 2 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := p.Run(ctx); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
	if p.Stats().Errors < 2 {
		t.Errorf("Errors = %d, want repeated open failures", p.Stats().Errors)
	}
}

func TestPort_DropsOversizedInput(t *testing.T) {
	p, _ := New(testSerialConfig())
	rest := p.dispatchLines(bytes.Repeat([]byte("x"), maxLineLength+1))
	if rest != nil {
		t.Errorf("dispatchLines() kept %d bytes, want none", len(rest))
	}
}

func TestPort_DecodesCharset(t *testing.T) {
	cfg := testSerialConfig()
	cfg.Encoding = "latin1"
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	lines, _ := collectLines(p)

	p.dispatchLines([]byte("Kuchy\xf2\n"))

	if got := lines(); len(got) != 1 || got[0] != "Kuchyò" {
		t.Errorf("lines = %q", got)
	}
}

func TestBuildMode(t *testing.T) {
	tests := []struct {
		parity   string
		stopBits int
		wantP    bugserial.Parity
		wantS    bugserial.StopBits
	}{
		{"N", 1, bugserial.NoParity, bugserial.OneStopBit},
		{"E", 1, bugserial.EvenParity, bugserial.OneStopBit},
		{"O", 2, bugserial.OddParity, bugserial.TwoStopBits},
		{"M", 1, bugserial.MarkParity, bugserial.OneStopBit},
		{"S", 1, bugserial.SpaceParity, bugserial.OneStopBit},
	}

	for _, tt := range tests {
		cfg := testSerialConfig()
		cfg.Parity = tt.parity
		cfg.StopBits = tt.stopBits

		mode := buildMode(cfg)
		if mode.Parity != tt.wantP || mode.StopBits != tt.wantS {
			t.Errorf("buildMode(%s, %d) = %v/%v", tt.parity, tt.stopBits, mode.Parity, mode.StopBits)
		}
		if mode.BaudRate != 9600 || mode.DataBits != 8 {
			t.Errorf("buildMode() baud/bits = %d/%d", mode.BaudRate, mode.DataBits)
		}
	}
}

func TestLookupEncoding(t *testing.T) {
	for _, name := range []string{"ascii", "utf-8", "latin1", "windows-1250", "iso-8859-2"} {
		if _, err := LookupEncoding(name); err != nil {
			t.Errorf("LookupEncoding(%q) error = %v", name, err)
		}
	}
	if _, err := LookupEncoding("klingon"); !errors.Is(err, ErrUnknownEncoding) {
		t.Errorf("LookupEncoding(klingon) error = %v, want ErrUnknownEncoding", err)
	}
}

func TestListPorts(t *testing.T) {
	orig := listPorts
	t.Cleanup(func() { listPorts = orig })

	listPorts = func() ([]string, error) { return []string{"/dev/ttyUSB0"}, nil }
	ports, err := ListPorts()
	if err != nil || len(ports) != 1 || ports[0] != "/dev/ttyUSB0" {
		t.Errorf("ListPorts() = %v, %v", ports, err)
	}

	listPorts = func() ([]string, error) { return nil, errors.New("denied") }
	if _, err := ListPorts(); err == nil {
		t.Error("ListPorts() expected error")
	}
}
