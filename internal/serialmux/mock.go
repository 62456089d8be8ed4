package serialmux

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort implements TimeoutSerialPorter with configurable
// behaviour for testing. It provides fine-grained control over reads,
// writes and errors.
type TestableSerialPort struct {
	mu sync.Mutex

	readBuffer  *bytes.Buffer
	writeBuffer *bytes.Buffer

	// queued read errors are returned one per Read call, in order
	readErrors []error
	// failing makes every Read return this error until cleared
	failing error

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	closed      bool
	readCalls   int
	writeCalls  int
	readTimeout time.Duration

	// BlockReads causes Read to block until data or an error is queued,
	// or Close is called.
	BlockReads bool

	readCond *sync.Cond
}

// NewTestableSerialPort creates a port whose reads block until data is
// added, the way an idle serial line behaves.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		readBuffer:  bytes.NewBuffer(nil),
		writeBuffer: bytes.NewBuffer(nil),
		BlockReads:  true,
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

// Read returns queued errors first, then buffered data.
func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.readCalls++
	for t.BlockReads && !t.closed && t.failing == nil && len(t.readErrors) == 0 && t.readBuffer.Len() == 0 {
		t.readCond.Wait()
	}

	if t.closed {
		return 0, errPortClosed
	}
	if len(t.readErrors) > 0 {
		err := t.readErrors[0]
		t.readErrors = t.readErrors[1:]
		return 0, err
	}
	if t.failing != nil {
		return 0, t.failing
	}
	return t.readBuffer.Read(p)
}

// Write records p unless an error is configured.
func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.writeCalls++
	if t.closed {
		return 0, errPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	return t.writeBuffer.Write(p)
}

// Close marks the port as closed and wakes blocked readers.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readTimeout = timeout
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readBuffer.Write(data)
	t.readCond.Broadcast()
}

// AddLines queues newline-terminated lines.
func (t *TestableSerialPort) AddLines(lines ...string) {
	t.AddReadData([]byte(strings.Join(lines, "\n") + "\n"))
}

// QueueReadErrors makes the next len(errs) reads fail with errs in order.
func (t *TestableSerialPort) QueueReadErrors(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readErrors = append(t.readErrors, errs...)
	t.readCond.Broadcast()
}

// FailReads makes every read fail with err; nil restores normal reads.
func (t *TestableSerialPort) FailReads(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failing = err
	t.readCond.Broadcast()
}

// WrittenData returns all data written to the port.
func (t *TestableSerialPort) WrittenData() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeBuffer.String()
}

// Closed reports whether Close was called.
func (t *TestableSerialPort) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// ReadTimeout returns the timeout set through SetReadTimeout.
func (t *TestableSerialPort) ReadTimeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readTimeout
}

// ReadCalls returns the number of Read calls so far.
func (t *TestableSerialPort) ReadCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readCalls
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path    string
	Options PortOptions
}

type openResult struct {
	port SerialPorter
	err  error
}

// MockSerialPortFactory hands out scripted results to a ConnectionManager.
// Queued results are consumed in order; once the queue is empty Port and
// Error are returned.
type MockSerialPortFactory struct {
	mu sync.Mutex

	// Port is returned when no result is queued and Error is nil
	Port SerialPorter

	// Error is returned when no result is queued
	Error error

	queue []openResult

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// NewMockSerialPortFactory creates a factory returning port by default.
func NewMockSerialPortFactory(port SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Port: port}
}

// QueuePort makes a future Open return port.
func (f *MockSerialPortFactory) QueuePort(port SerialPorter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, openResult{port: port})
}

// QueueError makes a future Open fail with err.
func (f *MockSerialPortFactory) QueueError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, openResult{err: err})
}

// Open satisfies SerialPortOpener.
func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Options: opts})

	if len(f.queue) > 0 {
		r := f.queue[0]
		f.queue = f.queue[1:]
		return r.port, r.err
	}
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Port, nil
}

// Calls returns a copy of the recorded Open calls.
func (f *MockSerialPortFactory) Calls() []MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MockOpenCall(nil), f.OpenCalls...)
}

// FixturePort replays fixture lines in a loop, one every interval, so the
// daemon can run without hardware in dev mode.
type FixturePort struct {
	r    *io.PipeReader
	w    *io.PipeWriter
	sent bytes.Buffer
	mu   sync.Mutex
	stop chan struct{}
	once sync.Once
}

// NewFixturePort starts replaying lines.
func NewFixturePort(lines []string, interval time.Duration) *FixturePort {
	r, w := io.Pipe()
	p := &FixturePort{r: r, w: w, stop: make(chan struct{})}

	go func() {
		defer w.Close()
		if len(lines) == 0 {
			<-p.stop
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				if _, err := io.WriteString(w, lines[i%len(lines)]+"\n"); err != nil {
					return
				}
			}
		}
	}()
	return p
}

// OpenFixture returns a SerialPortOpener that opens a fresh FixturePort on
// every call, ignoring the path.
func OpenFixture(lines []string, interval time.Duration) SerialPortOpener {
	return func(string, PortOptions) (SerialPorter, error) {
		return NewFixturePort(lines, interval), nil
	}
}

func (p *FixturePort) Read(b []byte) (int, error) { return p.r.Read(b) }

// Write captures commands sent to the fake device.
func (p *FixturePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent.Write(b)
}

// Sent returns everything written to the port.
func (p *FixturePort) Sent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent.String()
}

// Close stops the replay and unblocks pending reads.
func (p *FixturePort) Close() error {
	p.once.Do(func() {
		close(p.stop)
		p.r.CloseWithError(errPortClosed)
	})
	return nil
}
