package serialmux

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/ultrasonic.monitor/internal/monitoring"
	"github.com/banshee-data/ultrasonic.monitor/internal/sensor"
	"github.com/banshee-data/ultrasonic.monitor/internal/timeutil"
)

const (
	DefaultMaxConsecutiveErrors = 5
	DefaultMaxReconnectAttempts = 3
	DefaultReconnectBackoff     = 2 * time.Second
	DefaultReadTimeout          = 100 * time.Millisecond
	DefaultErrorPause           = 50 * time.Millisecond
)

// EventSink receives everything the connection manager produces. Calls are
// made from the reader goroutine (events, reader-driven transitions) or from
// the goroutine issuing Connect/Disconnect, never concurrently for the same
// connection, and always in order.
type EventSink interface {
	HandleEvent(sensor.Event)
	HandleStateChange(StateChange)
}

// ConnectRequest carries everything read at connect time. Reconnection
// attempts reuse the same request.
type ConnectRequest struct {
	Port          string
	Options       PortOptions
	AutoReconnect bool
}

// Counters are the transient-error counters. Individual read errors are
// never reported to the sink; they are only visible here.
type Counters struct {
	ReadErrors        uint64 `json:"read_errors"`
	ConsecutiveErrors uint64 `json:"consecutive_errors"`
	ReconnectAttempts uint64 `json:"reconnect_attempts"`
	LinesRead         uint64 `json:"lines_read"`
}

// ConnectionManager owns the serial port, the reader goroutine and the
// reconnection policy. It is the only component that performs blocking I/O.
//
// Lock order: opMu, then mu. The sink is called with mu held for state
// transitions so observers see them in order; the sink must not call back
// into the manager synchronously.
type ConnectionManager struct {
	opener SerialPortOpener
	sink   EventSink
	clock  timeutil.Clock

	MaxConsecutiveErrors int
	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration
	ReadTimeout          time.Duration
	ErrorPause           time.Duration

	opMu sync.Mutex // serialises Connect/Disconnect

	mu     sync.Mutex
	state  State
	req    ConnectRequest
	port   SerialPorter
	cancel context.CancelFunc
	done   chan struct{}

	commandMu sync.Mutex

	tapMu sync.Mutex
	taps  map[string]chan string

	readErrors        atomic.Uint64
	consecutiveErrors atomic.Uint64
	reconnectAttempts atomic.Uint64
	linesRead         atomic.Uint64
}

// NewConnectionManager creates a manager in the Disconnected state. A nil
// clock uses the real clock.
func NewConnectionManager(opener SerialPortOpener, sink EventSink, clock timeutil.Clock) *ConnectionManager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ConnectionManager{
		opener:               opener,
		sink:                 sink,
		clock:                clock,
		MaxConsecutiveErrors: DefaultMaxConsecutiveErrors,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		ReconnectBackoff:     DefaultReconnectBackoff,
		ReadTimeout:          DefaultReadTimeout,
		ErrorPause:           DefaultErrorPause,
		state:                StateDisconnected,
		taps:                 make(map[string]chan string),
	}
}

// State returns the current connection state.
func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Request returns the parameters of the current or most recent connection.
func (m *ConnectionManager) Request() ConnectRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.req
}

// Counters returns a copy of the transient-error counters.
func (m *ConnectionManager) Counters() Counters {
	return Counters{
		ReadErrors:        m.readErrors.Load(),
		ConsecutiveErrors: m.consecutiveErrors.Load(),
		ReconnectAttempts: m.reconnectAttempts.Load(),
		LinesRead:         m.linesRead.Load(),
	}
}

// Connect opens the port and starts the reader goroutine. It fails with
// ErrAlreadyConnected unless the manager is Disconnected. An open failure is
// reported to the sink as Failed followed by Disconnected, and returned.
func (m *ConnectionManager) Connect(req ConnectRequest) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if strings.TrimSpace(req.Port) == "" {
		return errors.New("serial port path is required")
	}
	opts, err := req.Options.Normalise()
	if err != nil {
		return err
	}
	req.Options = opts

	m.mu.Lock()
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyConnected, state)
	}
	// A reader that settled on its own leaves its context behind.
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.req = req
	m.setStateLocked(StateConnecting, nil)
	m.mu.Unlock()

	port, err := m.open(req)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		monitoring.Logf("❌ connection failed on %s: %v", req.Port, err)
		m.setStateLocked(StateFailed, err)
		m.setStateLocked(StateDisconnected, nil)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.port = port
	m.cancel = cancel
	m.done = make(chan struct{})
	m.consecutiveErrors.Store(0)
	m.setStateLocked(StateConnected, nil)
	monitoring.Logf("🚀 connected to %s at %s", req.Port, req.Options)

	go m.supervise(ctx, port, req, m.done)
	return nil
}

// Disconnect stops the reader, waits for it to exit and closes the port.
// Once it returns no further events from the old connection are delivered.
func (m *ConnectionManager) Disconnect() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	cancel, done, port := m.cancel, m.done, m.port
	// Cancel while holding mu so the reader cannot install a freshly
	// reopened port after we sampled m.port.
	if cancel != nil {
		cancel()
	}
	m.mu.Unlock()

	if port != nil {
		if err := port.Close(); err != nil {
			monitoring.Logf("error closing serial port: %v", err)
		}
	}
	if done != nil {
		<-done
	}

	m.mu.Lock()
	m.port = nil
	m.cancel = nil
	m.done = nil
	m.setStateLocked(StateDisconnected, nil)
	m.mu.Unlock()
	monitoring.Logf("🔌 disconnected")
	return nil
}

// Close disconnects if needed and closes all raw line taps.
func (m *ConnectionManager) Close() error {
	if err := m.Disconnect(); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	// wait for a reader that settled on its own
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}

	m.tapMu.Lock()
	defer m.tapMu.Unlock()
	for id, ch := range m.taps {
		close(ch)
		delete(m.taps, id)
	}
	return nil
}

// SendCommand writes a newline-terminated command to the device.
func (m *ConnectionManager) SendCommand(command string) error {
	m.mu.Lock()
	port, state := m.port, m.state
	m.mu.Unlock()
	if state != StateConnected || port == nil {
		return ErrNotConnected
	}

	m.commandMu.Lock()
	defer m.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := port.Write([]byte(command))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	monitoring.Logf("📤 command sent: %s", strings.TrimSpace(command))
	return nil
}

// TestConnection asks the firmware to run its self test.
func (m *ConnectionManager) TestConnection() error {
	return m.SendCommand("TEST")
}

// Subscribe registers a tap that receives every raw line read from the
// port. Slow taps miss lines rather than stall the reader.
func (m *ConnectionManager) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, 16)
	m.tapMu.Lock()
	defer m.tapMu.Unlock()
	m.taps[id] = ch
	return id, ch
}

// Unsubscribe removes a raw line tap and closes its channel.
func (m *ConnectionManager) Unsubscribe(id string) {
	m.tapMu.Lock()
	defer m.tapMu.Unlock()
	if ch, ok := m.taps[id]; ok {
		close(ch)
		delete(m.taps, id)
	}
}

func (m *ConnectionManager) open(req ConnectRequest) (SerialPorter, error) {
	port, err := m.opener(req.Port, req.Options)
	if err != nil {
		return nil, err
	}
	if tp, ok := port.(TimeoutSerialPorter); ok && m.ReadTimeout > 0 {
		if err := tp.SetReadTimeout(m.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout: %w", err)
		}
	}
	return port, nil
}

func (m *ConnectionManager) setStateLocked(s State, err error) {
	m.state = s
	if m.sink != nil {
		m.sink.HandleStateChange(StateChange{
			State:    s,
			Port:     m.req.Port,
			BaudRate: m.req.Options.BaudRate,
			Err:      err,
		})
	}
}

// supervise runs the reader for one connection and applies the
// reconnection policy when it fails. It exits when ctx is cancelled or when
// the connection is given up.
func (m *ConnectionManager) supervise(ctx context.Context, port SerialPorter, req ConnectRequest, done chan struct{}) {
	defer close(done)

	for {
		err := m.readLoop(ctx, port)
		port.Close()
		if ctx.Err() != nil {
			return
		}

		monitoring.Logf("❌ serial reader stopped: %v", err)
		if !req.AutoReconnect {
			m.settle(ctx, fmt.Errorf("%w: %w", ErrReaderFailed, err))
			return
		}

		m.mu.Lock()
		if ctx.Err() != nil {
			m.mu.Unlock()
			return
		}
		m.port = nil
		m.setStateLocked(StateReconnecting, err)
		m.mu.Unlock()

		next, rerr := m.reconnect(ctx, req)
		if rerr != nil {
			if ctx.Err() != nil {
				return
			}
			monitoring.Logf("❌ reconnection failed: %v", rerr)
			m.settle(ctx, rerr)
			return
		}

		m.mu.Lock()
		if ctx.Err() != nil {
			m.mu.Unlock()
			next.Close()
			return
		}
		m.port = next
		m.consecutiveErrors.Store(0)
		m.setStateLocked(StateConnected, nil)
		m.mu.Unlock()
		monitoring.Logf("✅ reconnection successful")
		port = next
	}
}

// settle moves to Disconnected after the reader gave up, unless a
// Disconnect is already in charge of that.
func (m *ConnectionManager) settle(ctx context.Context, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	m.port = nil
	m.setStateLocked(StateDisconnected, err)
}

func (m *ConnectionManager) reconnect(ctx context.Context, req ConnectRequest) (SerialPorter, error) {
	var lastErr error
	for attempt := 1; attempt <= m.MaxReconnectAttempts; attempt++ {
		monitoring.Logf("🔄 reconnection attempt %d/%d on %s", attempt, m.MaxReconnectAttempts, req.Port)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.clock.After(m.ReconnectBackoff):
		}

		m.reconnectAttempts.Add(1)
		port, err := m.open(req)
		if err == nil {
			return port, nil
		}
		monitoring.Logf("reconnection attempt %d failed: %v", attempt, err)
		lastErr = err
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, m.MaxReconnectAttempts, lastErr)
}
