package serialmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/ultrasonic.monitor/internal/monitoring"
	"github.com/banshee-data/ultrasonic.monitor/internal/sensor"
)

// maxLineLength bounds a line that never sees its newline.
const maxLineLength = 4096

// readLoop drains the port until ctx is cancelled (returns nil), the
// channel closes (ErrChannelClosed) or MaxConsecutiveErrors reads fail in a
// row. Reads that time out with no data are idle polls and let the loop
// notice cancellation.
func (m *ConnectionManager) readLoop(ctx context.Context, port SerialPorter) error {
	buf := make([]byte, 256)
	var pending []byte
	var lastErr error
	consecutive := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := port.Read(buf)
		if ctx.Err() != nil {
			// the port was closed under us by Disconnect
			return nil
		}

		if n > 0 {
			consecutive = 0
			m.consecutiveErrors.Store(0)
			pending = append(pending, buf[:n]...)
			pending = m.drainLines(pending)
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
			return ErrChannelClosed
		}

		consecutive++
		lastErr = err
		m.readErrors.Add(1)
		m.consecutiveErrors.Store(uint64(consecutive))
		monitoring.Logf("serial read error (%d/%d): %v", consecutive, m.MaxConsecutiveErrors, err)
		if consecutive >= m.MaxConsecutiveErrors {
			return fmt.Errorf("%d consecutive read errors: %w", consecutive, lastErr)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.ErrorPause):
		}
	}
}

// drainLines delivers every complete line in pending and returns the
// unterminated remainder.
func (m *ConnectionManager) drainLines(pending []byte) []byte {
	for {
		i := bytes.IndexByte(pending, '\n')
		if i < 0 {
			break
		}
		m.deliver(string(pending[:i]))
		pending = pending[i+1:]
	}
	if len(pending) > maxLineLength {
		monitoring.Logf("discarding %d bytes without a line terminator", len(pending))
		return pending[:0]
	}
	// compact so the backing array does not grow without bound
	return append([]byte(nil), pending...)
}

func (m *ConnectionManager) deliver(raw string) {
	line := sensor.Clean(raw)
	if line == "" {
		return
	}
	m.linesRead.Add(1)
	monitoring.Debugf("🔍 serial line: [%s]", line)

	m.tapMu.Lock()
	for _, ch := range m.taps {
		select {
		case ch <- line:
		default:
			// skip slow taps so as not to block the reader
		}
	}
	m.tapMu.Unlock()

	if m.sink != nil {
		m.sink.HandleEvent(sensor.Decode(line))
	}
}
