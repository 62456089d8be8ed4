package serialmux

import (
	"bufio"
	"errors"
	"testing"
	"time"
)

func TestTestableSerialPortQueuedErrors(t *testing.T) {
	port := NewTestableSerialPort()
	first, second := errors.New("first"), errors.New("second")
	port.QueueReadErrors(first, second)
	port.AddReadData([]byte("x"))

	buf := make([]byte, 4)
	if _, err := port.Read(buf); !errors.Is(err, first) {
		t.Fatalf("read 1: err = %v, want first", err)
	}
	if _, err := port.Read(buf); !errors.Is(err, second) {
		t.Fatalf("read 2: err = %v, want second", err)
	}
	n, err := port.Read(buf)
	if err != nil || string(buf[:n]) != "x" {
		t.Fatalf("read 3 = %q, %v; want \"x\", nil", buf[:n], err)
	}
	if got := port.ReadCalls(); got != 3 {
		t.Errorf("ReadCalls = %d, want 3", got)
	}
}

func TestTestableSerialPortCloseUnblocksRead(t *testing.T) {
	port := NewTestableSerialPort()
	done := make(chan error, 1)
	go func() {
		_, err := port.Read(make([]byte, 8))
		done <- err
	}()

	port.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Error("Read after Close returned nil error")
		}
	case <-time.After(time.Second):
		t.Fatal("Read still blocked after Close")
	}
}

func TestMockSerialPortFactoryQueue(t *testing.T) {
	fallback := NewTestableSerialPort()
	queued := NewTestableSerialPort()
	f := NewMockSerialPortFactory(fallback)
	f.QueueError(errors.New("busy"))
	f.QueuePort(queued)

	if _, err := f.Open("a", PortOptions{}); err == nil {
		t.Error("first open should fail")
	}
	if p, _ := f.Open("b", PortOptions{}); p != queued {
		t.Error("second open should return the queued port")
	}
	if p, _ := f.Open("c", PortOptions{}); p != fallback {
		t.Error("third open should return the fallback port")
	}
	if calls := f.Calls(); len(calls) != 3 || calls[2].Path != "c" {
		t.Errorf("Calls = %+v", calls)
	}
}

func TestFixturePortReplaysLines(t *testing.T) {
	open := OpenFixture([]string{"DIST:20", "OK"}, time.Millisecond)
	port, err := open("fixture", PortOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer port.Close()

	scanner := bufio.NewScanner(port)
	var got []string
	for len(got) < 3 && scanner.Scan() {
		got = append(got, scanner.Text())
	}
	want := []string{"DIST:20", "OK", "DIST:20"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("lines = %v, want prefix %v", got, want)
		}
	}

	if _, err := port.Write([]byte("TEST\n")); err != nil {
		t.Fatal(err)
	}
	if sent := port.(*FixturePort).Sent(); sent != "TEST\n" {
		t.Errorf("Sent = %q", sent)
	}
}
