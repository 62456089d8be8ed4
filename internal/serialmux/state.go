package serialmux

import "errors"

var (
	ErrNotConnected       = errors.New("serial port not connected")
	ErrAlreadyConnected   = errors.New("serial port already connected")
	ErrReconnectExhausted = errors.New("reconnection attempts exhausted")
	ErrReaderFailed       = errors.New("serial reader failed")
	ErrChannelClosed      = errors.New("serial channel closed")
	ErrWriteFailed        = errors.New("failed to write to serial port")
)

// State is the connection lifecycle state.
//
//	Disconnected -> Connecting -> Connected -> Disconnected
//	                     |            |
//	                     v            v
//	                  Failed     Reconnecting -> Connected | Disconnected
//	                     |
//	                     v
//	               Disconnected
//
// Failed is transient: it is reported and immediately followed by
// Disconnected.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// StateChange is delivered to the EventSink on every transition. Err is set
// when the transition was caused by a failure worth reporting.
type StateChange struct {
	State    State
	Port     string
	BaudRate int
	Err      error
}
