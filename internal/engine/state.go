package engine

import "errors"

// State is the sync loop's connectivity state.
type State int

const (
	// StateWaitingForDevice is the initial state: the TV has never answered.
	StateWaitingForDevice State = iota
	// StateStreaming means frames are flowing TV -> lights.
	StateStreaming
	// StateIdle means the TV is reachable but has shown a black screen long
	// enough that the session was torn down.
	StateIdle
	// StateDisconnected means the TV stopped answering after having worked.
	StateDisconnected
	// StateTerminated is the final state after an exhausted error budget.
	StateTerminated
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateWaitingForDevice:
		return "waiting_for_device"
	case StateStreaming:
		return "streaming"
	case StateIdle:
		return "idle"
	case StateDisconnected:
		return "disconnected"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

var (
	// ErrDeviceNeverFound means the TV did not answer within the startup
	// window. Mapped to its own exit code so an operator can tell a wrong
	// address from a mid-run dropout.
	ErrDeviceNeverFound = errors.New("tv never responded within the startup window")

	// ErrDeviceLost means the runtime error threshold was exhausted after
	// the TV had been working.
	ErrDeviceLost = errors.New("tv lost after successful operation")
)
