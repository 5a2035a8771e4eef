package viewer

import (
	"errors"
	"fmt"
)

// State is the lifecycle phase of a viewer.
type State uint8

const (
	Uninitialized State = iota
	Loading
	Ready
	Failed
	Disposed
)

var stateNames = [...]string{
	Uninitialized: "UNINITIALIZED",
	Loading:       "LOADING",
	Ready:         "READY",
	Failed:        "ERROR",
	Disposed:      "DISPOSED",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

var (
	// ErrNotReady is returned by operations that need a displayed cloud.
	ErrNotReady = errors.New("viewer: not ready")

	// ErrDisposed is returned by every operation after Close.
	ErrDisposed = errors.New("viewer: disposed")

	// ErrSuperseded is the result of a load that a newer Load replaced.
	ErrSuperseded = errors.New("viewer: load superseded")
)

// CaptureError reports a capture that could not produce a snapshot.
type CaptureError struct {
	State State
	Err   error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("viewer: capture in state %s: %v", e.State, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}
