package adb

import (
	"errors"
	"fmt"
)

var (
	// ErrDisposed is returned by every call on a session after Dispose or
	// after the transport dropped.
	ErrDisposed = errors.New("adb: session disposed")
	// ErrStreamClosed is returned when writing to a closed stream.
	ErrStreamClosed = errors.New("adb: stream closed")
	// ErrOpenRejected means the device answered OPEN with CLSE.
	ErrOpenRejected = errors.New("adb: service rejected by device")
)

// ConnectionError reports a handshake that could not complete: socket
// refused, authorization denied, protocol garbage.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CommandError reports a one-shot command that exited non-zero or lost its
// transport. Output holds whatever was collected before the failure.
type CommandError struct {
	Command  string
	ExitCode int // -1 when the exit status is unknown
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exec %q: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("exec %q: exit status %d", e.Command, e.ExitCode)
}

func (e *CommandError) Unwrap() error { return e.Err }
