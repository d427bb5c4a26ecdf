// Package stream accumulates incrementally delivered replies and decodes the
// server-sent event framing the chat API uses to deliver them.
package stream

import (
	"errors"
	"strings"
	"sync"
)

// State of an Accumulator. Every state but StateOpen is terminal.
type State int

const (
	StateOpen State = iota
	StateDone
	StateAborted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var ErrClosed = errors.New("stream: accumulator is closed")

// Error reports a stream that ended before its terminal event.
// The partial content stays in the Accumulator.
type Error struct {
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	return "stream interrupted: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Accumulator concatenates reply fragments in receipt order.
// It has one consumer; the mutex only lets a caller abort from another goroutine.
type Accumulator struct {
	mu    sync.Mutex
	buf   strings.Builder
	id    string
	state State
	err   error
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Append adds a fragment to the running content
func (a *Accumulator) Append(fragment string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateOpen {
		return ErrClosed
	}
	a.buf.WriteString(fragment)
	return nil
}

// Finish fixes the content as final and records the identifier of the persisted reply
func (a *Accumulator) Finish(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateOpen {
		return ErrClosed
	}
	a.id = id
	a.state = StateDone
	return nil
}

// Abort freezes whatever has been accumulated. It reports whether the call
// closed the accumulator; aborting a closed accumulator is a no-op.
func (a *Accumulator) Abort() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateOpen {
		return false
	}
	a.state = StateAborted
	return true
}

// Fail closes the accumulator after a transport failure, keeping the partial content
func (a *Accumulator) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateOpen {
		return
	}
	var se *Error
	if !errors.As(err, &se) {
		err = &Error{Err: err, Retryable: true}
	}
	a.err = err
	a.state = StateFailed
}

func (a *Accumulator) Content() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}

func (a *Accumulator) ID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.id
}

func (a *Accumulator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Err returns the failure recorded by Fail, if any
func (a *Accumulator) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}
