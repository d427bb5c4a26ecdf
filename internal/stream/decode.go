package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

const (
	EventChunk = "chunk"
	EventDone  = "done"
	EventError = "error"
)

// Frame is the JSON payload of every event on the wire
type Frame struct {
	Chunk     string `json:"chunk,omitempty"`
	Done      bool   `json:"done,omitempty"`
	ConvID    string `json:"conv_id,omitempty"`
	PDFURL    string `json:"pdf_url,omitempty"`
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

const maxLineBytes = 1 << 20

// Decode reads an event stream from r into acc until the done event.
//
// A chunk whose data is not a JSON frame is appended verbatim. Cancelling ctx
// aborts the accumulator at once and, when r is an io.Closer, closes r to
// unblock the pending read; Decode then returns ctx.Err(). A body that ends
// before done, or an error event, fails the accumulator and returns an *Error.
func Decode(ctx context.Context, r io.Reader, acc *Accumulator) error {
	stop := context.AfterFunc(ctx, func() {
		acc.Abort()
		if c, ok := r.(io.Closer); ok {
			_ = c.Close()
		}
	})
	defer stop()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		event string
		data  []string
	)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			acc.Abort()
			return err
		}

		line := scanner.Text()
		if line == "" {
			if len(data) > 0 || event != "" {
				done, err := dispatch(acc, event, strings.Join(data, "\n"))
				if err != nil || done {
					return cancelled(ctx, err)
				}
			}
			event, data = "", data[:0]
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}

	if err := ctx.Err(); err != nil {
		acc.Abort()
		return err
	}

	// A final event without a trailing blank line still counts
	if len(data) > 0 {
		done, err := dispatch(acc, event, strings.Join(data, "\n"))
		if err != nil || done {
			return cancelled(ctx, err)
		}
	}

	cause := scanner.Err()
	if cause == nil {
		cause = io.ErrUnexpectedEOF
	}
	failure := &Error{Err: cause, Retryable: true}
	acc.Fail(failure)
	return failure
}

// cancelled reports a frame rejected by an accumulator that cancellation already aborted as ctx.Err()
func cancelled(ctx context.Context, err error) error {
	if errors.Is(err, ErrClosed) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func dispatch(acc *Accumulator, event, data string) (bool, error) {
	var frame Frame
	parsed := json.Unmarshal([]byte(data), &frame) == nil

	if event == "" && parsed {
		switch {
		case frame.Error != "":
			event = EventError
		case frame.Done:
			event = EventDone
		default:
			event = EventChunk
		}
	}

	switch event {
	case EventDone:
		return true, acc.Finish(frame.ConvID)
	case EventError:
		msg := frame.Error
		if !parsed || msg == "" {
			msg = data
		}
		failure := &Error{Err: errors.New(msg), Retryable: frame.Retryable}
		acc.Fail(failure)
		return true, failure
	default:
		if !parsed {
			return false, acc.Append(data)
		}
		return false, acc.Append(frame.Chunk)
	}
}
