// Package status provides the result wrapper carried by every response on the
// control channel. Callers inspect one value for success or failure instead of
// juggling transport errors, timeouts and remote errors separately.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Well-known failure messages produced by the channel itself.
const (
	MsgTimeout          = "timeout"
	MsgConnectionClosed = "connection closed"
	MsgNotOpen          = "connection not open"
	MsgChannelClosed    = "channel closed"
)

// Status is either Ok with a value or Err with a message.
type Status[T any] struct {
	ok    bool
	value T
	err   string
}

// Ok wraps a successful value.
func Ok[T any](v T) Status[T] {
	return Status[T]{ok: true, value: v}
}

// Err wraps a failure message.
func Err[T any](msg string) Status[T] {
	return Status[T]{err: msg}
}

// Errf is Err with fmt formatting.
func Errf[T any](format string, args ...any) Status[T] {
	return Status[T]{err: fmt.Sprintf(format, args...)}
}

// IsOk reports whether s carries a value.
func (s Status[T]) IsOk() bool { return s.ok }

// Value returns the wrapped value and whether s is Ok.
func (s Status[T]) Value() (T, bool) { return s.value, s.ok }

// Error returns the failure message, or "" for Ok.
func (s Status[T]) Error() string {
	if s.ok {
		return ""
	}
	return s.err
}

// Result converts s into a Go (value, error) pair.
func (s Status[T]) Result() (T, error) {
	if s.ok {
		return s.value, nil
	}
	return s.value, errors.New(s.err)
}

func (s Status[T]) String() string {
	if s.ok {
		return fmt.Sprintf("Ok(%v)", s.value)
	}
	return fmt.Sprintf("Err(%s)", s.err)
}

// Map transforms the value of an Ok status. A failing f turns the result into Err.
func Map[T, U any](s Status[T], f func(T) (U, error)) Status[U] {
	if !s.ok {
		return Err[U](s.err)
	}
	u, err := f(s.value)
	if err != nil {
		return Err[U](err.Error())
	}
	return Ok(u)
}

// wire is the JSON shape: {"ok":true,"value":...} or {"ok":false,"error":"..."}.
type wire[T any] struct {
	OK    *bool   `json:"ok"`
	Value *T      `json:"value,omitempty"`
	Error *string `json:"error,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s Status[T]) MarshalJSON() ([]byte, error) {
	ok := s.ok
	if ok {
		v := s.value
		return json.Marshal(wire[T]{OK: &ok, Value: &v})
	}
	msg := s.err
	return json.Marshal(wire[T]{OK: &ok, Error: &msg})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status[T]) UnmarshalJSON(data []byte) error {
	var w wire[T]
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.OK == nil {
		return errors.New("status: missing \"ok\" field")
	}
	if *w.OK {
		var v T
		if w.Value != nil {
			v = *w.Value
		}
		*s = Ok(v)
		return nil
	}
	if w.Error == nil {
		return errors.New("status: error status without \"error\" field")
	}
	*s = Err[T](*w.Error)
	return nil
}
