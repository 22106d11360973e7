package ergosockets

import (
	"errors"
	"fmt"
)

// Failure categories of the transport. Callers only ever see a status.Err;
// the sentinels let internal code and logs tell them apart.
var (
	ErrConnection = errors.New("connection error")
	ErrProtocol   = errors.New("protocol error")

	ErrMalformedEnvelope = fmt.Errorf("%w: malformed envelope", ErrProtocol)
	ErrUnknownType       = fmt.Errorf("%w: unknown message type", ErrProtocol)
)

// ProtocolError describes an envelope that could not be encoded or decoded.
type ProtocolError struct {
	Op  string // "encode" or "decode"
	Tag string // type tag, when known
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Tag != "" {
		return fmt.Sprintf("%s %q: %v", e.Op, e.Tag, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
