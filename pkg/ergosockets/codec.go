package ergosockets

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/lightforgemedia/go-mcremote/pkg/status"
)

// EncodeRequest builds the wire form of a request: {id, type: name+"_req", payload}.
func EncodeRequest(name string, id uint64, payload interface{}) ([]byte, error) {
	if name == "" {
		return nil, &ProtocolError{Op: "encode", Err: fmt.Errorf("%w: empty call name", ErrMalformedEnvelope)}
	}
	if id == 0 {
		return nil, &ProtocolError{Op: "encode", Tag: RequestTag(name), Err: fmt.Errorf("%w: request without id", ErrMalformedEnvelope)}
	}
	env, err := NewEnvelope(id, RequestTag(name), payload)
	if err != nil {
		return nil, &ProtocolError{Op: "encode", Tag: RequestTag(name), Err: err}
	}
	return json.Marshal(env)
}

// EncodeResponse builds the wire form of a response carrying st as its payload.
func EncodeResponse[T any](name string, id uint64, st status.Status[T]) ([]byte, error) {
	env, err := NewEnvelope(id, ResponseTag(name), st)
	if err != nil {
		return nil, &ProtocolError{Op: "encode", Tag: ResponseTag(name), Err: err}
	}
	return json.Marshal(env)
}

// EncodePush builds the wire form of an unsolicited message. Push envelopes carry no id.
func EncodePush(name string, payload interface{}) ([]byte, error) {
	env, err := NewEnvelope(0, name, payload)
	if err != nil {
		return nil, &ProtocolError{Op: "encode", Tag: name, Err: err}
	}
	return json.Marshal(env)
}

// Decode parses and validates one wire message. It never panics; every
// malformed input yields a *ProtocolError wrapping ErrMalformedEnvelope.
func Decode(wire []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(wire)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &ProtocolError{Op: "decode", Err: fmt.Errorf("%w: not a JSON object", ErrMalformedEnvelope)}
	}
	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, &ProtocolError{Op: "decode", Err: fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)}
	}
	if env.Type == "" {
		return nil, &ProtocolError{Op: "decode", Err: fmt.Errorf("%w: missing type", ErrMalformedEnvelope)}
	}
	switch env.Kind() {
	case KindRequest, KindResponse:
		if env.ID == 0 {
			return nil, &ProtocolError{Op: "decode", Tag: env.Type, Err: fmt.Errorf("%w: %s without id", ErrMalformedEnvelope, env.Kind())}
		}
	case KindPush:
		if env.ID != 0 {
			return nil, &ProtocolError{Op: "decode", Tag: env.Type, Err: fmt.Errorf("%w: push message with id %d", ErrMalformedEnvelope, env.ID)}
		}
	}
	return &env, nil
}

// DecodeStatus reads the status object carried by a response payload.
func DecodeStatus[T any](payload json.RawMessage) (status.Status[T], error) {
	var st status.Status[T]
	if len(payload) == 0 {
		return st, fmt.Errorf("%w: response without payload", ErrMalformedEnvelope)
	}
	if err := json.Unmarshal(payload, &st); err != nil {
		return st, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return st, nil
}
