// ergosockets/envelope.go
package ergosockets

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope is one discrete wire message.
type Envelope struct {
	ID      uint64          `json:"id,omitempty"`      // Correlation id, present only on request/response pairs
	Type    string          `json:"type"`              // e.g. "mc_server_status_req", "mc_server_status_res", "mc_server_state"
	Payload json.RawMessage `json:"payload,omitempty"` // Message specific data; a response always carries a status object
}

// Tag suffixes for request/response pairs. Push tags carry no suffix.
const (
	RequestSuffix  = "_req"
	ResponseSuffix = "_res"
)

// Kind classifies an envelope by its type tag.
type Kind int

const (
	KindPush Kind = iota
	KindRequest
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	default:
		return "push"
	}
}

// RequestTag returns the outbound tag for a logical call name.
func RequestTag(name string) string { return name + RequestSuffix }

// ResponseTag returns the inbound tag for a logical call name.
func ResponseTag(name string) string { return name + ResponseSuffix }

// Classify splits a type tag into its kind and logical name.
func Classify(tag string) (Kind, string) {
	if name, ok := strings.CutSuffix(tag, RequestSuffix); ok && name != "" {
		return KindRequest, name
	}
	if name, ok := strings.CutSuffix(tag, ResponseSuffix); ok && name != "" {
		return KindResponse, name
	}
	return KindPush, tag
}

// Kind returns the kind of e based on its type tag.
func (e *Envelope) Kind() Kind {
	k, _ := Classify(e.Type)
	return k
}

// Name returns the logical message name with any suffix removed.
func (e *Envelope) Name() string {
	_, n := Classify(e.Type)
	return n
}

// NewEnvelope creates an envelope, marshalling payloadData unless it is nil.
// json.RawMessage payloads are used as-is.
func NewEnvelope(id uint64, typ string, payloadData interface{}) (*Envelope, error) {
	var payloadBytes json.RawMessage
	switch p := payloadData.(type) {
	case nil:
	case json.RawMessage:
		payloadBytes = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload for envelope: %w", err)
		}
		payloadBytes = b
	}
	return &Envelope{ID: id, Type: typ, Payload: payloadBytes}, nil
}

// DecodePayload unmarshals the Envelope's Payload into the provided value (must be a pointer).
// A missing or null payload leaves v untouched.
func (e *Envelope) DecodePayload(v interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
