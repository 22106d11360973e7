package broker

import (
	"context"
	"time"
)

// Session is a connected client as seen by request handlers.
type Session interface {
	ID() string               // Unique ID assigned by the broker.
	Context() context.Context // Cancelled when the session ends.
	RemoteAddr() string       // Network address of the client.
	ConnectedAt() time.Time   // When the session was accepted.

	// Send pushes a message to this session only.
	Send(name string, payload interface{}) error
}

type sessionKey struct{}

// SessionFromContext returns the session that issued the request being handled.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
