// Package mcremote is the entry point for remote control of a game server
// over a WebSocket channel. It re-exports the pieces most programs need so a
// single import covers the common cases.
package mcremote

import (
	"context"

	"github.com/lightforgemedia/go-mcremote/pkg/broker"
	"github.com/lightforgemedia/go-mcremote/pkg/client"
	"github.com/lightforgemedia/go-mcremote/pkg/mcproto"
	"github.com/lightforgemedia/go-mcremote/pkg/status"
)

// Re-export core types
type (
	Channel       = client.Channel
	ChannelOption = client.Option
	Broker        = broker.Broker
	BrokerOption  = broker.Option
	ServerState   = mcproto.ServerState
	ServerStatus  = mcproto.ServerStatus
)

// Re-export server states
const (
	StateUnknown  = mcproto.StateUnknown
	StateOff      = mcproto.StateOff
	StateBooting  = mcproto.StateBooting
	StateOn       = mcproto.StateOn
	StateShutdown = mcproto.StateShutdown
)

// Dial opens a channel to the endpoint at url and waits until it is open.
func Dial(ctx context.Context, url string, opts ...client.Option) (*client.Channel, error) {
	return client.Dial(ctx, url, opts...)
}

// NewBroker creates the server side of the channel.
func NewBroker(opts ...broker.Option) (*broker.Broker, error) {
	return broker.New(opts...)
}

// Status asks the endpoint for the current server state.
func Status(ctx context.Context, c *client.Channel) status.Status[mcproto.ServerStatus] {
	return client.Do(ctx, c, mcproto.McServerStatus, mcproto.Empty{})
}

// Boot asks the endpoint to turn the server on.
func Boot(ctx context.Context, c *client.Channel) status.Status[mcproto.ServerStatus] {
	return client.Do(ctx, c, mcproto.BootServer, mcproto.Empty{})
}

// Shutdown asks the endpoint to turn the server off.
func Shutdown(ctx context.Context, c *client.Channel) status.Status[mcproto.ServerStatus] {
	return client.Do(ctx, c, mcproto.ShutdownServer, mcproto.Empty{})
}

// OnStateChange calls fn for every state change the endpoint pushes.
func OnStateChange(c *client.Channel, fn func(mcproto.ServerState)) *client.Subscription {
	return client.Subscribe(c, mcproto.ServerStateChanged, func(s mcproto.ServerStatus) { fn(s.State) })
}
