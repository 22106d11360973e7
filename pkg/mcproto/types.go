// Package mcproto declares the messages exchanged between mcctl-style
// collaborators and the game server endpoint. Both sides import these
// definitions so request and response shapes stay in lockstep.
package mcproto

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lightforgemedia/go-mcremote/pkg/ergosockets"
)

// Endpoint defaults used by the server binary and the CLI.
const (
	DefaultPath = "/horsney"
	DefaultPort = 2345
)

// ServerState is the lifecycle state of the game server.
type ServerState int

const (
	StateUnknown ServerState = iota
	StateOff
	StateBooting
	StateOn
	StateShutdown
)

var stateNames = map[ServerState]string{
	StateUnknown:  "UNKNOWN",
	StateOff:      "OFF",
	StateBooting:  "BOOTING",
	StateOn:       "ON",
	StateShutdown: "SHUTDOWN",
}

func (s ServerState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("ServerState(%d)", int(s))
}

// ParseServerState parses the wire name of a state, case-insensitively.
func ParseServerState(s string) (ServerState, error) {
	for st, n := range stateNames {
		if strings.EqualFold(n, s) {
			return st, nil
		}
	}
	return StateUnknown, fmt.Errorf("unknown server state %q", s)
}

func (s ServerState) MarshalJSON() ([]byte, error) {
	n, ok := stateNames[s]
	if !ok {
		return nil, fmt.Errorf("cannot marshal invalid server state %d", int(s))
	}
	return json.Marshal(n)
}

func (s *ServerState) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("server state must be a string: %w", err)
	}
	st, err := ParseServerState(n)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Empty is the payload of calls that take no arguments.
type Empty struct{}

// ServerStatus reports the current state of the game server.
type ServerStatus struct {
	State ServerState `json:"state"`
}

// Calls understood by the game server endpoint.
var (
	McServerStatus = ergosockets.Call[Empty, ServerStatus]{Name: "mc_server_status"}
	BootServer     = ergosockets.Call[Empty, ServerStatus]{Name: "boot_server"}
	ShutdownServer = ergosockets.Call[Empty, ServerStatus]{Name: "shutdown_server"}
)

// ServerStateChanged is pushed to connected clients on every state transition.
var ServerStateChanged = ergosockets.Push[ServerStatus]{Name: "mc_server_state"}
