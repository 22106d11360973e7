package mcproto_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightforgemedia/go-mcremote/pkg/mcproto"
)

func TestServerStatusJSON(t *testing.T) {
	b, err := json.Marshal(mcproto.ServerStatus{State: mcproto.StateOn})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"ON"}`, string(b))

	var st mcproto.ServerStatus
	require.NoError(t, json.Unmarshal([]byte(`{"state":"booting"}`), &st))
	assert.Equal(t, mcproto.StateBooting, st.State)

	assert.Error(t, json.Unmarshal([]byte(`{"state":"EXPLODED"}`), &st))
	assert.Error(t, json.Unmarshal([]byte(`{"state":3}`), &st))

	_, err = json.Marshal(mcproto.ServerStatus{State: mcproto.ServerState(42)})
	assert.Error(t, err)
}

func TestServerStateString(t *testing.T) {
	assert.Equal(t, "SHUTDOWN", mcproto.StateShutdown.String())
	assert.Equal(t, "ServerState(9)", mcproto.ServerState(9).String())

	st, err := mcproto.ParseServerState("off")
	require.NoError(t, err)
	assert.Equal(t, mcproto.StateOff, st)
}

func TestCallTags(t *testing.T) {
	assert.Equal(t, "mc_server_status_req", mcproto.McServerStatus.RequestTag())
	assert.Equal(t, "boot_server_res", mcproto.BootServer.ResponseTag())
	assert.Equal(t, "mc_server_state", mcproto.ServerStateChanged.Name)
}
