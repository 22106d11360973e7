package status_test

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightforgemedia/go-mcremote/pkg/status"
)

type serverStatus struct {
	State string `json:"state"`
}

func TestStatusWireShape(t *testing.T) {
	okBytes, err := json.Marshal(status.Ok(serverStatus{State: "ON"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"value":{"state":"ON"}}`, string(okBytes))

	errBytes, err := json.Marshal(status.Err[serverStatus]("boom"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":false,"error":"boom"}`, string(errBytes))
}

func TestStatusDecode(t *testing.T) {
	var s status.Status[serverStatus]
	require.NoError(t, json.Unmarshal([]byte(`{"ok":true,"value":{"state":"ON"}}`), &s))
	v, ok := s.Value()
	require.True(t, ok)
	assert.Equal(t, "ON", v.State)

	require.NoError(t, json.Unmarshal([]byte(`{"ok":false,"error":"Can't turn server on"}`), &s))
	assert.False(t, s.IsOk())
	assert.Equal(t, "Can't turn server on", s.Error())
}

func TestStatusDecodeRejectsMalformed(t *testing.T) {
	cases := []string{
		`{"value":{"state":"ON"}}`,
		`{"ok":false}`,
		`[1,2]`,
	}
	for _, c := range cases {
		var s status.Status[serverStatus]
		assert.Error(t, json.Unmarshal([]byte(c), &s), c)
	}
}

func TestStatusResultAndMap(t *testing.T) {
	_, err := status.Err[int](status.MsgTimeout).Result()
	require.EqualError(t, err, "timeout")

	n, err := status.Ok(41).Result()
	require.NoError(t, err)
	assert.Equal(t, 41, n)

	mapped := status.Map(status.Ok("12"), strconv.Atoi)
	v, ok := mapped.Value()
	require.True(t, ok)
	assert.Equal(t, 12, v)

	bad := status.Map(status.Ok("x"), strconv.Atoi)
	assert.False(t, bad.IsOk())
	assert.Contains(t, bad.Error(), "invalid syntax")

	passthrough := status.Map(status.Err[string]("remote failed"), strconv.Atoi)
	assert.Equal(t, "remote failed", passthrough.Error())
}
