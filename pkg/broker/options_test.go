package broker_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightforgemedia/go-mcremote/pkg/broker"
)

func TestDefaultOptions(t *testing.T) {
	opts := broker.DefaultOptions()

	assert.NotNil(t, opts.Logger)
	assert.NotNil(t, opts.AcceptOptions)
	assert.Greater(t, opts.SendBuffer, 0)
	assert.Greater(t, opts.WriteTimeout, time.Duration(0))
	assert.Greater(t, opts.PingInterval, time.Duration(0))
	assert.Zero(t, opts.RequestRate)
}

func TestNewWithOptions_Valid(t *testing.T) {
	tests := []struct {
		name string
		opts broker.Options
	}{
		{
			name: "default options",
			opts: broker.DefaultOptions(),
		},
		{
			name: "custom values",
			opts: broker.Options{
				Logger:        slog.Default(),
				AcceptOptions: &websocket.AcceptOptions{OriginPatterns: []string{"*"}},
				SendBuffer:    32,
				WriteTimeout:  15 * time.Second,
				PingInterval:  20 * time.Second,
				RequestRate:   5,
				RequestBurst:  10,
			},
		},
		{
			name: "zero values (should use defaults)",
			opts: broker.Options{},
		},
		{
			name: "disabled ping (negative value)",
			opts: broker.Options{
				Logger:       slog.Default(),
				SendBuffer:   16,
				WriteTimeout: 10 * time.Second,
				PingInterval: -1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := broker.NewWithOptions(tt.opts)
			require.NoError(t, err)
			require.NotNil(t, b)
			require.NoError(t, b.Shutdown(context.Background()))
		})
	}
}

func TestNewWithOptions_Validation(t *testing.T) {
	tests := []struct {
		name        string
		opts        broker.Options
		expectError string
	}{
		{
			name:        "negative SendBuffer",
			opts:        broker.Options{SendBuffer: -1},
			expectError: "SendBuffer must be non-negative",
		},
		{
			name:        "negative WriteTimeout",
			opts:        broker.Options{WriteTimeout: -1 * time.Second},
			expectError: "WriteTimeout must be non-negative",
		},
		{
			name:        "negative RequestRate",
			opts:        broker.Options{RequestRate: -1},
			expectError: "RequestRate must be non-negative",
		},
		{
			name:        "rate without burst",
			opts:        broker.Options{RequestRate: 5},
			expectError: "RequestBurst must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := broker.NewWithOptions(tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestNewRejectsRateWithoutBurst(t *testing.T) {
	_, err := broker.New(broker.WithRequestRate(1, 0))
	assert.Error(t, err)
}
