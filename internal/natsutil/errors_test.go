package natsutil

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

func TestIsConnectivityError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", nats.ErrTimeout, true},
		{"no servers", fmt.Errorf("list: %w", nats.ErrNoServers), true},
		{"closed", nats.ErrConnectionClosed, true},
		{"deadline", context.DeadlineExceeded, true},
		{"refused", errors.New("dial tcp 127.0.0.1:4222: connection refused"), true},
		{"key not found", jetstream.ErrKeyNotFound, false},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsConnectivityError(tt.err))
		})
	}
}

func TestIsWrongLastSequence(t *testing.T) {
	require.True(t, IsWrongLastSequence(jetstream.ErrKeyExists))
	require.True(t, IsWrongLastSequence(fmt.Errorf("update: %w", &jetstream.APIError{
		Code:      400,
		ErrorCode: jetstream.JSErrCodeStreamWrongLastSequence,
	})))
	require.False(t, IsWrongLastSequence(jetstream.ErrKeyNotFound))
	require.False(t, IsWrongLastSequence(nil))
}
