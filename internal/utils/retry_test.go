package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farm-automation/internal/logging"
)

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), logging.NewNop().WithComponent("test"), 3, time.Millisecond, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("broker not ready")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryReturnsLastError(t *testing.T) {
	cause := errors.New("broker not ready")
	calls := 0
	err := Retry(context.Background(), logging.NewNop().WithComponent("test"), 3, time.Millisecond, func(ctx context.Context) error {
		calls++
		return cause
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, logging.NewNop().WithComponent("test"), 5, time.Hour, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("write failed")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
