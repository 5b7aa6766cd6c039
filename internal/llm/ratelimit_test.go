package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRPSLimiterNilIsDisabled(t *testing.T) {
	var l *rpsLimiter
	require.NoError(t, l.Acquire(context.Background()))
	l.Stop()
}

func TestRPSLimiterDisabledForZeroRate(t *testing.T) {
	require.Nil(t, newRPSLimiter(0, 5))
	require.Nil(t, newRPSLimiter(-1, 5))
}

func TestRPSLimiterAllowsBurstThenBlocks(t *testing.T) {
	l := newRPSLimiter(0.1, 3) // one token every 10s, irrelevant here
	defer l.Stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background()), "burst token %d", i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Acquire(ctx), context.DeadlineExceeded)
}

func TestRPSLimiterRefills(t *testing.T) {
	l := newRPSLimiter(100, 1) // refill every 10ms
	defer l.Stop()

	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, l.Acquire(ctx), "token must come back after the refill period")
}

func TestRPSLimiterAcquireHonorsCancellation(t *testing.T) {
	l := newRPSLimiter(0.1, 1)
	defer l.Stop()
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, l.Acquire(ctx), context.Canceled)
}
