package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateGate_BurstPassesWithoutBlocking(t *testing.T) {
	g := NewRateGate(1, 3)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, g.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRateGate_RefillAllowsNextToken(t *testing.T) {
	g := NewRateGate(100, 1)
	require.NoError(t, g.Wait(context.Background()))

	// Bucket drained: the next permit arrives after a refill tick.
	start := time.Now()
	require.NoError(t, g.Wait(context.Background()))
	assert.Greater(t, time.Since(start), time.Millisecond)
}

func TestRateGate_CanceledContextAborts(t *testing.T) {
	g := NewRateGate(0.01, 1)
	require.NoError(t, g.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, g.Wait(ctx), context.Canceled)
}
