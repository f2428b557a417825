package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestClock_AdvanceFiresDueTimers(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewTestClock(start)

	var fired []TimeEvent
	require.NoError(t, c.SetTimer("tick", time.Second, func(ev TimeEvent) {
		fired = append(fired, ev)
	}))

	c.Advance(2500 * time.Millisecond)
	require.Len(t, fired, 2)
	assert.Equal(t, start.Add(time.Second).UnixNano(), fired[0].TsEvent)
	assert.Equal(t, start.Add(2*time.Second).UnixNano(), fired[1].TsEvent)
	assert.Equal(t, start.Add(2500*time.Millisecond), c.Now())
}

func TestTestClock_AlertFiresOnceAndUnregisters(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewTestClock(start)

	count := 0
	require.NoError(t, c.SetTimeAlert("alert", start.Add(time.Minute), func(TimeEvent) {
		count++
	}))
	assert.Equal(t, []string{"alert"}, c.TimerNames())

	c.Advance(2 * time.Minute)
	assert.Equal(t, 1, count)
	assert.Empty(t, c.TimerNames())

	c.Advance(2 * time.Minute)
	assert.Equal(t, 1, count)
}

func TestTestClock_InterleavedTimersFireInOrder(t *testing.T) {
	c := NewTestClock(time.Unix(0, 0))

	var order []string
	record := func(ev TimeEvent) { order = append(order, ev.Name) }
	require.NoError(t, c.SetTimer("a", 3*time.Second, record))
	require.NoError(t, c.SetTimer("b", 2*time.Second, record))

	c.Advance(6 * time.Second)
	assert.Equal(t, []string{"b", "a", "b", "a", "b"}, order)
}

func TestTestClock_CancelTimer(t *testing.T) {
	c := NewTestClock(time.Unix(0, 0))
	count := 0
	require.NoError(t, c.SetTimer("x", time.Second, func(TimeEvent) { count++ }))
	c.Advance(time.Second)
	c.CancelTimer("x")
	c.Advance(10 * time.Second)
	assert.Equal(t, 1, count)
}

func TestValidateTimer(t *testing.T) {
	c := NewTestClock(time.Unix(0, 0))
	assert.Error(t, c.SetTimer("", time.Second, func(TimeEvent) {}))
	assert.Error(t, c.SetTimer("x", 0, func(TimeEvent) {}))
}

func TestLiveClock_NowIsUTC(t *testing.T) {
	c := NewLiveClock()
	assert.Equal(t, time.UTC, c.Now().Location())
	assert.InDelta(t, time.Now().UnixNano(), c.UnixNanos(), float64(time.Second))
}
