package clock

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	errEmptyTimerName      = errors.New("clock: empty timer name")
	errNonPositiveInterval = errors.New("clock: interval must be positive")
)

// TestClock is a virtual clock. Time only moves via SetTime/Advance, and
// Advance fires due timers synchronously in chronological order, which keeps
// tests deterministic.
type TestClock struct {
	mu     sync.Mutex
	nowNs  int64
	timers map[string]*testTimer
}

type testTimer struct {
	name     string
	nextNs   int64
	interval int64 // 0 for one-shot alerts
	handler  TimerHandler
}

func NewTestClock(start time.Time) *TestClock {
	return &TestClock{nowNs: start.UnixNano(), timers: make(map[string]*testTimer)}
}

func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Unix(0, c.nowNs).UTC()
}

func (c *TestClock) UnixNanos() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowNs
}

func (c *TestClock) SetTime(t time.Time) {
	c.mu.Lock()
	c.nowNs = t.UnixNano()
	c.mu.Unlock()
}

func (c *TestClock) SetTimer(name string, interval time.Duration, handler TimerHandler) error {
	if err := validateTimer(name, interval); err != nil {
		return err
	}
	c.mu.Lock()
	c.timers[name] = &testTimer{
		name:     name,
		nextNs:   c.nowNs + interval.Nanoseconds(),
		interval: interval.Nanoseconds(),
		handler:  handler,
	}
	c.mu.Unlock()
	return nil
}

func (c *TestClock) SetTimeAlert(name string, at time.Time, handler TimerHandler) error {
	if name == "" {
		return errEmptyTimerName
	}
	c.mu.Lock()
	c.timers[name] = &testTimer{name: name, nextNs: at.UnixNano(), handler: handler}
	c.mu.Unlock()
	return nil
}

func (c *TestClock) CancelTimer(name string) {
	c.mu.Lock()
	delete(c.timers, name)
	c.mu.Unlock()
}

func (c *TestClock) CancelTimers() {
	c.mu.Lock()
	c.timers = make(map[string]*testTimer)
	c.mu.Unlock()
}

func (c *TestClock) TimerNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.timers))
	for name := range c.timers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Advance moves virtual time forward and fires every due timer event in
// order. Handlers run on the caller's goroutine with the lock released.
func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.nowNs + d.Nanoseconds()

	var fires []TimeEvent
	var handlers []TimerHandler
	for {
		var next *testTimer
		for _, t := range c.timers {
			if t.nextNs > target {
				continue
			}
			if next == nil || t.nextNs < next.nextNs ||
				(t.nextNs == next.nextNs && t.name < next.name) {
				next = t
			}
		}
		if next == nil {
			break
		}
		c.nowNs = next.nextNs
		fires = append(fires, TimeEvent{Name: next.name, TsEvent: next.nextNs, TsInit: next.nextNs})
		handlers = append(handlers, next.handler)
		if next.interval > 0 {
			next.nextNs += next.interval
		} else {
			delete(c.timers, next.name)
		}
	}
	c.nowNs = target
	c.mu.Unlock()

	for i, ev := range fires {
		handlers[i](ev)
	}
}
