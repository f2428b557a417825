// Package clock provides the time capability handed to every component:
// wall-clock reads, named timers with cancellation, and a test
// implementation with manual advance for deterministic tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// TimeEvent is delivered when a timer fires.
type TimeEvent struct {
	Name    string
	TsEvent int64 // scheduled fire time, unix nanos
	TsInit  int64 // observation time, unix nanos
}

// TimerHandler receives timer fires. Handlers must not block.
type TimerHandler func(TimeEvent)

// Clock abstracts time so engines can run against wall-clock in production
// and virtual time in tests.
type Clock interface {
	Now() time.Time
	UnixNanos() int64
	// SetTimer schedules handler every interval until canceled. A zero
	// start fires the first event one interval from now.
	SetTimer(name string, interval time.Duration, handler TimerHandler) error
	// SetTimeAlert schedules a single fire at the given time.
	SetTimeAlert(name string, at time.Time, handler TimerHandler) error
	CancelTimer(name string)
	CancelTimers()
	TimerNames() []string
}

// LiveClock is the production clock backed by the runtime.
type LiveClock struct {
	mu     sync.Mutex
	timers map[string]*liveTimer
}

type liveTimer struct {
	stop chan struct{}
	once bool
}

func NewLiveClock() *LiveClock {
	return &LiveClock{timers: make(map[string]*liveTimer)}
}

func (c *LiveClock) Now() time.Time   { return time.Now().UTC() }
func (c *LiveClock) UnixNanos() int64 { return time.Now().UnixNano() }

func (c *LiveClock) SetTimer(name string, interval time.Duration, handler TimerHandler) error {
	if err := validateTimer(name, interval); err != nil {
		return err
	}
	t := &liveTimer{stop: make(chan struct{})}
	c.register(name, t)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case now := <-ticker.C:
				handler(TimeEvent{Name: name, TsEvent: now.UnixNano(), TsInit: time.Now().UnixNano()})
			}
		}
	}()
	return nil
}

func (c *LiveClock) SetTimeAlert(name string, at time.Time, handler TimerHandler) error {
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	t := &liveTimer{stop: make(chan struct{}), once: true}
	c.register(name, t)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-t.stop:
		case <-timer.C:
			handler(TimeEvent{Name: name, TsEvent: at.UnixNano(), TsInit: time.Now().UnixNano()})
			c.CancelTimer(name)
		}
	}()
	return nil
}

func (c *LiveClock) register(name string, t *liveTimer) {
	c.mu.Lock()
	if prev, ok := c.timers[name]; ok {
		close(prev.stop)
	}
	c.timers[name] = t
	c.mu.Unlock()
}

func (c *LiveClock) CancelTimer(name string) {
	c.mu.Lock()
	if t, ok := c.timers[name]; ok {
		close(t.stop)
		delete(c.timers, name)
	}
	c.mu.Unlock()
}

func (c *LiveClock) CancelTimers() {
	c.mu.Lock()
	for name, t := range c.timers {
		close(t.stop)
		delete(c.timers, name)
	}
	c.mu.Unlock()
}

func (c *LiveClock) TimerNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.timers))
	for name := range c.timers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validateTimer(name string, interval time.Duration) error {
	if name == "" {
		return errEmptyTimerName
	}
	if interval <= 0 {
		return errNonPositiveInterval
	}
	return nil
}
