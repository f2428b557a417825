package market

import (
	"fmt"
	"sync"
	"time"

	"trading-node-go/clock"
	"trading-node-go/model"
)

// TimeBarConfig tunes time-driven bar emission.
type TimeBarConfig struct {
	// TimestampOnClose stamps bars with the interval close time; otherwise
	// the open time.
	TimestampOnClose bool
	// IntervalLeftOpen makes intervals (open, close]: a tick exactly on the
	// boundary belongs to the closing bar. Default is right-open [open, close).
	IntervalLeftOpen bool
	// BuildWithNoUpdates emits flat bars (from the previous close) for empty
	// intervals. When false, empty intervals emit nothing.
	BuildWithNoUpdates bool
}

// TimeBarAggregator closes bars on wall-clock boundaries aligned to the
// aggregation unit. Closure is driven by a clock timer and additionally
// checked on each inbound tick so replays with a test clock stay exact.
type TimeBarAggregator struct {
	builder   *barBuilder
	clk       clock.Clock
	cfg       TimeBarConfig
	handler   BarHandler
	interval  int64
	timerName string

	mu          sync.Mutex
	nextCloseNs int64
}

func NewTimeBarAggregator(
	barType model.BarType,
	sizePrecision uint8,
	clk clock.Clock,
	cfg TimeBarConfig,
	handler BarHandler,
) (*TimeBarAggregator, error) {
	interval := barType.Spec.Aggregation.IntervalNanos(barType.Spec.Step)
	if interval <= 0 {
		return nil, fmt.Errorf("time aggregator %s: aggregation is not time driven", barType)
	}
	a := &TimeBarAggregator{
		builder:   newBarBuilder(barType, sizePrecision),
		clk:       clk,
		cfg:       cfg,
		handler:   handler,
		interval:  interval,
		timerName: "bars-" + barType.String(),
	}
	now := clk.UnixNanos()
	a.nextCloseNs = (now/interval)*interval + interval

	err := clk.SetTimer(a.timerName, time.Duration(interval), func(ev clock.TimeEvent) {
		a.mu.Lock()
		a.closeThrough(ev.TsEvent, ev.TsInit)
		a.mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *TimeBarAggregator) BarType() model.BarType { return a.builder.barType }

func (a *TimeBarAggregator) SetPartial(bar model.Bar) {
	a.mu.Lock()
	a.builder.SetPartial(bar)
	a.mu.Unlock()
}

func (a *TimeBarAggregator) Stop() {
	a.clk.CancelTimer(a.timerName)
}

func (a *TimeBarAggregator) OnTrade(tick model.TradeTick) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cfg.IntervalLeftOpen && tick.TsEvent == a.nextCloseNs {
		// Boundary tick belongs to the closing bar.
		a.builder.Update(tick.Price, tick.Size, tick.TsEvent)
		a.closeOne(tick.TsInit)
		return
	}
	if tick.TsEvent >= a.nextCloseNs {
		// Right-open: a tick on the boundary opens the next bar, so every
		// interval ending at or before it closes first.
		a.closeThrough(tick.TsEvent, tick.TsInit)
	}
	a.builder.Update(tick.Price, tick.Size, tick.TsEvent)
}

// closeThrough closes every interval whose boundary is <= ts. Callers hold
// the lock.
func (a *TimeBarAggregator) closeThrough(ts, tsInit int64) {
	for a.nextCloseNs <= ts {
		a.closeOne(tsInit)
	}
}

func (a *TimeBarAggregator) closeOne(tsInit int64) {
	boundary := a.nextCloseNs
	a.nextCloseNs += a.interval

	if !a.builder.started && (!a.cfg.BuildWithNoUpdates || !a.builder.hasLast) {
		return
	}
	tsEvent := boundary
	if !a.cfg.TimestampOnClose {
		tsEvent = boundary - a.interval
	}
	if bar, err := a.builder.Build(tsEvent, tsInit); err == nil {
		a.handler(bar)
	}
}
