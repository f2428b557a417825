package market

import (
	"fmt"

	"trading-node-go/model"
)

// BarHandler receives completed bars.
type BarHandler func(model.Bar)

// barBuilder accumulates OHLCV state for one bar interval.
type barBuilder struct {
	barType   model.BarType
	open      model.Price
	high      model.Price
	low       model.Price
	close     model.Price
	volume    model.Quantity
	count     int
	tsLast    model.UnixNanos
	lastClose model.Price
	hasLast   bool
	partial   bool
	started   bool
}

func newBarBuilder(barType model.BarType, sizePrecision uint8) *barBuilder {
	return &barBuilder{
		barType: barType,
		volume:  model.Quantity{Precision: sizePrecision},
	}
}

// SetPartial seeds the builder from an externally supplied partial bar. It
// seeds open/high/low/volume but the close is not committed until the first
// live tick arrives.
func (b *barBuilder) SetPartial(bar model.Bar) {
	if b.started || b.partial {
		return
	}
	b.open = bar.Open
	b.high = bar.High
	b.low = bar.Low
	b.close = bar.Close
	b.volume = bar.Volume
	b.tsLast = bar.TsEvent
	b.partial = true
	b.started = true
}

// Update folds one tick into the bar. High only moves up, low only down.
func (b *barBuilder) Update(price model.Price, size model.Quantity, ts model.UnixNanos) {
	if !b.started {
		b.open = price
		b.high = price
		b.low = price
		b.started = true
	} else {
		if price.Cmp(b.high) > 0 {
			b.high = price
		}
		if price.Cmp(b.low) < 0 {
			b.low = price
		}
	}
	b.close = price
	b.addVolume(size)
	b.count++
	b.tsLast = ts
	b.partial = false
}

// addVolume accumulates size, aligning precisions first: a finer tick
// upgrades the builder's volume precision, a coarser tick is rescaled up.
// Sizes that cannot be aligned without losing digits are not counted.
func (b *barBuilder) addVolume(size model.Quantity) {
	if size.Precision > b.volume.Precision {
		vol, err := b.volume.Rescale(size.Precision)
		if err != nil {
			return
		}
		b.volume = vol
	} else if size.Precision < b.volume.Precision {
		rescaled, err := size.Rescale(b.volume.Precision)
		if err != nil {
			return
		}
		size = rescaled
	}
	if sum, err := b.volume.Add(size); err == nil {
		b.volume = sum
	}
}

// Build emits the accumulated bar and resets for the next interval. An
// interval with no updates builds a flat bar from the previous close.
func (b *barBuilder) Build(tsEvent, tsInit model.UnixNanos) (model.Bar, error) {
	if !b.started {
		if !b.hasLast {
			return model.Bar{}, fmt.Errorf("bar builder %s: no updates and no previous close", b.barType)
		}
		b.open = b.lastClose
		b.high = b.lastClose
		b.low = b.lastClose
		b.close = b.lastClose
	}
	bar, err := model.NewBar(b.barType, b.open, b.high, b.low, b.close, b.volume, tsEvent, tsInit)
	if err != nil {
		return model.Bar{}, err
	}
	b.lastClose = b.close
	b.hasLast = true
	b.reset()
	return bar, nil
}

func (b *barBuilder) reset() {
	b.started = false
	b.partial = false
	b.count = 0
	b.volume = model.Quantity{Precision: b.volume.Precision}
}

// Aggregator is the common surface over the four flavors.
type Aggregator interface {
	BarType() model.BarType
	OnTrade(tick model.TradeTick)
	SetPartial(bar model.Bar)
	Stop()
}

// TickBarAggregator emits a bar every Step ticks.
type TickBarAggregator struct {
	builder *barBuilder
	step    uint64
	handler BarHandler
}

func NewTickBarAggregator(barType model.BarType, sizePrecision uint8, handler BarHandler) *TickBarAggregator {
	return &TickBarAggregator{
		builder: newBarBuilder(barType, sizePrecision),
		step:    barType.Spec.Step,
		handler: handler,
	}
}

func (a *TickBarAggregator) BarType() model.BarType { return a.builder.barType }
func (a *TickBarAggregator) SetPartial(bar model.Bar) { a.builder.SetPartial(bar) }
func (a *TickBarAggregator) Stop() {}

func (a *TickBarAggregator) OnTrade(tick model.TradeTick) {
	a.builder.Update(tick.Price, tick.Size, tick.TsEvent)
	if uint64(a.builder.count) >= a.step {
		if bar, err := a.builder.Build(tick.TsEvent, tick.TsInit); err == nil {
			a.handler(bar)
		}
	}
}

// VolumeBarAggregator emits when cumulative size reaches Step. A tick that
// overshoots is split across bars: the price stays constant, the size is
// apportioned.
type VolumeBarAggregator struct {
	builder   *barBuilder
	precision uint8
	stepRaw   int64 // step scaled to the size precision
	cumRaw    int64
	handler   BarHandler
}

func NewVolumeBarAggregator(barType model.BarType, sizePrecision uint8, handler BarHandler) *VolumeBarAggregator {
	a := &VolumeBarAggregator{
		builder:   newBarBuilder(barType, sizePrecision),
		precision: sizePrecision,
	}
	step, _ := model.NewQuantity(float64(barType.Spec.Step), sizePrecision)
	a.stepRaw = step.Raw
	a.handler = handler
	return a
}

func (a *VolumeBarAggregator) BarType() model.BarType { return a.builder.barType }
func (a *VolumeBarAggregator) SetPartial(bar model.Bar) { a.builder.SetPartial(bar) }
func (a *VolumeBarAggregator) Stop() {}

var _ Aggregator = (*VolumeBarAggregator)(nil)

func (a *VolumeBarAggregator) OnTrade(tick model.TradeTick) {
	// The threshold arithmetic runs on raw values, so the tick size must be
	// on the aggregator's scale before splitting.
	size, err := tick.Size.Rescale(a.precision)
	if err != nil {
		return
	}
	remaining := size.Raw
	for remaining > 0 {
		room := a.stepRaw - a.cumRaw
		take := remaining
		if take > room {
			take = room
		}
		part, err := model.QuantityFromRaw(take, a.precision)
		if err != nil {
			return
		}
		a.builder.Update(tick.Price, part, tick.TsEvent)
		a.cumRaw += take
		remaining -= take

		if a.cumRaw >= a.stepRaw {
			if bar, err := a.builder.Build(tick.TsEvent, tick.TsInit); err == nil {
				a.handler(bar)
			}
			a.cumRaw = 0
		}
	}
}

// ValueBarAggregator emits when cumulative price x size reaches Step
// (denominated in the quote currency).
type ValueBarAggregator struct {
	builder  *barBuilder
	stepVal  float64
	cumVal   float64
	handler  BarHandler
}

func NewValueBarAggregator(barType model.BarType, sizePrecision uint8, handler BarHandler) *ValueBarAggregator {
	return &ValueBarAggregator{
		builder: newBarBuilder(barType, sizePrecision),
		stepVal: float64(barType.Spec.Step),
		handler: handler,
	}
}

func (a *ValueBarAggregator) BarType() model.BarType { return a.builder.barType }
func (a *ValueBarAggregator) SetPartial(bar model.Bar) { a.builder.SetPartial(bar) }
func (a *ValueBarAggregator) Stop() {}

func (a *ValueBarAggregator) OnTrade(tick model.TradeTick) {
	px := tick.Price.Float64()
	if px <= 0 {
		return
	}
	remainingVal := px * tick.Size.Float64()
	for remainingVal > 0 {
		room := a.stepVal - a.cumVal
		takeVal := remainingVal
		if takeVal > room {
			takeVal = room
		}
		size, err := model.NewQuantity(takeVal/px, a.builder.volume.Precision)
		if err != nil {
			return
		}
		a.builder.Update(tick.Price, size, tick.TsEvent)
		a.cumVal += takeVal
		remainingVal -= takeVal

		if a.cumVal >= a.stepVal {
			if bar, err := a.builder.Build(tick.TsEvent, tick.TsInit); err == nil {
				a.handler(bar)
			}
			a.cumVal = 0
		}
	}
}
