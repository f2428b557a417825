package model

import (
	"fmt"
	"strconv"
	"strings"
)

// BarAggregation is the trigger dimension for bar building.
type BarAggregation uint8

const (
	BarAggregationTick BarAggregation = iota
	BarAggregationVolume
	BarAggregationValue
	BarAggregationMillisecond
	BarAggregationSecond
	BarAggregationMinute
	BarAggregationHour
	BarAggregationDay
	BarAggregationWeek
	BarAggregationMonth
)

func (a BarAggregation) String() string {
	switch a {
	case BarAggregationTick:
		return "TICK"
	case BarAggregationVolume:
		return "VOLUME"
	case BarAggregationValue:
		return "VALUE"
	case BarAggregationMillisecond:
		return "MILLISECOND"
	case BarAggregationSecond:
		return "SECOND"
	case BarAggregationMinute:
		return "MINUTE"
	case BarAggregationHour:
		return "HOUR"
	case BarAggregationDay:
		return "DAY"
	case BarAggregationWeek:
		return "WEEK"
	case BarAggregationMonth:
		return "MONTH"
	default:
		return "UNKNOWN"
	}
}

// IsTimeDriven reports whether bars close on the clock rather than on
// market events.
func (a BarAggregation) IsTimeDriven() bool {
	switch a {
	case BarAggregationMillisecond, BarAggregationSecond, BarAggregationMinute,
		BarAggregationHour, BarAggregationDay, BarAggregationWeek, BarAggregationMonth:
		return true
	default:
		return false
	}
}

// IntervalNanos returns the bar interval for time-driven aggregations.
// Months are approximated as 30 days for alignment purposes.
func (a BarAggregation) IntervalNanos(step uint64) UnixNanos {
	const (
		ms   = int64(1_000_000)
		sec  = 1000 * ms
		min  = 60 * sec
		hour = 60 * min
		day  = 24 * hour
	)
	var unit int64
	switch a {
	case BarAggregationMillisecond:
		unit = ms
	case BarAggregationSecond:
		unit = sec
	case BarAggregationMinute:
		unit = min
	case BarAggregationHour:
		unit = hour
	case BarAggregationDay:
		unit = day
	case BarAggregationWeek:
		unit = 7 * day
	case BarAggregationMonth:
		unit = 30 * day
	default:
		return 0
	}
	return unit * int64(step)
}

// AggregationSource distinguishes venue-built bars from locally-built ones.
type AggregationSource uint8

const (
	AggregationSourceExternal AggregationSource = iota
	AggregationSourceInternal
)

func (s AggregationSource) String() string {
	if s == AggregationSourceInternal {
		return "INTERNAL"
	}
	return "EXTERNAL"
}

// BarSpecification is the step + aggregation portion of a bar type, e.g.
// "3-TICK" or "1-MINUTE".
type BarSpecification struct {
	Step        uint64
	Aggregation BarAggregation
}

func NewBarSpecification(step uint64, aggregation BarAggregation) (BarSpecification, error) {
	if step == 0 {
		return BarSpecification{}, fmt.Errorf("bar spec: 'step' must be positive")
	}
	return BarSpecification{Step: step, Aggregation: aggregation}, nil
}

func (s BarSpecification) String() string {
	return strconv.FormatUint(s.Step, 10) + "-" + s.Aggregation.String()
}

// BarType keys an aggregator: instrument + spec + source, rendered as
// "SYMBOL.VENUE-1-MINUTE-INTERNAL".
type BarType struct {
	InstrumentID InstrumentID
	Spec         BarSpecification
	Source       AggregationSource
}

func (t BarType) String() string {
	return t.InstrumentID.String() + "-" + t.Spec.String() + "-" + t.Source.String()
}

// ParseBarType parses the display form back into a BarType. Symbols may
// themselves contain dashes, so the trailing three segments are taken from
// the right.
func ParseBarType(s string) (BarType, error) {
	parts := strings.Split(s, "-")
	if len(parts) < 4 {
		return BarType{}, fmt.Errorf("bar type: cannot parse %q", s)
	}
	n := len(parts)
	instr, err := ParseInstrumentID(strings.Join(parts[:n-3], "-"))
	if err != nil {
		return BarType{}, fmt.Errorf("bar type: %w", err)
	}
	step, err := strconv.ParseUint(parts[n-3], 10, 64)
	if err != nil {
		return BarType{}, fmt.Errorf("bar type: bad step in %q", s)
	}
	var agg BarAggregation
	found := false
	for a := BarAggregationTick; a <= BarAggregationMonth; a++ {
		if a.String() == parts[n-2] {
			agg, found = a, true
			break
		}
	}
	if !found {
		return BarType{}, fmt.Errorf("bar type: unknown aggregation %q", parts[n-2])
	}
	src := AggregationSourceExternal
	if parts[n-1] == "INTERNAL" {
		src = AggregationSourceInternal
	}
	spec, err := NewBarSpecification(step, agg)
	if err != nil {
		return BarType{}, err
	}
	return BarType{InstrumentID: instr, Spec: spec, Source: src}, nil
}

// Bar is an immutable OHLCV summary over one interval.
type Bar struct {
	BarType BarType
	Open    Price
	High    Price
	Low     Price
	Close   Price
	Volume  Quantity
	TsEvent UnixNanos
	TsInit  UnixNanos
}

func NewBar(
	barType BarType,
	open, high, low, close Price,
	volume Quantity,
	tsEvent, tsInit UnixNanos,
) (Bar, error) {
	if high.Raw < low.Raw {
		return Bar{}, fmt.Errorf("bar: 'high' %s below 'low' %s", high, low)
	}
	if open.Raw > high.Raw || open.Raw < low.Raw {
		return Bar{}, fmt.Errorf("bar: 'open' %s outside [low, high]", open)
	}
	if close.Raw > high.Raw || close.Raw < low.Raw {
		return Bar{}, fmt.Errorf("bar: 'close' %s outside [low, high]", close)
	}
	return Bar{
		BarType: barType,
		Open:    open,
		High:    high,
		Low:     low,
		Close:   close,
		Volume:  volume,
		TsEvent: tsEvent,
		TsInit:  tsInit,
	}, nil
}
