package model

import (
	"fmt"

	"github.com/google/uuid"
)

// UnixNanos is a nanosecond timestamp since the Unix epoch. Every event
// carries two: TsEvent (when the fact occurred at source) and TsInit (when
// this process observed it).
type UnixNanos = int64

// EventID returns a fresh v4 uuid string.
func NewEventID() string { return uuid.NewString() }

// TradeTick is a single matched execution on the tape.
type TradeTick struct {
	InstrumentID InstrumentID
	Price        Price
	Size         Quantity
	Aggressor    AggressorSide
	TradeID      TradeID
	TsEvent      UnixNanos
	TsInit       UnixNanos
}

func NewTradeTick(
	instrumentID InstrumentID,
	price Price,
	size Quantity,
	aggressor AggressorSide,
	tradeID TradeID,
	tsEvent, tsInit UnixNanos,
) (TradeTick, error) {
	if !size.IsPositive() {
		return TradeTick{}, fmt.Errorf("trade tick: 'size' must be positive, was %s", size)
	}
	return TradeTick{
		InstrumentID: instrumentID,
		Price:        price,
		Size:         size,
		Aggressor:    aggressor,
		TradeID:      tradeID,
		TsEvent:      tsEvent,
		TsInit:       tsInit,
	}, nil
}

// QuoteTick is a top-of-book change. Bid and ask precisions must match on
// both the price and size pairs.
type QuoteTick struct {
	InstrumentID InstrumentID
	BidPrice     Price
	AskPrice     Price
	BidSize      Quantity
	AskSize      Quantity
	TsEvent      UnixNanos
	TsInit       UnixNanos
}

func NewQuoteTick(
	instrumentID InstrumentID,
	bidPrice, askPrice Price,
	bidSize, askSize Quantity,
	tsEvent, tsInit UnixNanos,
) (QuoteTick, error) {
	if bidPrice.Precision != askPrice.Precision {
		return QuoteTick{}, fmt.Errorf(
			"quote tick: 'bid_price.precision' was not equal to 'ask_price.precision' (%d vs %d)",
			bidPrice.Precision, askPrice.Precision)
	}
	if bidSize.Precision != askSize.Precision {
		return QuoteTick{}, fmt.Errorf(
			"quote tick: 'bid_size.precision' was not equal to 'ask_size.precision' (%d vs %d)",
			bidSize.Precision, askSize.Precision)
	}
	return QuoteTick{
		InstrumentID: instrumentID,
		BidPrice:     bidPrice,
		AskPrice:     askPrice,
		BidSize:      bidSize,
		AskSize:      askSize,
		TsEvent:      tsEvent,
		TsInit:       tsInit,
	}, nil
}

// MidPrice returns (bid+ask)/2 as a float for display and metrics.
func (q QuoteTick) MidPrice() float64 {
	return (q.BidPrice.Float64() + q.AskPrice.Float64()) / 2
}

// OrderBookDelta is one incremental book operation. An Update carrying zero
// size is normalized to Delete at construction.
type OrderBookDelta struct {
	InstrumentID InstrumentID
	Action       BookAction
	Side         OrderSide
	Price        Price
	Size         Quantity
	OrderID      uint64
	Flags        uint8
	Sequence     uint64
	TsEvent      UnixNanos
	TsInit       UnixNanos
}

func NewOrderBookDelta(
	instrumentID InstrumentID,
	action BookAction,
	side OrderSide,
	price Price,
	size Quantity,
	orderID uint64,
	flags uint8,
	sequence uint64,
	tsEvent, tsInit UnixNanos,
) OrderBookDelta {
	if action == BookActionUpdate && size.IsZero() {
		action = BookActionDelete
	}
	return OrderBookDelta{
		InstrumentID: instrumentID,
		Action:       action,
		Side:         side,
		Price:        price,
		Size:         size,
		OrderID:      orderID,
		Flags:        flags,
		Sequence:     sequence,
		TsEvent:      tsEvent,
		TsInit:       tsInit,
	}
}

// MarkPrice is a venue-published marking reference price.
type MarkPrice struct {
	InstrumentID InstrumentID
	Price        Price
	TsEvent      UnixNanos
	TsInit       UnixNanos
}

// IndexPrice is a venue-published index reference price.
type IndexPrice struct {
	InstrumentID InstrumentID
	Price        Price
	TsEvent      UnixNanos
	TsInit       UnixNanos
}

// FundingRate is a periodic perpetual funding observation.
type FundingRate struct {
	InstrumentID InstrumentID
	Rate         Decimal
	NextFundingNs UnixNanos
	TsEvent      UnixNanos
	TsInit       UnixNanos
}

// InstrumentStatus signals a venue trading-state change for an instrument.
type InstrumentStatus struct {
	InstrumentID InstrumentID
	Action       string
	Reason       string
	TsEvent      UnixNanos
	TsInit       UnixNanos
}

// InstrumentClose carries a settlement or close price.
type InstrumentClose struct {
	InstrumentID InstrumentID
	ClosePrice   Price
	CloseType    string
	TsEvent      UnixNanos
	TsInit       UnixNanos
}
