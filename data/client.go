// Package data routes market data: venue clients feed the engine, the
// engine caches last values, drives internal bar aggregation and fans out
// on the message bus.
package data

import (
	"fmt"

	"trading-node-go/model"
)

// DataType enumerates the subscribable streams.
type DataType uint8

const (
	DataTypeInstrument DataType = iota
	DataTypeOrderBookDeltas
	DataTypeQuoteTicks
	DataTypeTradeTicks
	DataTypeBars
	DataTypeMarkPrices
	DataTypeIndexPrices
	DataTypeFundingRates
	DataTypeInstrumentStatus
	DataTypeInstrumentClose
)

func (t DataType) String() string {
	switch t {
	case DataTypeInstrument:
		return "Instrument"
	case DataTypeOrderBookDeltas:
		return "OrderBookDeltas"
	case DataTypeQuoteTicks:
		return "QuoteTicks"
	case DataTypeTradeTicks:
		return "TradeTicks"
	case DataTypeBars:
		return "Bars"
	case DataTypeMarkPrices:
		return "MarkPrices"
	case DataTypeIndexPrices:
		return "IndexPrices"
	case DataTypeFundingRates:
		return "FundingRates"
	case DataTypeInstrumentStatus:
		return "InstrumentStatus"
	case DataTypeInstrumentClose:
		return "InstrumentClose"
	default:
		return fmt.Sprintf("DataType(%d)", t)
	}
}

// Subscription identifies one stream. BarType is set only for DataTypeBars.
// Params carries adapter-specific options opaque to the engine.
type Subscription struct {
	Type         DataType
	InstrumentID model.InstrumentID
	BarType      *model.BarType
	Params       map[string]string
}

// Key is the registry identity: one subscription per key regardless of how
// many times callers subscribe.
func (s Subscription) Key() string {
	if s.Type == DataTypeBars && s.BarType != nil {
		return s.Type.String() + ":" + s.BarType.String()
	}
	return s.Type.String() + ":" + s.InstrumentID.String()
}

// Request asks a client for historical or snapshot data. The engine assigns
// the correlation id; clients echo it on the response.
type Request struct {
	CorrelationID string
	Type          DataType
	InstrumentID  model.InstrumentID
	BarType       *model.BarType
	Start         model.UnixNanos
	End           model.UnixNanos
	Limit         int
	Params        map[string]string
}

// Response carries requested data back through the engine. Data holds a
// slice of the requested kind (e.g. []model.Bar).
type Response struct {
	CorrelationID string
	Data          any
	Err           error
}

// ResponseHandler receives the response matched to a request.
type ResponseHandler func(Response)

// Client is a venue data adapter. Lifecycle calls are serialized by the
// engine; Subscribe and Request may be called after Start.
type Client interface {
	ID() model.ClientID
	Venue() model.Venue

	Start() error
	Stop() error
	Reset() error
	Dispose() error

	Connect() error
	Disconnect() error
	IsConnected() bool

	Subscribe(sub Subscription) error
	Unsubscribe(sub Subscription) error

	// Request forwards a data request; the client answers through the
	// engine's OnResponse with the same correlation id.
	Request(req Request) error
}
