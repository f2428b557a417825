package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var btcusd = InstrumentID{Symbol: "BTC-USD", Venue: "COINBASE"}

func TestNewQuoteTick_PrecisionPairing(t *testing.T) {
	_, err := NewQuoteTick(btcusd,
		MustPrice(50000.1234, 4), MustPrice(50001.12345, 5),
		MustQuantity(1, 8), MustQuantity(1, 8), 1, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'bid_price.precision' was not equal to 'ask_price.precision'")

	_, err = NewQuoteTick(btcusd,
		MustPrice(50000.12, 2), MustPrice(50001.13, 2),
		MustQuantity(1, 4), MustQuantity(1, 8), 1, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'bid_size.precision' was not equal to 'ask_size.precision'")

	q, err := NewQuoteTick(btcusd,
		MustPrice(50000.12, 2), MustPrice(50001.13, 2),
		MustQuantity(1, 8), MustQuantity(2, 8), 1, 2)
	require.NoError(t, err)
	assert.InDelta(t, 50000.625, q.MidPrice(), 1e-9)
}

func TestNewTradeTick_SizeMustBePositive(t *testing.T) {
	_, err := NewTradeTick(btcusd, MustPrice(50000, 2), MustQuantity(0, 8),
		AggressorSideBuyer, "T-1", 1, 2)
	assert.ErrorContains(t, err, "'size' must be positive")
}

func TestNewOrderBookDelta_ZeroSizeUpdateBecomesDelete(t *testing.T) {
	d := NewOrderBookDelta(btcusd, BookActionUpdate, OrderSideBuy,
		MustPrice(50000, 2), MustQuantity(0, 8), 7, 0, 42, 1, 2)
	assert.Equal(t, BookActionDelete, d.Action)

	d = NewOrderBookDelta(btcusd, BookActionUpdate, OrderSideBuy,
		MustPrice(50000, 2), MustQuantity(1, 8), 7, 0, 43, 1, 2)
	assert.Equal(t, BookActionUpdate, d.Action)
}

func TestNewBar_OHLCOrdering(t *testing.T) {
	bt := BarType{InstrumentID: btcusd, Spec: BarSpecification{Step: 1, Aggregation: BarAggregationMinute}}

	_, err := NewBar(bt, MustPrice(105, 0), MustPrice(104, 0), MustPrice(99, 0),
		MustPrice(100, 0), MustQuantity(1, 0), 1, 2)
	assert.ErrorContains(t, err, "'open'")

	_, err = NewBar(bt, MustPrice(100, 0), MustPrice(99, 0), MustPrice(101, 0),
		MustPrice(100, 0), MustQuantity(1, 0), 1, 2)
	assert.ErrorContains(t, err, "below 'low'")

	b, err := NewBar(bt, MustPrice(100, 0), MustPrice(104, 0), MustPrice(99, 0),
		MustPrice(102, 0), MustQuantity(5, 0), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "102", b.Close.String())
}

func TestParseBarType_RoundTrip(t *testing.T) {
	bt := BarType{
		InstrumentID: btcusd,
		Spec:         BarSpecification{Step: 3, Aggregation: BarAggregationTick},
		Source:       AggregationSourceInternal,
	}
	parsed, err := ParseBarType(bt.String())
	require.NoError(t, err)
	assert.Equal(t, bt, parsed)
}

func TestParseInstrumentID(t *testing.T) {
	id, err := ParseInstrumentID("BTC-USD.COINBASE")
	require.NoError(t, err)
	assert.Equal(t, btcusd, id)
	assert.Equal(t, "BTC-USD.COINBASE", id.String())

	_, err = ParseInstrumentID("NODOTVENUE")
	assert.Error(t, err)
}
