package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-node-go/model"
)

var btcusd = model.InstrumentID{Symbol: "BTC-USD", Venue: "COINBASE"}

func limitBuyInit(qty, px float64) model.OrderInitialized {
	price := model.MustPrice(px, 2)
	return model.OrderInitialized{
		OrderEventBase: model.OrderEventBase{
			EventID:       model.NewEventID(),
			TraderID:      "TRADER-001",
			StrategyID:    "S-001",
			InstrumentID:  btcusd,
			ClientOrderID: "O-19700101-000000-001-001-1",
			TsEvent:       1,
			TsInit:        1,
		},
		Side:        model.OrderSideBuy,
		OrderType:   model.OrderTypeLimit,
		Quantity:    model.MustQuantity(qty, 1),
		TimeInForce: model.TimeInForceGTC,
		Price:       &price,
	}
}

func evBase(o *Order, ts int64) model.OrderEventBase {
	return model.OrderEventBase{
		EventID:       model.NewEventID(),
		TraderID:      o.Init().TraderID,
		StrategyID:    o.Init().StrategyID,
		InstrumentID:  o.Init().InstrumentID,
		ClientOrderID: o.ClientOrderID(),
		VenueOrderID:  "V-1",
		AccountID:     "COINBASE-001",
		TsEvent:       ts,
		TsInit:        ts,
	}
}

func fill(o *Order, tradeID string, qty, px float64, ts int64) model.OrderFilled {
	return model.OrderFilled{
		OrderEventBase: evBase(o, ts),
		TradeID:        model.TradeID(tradeID),
		Side:           o.Side(),
		LastQty:        model.MustQuantity(qty, 1),
		LastPx:         model.MustPrice(px, 2),
		Commission:     model.MoneyFromFloat(0.1, model.USDT),
	}
}

func TestOrder_HappyPathLifecycle(t *testing.T) {
	o, err := New(limitBuyInit(1.0, 50000))
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusInitialized, o.Status())

	require.NoError(t, o.Apply(model.OrderSubmitted{OrderEventBase: evBase(o, 2)}))
	assert.Equal(t, model.OrderStatusSubmitted, o.Status())

	require.NoError(t, o.Apply(model.OrderAccepted{OrderEventBase: evBase(o, 3)}))
	assert.Equal(t, model.OrderStatusAccepted, o.Status())
	assert.Equal(t, model.VenueOrderID("V-1"), o.VenueOrderID())

	require.NoError(t, o.Apply(fill(o, "T-1", 0.4, 50000, 4)))
	assert.Equal(t, model.OrderStatusPartiallyFilled, o.Status())
	assert.Equal(t, "0.4", o.FilledQty().String())
	assert.Equal(t, "0.6", o.LeavesQty().String())

	require.NoError(t, o.Apply(fill(o, "T-2", 0.6, 50000, 5)))
	assert.Equal(t, model.OrderStatusFilled, o.Status())
	assert.Equal(t, "1.0", o.FilledQty().String())
	assert.Equal(t, 50000.0, o.AvgPx())
	assert.True(t, o.IsClosed())
}

func TestOrder_AvgPxWeightedMean(t *testing.T) {
	o, _ := New(limitBuyInit(1.0, 50000))
	require.NoError(t, o.Apply(model.OrderSubmitted{OrderEventBase: evBase(o, 2)}))
	require.NoError(t, o.Apply(model.OrderAccepted{OrderEventBase: evBase(o, 3)}))

	require.NoError(t, o.Apply(fill(o, "T-1", 0.5, 50000, 4)))
	require.NoError(t, o.Apply(fill(o, "T-2", 0.5, 50100, 5)))
	assert.Equal(t, 50050.0, o.AvgPx())
	assert.Equal(t, model.OrderStatusFilled, o.Status())
}

func TestOrder_IllegalTransitionLeavesStateUntouched(t *testing.T) {
	o, _ := New(limitBuyInit(1.0, 50000))

	err := o.Apply(fill(o, "T-1", 1.0, 50000, 2))
	var trigger *InvalidStateTrigger
	require.ErrorAs(t, err, &trigger)
	assert.Equal(t, model.OrderStatusInitialized, trigger.Current)
	assert.Equal(t, model.OrderStatusFilled, trigger.Trigger)

	assert.Equal(t, model.OrderStatusInitialized, o.Status())
	assert.True(t, o.FilledQty().IsZero())
	assert.Equal(t, 1, o.EventCount())
}

func TestOrder_TerminalStateRejectsEvents(t *testing.T) {
	o, _ := New(limitBuyInit(1.0, 50000))
	require.NoError(t, o.Apply(model.OrderSubmitted{OrderEventBase: evBase(o, 2)}))
	require.NoError(t, o.Apply(model.OrderRejected{OrderEventBase: evBase(o, 3), Reason: "INSUFFICIENT_BALANCE"}))
	assert.Equal(t, model.OrderStatusRejected, o.Status())

	err := o.Apply(model.OrderAccepted{OrderEventBase: evBase(o, 4)})
	var trigger *InvalidStateTrigger
	assert.ErrorAs(t, err, &trigger)
}

func TestOrder_DuplicateEventIsNoOp(t *testing.T) {
	o, _ := New(limitBuyInit(1.0, 50000))
	require.NoError(t, o.Apply(model.OrderSubmitted{OrderEventBase: evBase(o, 2)}))

	accepted := model.OrderAccepted{OrderEventBase: evBase(o, 3)}
	accepted.Reconciliation = true
	require.NoError(t, o.Apply(accepted))
	countAfterFirst := o.EventCount()

	// Same event id replayed by reconciliation: no-op, same state.
	require.NoError(t, o.Apply(accepted))
	assert.Equal(t, countAfterFirst, o.EventCount())
	assert.Equal(t, model.OrderStatusAccepted, o.Status())
}

func TestOrder_DuplicateFillByTradeIDIsNoOp(t *testing.T) {
	o, _ := New(limitBuyInit(1.0, 50000))
	require.NoError(t, o.Apply(model.OrderSubmitted{OrderEventBase: evBase(o, 2)}))
	require.NoError(t, o.Apply(model.OrderAccepted{OrderEventBase: evBase(o, 3)}))

	f1 := fill(o, "T-1", 0.4, 50000, 4)
	require.NoError(t, o.Apply(f1))

	// Same trade id under a different event id must not double-fill.
	f2 := fill(o, "T-1", 0.4, 50000, 5)
	require.NoError(t, o.Apply(f2))
	assert.Equal(t, "0.4", o.FilledQty().String())
	assert.Equal(t, model.OrderStatusPartiallyFilled, o.Status())
}

func TestOrder_FillOverflowRejected(t *testing.T) {
	o, _ := New(limitBuyInit(1.0, 50000))
	require.NoError(t, o.Apply(model.OrderSubmitted{OrderEventBase: evBase(o, 2)}))
	require.NoError(t, o.Apply(model.OrderAccepted{OrderEventBase: evBase(o, 3)}))

	err := o.Apply(fill(o, "T-1", 1.5, 50000, 4))
	assert.ErrorContains(t, err, "overflows quantity")
	assert.True(t, o.FilledQty().IsZero())
}

func TestOrder_PendingUpdateAckRestoresAccepted(t *testing.T) {
	o, _ := New(limitBuyInit(1.0, 50000))
	require.NoError(t, o.Apply(model.OrderSubmitted{OrderEventBase: evBase(o, 2)}))
	require.NoError(t, o.Apply(model.OrderAccepted{OrderEventBase: evBase(o, 3)}))
	require.NoError(t, o.Apply(model.OrderPendingUpdate{OrderEventBase: evBase(o, 4)}))
	assert.True(t, o.IsInflight())

	newPx := model.MustPrice(49900, 2)
	require.NoError(t, o.Apply(model.OrderUpdated{
		OrderEventBase: evBase(o, 5),
		Quantity:       model.MustQuantity(2.0, 1),
		Price:          &newPx,
	}))
	assert.Equal(t, model.OrderStatusAccepted, o.Status())
	assert.Equal(t, "2.0", o.Quantity().String())
	assert.Equal(t, "49900.00", o.Price().String())
}

func TestOrder_PendingCancelCanStillFill(t *testing.T) {
	o, _ := New(limitBuyInit(1.0, 50000))
	require.NoError(t, o.Apply(model.OrderSubmitted{OrderEventBase: evBase(o, 2)}))
	require.NoError(t, o.Apply(model.OrderAccepted{OrderEventBase: evBase(o, 3)}))
	require.NoError(t, o.Apply(model.OrderPendingCancel{OrderEventBase: evBase(o, 4)}))

	require.NoError(t, o.Apply(fill(o, "T-1", 1.0, 50000, 5)))
	assert.Equal(t, model.OrderStatusFilled, o.Status())
}

func TestOrder_RequiresPriceForLimitTypes(t *testing.T) {
	init := limitBuyInit(1.0, 50000)
	init.Price = nil
	_, err := New(init)
	assert.ErrorContains(t, err, "requires a price")

	stop := limitBuyInit(1.0, 50000)
	stop.OrderType = model.OrderTypeStopMarket
	stop.Price = nil
	_, err = New(stop)
	assert.ErrorContains(t, err, "requires a trigger price")
}

func TestWouldReduceOnly(t *testing.T) {
	qty := model.MustQuantity(1.0, 1)
	pos := model.MustQuantity(2.0, 1)

	assert.True(t, WouldReduceOnly(model.OrderSideSell, qty, model.PositionSideLong, pos))
	assert.True(t, WouldReduceOnly(model.OrderSideBuy, qty, model.PositionSideShort, pos))
	assert.False(t, WouldReduceOnly(model.OrderSideBuy, qty, model.PositionSideLong, pos))
	assert.False(t, WouldReduceOnly(model.OrderSideSell, qty, model.PositionSideFlat, model.MustQuantity(0, 1)))

	// Overshooting the position would flip it, not reduce it.
	big := model.MustQuantity(3.0, 1)
	assert.False(t, WouldReduceOnly(model.OrderSideSell, big, model.PositionSideLong, pos))
}

func TestOrder_CommissionsAccumulatePerCurrency(t *testing.T) {
	o, _ := New(limitBuyInit(1.0, 50000))
	require.NoError(t, o.Apply(model.OrderSubmitted{OrderEventBase: evBase(o, 2)}))
	require.NoError(t, o.Apply(model.OrderAccepted{OrderEventBase: evBase(o, 3)}))
	require.NoError(t, o.Apply(fill(o, "T-1", 0.4, 50000, 4)))
	require.NoError(t, o.Apply(fill(o, "T-2", 0.6, 50000, 5)))

	comms := o.Commissions()
	require.Len(t, comms, 1)
	assert.Equal(t, "0.20000000 USDT", comms[0].String())
}
