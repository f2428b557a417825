// Package order holds the order aggregate: an immutable init record, an
// append-only event log and a derived status guarded by the lifecycle state
// machine.
package order

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trading-node-go/model"
)

// Order is the aggregate. It is owned by the cache; other components hold
// read-only references and communicate changes through events.
type Order struct {
	init   model.OrderInitialized
	events []model.OrderEvent
	status model.OrderStatus

	venueOrderID model.VenueOrderID
	accountID    model.AccountID
	positionID   model.PositionID

	quantity     model.Quantity
	price        *model.Price
	triggerPrice *model.Price

	filledQty  model.Quantity
	avgPx      decimal.Decimal
	commission map[model.Currency]decimal.Decimal

	appliedEvents map[string]struct{}
	appliedFills  map[model.TradeID]struct{}

	tsLastEvent model.UnixNanos
}

// New builds an order aggregate from its init event.
func New(init model.OrderInitialized) (*Order, error) {
	if init.ClientOrderID == "" {
		return nil, fmt.Errorf("order: empty client order id")
	}
	if !init.Quantity.IsPositive() {
		return nil, fmt.Errorf("order %s: 'quantity' must be positive", init.ClientOrderID)
	}
	if init.OrderType.HasPrice() && init.Price == nil {
		return nil, fmt.Errorf("order %s: type %s requires a price", init.ClientOrderID, init.OrderType)
	}
	if init.OrderType.HasTrigger() && init.TriggerPrice == nil {
		return nil, fmt.Errorf("order %s: type %s requires a trigger price", init.ClientOrderID, init.OrderType)
	}
	o := &Order{
		init:          init,
		events:        []model.OrderEvent{init},
		status:        model.OrderStatusInitialized,
		quantity:      init.Quantity,
		price:         init.Price,
		triggerPrice:  init.TriggerPrice,
		filledQty:     model.Quantity{Precision: init.Quantity.Precision},
		commission:    make(map[model.Currency]decimal.Decimal),
		appliedEvents: map[string]struct{}{init.EventID: {}},
		appliedFills:  make(map[model.TradeID]struct{}),
		tsLastEvent:   init.TsEvent,
	}
	return o, nil
}

// Read accessors.

func (o *Order) Init() model.OrderInitialized        { return o.init }
func (o *Order) Status() model.OrderStatus           { return o.status }
func (o *Order) ClientOrderID() model.ClientOrderID  { return o.init.ClientOrderID }
func (o *Order) VenueOrderID() model.VenueOrderID    { return o.venueOrderID }
func (o *Order) AccountID() model.AccountID          { return o.accountID }
func (o *Order) PositionID() model.PositionID        { return o.positionID }
func (o *Order) InstrumentID() model.InstrumentID    { return o.init.InstrumentID }
func (o *Order) StrategyID() model.StrategyID        { return o.init.StrategyID }
func (o *Order) Side() model.OrderSide               { return o.init.Side }
func (o *Order) Type() model.OrderType               { return o.init.OrderType }
func (o *Order) TimeInForce() model.TimeInForce      { return o.init.TimeInForce }
func (o *Order) Quantity() model.Quantity            { return o.quantity }
func (o *Order) Price() *model.Price                 { return o.price }
func (o *Order) TriggerPrice() *model.Price          { return o.triggerPrice }
func (o *Order) FilledQty() model.Quantity           { return o.filledQty }
func (o *Order) IsReduceOnly() bool                  { return o.init.ReduceOnly }
func (o *Order) IsPostOnly() bool                    { return o.init.PostOnly }
func (o *Order) TsLastEvent() model.UnixNanos        { return o.tsLastEvent }
func (o *Order) EventCount() int                     { return len(o.events) }

// Events returns a copy of the event log.
func (o *Order) Events() []model.OrderEvent {
	out := make([]model.OrderEvent, len(o.events))
	copy(out, o.events)
	return out
}

// AvgPx is the fill-weighted mean price, zero before the first fill.
func (o *Order) AvgPx() float64 {
	f, _ := o.avgPx.Float64()
	return f
}

// LeavesQty is the unfilled remainder; zero once terminal.
func (o *Order) LeavesQty() model.Quantity {
	if o.status.IsTerminal() {
		return model.Quantity{Precision: o.quantity.Precision}
	}
	left, err := o.quantity.Sub(o.filledQty)
	if err != nil {
		return model.Quantity{Precision: o.quantity.Precision}
	}
	return left
}

// Commissions returns accumulated commission per currency.
func (o *Order) Commissions() []model.Money {
	out := make([]model.Money, 0, len(o.commission))
	for ccy, amt := range o.commission {
		out = append(out, model.Money{Amount: amt, Currency: ccy})
	}
	return out
}

func (o *Order) IsOpen() bool     { return o.status.IsOpen() }
func (o *Order) IsClosed() bool   { return o.status.IsTerminal() }
func (o *Order) IsInflight() bool { return o.status.IsInflight() }

// WouldReduceOnly reports whether executing this order against the given
// signed position quantity can only shrink absolute exposure.
func (o *Order) WouldReduceOnly(positionSide model.PositionSide, positionQty model.Quantity) bool {
	return WouldReduceOnly(o.init.Side, o.quantity, positionSide, positionQty)
}

// WouldReduceOnly is the side-level rule: a buy reduces a short, a sell
// reduces a long, and the order quantity must not exceed the position.
func WouldReduceOnly(side model.OrderSide, qty model.Quantity, positionSide model.PositionSide, positionQty model.Quantity) bool {
	switch positionSide {
	case model.PositionSideLong:
		return side == model.OrderSideSell && qty.Cmp(positionQty) <= 0
	case model.PositionSideShort:
		return side == model.OrderSideBuy && qty.Cmp(positionQty) <= 0
	default:
		return false
	}
}

// Apply routes event through the state machine and mutates the aggregate on
// success. Duplicate events (same event id, or a fill with an already-seen
// trade id) are no-ops so reconciliation replays stay idempotent.
func (o *Order) Apply(event model.OrderEvent) error {
	base := event.EventBase()
	if base.EventID != "" {
		if _, seen := o.appliedEvents[base.EventID]; seen {
			return nil
		}
	}

	switch ev := event.(type) {
	case model.OrderInitialized:
		return &InvalidStateTrigger{
			ClientOrderID: o.init.ClientOrderID,
			Current:       o.status,
			Trigger:       model.OrderStatusInitialized,
			EventName:     ev.EventName(),
		}
	case model.OrderDenied:
		return o.transition(event, model.OrderStatusDenied, nil)
	case model.OrderEmulated:
		return o.transition(event, model.OrderStatusEmulated, nil)
	case model.OrderReleased:
		return o.transition(event, model.OrderStatusReleased, nil)
	case model.OrderSubmitted:
		return o.transition(event, model.OrderStatusSubmitted, func() {
			o.accountID = base.AccountID
		})
	case model.OrderAccepted:
		return o.transition(event, model.OrderStatusAccepted, func() {
			if base.VenueOrderID != "" {
				o.venueOrderID = base.VenueOrderID
			}
			if base.AccountID != "" {
				o.accountID = base.AccountID
			}
		})
	case model.OrderRejected:
		return o.transition(event, model.OrderStatusRejected, nil)
	case model.OrderCanceled:
		return o.transition(event, model.OrderStatusCanceled, nil)
	case model.OrderExpired:
		return o.transition(event, model.OrderStatusExpired, nil)
	case model.OrderTriggered:
		return o.transition(event, model.OrderStatusTriggered, nil)
	case model.OrderPendingUpdate:
		return o.transition(event, model.OrderStatusPendingUpdate, nil)
	case model.OrderPendingCancel:
		return o.transition(event, model.OrderStatusPendingCancel, nil)
	case model.OrderUpdated:
		return o.applyUpdated(ev)
	case model.OrderFilled:
		return o.applyFilled(ev)
	default:
		return fmt.Errorf("order %s: unhandled event %T", o.init.ClientOrderID, event)
	}
}

func (o *Order) transition(event model.OrderEvent, to model.OrderStatus, mutate func()) error {
	if !defaultStateMachine.CanTransition(o.status, to) {
		return &InvalidStateTrigger{
			ClientOrderID: o.init.ClientOrderID,
			Current:       o.status,
			Trigger:       to,
			EventName:     event.EventName(),
		}
	}
	if mutate != nil {
		mutate()
	}
	o.commit(event, to)
	return nil
}

// applyUpdated acknowledges a modification. From PendingUpdate the status
// returns to Accepted; otherwise the status is unchanged (venues may amend
// in place).
func (o *Order) applyUpdated(ev model.OrderUpdated) error {
	target := o.status
	if o.status == model.OrderStatusPendingUpdate {
		target = model.OrderStatusAccepted
		if !defaultStateMachine.CanTransition(o.status, target) {
			return &InvalidStateTrigger{
				ClientOrderID: o.init.ClientOrderID,
				Current:       o.status,
				Trigger:       target,
				EventName:     ev.EventName(),
			}
		}
	} else if o.status.IsTerminal() || o.status == model.OrderStatusInitialized {
		return &InvalidStateTrigger{
			ClientOrderID: o.init.ClientOrderID,
			Current:       o.status,
			Trigger:       target,
			EventName:     ev.EventName(),
		}
	}
	if ev.Quantity.IsPositive() {
		o.quantity = ev.Quantity
	}
	if ev.Price != nil {
		o.price = ev.Price
	}
	if ev.TriggerPrice != nil {
		o.triggerPrice = ev.TriggerPrice
	}
	o.commit(ev, target)
	return nil
}

// applyFilled computes the cumulative quantity first and selects Filled iff
// filled == quantity, else PartiallyFilled.
func (o *Order) applyFilled(ev model.OrderFilled) error {
	if _, seen := o.appliedFills[ev.TradeID]; seen {
		return nil
	}
	if !ev.LastQty.IsPositive() {
		return fmt.Errorf("order %s: fill 'last_qty' must be positive", o.init.ClientOrderID)
	}

	newFilled, err := o.filledQty.Add(ev.LastQty)
	if err != nil {
		return fmt.Errorf("order %s: %w", o.init.ClientOrderID, err)
	}
	if newFilled.Cmp(o.quantity) > 0 {
		return fmt.Errorf("order %s: fill overflows quantity (%s > %s)",
			o.init.ClientOrderID, newFilled, o.quantity)
	}

	target := model.OrderStatusPartiallyFilled
	if newFilled.Cmp(o.quantity) == 0 {
		target = model.OrderStatusFilled
	}
	if !defaultStateMachine.CanTransition(o.status, target) {
		return &InvalidStateTrigger{
			ClientOrderID: o.init.ClientOrderID,
			Current:       o.status,
			Trigger:       target,
			EventName:     ev.EventName(),
		}
	}

	// Weighted mean over all fills.
	prevNotional := o.avgPx.Mul(o.filledQty.Decimal())
	lastNotional := ev.LastPx.Decimal().Mul(ev.LastQty.Decimal())
	o.avgPx = prevNotional.Add(lastNotional).Div(newFilled.Decimal())

	o.filledQty = newFilled
	if ev.PositionID != "" {
		o.positionID = ev.PositionID
	}
	if ev.VenueOrderID != "" {
		o.venueOrderID = ev.VenueOrderID
	}
	if !ev.Commission.Amount.IsZero() {
		o.commission[ev.Commission.Currency] = o.commission[ev.Commission.Currency].Add(ev.Commission.Amount)
	}
	o.appliedFills[ev.TradeID] = struct{}{}
	o.commit(ev, target)
	return nil
}

func (o *Order) commit(event model.OrderEvent, status model.OrderStatus) {
	base := event.EventBase()
	o.events = append(o.events, event)
	o.status = status
	if base.EventID != "" {
		o.appliedEvents[base.EventID] = struct{}{}
	}
	if base.TsEvent > o.tsLastEvent {
		o.tsLastEvent = base.TsEvent
	}
}
