package model

// OrderEventBase carries the fields shared by every order event. Events
// generated by reconciliation set Reconciliation so replays stay idempotent.
type OrderEventBase struct {
	EventID        string
	TraderID       TraderID
	StrategyID     StrategyID
	InstrumentID   InstrumentID
	ClientOrderID  ClientOrderID
	VenueOrderID   VenueOrderID
	AccountID      AccountID
	Reconciliation bool
	TsEvent        UnixNanos
	TsInit         UnixNanos
}

// OrderEvent is the sum type over the order lifecycle events. The aggregate
// owns status derivation; events only describe the fact.
type OrderEvent interface {
	EventBase() OrderEventBase
	EventName() string
}

// OrderInitialized is the immutable init record of an order aggregate.
type OrderInitialized struct {
	OrderEventBase
	Side                OrderSide
	OrderType           OrderType
	Quantity            Quantity
	TimeInForce         TimeInForce
	Price               *Price
	TriggerPrice        *Price
	ExpireTime          UnixNanos
	PostOnly            bool
	ReduceOnly          bool
	QuoteQuantity       bool
	EmulationActive     bool
	Contingency         ContingencyType
	OrderListID         OrderListID
	LinkedOrderIDs      []ClientOrderID
	ParentOrderID       ClientOrderID
	ExecAlgorithmID     ExecAlgorithmID
	ExecAlgorithmParams map[string]string
	Tags                []string
}

func (e OrderInitialized) EventBase() OrderEventBase { return e.OrderEventBase }
func (e OrderInitialized) EventName() string         { return "OrderInitialized" }

// OrderDenied: refused locally (risk or validation) before submission.
type OrderDenied struct {
	OrderEventBase
	Reason string
}

func (e OrderDenied) EventBase() OrderEventBase { return e.OrderEventBase }
func (e OrderDenied) EventName() string         { return "OrderDenied" }

// OrderEmulated: held by a local emulator rather than the venue.
type OrderEmulated struct {
	OrderEventBase
}

func (e OrderEmulated) EventBase() OrderEventBase { return e.OrderEventBase }
func (e OrderEmulated) EventName() string         { return "OrderEmulated" }

// OrderReleased: released from emulation for submission.
type OrderReleased struct {
	OrderEventBase
	ReleasedPrice Price
}

func (e OrderReleased) EventBase() OrderEventBase { return e.OrderEventBase }
func (e OrderReleased) EventName() string         { return "OrderReleased" }

// OrderSubmitted: handed to the execution client.
type OrderSubmitted struct {
	OrderEventBase
}

func (e OrderSubmitted) EventBase() OrderEventBase { return e.OrderEventBase }
func (e OrderSubmitted) EventName() string         { return "OrderSubmitted" }

// OrderAccepted: acknowledged working at the venue.
type OrderAccepted struct {
	OrderEventBase
}

func (e OrderAccepted) EventBase() OrderEventBase { return e.OrderEventBase }
func (e OrderAccepted) EventName() string         { return "OrderAccepted" }

// OrderRejected: refused by the venue; code and message preserved verbatim.
type OrderRejected struct {
	OrderEventBase
	Reason string
}

func (e OrderRejected) EventBase() OrderEventBase { return e.OrderEventBase }
func (e OrderRejected) EventName() string         { return "OrderRejected" }

// OrderCanceled: removed from the venue book.
type OrderCanceled struct {
	OrderEventBase
}

func (e OrderCanceled) EventBase() OrderEventBase { return e.OrderEventBase }
func (e OrderCanceled) EventName() string         { return "OrderCanceled" }

// OrderExpired: lapsed by time-in-force.
type OrderExpired struct {
	OrderEventBase
}

func (e OrderExpired) EventBase() OrderEventBase { return e.OrderEventBase }
func (e OrderExpired) EventName() string         { return "OrderExpired" }

// OrderTriggered: stop/touch condition met.
type OrderTriggered struct {
	OrderEventBase
}

func (e OrderTriggered) EventBase() OrderEventBase { return e.OrderEventBase }
func (e OrderTriggered) EventName() string         { return "OrderTriggered" }

// OrderPendingUpdate: modify request sent, awaiting acknowledgement.
type OrderPendingUpdate struct {
	OrderEventBase
}

func (e OrderPendingUpdate) EventBase() OrderEventBase { return e.OrderEventBase }
func (e OrderPendingUpdate) EventName() string         { return "OrderPendingUpdate" }

// OrderPendingCancel: cancel request sent, awaiting acknowledgement.
type OrderPendingCancel struct {
	OrderEventBase
}

func (e OrderPendingCancel) EventBase() OrderEventBase { return e.OrderEventBase }
func (e OrderPendingCancel) EventName() string         { return "OrderPendingCancel" }

// OrderUpdated: venue acknowledged a modification of qty/price/trigger.
type OrderUpdated struct {
	OrderEventBase
	Quantity     Quantity
	Price        *Price
	TriggerPrice *Price
}

func (e OrderUpdated) EventBase() OrderEventBase { return e.OrderEventBase }
func (e OrderUpdated) EventName() string         { return "OrderUpdated" }

// OrderFilled: a fill against the order. The aggregate derives
// PartiallyFilled vs Filled from cumulative quantity.
type OrderFilled struct {
	OrderEventBase
	TradeID    TradeID
	PositionID PositionID
	Side       OrderSide
	LastQty    Quantity
	LastPx     Price
	Commission Money
	LiquiditySide string
}

func (e OrderFilled) EventBase() OrderEventBase { return e.OrderEventBase }
func (e OrderFilled) EventName() string         { return "OrderFilled" }
