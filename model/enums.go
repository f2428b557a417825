package model

// OrderSide is the direction of an order.
type OrderSide uint8

const (
	OrderSideNoSide OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "BUY"
	case OrderSideSell:
		return "SELL"
	default:
		return "NO_SIDE"
	}
}

// Opposite returns the other side; NoSide maps to itself.
func (s OrderSide) Opposite() OrderSide {
	switch s {
	case OrderSideBuy:
		return OrderSideSell
	case OrderSideSell:
		return OrderSideBuy
	default:
		return OrderSideNoSide
	}
}

// OrderType enumerates supported order types.
type OrderType uint8

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
	OrderTypeStopMarket
	OrderTypeStopLimit
	OrderTypeMarketToLimit
	OrderTypeMarketIfTouched
	OrderTypeLimitIfTouched
	OrderTypeTrailingStopMarket
	OrderTypeTrailingStopLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeStopMarket:
		return "STOP_MARKET"
	case OrderTypeStopLimit:
		return "STOP_LIMIT"
	case OrderTypeMarketToLimit:
		return "MARKET_TO_LIMIT"
	case OrderTypeMarketIfTouched:
		return "MARKET_IF_TOUCHED"
	case OrderTypeLimitIfTouched:
		return "LIMIT_IF_TOUCHED"
	case OrderTypeTrailingStopMarket:
		return "TRAILING_STOP_MARKET"
	case OrderTypeTrailingStopLimit:
		return "TRAILING_STOP_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// HasPrice reports whether the type carries a limit price.
func (t OrderType) HasPrice() bool {
	switch t {
	case OrderTypeLimit, OrderTypeStopLimit, OrderTypeLimitIfTouched, OrderTypeTrailingStopLimit:
		return true
	default:
		return false
	}
}

// HasTrigger reports whether the type carries a trigger price.
func (t OrderType) HasTrigger() bool {
	switch t {
	case OrderTypeStopMarket, OrderTypeStopLimit, OrderTypeMarketIfTouched,
		OrderTypeLimitIfTouched, OrderTypeTrailingStopMarket, OrderTypeTrailingStopLimit:
		return true
	default:
		return false
	}
}

// TimeInForce enumerates order lifetimes.
type TimeInForce uint8

const (
	TimeInForceGTC TimeInForce = iota
	TimeInForceIOC
	TimeInForceFOK
	TimeInForceGTD
	TimeInForceDay
	TimeInForceAtTheOpen
	TimeInForceAtTheClose
)

func (t TimeInForce) String() string {
	switch t {
	case TimeInForceGTC:
		return "GTC"
	case TimeInForceIOC:
		return "IOC"
	case TimeInForceFOK:
		return "FOK"
	case TimeInForceGTD:
		return "GTD"
	case TimeInForceDay:
		return "DAY"
	case TimeInForceAtTheOpen:
		return "AT_THE_OPEN"
	case TimeInForceAtTheClose:
		return "AT_THE_CLOSE"
	default:
		return "UNKNOWN"
	}
}

// OrderStatus is the derived lifecycle status of an order aggregate.
type OrderStatus uint8

const (
	OrderStatusInitialized OrderStatus = iota
	OrderStatusDenied
	OrderStatusEmulated
	OrderStatusReleased
	OrderStatusSubmitted
	OrderStatusAccepted
	OrderStatusRejected
	OrderStatusCanceled
	OrderStatusExpired
	OrderStatusTriggered
	OrderStatusPendingUpdate
	OrderStatusPendingCancel
	OrderStatusPartiallyFilled
	OrderStatusFilled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusInitialized:
		return "INITIALIZED"
	case OrderStatusDenied:
		return "DENIED"
	case OrderStatusEmulated:
		return "EMULATED"
	case OrderStatusReleased:
		return "RELEASED"
	case OrderStatusSubmitted:
		return "SUBMITTED"
	case OrderStatusAccepted:
		return "ACCEPTED"
	case OrderStatusRejected:
		return "REJECTED"
	case OrderStatusCanceled:
		return "CANCELED"
	case OrderStatusExpired:
		return "EXPIRED"
	case OrderStatusTriggered:
		return "TRIGGERED"
	case OrderStatusPendingUpdate:
		return "PENDING_UPDATE"
	case OrderStatusPendingCancel:
		return "PENDING_CANCEL"
	case OrderStatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderStatusFilled:
		return "FILLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transitions are legal.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDenied, OrderStatusRejected, OrderStatusCanceled,
		OrderStatusExpired, OrderStatusFilled:
		return true
	default:
		return false
	}
}

// IsInflight reports whether the last action awaits venue acknowledgement.
func (s OrderStatus) IsInflight() bool {
	switch s {
	case OrderStatusSubmitted, OrderStatusPendingUpdate, OrderStatusPendingCancel:
		return true
	default:
		return false
	}
}

// IsOpen reports whether the order can still trade at the venue.
func (s OrderStatus) IsOpen() bool {
	switch s {
	case OrderStatusAccepted, OrderStatusTriggered, OrderStatusPendingUpdate,
		OrderStatusPendingCancel, OrderStatusPartiallyFilled:
		return true
	default:
		return false
	}
}

// AggressorSide is the side of the aggressing party in a trade.
type AggressorSide uint8

const (
	AggressorSideNoAggressor AggressorSide = iota
	AggressorSideBuyer
	AggressorSideSeller
)

func (s AggressorSide) String() string {
	switch s {
	case AggressorSideBuyer:
		return "BUYER"
	case AggressorSideSeller:
		return "SELLER"
	default:
		return "NO_AGGRESSOR"
	}
}

// BookAction is an incremental order-book operation.
type BookAction uint8

const (
	BookActionAdd BookAction = iota
	BookActionUpdate
	BookActionDelete
	BookActionClear
)

func (a BookAction) String() string {
	switch a {
	case BookActionAdd:
		return "ADD"
	case BookActionUpdate:
		return "UPDATE"
	case BookActionDelete:
		return "DELETE"
	case BookActionClear:
		return "CLEAR"
	default:
		return "UNKNOWN"
	}
}

// PositionSide is the directional exposure of a position.
type PositionSide uint8

const (
	PositionSideFlat PositionSide = iota
	PositionSideLong
	PositionSideShort
)

func (s PositionSide) String() string {
	switch s {
	case PositionSideLong:
		return "LONG"
	case PositionSideShort:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// AccountType enumerates venue account models.
type AccountType uint8

const (
	AccountTypeCash AccountType = iota
	AccountTypeMargin
	AccountTypeBetting
)

func (t AccountType) String() string {
	switch t {
	case AccountTypeCash:
		return "CASH"
	case AccountTypeMargin:
		return "MARGIN"
	case AccountTypeBetting:
		return "BETTING"
	default:
		return "UNKNOWN"
	}
}

// ContingencyType relates orders within a list.
type ContingencyType uint8

const (
	ContingencyTypeNone ContingencyType = iota
	ContingencyTypeOCO
	ContingencyTypeOTO
	ContingencyTypeOUO
)

func (t ContingencyType) String() string {
	switch t {
	case ContingencyTypeOCO:
		return "OCO"
	case ContingencyTypeOTO:
		return "OTO"
	case ContingencyTypeOUO:
		return "OUO"
	default:
		return "NONE"
	}
}
