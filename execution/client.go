// Package execution routes trading commands to venue clients, applies
// inbound order events through the lifecycle state machine and converges
// local state with the venue through reconciliation.
package execution

import (
	"context"

	"trading-node-go/model"
	"trading-node-go/portfolio"
)

// SubmitOrder carries the full order definition; the engine builds the
// aggregate before routing.
type SubmitOrder struct {
	Init model.OrderInitialized
}

type ModifyOrder struct {
	ClientOrderID model.ClientOrderID
	Quantity      *model.Quantity
	Price         *model.Price
	TriggerPrice  *model.Price
}

type CancelOrder struct {
	ClientOrderID model.ClientOrderID
}

type CancelAll struct {
	InstrumentID model.InstrumentID
	Side         model.OrderSide // NoSide cancels both sides
}

type BatchCancel struct {
	InstrumentID   model.InstrumentID
	ClientOrderIDs []model.ClientOrderID
}

// OrderStatusReport is the venue's authoritative view of one order.
// Adapters map unexpected venue states to Canceled and log a warning.
type OrderStatusReport struct {
	AccountID     model.AccountID
	InstrumentID  model.InstrumentID
	ClientOrderID model.ClientOrderID
	VenueOrderID  model.VenueOrderID
	Side          model.OrderSide
	OrderType     model.OrderType
	TimeInForce   model.TimeInForce
	Status        model.OrderStatus
	Quantity      model.Quantity
	FilledQty     model.Quantity
	Price         *model.Price
	AvgPx         float64
	Reason        string // populated for Rejected
	TsAccepted    model.UnixNanos
	TsLast        model.UnixNanos
}

type FillReport struct {
	AccountID     model.AccountID
	InstrumentID  model.InstrumentID
	ClientOrderID model.ClientOrderID
	VenueOrderID  model.VenueOrderID
	TradeID       model.TradeID
	Side          model.OrderSide
	LastQty       model.Quantity
	LastPx        model.Price
	Commission    model.Money
	LiquiditySide string
	TsEvent       model.UnixNanos
}

type PositionStatusReport struct {
	AccountID    model.AccountID
	InstrumentID model.InstrumentID
	Side         model.PositionSide
	Quantity     model.Quantity
	TsLast       model.UnixNanos
}

// MassStatus bundles everything a startup reconcile needs from one client.
type MassStatus struct {
	ClientID        model.ClientID
	AccountID       model.AccountID
	Venue           model.Venue
	OrderReports    []OrderStatusReport
	FillReports     []FillReport
	PositionReports []PositionStatusReport
	TsInit          model.UnixNanos
}

// ReportQuery scopes report requests. Zero values mean unbounded.
type ReportQuery struct {
	InstrumentID model.InstrumentID
	Start        model.UnixNanos
	End          model.UnixNanos
	OpenOnly     bool
}

// Client is a venue execution adapter. Command methods are fire-and-forget
// from the engine's view: acknowledgements come back as order events
// through Engine.Process.
type Client interface {
	ID() model.ClientID
	Venue() model.Venue
	AccountID() model.AccountID

	Start() error
	Stop() error
	Connect() error
	Disconnect() error
	IsConnected() bool

	SubmitOrder(ctx context.Context, cmd SubmitOrder) error
	ModifyOrder(ctx context.Context, cmd ModifyOrder) error
	CancelOrder(ctx context.Context, cmd CancelOrder) error
	CancelAllOrders(ctx context.Context, cmd CancelAll) error
	BatchCancel(ctx context.Context, cmd BatchCancel) error

	// QueryOrder returns nil when the venue has no record of the order.
	QueryOrder(ctx context.Context, clientOrderID model.ClientOrderID, venueOrderID model.VenueOrderID) (*OrderStatusReport, error)

	RequestOrderStatusReports(ctx context.Context, q ReportQuery) ([]OrderStatusReport, error)
	RequestFillReports(ctx context.Context, q ReportQuery) ([]FillReport, error)
	RequestPositionStatusReports(ctx context.Context, q ReportQuery) ([]PositionStatusReport, error)
	RequestAccountState(ctx context.Context) (portfolio.AccountState, error)
}
