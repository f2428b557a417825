package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trading-node-go/bus"
	"trading-node-go/cache"
	"trading-node-go/clock"
	"trading-node-go/model"
	"trading-node-go/order"
	"trading-node-go/portfolio"
)

var btcusdt = model.InstrumentID{Symbol: "BTCUSDT", Venue: "BINANCE"}

type fakeExecClient struct {
	mu       sync.Mutex
	id       model.ClientID
	venue    model.Venue
	submits  []SubmitOrder
	cancels  []CancelOrder
	modifies []ModifyOrder

	queryResult  *OrderStatusReport
	queryErr     error
	orderReports []OrderStatusReport
	fillReports  []FillReport
	posReports   []PositionStatusReport
	accountState portfolio.AccountState
}

func (f *fakeExecClient) ID() model.ClientID         { return f.id }
func (f *fakeExecClient) Venue() model.Venue         { return f.venue }
func (f *fakeExecClient) AccountID() model.AccountID { return "ACC-1" }
func (f *fakeExecClient) Start() error               { return nil }
func (f *fakeExecClient) Stop() error                { return nil }
func (f *fakeExecClient) Connect() error             { return nil }
func (f *fakeExecClient) Disconnect() error          { return nil }
func (f *fakeExecClient) IsConnected() bool          { return true }

func (f *fakeExecClient) SubmitOrder(_ context.Context, cmd SubmitOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, cmd)
	return nil
}

func (f *fakeExecClient) ModifyOrder(_ context.Context, cmd ModifyOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modifies = append(f.modifies, cmd)
	return nil
}

func (f *fakeExecClient) CancelOrder(_ context.Context, cmd CancelOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, cmd)
	return nil
}

func (f *fakeExecClient) CancelAllOrders(context.Context, CancelAll) error { return nil }
func (f *fakeExecClient) BatchCancel(context.Context, BatchCancel) error   { return nil }

func (f *fakeExecClient) QueryOrder(context.Context, model.ClientOrderID, model.VenueOrderID) (*OrderStatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queryResult, f.queryErr
}

func (f *fakeExecClient) RequestOrderStatusReports(context.Context, ReportQuery) ([]OrderStatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orderReports, nil
}

func (f *fakeExecClient) RequestFillReports(context.Context, ReportQuery) ([]FillReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fillReports, nil
}

func (f *fakeExecClient) RequestPositionStatusReports(context.Context, ReportQuery) ([]PositionStatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posReports, nil
}

func (f *fakeExecClient) RequestAccountState(context.Context) (portfolio.AccountState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accountState, nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeExecClient, *cache.Cache, *clock.TestClock) {
	t.Helper()
	clk := clock.NewTestClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := cache.New(zap.NewNop(), nil)
	e := NewEngine(zap.NewNop(), bus.New(zap.NewNop()), c, clk, "TRADER-001", DefaultEngineConfig())
	fc := &fakeExecClient{id: "BINANCE-EXEC", venue: "BINANCE"}
	require.NoError(t, e.RegisterClient(fc))
	return e, fc, c, clk
}

func limitInit(clientID string, qty float64) model.OrderInitialized {
	px := model.MustPrice(50000, 2)
	return model.OrderInitialized{
		OrderEventBase: model.OrderEventBase{
			EventID:       model.NewEventID(),
			TraderID:      "TRADER-001",
			StrategyID:    "S-1",
			InstrumentID:  btcusdt,
			ClientOrderID: model.ClientOrderID(clientID),
			TsEvent:       1,
			TsInit:        1,
		},
		Side:        model.OrderSideBuy,
		OrderType:   model.OrderTypeLimit,
		Quantity:    model.MustQuantity(qty, 1),
		TimeInForce: model.TimeInForceGTC,
		Price:       &px,
	}
}

func venueEvent(o *order.Order, ts int64) model.OrderEventBase {
	return model.OrderEventBase{
		EventID:       model.NewEventID(),
		StrategyID:    o.StrategyID(),
		InstrumentID:  o.InstrumentID(),
		ClientOrderID: o.ClientOrderID(),
		VenueOrderID:  "V-1",
		AccountID:     "ACC-1",
		TsEvent:       ts,
		TsInit:        ts,
	}
}

func TestEngine_SubmitRoutesAndTransitions(t *testing.T) {
	e, _, c, _ := newTestEngine(t)

	require.NoError(t, e.SubmitOrder(SubmitOrder{Init: limitInit("O-1", 1)}))
	o, ok := c.Order("O-1")
	require.True(t, ok)
	assert.Equal(t, model.OrderStatusSubmitted, o.Status())
}

func TestEngine_UnknownVenueDeniesOrder(t *testing.T) {
	e, _, c, _ := newTestEngine(t)

	init := limitInit("O-2", 1)
	init.InstrumentID = model.InstrumentID{Symbol: "BTC-USD", Venue: "UNKNOWN"}
	err := e.SubmitOrder(SubmitOrder{Init: init})
	require.ErrorIs(t, err, ErrUnknownVenue)

	o, ok := c.Order("O-2")
	require.True(t, ok)
	assert.Equal(t, model.OrderStatusDenied, o.Status())
}

func TestEngine_ProcessAppliesEventsAndUpdatesPosition(t *testing.T) {
	e, _, c, _ := newTestEngine(t)

	require.NoError(t, e.SubmitOrder(SubmitOrder{Init: limitInit("O-3", 1)}))
	o, _ := c.Order("O-3")

	e.Process(model.OrderAccepted{OrderEventBase: venueEvent(o, 2)})
	assert.Equal(t, model.OrderStatusAccepted, o.Status())

	e.Process(model.OrderFilled{
		OrderEventBase: venueEvent(o, 3),
		TradeID:        "T-1",
		Side:           model.OrderSideBuy,
		LastQty:        model.MustQuantity(1, 1),
		LastPx:         model.MustPrice(50000, 2),
	})
	assert.Equal(t, model.OrderStatusFilled, o.Status())

	p, ok := c.PositionFor(btcusdt, "ACC-1")
	require.True(t, ok)
	assert.Equal(t, model.PositionSideLong, p.Side())
	assert.Equal(t, "1", p.Quantity().String())
}

func TestEngine_InvalidTransitionDroppedAtWarning(t *testing.T) {
	e, _, c, _ := newTestEngine(t)

	require.NoError(t, e.SubmitOrder(SubmitOrder{Init: limitInit("O-4", 1)}))
	o, _ := c.Order("O-4")

	// Triggered is not reachable from Submitted; the event is dropped.
	e.Process(model.OrderTriggered{OrderEventBase: venueEvent(o, 2)})
	assert.Equal(t, model.OrderStatusSubmitted, o.Status())
}

func TestEngine_EventForUnknownOrderDropped(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	// Must not panic or create state.
	e.Process(model.OrderAccepted{OrderEventBase: model.OrderEventBase{
		EventID:       model.NewEventID(),
		ClientOrderID: "NEVER-SEEN",
	}})
}

func TestEngine_CancelAllScopesBySide(t *testing.T) {
	e, _, c, _ := newTestEngine(t)

	require.NoError(t, e.SubmitOrder(SubmitOrder{Init: limitInit("O-5", 1)}))
	sellInit := limitInit("O-6", 1)
	sellInit.Side = model.OrderSideSell
	require.NoError(t, e.SubmitOrder(SubmitOrder{Init: sellInit}))

	buy, _ := c.Order("O-5")
	sell, _ := c.Order("O-6")
	e.Process(model.OrderAccepted{OrderEventBase: venueEvent(buy, 2)})
	e.Process(model.OrderAccepted{OrderEventBase: venueEvent(sell, 2)})

	require.NoError(t, e.CancelAll(CancelAll{InstrumentID: btcusdt, Side: model.OrderSideBuy}))
	assert.Equal(t, model.OrderStatusPendingCancel, buy.Status())
	assert.Equal(t, model.OrderStatusAccepted, sell.Status())
}

func TestEngine_CommandQueueBounded(t *testing.T) {
	clk := clock.NewTestClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := cache.New(zap.NewNop(), nil)
	cfg := DefaultEngineConfig()
	cfg.QueueSize = 1
	e := NewEngine(zap.NewNop(), bus.New(zap.NewNop()), c, clk, "TRADER-001", cfg)
	fc := &fakeExecClient{id: "BINANCE-EXEC", venue: "BINANCE"}
	require.NoError(t, e.RegisterClient(fc))

	// Engine not started: nothing drains the queue.
	require.NoError(t, e.SubmitOrder(SubmitOrder{Init: limitInit("Q-1", 1)}))
	err := e.SubmitOrder(SubmitOrder{Init: limitInit("Q-2", 1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")
}
