package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trading-node-go/bus"
	"trading-node-go/cache"
	"trading-node-go/clock"
	"trading-node-go/model"
)

var ethusdt = model.InstrumentID{Symbol: "ETHUSDT", Venue: "BINANCE"}

type fakeClient struct {
	id        model.ClientID
	venue     model.Venue
	started   bool
	connected bool
	subs      []Subscription
	unsubs    []Subscription
	requests  []Request
	engine    *Engine
}

func (f *fakeClient) ID() model.ClientID  { return f.id }
func (f *fakeClient) Venue() model.Venue  { return f.venue }
func (f *fakeClient) Start() error        { f.started = true; return nil }
func (f *fakeClient) Stop() error         { f.started = false; return nil }
func (f *fakeClient) Reset() error        { return nil }
func (f *fakeClient) Dispose() error      { return nil }
func (f *fakeClient) Connect() error      { f.connected = true; return nil }
func (f *fakeClient) Disconnect() error   { f.connected = false; return nil }
func (f *fakeClient) IsConnected() bool   { return f.connected }

func (f *fakeClient) Subscribe(sub Subscription) error   { f.subs = append(f.subs, sub); return nil }
func (f *fakeClient) Unsubscribe(sub Subscription) error { f.unsubs = append(f.unsubs, sub); return nil }

func (f *fakeClient) Request(req Request) error {
	f.requests = append(f.requests, req)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeClient, *bus.Bus, *cache.Cache, *clock.TestClock) {
	t.Helper()
	clk := clock.NewTestClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	msgb := bus.New(zap.NewNop())
	c := cache.New(zap.NewNop(), nil)
	e := NewEngine(zap.NewNop(), msgb, c, clk, DefaultEngineConfig())
	fc := &fakeClient{id: "BINANCE-DATA", venue: "BINANCE"}
	fc.engine = e
	require.NoError(t, e.RegisterClient(fc))
	return e, fc, msgb, c, clk
}

func TestEngine_SubscribeIdempotentUnsubscribeNoOp(t *testing.T) {
	e, fc, _, _, _ := newTestEngine(t)

	sub := Subscription{Type: DataTypeQuoteTicks, InstrumentID: ethusdt}
	require.NoError(t, e.Subscribe(sub))
	require.NoError(t, e.Subscribe(sub))
	assert.Len(t, fc.subs, 1, "duplicate subscribe reaches the client once")
	assert.Equal(t, 1, e.SubscriptionCount())

	// Unknown unsubscribe is a no-op.
	require.NoError(t, e.Unsubscribe(Subscription{Type: DataTypeTradeTicks, InstrumentID: ethusdt}))
	assert.Empty(t, fc.unsubs)

	require.NoError(t, e.Unsubscribe(sub))
	assert.Len(t, fc.unsubs, 1)
	assert.Zero(t, e.SubscriptionCount())
}

func TestEngine_ProcessCachesAndPublishes(t *testing.T) {
	e, _, msgb, c, _ := newTestEngine(t)

	var got []model.QuoteTick
	msgb.Subscribe("data.quotes.BINANCE.*", func(msg any) {
		got = append(got, msg.(model.QuoteTick))
	})

	q, err := model.NewQuoteTick(ethusdt,
		model.MustPrice(1999, 2), model.MustPrice(2001, 2),
		model.MustQuantity(1, 3), model.MustQuantity(1, 3), 1, 1)
	require.NoError(t, err)
	e.Process(q)

	require.Len(t, got, 1)
	cached, ok := c.QuoteTick(ethusdt)
	require.True(t, ok)
	assert.Equal(t, q, cached)
}

func internalBarType(step uint64, agg model.BarAggregation) model.BarType {
	return model.BarType{
		InstrumentID: ethusdt,
		Spec:         model.BarSpecification{Step: step, Aggregation: agg},
		Source:       model.AggregationSourceInternal,
	}
}

func tradeTick(px, sz float64, ts int64) model.TradeTick {
	tk, err := model.NewTradeTick(ethusdt, model.MustPrice(px, 0), model.MustQuantity(sz, 0),
		model.AggressorSideBuyer, model.TradeID(model.NewEventID()), ts, ts)
	if err != nil {
		panic(err)
	}
	return tk
}

func TestEngine_InternalBarAggregationFromTrades(t *testing.T) {
	e, fc, msgb, c, _ := newTestEngine(t)

	bt := internalBarType(2, model.BarAggregationTick)
	var bars []model.Bar
	msgb.Subscribe("data.bars.**", func(msg any) { bars = append(bars, msg.(model.Bar)) })

	require.NoError(t, e.Subscribe(Subscription{Type: DataTypeBars, InstrumentID: ethusdt, BarType: &bt}))

	// The venue sees a trade subscription, not a bar subscription.
	require.Len(t, fc.subs, 1)
	assert.Equal(t, DataTypeTradeTicks, fc.subs[0].Type)

	e.Process(tradeTick(100, 1, 1))
	e.Process(tradeTick(101, 1, 2))
	require.Len(t, bars, 1)
	assert.Equal(t, "101", bars[0].Close.String())

	cached, ok := c.Bar(bt)
	require.True(t, ok)
	assert.Equal(t, bars[0], cached)

	// Unsubscribing tears the aggregator down; further trades emit nothing.
	require.NoError(t, e.Unsubscribe(Subscription{Type: DataTypeBars, InstrumentID: ethusdt, BarType: &bt}))
	e.Process(tradeTick(102, 1, 3))
	e.Process(tradeTick(103, 1, 4))
	assert.Len(t, bars, 1)
}

func TestEngine_TimeBarsUseClock(t *testing.T) {
	e, _, msgb, _, clk := newTestEngine(t)

	bt := internalBarType(1, model.BarAggregationSecond)
	var bars []model.Bar
	msgb.Subscribe("data.bars.**", func(msg any) { bars = append(bars, msg.(model.Bar)) })

	require.NoError(t, e.Subscribe(Subscription{Type: DataTypeBars, InstrumentID: ethusdt, BarType: &bt}))
	e.Process(tradeTick(100, 1, clk.UnixNanos()+int64(200*time.Millisecond)))
	clk.Advance(time.Second)

	require.Len(t, bars, 1)
	assert.Equal(t, "100", bars[0].Close.String())
}

func TestEngine_BookDeltasMaintainBook(t *testing.T) {
	e, _, msgb, _, _ := newTestEngine(t)

	var published int
	msgb.Subscribe("data.book.deltas.**", func(any) { published++ })

	d := model.NewOrderBookDelta(ethusdt, model.BookActionAdd, model.OrderSideBuy,
		model.MustPrice(2000, 2), model.MustQuantity(1, 3), 1, 0, 1, 1, 1)
	e.Process(d)

	book, ok := e.OrderBook(ethusdt)
	require.True(t, ok)
	bid, ok := book.BestBid()
	require.True(t, ok)
	assert.Equal(t, "2000.00", bid.Price.String())
	assert.Equal(t, 1, published)
}

func TestEngine_RequestResponseCorrelation(t *testing.T) {
	e, fc, _, _, _ := newTestEngine(t)

	var got *Response
	id, err := e.Request(Request{Type: DataTypeBars, InstrumentID: ethusdt},
		func(r Response) { got = &r })
	require.NoError(t, err)
	require.Len(t, fc.requests, 1)
	assert.Equal(t, id, fc.requests[0].CorrelationID)

	e.OnResponse(Response{CorrelationID: id, Data: []model.Bar{}})
	require.NotNil(t, got)

	// A second response with the same id is unmatched and dropped.
	got = nil
	e.OnResponse(Response{CorrelationID: id})
	assert.Nil(t, got)
}

func TestEngine_StartStopClients(t *testing.T) {
	e, fc, _, _, _ := newTestEngine(t)
	require.NoError(t, e.Start())
	assert.True(t, fc.started)
	e.Stop()
	assert.False(t, fc.started)
}
