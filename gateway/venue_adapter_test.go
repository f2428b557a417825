package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trading-node-go/data"
	"trading-node-go/execution"
	"trading-node-go/model"
)

func newTestAdapter(t *testing.T, server *wsTestServer, restURL string, cfg AdapterConfig) *VenueAdapter {
	t.Helper()
	cfg.ClientID = "TESTNET-1"
	cfg.Venue = "TESTNET"
	cfg.AccountID = "TESTNET-ACC"
	if server != nil {
		cfg.WSURL = server.url()
	}
	cfg.RESTURL = restURL
	cfg.APIKey = "key"
	cfg.APISecret = "secret"
	return NewVenueAdapter(zap.NewNop(), cfg)
}

func pushFrame(t *testing.T, server *wsTestServer, frameType string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	raw, err := json.Marshal(Envelope{Type: frameType, Data: payload})
	require.NoError(t, err)
	server.mu.Lock()
	defer server.mu.Unlock()
	require.NotEmpty(t, server.conns)
	require.NoError(t, server.conns[0].WriteMessage(1, raw))
}

func TestVenueAdapter_TradeFrameToModel(t *testing.T) {
	server := newWSTestServer(t)

	var mu sync.Mutex
	var got []any
	adapter := newTestAdapter(t, server, "", AdapterConfig{
		OnData: func(d any) {
			mu.Lock()
			got = append(got, d)
			mu.Unlock()
		},
	})
	require.NoError(t, adapter.Connect())
	defer adapter.Disconnect()

	pushFrame(t, server, frameTrade, wireTrade{
		Symbol: "BTCUSDT", Price: "50000.10", Qty: "0.250",
		Maker: true, TradeID: "T-1", TsEvent: 1700000000000000000,
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	tick, ok := got[0].(model.TradeTick)
	mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT.TESTNET", tick.InstrumentID.String())
	assert.Equal(t, "50000.10", tick.Price.String())
	assert.Equal(t, "0.250", tick.Size.String())
	assert.Equal(t, model.AggressorSideSeller, tick.Aggressor)
}

func TestVenueAdapter_OrderUpdateFrameToEvent(t *testing.T) {
	server := newWSTestServer(t)

	var mu sync.Mutex
	var events []model.OrderEvent
	adapter := newTestAdapter(t, server, "", AdapterConfig{
		OnOrderEvent: func(ev model.OrderEvent) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
	})
	require.NoError(t, adapter.Connect())
	defer adapter.Disconnect()

	pushFrame(t, server, frameOrderUpdate, wireOrderUpdate{
		Symbol: "BTCUSDT", ClientOrderID: "O-1", VenueOrderID: "V-1",
		Status: "FILLED", Side: "BUY", LastQty: "1.0", LastPrice: "50000.0",
		Commission: "0.05", CommissionCcy: "USDT", TradeID: "T-9",
		TsEvent: 1700000000000000000,
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	fill, ok := events[0].(model.OrderFilled)
	mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, model.ClientOrderID("O-1"), fill.ClientOrderID)
	assert.Equal(t, model.TradeID("T-9"), fill.TradeID)
	assert.Equal(t, "USDT", fill.Commission.Currency.Code)
}

func TestVenueAdapter_UnknownVenueStatusMapsToCanceled(t *testing.T) {
	raw, err := json.Marshal(wireOrderUpdate{
		Symbol: "BTCUSDT", ClientOrderID: "O-2", Status: "HALTED_WEIRDLY",
	})
	require.NoError(t, err)

	ev, parseErr := parseOrderUpdate(raw, "TESTNET", "ACC", 1)
	require.Error(t, parseErr)
	_, ok := ev.(model.OrderCanceled)
	assert.True(t, ok)
}

// recordingWSServer keeps every inbound message instead of echoing.
type recordingWSServer struct {
	*wsTestServer
	recMu    sync.Mutex
	received []string
}

func newRecordingWSServer(t *testing.T) *recordingWSServer {
	t.Helper()
	s := &recordingWSServer{wsTestServer: &wsTestServer{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.connCount.Add(1)
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.recMu.Lock()
			s.received = append(s.received, string(data))
			s.recMu.Unlock()
		}
	}))
	t.Cleanup(s.Server.Close)
	return s
}

func (s *recordingWSServer) messages() []string {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	return append([]string(nil), s.received...)
}

func TestVenueAdapter_SubscribeSendsOpAndReplaysOnReconnect(t *testing.T) {
	server := newRecordingWSServer(t)

	adapter := newTestAdapter(t, server.wsTestServer, "", AdapterConfig{
		WS: WSConfig{
			Reconnect: ReconnectConfig{
				InitialDelay:  50 * time.Millisecond,
				MaxDelay:      time.Second,
				BackoffFactor: 2,
				Timeout:       10 * time.Second,
			},
		},
	})
	require.NoError(t, adapter.Connect())
	defer adapter.Disconnect()

	sub := data.Subscription{
		Type:         data.DataTypeTradeTicks,
		InstrumentID: model.InstrumentID{Symbol: "BTCUSDT", Venue: "TESTNET"},
	}
	require.NoError(t, adapter.Subscribe(sub))

	require.Eventually(t, func() bool {
		return len(server.messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	first := server.messages()[0]
	assert.Contains(t, first, "trade.BTCUSDT")
	assert.Contains(t, first, "subscribe")

	server.dropAll()

	// After reconnect the active streams are replayed.
	require.Eventually(t, func() bool {
		return len(server.messages()) >= 2
	}, 5*time.Second, 10*time.Millisecond)
	msgs := server.messages()
	assert.Contains(t, msgs[len(msgs)-1], "trade.BTCUSDT")
}

func restTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	s := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(s.Close)
	return s
}

func TestVenueAdapter_SubmitOrderSignsRequest(t *testing.T) {
	var gotQuery string
	var gotKey string
	rest := restTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("X-API-KEY")
		w.Write([]byte(`{}`))
	})

	adapter := newTestAdapter(t, nil, rest.URL, AdapterConfig{})
	price := model.MustPrice(50000, 2)
	err := adapter.SubmitOrder(context.Background(), execution.SubmitOrder{
		Init: model.OrderInitialized{
			OrderEventBase: model.OrderEventBase{
				ClientOrderID: "O-1",
				InstrumentID:  model.InstrumentID{Symbol: "BTCUSDT", Venue: "TESTNET"},
			},
			Side:      model.OrderSideBuy,
			OrderType: model.OrderTypeLimit,
			Quantity:  model.MustQuantity(1, 3),
			Price:     &price,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "key", gotKey)
	assert.Contains(t, gotQuery, "symbol=BTCUSDT")
	assert.Contains(t, gotQuery, "side=BUY")
	assert.Contains(t, gotQuery, "signature=")
	assert.Contains(t, gotQuery, "timestamp=")
}

func TestVenueAdapter_QueryOrderUnknownReturnsNil(t *testing.T) {
	rest := restTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"order": null}`))
	})
	adapter := newTestAdapter(t, nil, rest.URL, AdapterConfig{})

	report, err := adapter.QueryOrder(context.Background(), "O-404", "")
	require.NoError(t, err)
	assert.Nil(t, report)
}

func TestVenueAdapter_RequestOrderStatusReports(t *testing.T) {
	rest := restTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/orders", r.URL.Path)
		w.Write([]byte(`{"orders":[
			{"s":"BTCUSDT","c":"O-1","i":"V-1","X":"PARTIALLY_FILLED","S":"BUY",
			 "o":"LIMIT","f":"GTC","q":"2.000","z":"0.500","p":"50000.00",
			 "ap":"50000.0","T":1700000000000000000,"E":1700000001000000000}
		]}`))
	})
	adapter := newTestAdapter(t, nil, rest.URL, AdapterConfig{})

	reports, err := adapter.RequestOrderStatusReports(context.Background(), execution.ReportQuery{})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	r := reports[0]
	assert.Equal(t, model.OrderStatusPartiallyFilled, r.Status)
	assert.Equal(t, "2.000", r.Quantity.String())
	assert.Equal(t, "0.500", r.FilledQty.String())
	require.NotNil(t, r.Price)
	assert.Equal(t, "50000.00", r.Price.String())
	assert.Equal(t, "BTCUSDT.TESTNET", r.InstrumentID.String())
}

func TestVenueAdapter_RequestAccountState(t *testing.T) {
	rest := restTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"B":[{"a":"USDT","wb":"1000.5","lk":"100.5"}],"E":1700000000000000000}`))
	})
	adapter := newTestAdapter(t, nil, rest.URL, AdapterConfig{})

	state, err := adapter.RequestAccountState(context.Background())
	require.NoError(t, err)
	require.Len(t, state.Balances, 1)
	assert.Equal(t, "USDT", state.Balances[0].Currency.Code)
	assert.Equal(t, "900", state.Balances[0].Free.String())
	assert.True(t, state.Reported)
}
