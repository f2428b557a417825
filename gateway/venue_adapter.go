package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-node-go/data"
	"trading-node-go/execution"
	"trading-node-go/model"
	"trading-node-go/portfolio"
)

// AdapterConfig wires one venue connection.
type AdapterConfig struct {
	ClientID  model.ClientID
	Venue     model.Venue
	AccountID model.AccountID

	WSURL     string
	RESTURL   string
	APIKey    string
	APISecret string

	WS WSConfig // URL/Handler filled in by the adapter

	// OnData receives parsed market data (engine.Process).
	OnData func(any)
	// OnOrderEvent receives parsed order lifecycle events (engine.Process).
	OnOrderEvent func(model.OrderEvent)
	// OnAccountState receives venue account snapshots.
	OnAccountState func(portfolio.AccountState)
}

// VenueAdapter speaks the venue's WebSocket and REST protocol and
// translates both ways between wire messages and the model. It serves as
// both the data client and the execution client for its venue.
type VenueAdapter struct {
	log  *zap.Logger
	cfg  AdapterConfig
	ws   *WSClient
	rest *RESTClient

	mu      sync.Mutex
	subs    map[string]struct{} // active stream names, replayed after reconnect
	started bool
}

var (
	_ data.Client      = (*VenueAdapter)(nil)
	_ execution.Client = (*VenueAdapter)(nil)
)

func NewVenueAdapter(log *zap.Logger, cfg AdapterConfig) *VenueAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	a := &VenueAdapter{
		log:  log,
		cfg:  cfg,
		rest: NewRESTClient(cfg.RESTURL, cfg.APIKey, cfg.APISecret),
		subs: make(map[string]struct{}),
	}
	wsCfg := cfg.WS
	wsCfg.URL = cfg.WSURL
	wsCfg.Handler = a.handleFrame
	wsCfg.PostReconnection = a.resubscribe
	a.ws = NewWSClient(log, wsCfg)
	return a
}

func (a *VenueAdapter) ID() model.ClientID { return a.cfg.ClientID }
func (a *VenueAdapter) Venue() model.Venue { return a.cfg.Venue }
func (a *VenueAdapter) AccountID() model.AccountID { return a.cfg.AccountID }

func (a *VenueAdapter) Start() error {
	a.mu.Lock()
	a.started = true
	a.mu.Unlock()
	return nil
}

func (a *VenueAdapter) Stop() error {
	a.mu.Lock()
	a.started = false
	a.mu.Unlock()
	return nil
}

func (a *VenueAdapter) Reset() error {
	a.mu.Lock()
	a.subs = make(map[string]struct{})
	a.mu.Unlock()
	return nil
}

func (a *VenueAdapter) Dispose() error { return a.Stop() }

// Connect satisfies the data client; the execution side shares the socket.
func (a *VenueAdapter) Connect() error {
	return a.ws.Connect(context.Background())
}

func (a *VenueAdapter) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.ws.cfg.ReadTimeout)
	defer cancel()
	return a.ws.Disconnect(ctx)
}

func (a *VenueAdapter) IsConnected() bool { return a.ws.IsConnected() }

// --- data side ---

// streamName renders a subscription as the venue's stream identifier.
func streamName(sub data.Subscription) string {
	symbol := string(sub.InstrumentID.Symbol)
	switch sub.Type {
	case data.DataTypeTradeTicks:
		return "trade." + symbol
	case data.DataTypeQuoteTicks:
		return "quote." + symbol
	case data.DataTypeOrderBookDeltas:
		return "book_delta." + symbol
	case data.DataTypeMarkPrices:
		return "mark_price." + symbol
	case data.DataTypeIndexPrices:
		return "index_price." + symbol
	case data.DataTypeFundingRates:
		return "funding." + symbol
	default:
		return strings.ToLower(sub.Type.String()) + "." + symbol
	}
}

type wsOp struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func (a *VenueAdapter) Subscribe(sub data.Subscription) error {
	stream := streamName(sub)
	a.mu.Lock()
	a.subs[stream] = struct{}{}
	a.mu.Unlock()
	return a.sendOp("subscribe", stream)
}

func (a *VenueAdapter) Unsubscribe(sub data.Subscription) error {
	stream := streamName(sub)
	a.mu.Lock()
	delete(a.subs, stream)
	a.mu.Unlock()
	return a.sendOp("unsubscribe", stream)
}

func (a *VenueAdapter) sendOp(op, stream string) error {
	msg, err := json.Marshal(wsOp{Op: op, Args: []string{stream}})
	if err != nil {
		return err
	}
	if err := a.ws.SendText(msg); err != nil {
		return fmt.Errorf("venue adapter: %s %s: %w", op, stream, err)
	}
	return nil
}

// resubscribe replays the active streams on the fresh connection.
func (a *VenueAdapter) resubscribe() {
	a.mu.Lock()
	streams := make([]string, 0, len(a.subs))
	for s := range a.subs {
		streams = append(streams, s)
	}
	a.mu.Unlock()
	if len(streams) == 0 {
		return
	}
	msg, err := json.Marshal(wsOp{Op: "subscribe", Args: streams})
	if err != nil {
		return
	}
	if err := a.ws.SendText(msg); err != nil {
		a.log.Warn("venue adapter: resubscribe failed", zap.Error(err))
		return
	}
	a.log.Info("venue adapter: resubscribed", zap.Int("streams", len(streams)))
}

// Request is answered from REST history endpoints; only bars and trades
// are served, other types return an error to the caller via the engine.
func (a *VenueAdapter) Request(req data.Request) error {
	a.log.Warn("venue adapter: historical requests not supported",
		zap.String("type", req.Type.String()),
		zap.String("correlation_id", req.CorrelationID))
	return fmt.Errorf("venue adapter: request type %s not supported", req.Type)
}

func (a *VenueAdapter) handleFrame(_ int, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		a.log.Warn("venue adapter: bad frame", zap.Error(err))
		return
	}
	tsInit := now()
	switch env.Type {
	case frameTrade:
		tick, err := parseTrade(env.Data, a.cfg.Venue, tsInit)
		if err != nil {
			a.log.Warn("venue adapter: trade frame", zap.Error(err))
			return
		}
		a.emitData(tick)
	case frameQuote:
		tick, err := parseQuote(env.Data, a.cfg.Venue, tsInit)
		if err != nil {
			a.log.Warn("venue adapter: quote frame", zap.Error(err))
			return
		}
		a.emitData(tick)
	case frameBookDelta:
		delta, err := parseBookDelta(env.Data, a.cfg.Venue, tsInit)
		if err != nil {
			a.log.Warn("venue adapter: book delta frame", zap.Error(err))
			return
		}
		a.emitData(delta)
	case frameOrderUpdate:
		ev, err := parseOrderUpdate(env.Data, a.cfg.Venue, a.cfg.AccountID, tsInit)
		if err != nil {
			a.log.Warn("venue adapter: order update frame", zap.Error(err))
		}
		if ev != nil && a.cfg.OnOrderEvent != nil {
			a.cfg.OnOrderEvent(ev)
		}
	case frameAccountUpdate:
		state, err := a.parseAccountUpdate(env.Data, tsInit)
		if err != nil {
			a.log.Warn("venue adapter: account update frame", zap.Error(err))
			return
		}
		if a.cfg.OnAccountState != nil {
			a.cfg.OnAccountState(state)
		}
	case framePong:
	default:
		a.log.Debug("venue adapter: unhandled frame", zap.String("type", env.Type))
	}
}

func (a *VenueAdapter) emitData(d any) {
	if a.cfg.OnData != nil {
		a.cfg.OnData(d)
	}
}

func (a *VenueAdapter) parseAccountUpdate(raw []byte, tsInit int64) (portfolio.AccountState, error) {
	var w wireAccountUpdate
	if err := json.Unmarshal(raw, &w); err != nil {
		return portfolio.AccountState{}, err
	}
	balances := make([]portfolio.AccountBalance, 0, len(w.Balances))
	for _, b := range w.Balances {
		total, err := decimal.NewFromString(b.Total)
		if err != nil {
			return portfolio.AccountState{}, fmt.Errorf("balance total %s: %w", b.Asset, err)
		}
		locked := decimal.Zero
		if b.Locked != "" {
			locked, err = decimal.NewFromString(b.Locked)
			if err != nil {
				return portfolio.AccountState{}, fmt.Errorf("balance locked %s: %w", b.Asset, err)
			}
		}
		ccy, err := model.NewCurrency(b.Asset, 8)
		if err != nil {
			return portfolio.AccountState{}, err
		}
		bal, err := portfolio.NewAccountBalance(ccy, total, locked, total.Sub(locked))
		if err != nil {
			return portfolio.AccountState{}, err
		}
		balances = append(balances, bal)
	}
	return portfolio.AccountState{
		EventID:   model.NewEventID(),
		AccountID: a.cfg.AccountID,
		Type:      model.AccountTypeMargin,
		Balances:  balances,
		Reported:  true,
		TsEvent:   w.TsEvent,
		TsInit:    tsInit,
	}, nil
}
