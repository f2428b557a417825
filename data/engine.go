package data

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trading-node-go/bus"
	"trading-node-go/cache"
	"trading-node-go/clock"
	"trading-node-go/market"
	"trading-node-go/model"
)

// EngineConfig tunes data engine behavior.
type EngineConfig struct {
	// TimeBarsTimestampOnClose stamps internal time bars with the close time.
	TimeBarsTimestampOnClose bool `yaml:"time_bars_timestamp_on_close"`
	// TimeBarsIntervalLeftOpen makes internal time bar intervals (open, close].
	TimeBarsIntervalLeftOpen bool `yaml:"time_bars_interval_left_open"`
	// TimeBarsBuildWithNoUpdates emits flat bars for empty intervals.
	TimeBarsBuildWithNoUpdates bool `yaml:"time_bars_build_with_no_updates"`
	// ValidateDataSequence drops book deltas with stale sequence numbers.
	ValidateDataSequence bool `yaml:"validate_data_sequence"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{TimeBarsTimestampOnClose: true}
}

type subEntry struct {
	sub      Subscription
	clientID model.ClientID
}

// Engine owns the subscription registry and the inbound data path. Process
// is called from client goroutines; internal state is mutex-guarded and
// handlers run synchronously on the calling goroutine.
type Engine struct {
	log   *zap.Logger
	msgb  *bus.Bus
	cache *cache.Cache
	clk   clock.Clock
	cfg   EngineConfig

	mu            sync.Mutex
	clients       map[model.ClientID]Client
	routing       map[model.Venue]model.ClientID
	defaultClient model.ClientID
	subs          map[string]subEntry
	aggregators   map[string]market.Aggregator // internal bars, keyed by BarType.String()
	aggTrades     map[model.InstrumentID][]market.Aggregator
	books         map[model.InstrumentID]*market.OrderBook
	pending       map[string]ResponseHandler

	running bool
}

func NewEngine(log *zap.Logger, msgb *bus.Bus, c *cache.Cache, clk clock.Clock, cfg EngineConfig) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		log:         log,
		msgb:        msgb,
		cache:       c,
		clk:         clk,
		cfg:         cfg,
		clients:     make(map[model.ClientID]Client),
		routing:     make(map[model.Venue]model.ClientID),
		subs:        make(map[string]subEntry),
		aggregators: make(map[string]market.Aggregator),
		aggTrades:   make(map[model.InstrumentID][]market.Aggregator),
		books:       make(map[model.InstrumentID]*market.OrderBook),
		pending:     make(map[string]ResponseHandler),
	}
}

// RegisterClient adds a client and routes its venue to it. The first client
// registered becomes the default route.
func (e *Engine) RegisterClient(c Client) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.clients[c.ID()]; exists {
		return fmt.Errorf("data engine: client %s already registered", c.ID())
	}
	e.clients[c.ID()] = c
	if c.Venue() != "" {
		e.routing[c.Venue()] = c.ID()
	}
	if e.defaultClient == "" {
		e.defaultClient = c.ID()
	}
	return nil
}

func (e *Engine) RegisteredClients() []model.ClientID {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.ClientID, 0, len(e.clients))
	for id := range e.clients {
		out = append(out, id)
	}
	return out
}

func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	for id, c := range e.clients {
		if err := c.Start(); err != nil {
			return fmt.Errorf("data engine: start client %s: %w", id, err)
		}
	}
	e.running = true
	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	for key, agg := range e.aggregators {
		agg.Stop()
		delete(e.aggregators, key)
	}
	e.aggTrades = make(map[model.InstrumentID][]market.Aggregator)
	for id, c := range e.clients {
		if err := c.Stop(); err != nil {
			e.log.Warn("data engine: stop client failed",
				zap.String("client", string(id)), zap.Error(err))
		}
	}
	e.running = false
}

// SubscriptionCount reports registry size (for metrics and tests).
func (e *Engine) SubscriptionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// Subscribe registers the stream once; duplicates are idempotent. Internal
// bar subscriptions spin up an aggregator fed from the instrument's trade
// stream instead of reaching the venue.
func (e *Engine) Subscribe(sub Subscription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subscribeLocked(sub)
}

func (e *Engine) subscribeLocked(sub Subscription) error {
	key := sub.Key()
	if _, exists := e.subs[key]; exists {
		return nil
	}
	if sub.Type == DataTypeBars && sub.BarType != nil && sub.BarType.Source == model.AggregationSourceInternal {
		return e.startAggregatorLocked(sub, key)
	}
	clientID, c, err := e.resolveClientLocked(sub.InstrumentID.Venue)
	if err != nil {
		return err
	}
	if err := c.Subscribe(sub); err != nil {
		return fmt.Errorf("data engine: subscribe %s via %s: %w", key, clientID, err)
	}
	e.subs[key] = subEntry{sub: sub, clientID: clientID}
	e.log.Debug("subscribed", zap.String("key", key), zap.String("client", string(clientID)))
	return nil
}

// Unsubscribe removes the stream; unknown keys are a no-op.
func (e *Engine) Unsubscribe(sub Subscription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := sub.Key()
	entry, exists := e.subs[key]
	if !exists {
		return nil
	}
	if agg, ok := e.aggregators[aggKey(sub)]; ok {
		agg.Stop()
		delete(e.aggregators, aggKey(sub))
		e.removeAggregatorTradeFeedLocked(sub.BarType.InstrumentID, agg)
		delete(e.subs, key)
		return nil
	}
	c, ok := e.clients[entry.clientID]
	if ok {
		if err := c.Unsubscribe(sub); err != nil {
			e.log.Warn("data engine: unsubscribe failed",
				zap.String("key", key), zap.Error(err))
		}
	}
	delete(e.subs, key)
	return nil
}

func aggKey(sub Subscription) string {
	if sub.BarType == nil {
		return ""
	}
	return sub.BarType.String()
}

func (e *Engine) startAggregatorLocked(sub Subscription, key string) error {
	barType := *sub.BarType
	sizePrecision := uint8(0)
	if instr, ok := e.cache.Instrument(barType.InstrumentID); ok {
		sizePrecision = instr.SizePrecision()
	}
	handler := func(b model.Bar) { e.publishBar(b) }

	var agg market.Aggregator
	var err error
	switch barType.Spec.Aggregation {
	case model.BarAggregationTick:
		agg = market.NewTickBarAggregator(barType, sizePrecision, handler)
	case model.BarAggregationVolume:
		agg = market.NewVolumeBarAggregator(barType, sizePrecision, handler)
	case model.BarAggregationValue:
		agg = market.NewValueBarAggregator(barType, sizePrecision, handler)
	default:
		agg, err = market.NewTimeBarAggregator(barType, sizePrecision, e.clk, market.TimeBarConfig{
			TimestampOnClose:   e.cfg.TimeBarsTimestampOnClose,
			IntervalLeftOpen:   e.cfg.TimeBarsIntervalLeftOpen,
			BuildWithNoUpdates: e.cfg.TimeBarsBuildWithNoUpdates,
		}, handler)
		if err != nil {
			return err
		}
	}

	// The aggregator consumes the instrument's trade stream.
	if err := e.subscribeLocked(Subscription{
		Type:         DataTypeTradeTicks,
		InstrumentID: barType.InstrumentID,
	}); err != nil {
		agg.Stop()
		return err
	}
	e.aggregators[barType.String()] = agg
	e.aggTrades[barType.InstrumentID] = append(e.aggTrades[barType.InstrumentID], agg)
	e.subs[key] = subEntry{sub: sub}
	e.log.Debug("started bar aggregator", zap.String("bar_type", barType.String()))
	return nil
}

func (e *Engine) removeAggregatorTradeFeedLocked(id model.InstrumentID, target market.Aggregator) {
	feeds := e.aggTrades[id]
	for i, agg := range feeds {
		if agg == target {
			e.aggTrades[id] = append(feeds[:i], feeds[i+1:]...)
			break
		}
	}
	if len(e.aggTrades[id]) == 0 {
		delete(e.aggTrades, id)
	}
}

func (e *Engine) resolveClientLocked(venue model.Venue) (model.ClientID, Client, error) {
	id, ok := e.routing[venue]
	if !ok {
		id = e.defaultClient
	}
	c, ok := e.clients[id]
	if !ok {
		return "", nil, fmt.Errorf("data engine: no client for venue %s", venue)
	}
	return id, c, nil
}

// --- inbound data path ---

// Process takes inbound data from clients: caches the last value, feeds
// internal aggregators and publishes on the bus.
func (e *Engine) Process(data any) {
	switch d := data.(type) {
	case model.Instrument:
		e.cache.AddInstrument(d)
		e.msgb.Publish(topicInstrument(d.ID()), d)
	case model.QuoteTick:
		e.cache.AddQuoteTick(d)
		e.msgb.Publish(topicQuotes(d.InstrumentID), d)
	case model.TradeTick:
		e.cache.AddTradeTick(d)
		e.feedAggregators(d)
		e.msgb.Publish(topicTrades(d.InstrumentID), d)
	case model.Bar:
		e.publishBar(d)
	case model.OrderBookDelta:
		e.applyDelta(d)
	case model.MarkPrice:
		e.msgb.Publish(topicData("mark_prices", d.InstrumentID), d)
	case model.IndexPrice:
		e.msgb.Publish(topicData("index_prices", d.InstrumentID), d)
	case model.FundingRate:
		e.msgb.Publish(topicData("funding_rates", d.InstrumentID), d)
	case model.InstrumentStatus:
		e.msgb.Publish(topicData("status", d.InstrumentID), d)
	case model.InstrumentClose:
		e.msgb.Publish(topicData("close", d.InstrumentID), d)
	default:
		e.log.Warn("data engine: unrecognized data", zap.String("type", fmt.Sprintf("%T", data)))
	}
}

func (e *Engine) feedAggregators(tick model.TradeTick) {
	e.mu.Lock()
	feeds := make([]market.Aggregator, len(e.aggTrades[tick.InstrumentID]))
	copy(feeds, e.aggTrades[tick.InstrumentID])
	e.mu.Unlock()
	for _, agg := range feeds {
		agg.OnTrade(tick)
	}
}

func (e *Engine) publishBar(b model.Bar) {
	e.cache.AddBar(b)
	e.msgb.Publish(topicBars(b.BarType), b)
}

func (e *Engine) applyDelta(d model.OrderBookDelta) {
	e.mu.Lock()
	book, ok := e.books[d.InstrumentID]
	if !ok {
		book = market.NewOrderBook(d.InstrumentID)
		e.books[d.InstrumentID] = book
	}
	e.mu.Unlock()

	if e.cfg.ValidateDataSequence && d.Sequence != 0 && d.Sequence <= book.Sequence() {
		e.log.Warn("data engine: stale book delta dropped",
			zap.String("instrument", d.InstrumentID.String()),
			zap.Uint64("sequence", d.Sequence),
			zap.Uint64("book_sequence", book.Sequence()))
		return
	}
	if err := book.Apply(d); err != nil {
		e.log.Warn("data engine: book apply failed",
			zap.String("instrument", d.InstrumentID.String()), zap.Error(err))
		return
	}
	e.msgb.Publish(topicDeltas(d.InstrumentID), d)
}

// OrderBook returns the maintained book for the instrument, if any.
func (e *Engine) OrderBook(id model.InstrumentID) (*market.OrderBook, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	book, ok := e.books[id]
	return book, ok
}

// --- request/response ---

// Request routes a data request to the venue's client and registers the
// handler under a fresh correlation id, which is returned.
func (e *Engine) Request(req Request, handler ResponseHandler) (string, error) {
	e.mu.Lock()
	_, c, err := e.resolveClientLocked(req.InstrumentID.Venue)
	if err != nil {
		e.mu.Unlock()
		return "", err
	}
	req.CorrelationID = uuid.NewString()
	e.pending[req.CorrelationID] = handler
	e.mu.Unlock()

	if err := c.Request(req); err != nil {
		e.mu.Lock()
		delete(e.pending, req.CorrelationID)
		e.mu.Unlock()
		return "", err
	}
	return req.CorrelationID, nil
}

// OnResponse matches a client response to its pending request. Unmatched
// responses are dropped with a warning.
func (e *Engine) OnResponse(resp Response) {
	e.mu.Lock()
	handler, ok := e.pending[resp.CorrelationID]
	if ok {
		delete(e.pending, resp.CorrelationID)
	}
	e.mu.Unlock()
	if !ok {
		e.log.Warn("data engine: unmatched response dropped",
			zap.String("correlation_id", resp.CorrelationID))
		return
	}
	handler(resp)
}

// --- topics ---

func topicInstrument(id model.InstrumentID) string {
	return "data.instrument." + string(id.Venue) + "." + string(id.Symbol)
}

func topicQuotes(id model.InstrumentID) string {
	return "data.quotes." + string(id.Venue) + "." + string(id.Symbol)
}

func topicTrades(id model.InstrumentID) string {
	return "data.trades." + string(id.Venue) + "." + string(id.Symbol)
}

func topicDeltas(id model.InstrumentID) string {
	return "data.book.deltas." + string(id.Venue) + "." + string(id.Symbol)
}

func topicBars(barType model.BarType) string {
	return "data.bars." + barType.String()
}

func topicData(kind string, id model.InstrumentID) string {
	return "data." + kind + "." + string(id.Venue) + "." + string(id.Symbol)
}
