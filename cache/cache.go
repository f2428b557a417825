// Package cache is the in-memory index of the domain: instruments, orders,
// positions, accounts and last-value market data. The cache is owned by the
// engine goroutine; other components hold read-only references.
package cache

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"trading-node-go/model"
	"trading-node-go/order"
	"trading-node-go/portfolio"
)

// Cache indexes the live domain model.
type Cache struct {
	log *zap.Logger
	db  Database // optional persistence adapter

	mu sync.RWMutex

	instruments map[model.InstrumentID]model.Instrument

	orders          map[model.ClientOrderID]*order.Order
	ordersByVenueID map[model.VenueOrderID]model.ClientOrderID

	positions map[model.PositionID]*portfolio.Position
	posByKey  map[string]model.PositionID // instrument|account -> net position

	accounts map[model.AccountID]*portfolio.Account

	lastQuotes map[model.InstrumentID]model.QuoteTick
	lastTrades map[model.InstrumentID]model.TradeTick
	lastBars   map[string]model.Bar // keyed by BarType.String()
}

func New(log *zap.Logger, db Database) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		log:             log,
		db:              db,
		instruments:     make(map[model.InstrumentID]model.Instrument),
		orders:          make(map[model.ClientOrderID]*order.Order),
		ordersByVenueID: make(map[model.VenueOrderID]model.ClientOrderID),
		positions:       make(map[model.PositionID]*portfolio.Position),
		posByKey:        make(map[string]model.PositionID),
		accounts:        make(map[model.AccountID]*portfolio.Account),
		lastQuotes:      make(map[model.InstrumentID]model.QuoteTick),
		lastTrades:      make(map[model.InstrumentID]model.TradeTick),
		lastBars:        make(map[string]model.Bar),
	}
}

// LoadSnapshots restores persisted positions from the database adapter.
// Order snapshots are only counted: the event log is not persisted, so the
// startup reconciliation rebuilds live order state from the venue instead.
// Accounts are restated by the venue on connect.
func (c *Cache) LoadSnapshots() error {
	if c.db == nil {
		return nil
	}
	orderSnaps, err := c.db.LoadOrderSnapshots()
	if err != nil {
		return fmt.Errorf("cache: load order snapshots: %w", err)
	}
	posSnaps, err := c.db.LoadPositionSnapshots()
	if err != nil {
		return fmt.Errorf("cache: load position snapshots: %w", err)
	}

	c.mu.Lock()
	restored := 0
	for _, snap := range posSnaps {
		p, err := snap.Restore()
		if err != nil {
			c.log.Warn("cache: skipping bad position snapshot",
				zap.String("position_id", snap.ID), zap.Error(err))
			continue
		}
		c.positions[p.ID] = p
		c.posByKey[positionKey(p.InstrumentID, p.AccountID)] = p.ID
		restored++
	}
	c.mu.Unlock()

	c.log.Info("cache: snapshots loaded",
		zap.Int("positions", restored),
		zap.Int("prior_orders", len(orderSnaps)))
	return nil
}

// --- instruments ---

// AddInstrument inserts an instrument. Instruments are immutable once
// inserted; re-adding the same id replaces the definition (venues do
// occasionally restate contracts).
func (c *Cache) AddInstrument(instr model.Instrument) {
	c.mu.Lock()
	c.instruments[instr.ID()] = instr
	c.mu.Unlock()
}

func (c *Cache) Instrument(id model.InstrumentID) (model.Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	instr, ok := c.instruments[id]
	return instr, ok
}

func (c *Cache) Instruments(venue model.Venue) []model.Instrument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Instrument, 0, len(c.instruments))
	for id, instr := range c.instruments {
		if venue == "" || id.Venue == venue {
			out = append(out, instr)
		}
	}
	return out
}

// --- orders ---

// AddOrder registers a new order aggregate.
func (c *Cache) AddOrder(o *order.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := o.ClientOrderID()
	if _, exists := c.orders[id]; exists {
		return fmt.Errorf("cache: duplicate client order id %s", id)
	}
	c.orders[id] = o
	if v := o.VenueOrderID(); v != "" {
		c.ordersByVenueID[v] = id
	}
	c.persistOrder(o)
	return nil
}

// UpdateOrder refreshes secondary indexes and persistence after events were
// applied to the aggregate.
func (c *Cache) UpdateOrder(o *order.Order) {
	c.mu.Lock()
	if v := o.VenueOrderID(); v != "" {
		c.ordersByVenueID[v] = o.ClientOrderID()
	}
	c.persistOrder(o)
	c.mu.Unlock()
}

func (c *Cache) Order(id model.ClientOrderID) (*order.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.orders[id]
	return o, ok
}

func (c *Cache) OrderByVenueID(id model.VenueOrderID) (*order.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cid, ok := c.ordersByVenueID[id]
	if !ok {
		return nil, false
	}
	o, ok := c.orders[cid]
	return o, ok
}

// Orders returns orders filtered by venue ("" for all).
func (c *Cache) Orders(venue model.Venue) []*order.Order {
	return c.selectOrders(func(o *order.Order) bool {
		return venue == "" || o.InstrumentID().Venue == venue
	})
}

// OpenOrders returns orders whose status can still trade at the venue.
func (c *Cache) OpenOrders(venue model.Venue) []*order.Order {
	return c.selectOrders(func(o *order.Order) bool {
		return o.IsOpen() && (venue == "" || o.InstrumentID().Venue == venue)
	})
}

// InflightOrders returns orders awaiting a venue acknowledgement.
func (c *Cache) InflightOrders(venue model.Venue) []*order.Order {
	return c.selectOrders(func(o *order.Order) bool {
		return o.IsInflight() && (venue == "" || o.InstrumentID().Venue == venue)
	})
}

func (c *Cache) ClosedOrders(venue model.Venue) []*order.Order {
	return c.selectOrders(func(o *order.Order) bool {
		return o.IsClosed() && (venue == "" || o.InstrumentID().Venue == venue)
	})
}

func (c *Cache) OrdersForInstrument(id model.InstrumentID) []*order.Order {
	return c.selectOrders(func(o *order.Order) bool {
		return o.InstrumentID() == id
	})
}

func (c *Cache) OrderCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.orders)
}

func (c *Cache) selectOrders(pred func(*order.Order) bool) []*order.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*order.Order
	for _, o := range c.orders {
		if pred(o) {
			out = append(out, o)
		}
	}
	return out
}

// --- positions ---

func positionKey(instrumentID model.InstrumentID, accountID model.AccountID) string {
	return instrumentID.String() + "|" + string(accountID)
}

func (c *Cache) AddPosition(p *portfolio.Position) {
	c.mu.Lock()
	c.positions[p.ID] = p
	c.posByKey[positionKey(p.InstrumentID, p.AccountID)] = p.ID
	c.persistPosition(p)
	c.mu.Unlock()
}

func (c *Cache) UpdatePosition(p *portfolio.Position) {
	c.mu.Lock()
	c.persistPosition(p)
	c.mu.Unlock()
}

func (c *Cache) Position(id model.PositionID) (*portfolio.Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.positions[id]
	return p, ok
}

// PositionFor returns the net position for (instrument, account).
func (c *Cache) PositionFor(instrumentID model.InstrumentID, accountID model.AccountID) (*portfolio.Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.posByKey[positionKey(instrumentID, accountID)]
	if !ok {
		return nil, false
	}
	p, ok := c.positions[id]
	return p, ok
}

func (c *Cache) Positions() []*portfolio.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*portfolio.Position, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, p)
	}
	return out
}

// --- accounts ---

func (c *Cache) AddAccount(a *portfolio.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.accounts[a.ID]; exists {
		return fmt.Errorf("cache: duplicate account id %s", a.ID)
	}
	c.accounts[a.ID] = a
	c.persistAccount(a)
	return nil
}

func (c *Cache) Account(id model.AccountID) (*portfolio.Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.accounts[id]
	return a, ok
}

func (c *Cache) Accounts() []*portfolio.Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*portfolio.Account, 0, len(c.accounts))
	for _, a := range c.accounts {
		out = append(out, a)
	}
	return out
}

// ApplyAccountState folds a snapshot into the identified account, creating
// it on first sight.
func (c *Cache) ApplyAccountState(state portfolio.AccountState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.accounts[state.AccountID]
	if !ok {
		created, err := portfolio.NewAccount(state)
		if err != nil {
			return err
		}
		c.accounts[state.AccountID] = created
		c.persistAccount(created)
		return nil
	}
	a.ApplyState(state)
	c.persistAccount(a)
	return nil
}

// --- last-value market data ---

func (c *Cache) AddQuoteTick(q model.QuoteTick) {
	c.mu.Lock()
	c.lastQuotes[q.InstrumentID] = q
	c.mu.Unlock()
}

func (c *Cache) AddTradeTick(t model.TradeTick) {
	c.mu.Lock()
	c.lastTrades[t.InstrumentID] = t
	c.mu.Unlock()
}

func (c *Cache) AddBar(b model.Bar) {
	c.mu.Lock()
	c.lastBars[b.BarType.String()] = b
	c.mu.Unlock()
}

func (c *Cache) QuoteTick(id model.InstrumentID) (model.QuoteTick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.lastQuotes[id]
	return q, ok
}

func (c *Cache) TradeTick(id model.InstrumentID) (model.TradeTick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.lastTrades[id]
	return t, ok
}

func (c *Cache) Bar(barType model.BarType) (model.Bar, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.lastBars[barType.String()]
	return b, ok
}

// --- purge ---

// PurgeClosedOrders removes terminal orders whose last event is older than
// the cutoff. Returns the number removed; forwards deletes to the database
// when fromDatabase is set.
func (c *Cache) PurgeClosedOrders(cutoff model.UnixNanos, fromDatabase bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, o := range c.orders {
		if !o.IsClosed() || o.TsLastEvent() >= cutoff {
			continue
		}
		delete(c.orders, id)
		if v := o.VenueOrderID(); v != "" {
			delete(c.ordersByVenueID, v)
		}
		if fromDatabase && c.db != nil {
			if err := c.db.DeleteOrder(id); err != nil {
				c.log.Warn("cache: purge order from database failed",
					zap.String("client_order_id", string(id)), zap.Error(err))
			}
		}
		removed++
	}
	return removed
}

// PurgeClosedPositions removes flat positions closed before the cutoff.
func (c *Cache) PurgeClosedPositions(cutoff model.UnixNanos, fromDatabase bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, p := range c.positions {
		if !p.IsClosed() || p.TsClosed >= cutoff {
			continue
		}
		delete(c.positions, id)
		delete(c.posByKey, positionKey(p.InstrumentID, p.AccountID))
		if fromDatabase && c.db != nil {
			if err := c.db.DeletePosition(id); err != nil {
				c.log.Warn("cache: purge position from database failed",
					zap.String("position_id", string(id)), zap.Error(err))
			}
		}
		removed++
	}
	return removed
}

// PurgeAccountEvents trims AccountState history older than the cutoff,
// always keeping the latest snapshot per account.
func (c *Cache) PurgeAccountEvents(cutoff model.UnixNanos) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for _, a := range c.accounts {
		removed += a.PurgeEventsBefore(cutoff)
	}
	return removed
}

// --- persistence helpers (callers hold the lock) ---

func (c *Cache) persistOrder(o *order.Order) {
	if c.db == nil {
		return
	}
	if err := c.db.SaveOrder(o); err != nil {
		c.log.Warn("cache: persist order failed",
			zap.String("client_order_id", string(o.ClientOrderID())), zap.Error(err))
	}
}

func (c *Cache) persistPosition(p *portfolio.Position) {
	if c.db == nil {
		return
	}
	if err := c.db.SavePosition(p); err != nil {
		c.log.Warn("cache: persist position failed",
			zap.String("position_id", string(p.ID)), zap.Error(err))
	}
}

func (c *Cache) persistAccount(a *portfolio.Account) {
	if c.db == nil {
		return
	}
	if err := c.db.SaveAccount(a); err != nil {
		c.log.Warn("cache: persist account failed",
			zap.String("account_id", string(a.ID)), zap.Error(err))
	}
}
