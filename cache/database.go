package cache

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/shopspring/decimal"

	"trading-node-go/model"
	"trading-node-go/order"
	"trading-node-go/portfolio"
)

// Database persists cache state so a restarted node can report on what it
// held before the crash. Writes are fire-and-forget from the cache's point
// of view; failures are logged, not fatal.
type Database interface {
	SaveOrder(o *order.Order) error
	DeleteOrder(id model.ClientOrderID) error
	SavePosition(p *portfolio.Position) error
	DeletePosition(id model.PositionID) error
	SaveAccount(a *portfolio.Account) error
	LoadOrderSnapshots() ([]OrderSnapshot, error)
	LoadPositionSnapshots() ([]PositionSnapshot, error)
	Close() error
}

// OrderSnapshot is the persisted projection of an order aggregate. The
// full event log stays in memory; the snapshot is enough to reconcile
// against the venue after a restart.
type OrderSnapshot struct {
	ClientOrderID string  `json:"client_order_id"`
	VenueOrderID  string  `json:"venue_order_id,omitempty"`
	InstrumentID  string  `json:"instrument_id"`
	StrategyID    string  `json:"strategy_id"`
	Side          string  `json:"side"`
	OrderType     string  `json:"order_type"`
	Status        string  `json:"status"`
	Quantity      string  `json:"quantity"`
	FilledQty     string  `json:"filled_qty"`
	AvgPx         float64 `json:"avg_px,omitempty"`
	TsLastEvent   int64   `json:"ts_last_event"`
}

type PositionSnapshot struct {
	ID           string `json:"id"`
	InstrumentID string `json:"instrument_id"`
	AccountID    string `json:"account_id"`
	SignedQty    string `json:"signed_qty"`
	AvgOpenPx    string `json:"avg_open_px"`
	RealizedPnL  string `json:"realized_pnl"`
	Currency     string `json:"currency"`
	TsOpened     int64  `json:"ts_opened"`
	TsClosed     int64  `json:"ts_closed,omitempty"`
}

type accountSnapshot struct {
	ID       string            `json:"id"`
	Balances []balanceSnapshot `json:"balances"`
}

type balanceSnapshot struct {
	Currency string `json:"currency"`
	Total    string `json:"total"`
	Locked   string `json:"locked"`
	Free     string `json:"free"`
}

// Restore rebuilds the position aggregate from the snapshot.
func (s PositionSnapshot) Restore() (*portfolio.Position, error) {
	instrumentID, err := model.ParseInstrumentID(s.InstrumentID)
	if err != nil {
		return nil, fmt.Errorf("position snapshot %s: %w", s.ID, err)
	}
	signedQty, err := decimal.NewFromString(s.SignedQty)
	if err != nil {
		return nil, fmt.Errorf("position snapshot %s: qty: %w", s.ID, err)
	}
	avgOpenPx, err := decimal.NewFromString(s.AvgOpenPx)
	if err != nil {
		return nil, fmt.Errorf("position snapshot %s: avg px: %w", s.ID, err)
	}
	realized, err := decimal.NewFromString(s.RealizedPnL)
	if err != nil {
		return nil, fmt.Errorf("position snapshot %s: pnl: %w", s.ID, err)
	}
	ccy, err := model.NewCurrency(s.Currency, 8)
	if err != nil {
		return nil, fmt.Errorf("position snapshot %s: %w", s.ID, err)
	}
	return portfolio.RestorePosition(
		model.PositionID(s.ID), instrumentID, model.AccountID(s.AccountID),
		signedQty, avgOpenPx, realized, ccy,
		model.UnixNanos(s.TsOpened), model.UnixNanos(s.TsClosed)), nil
}

const (
	keyPrefixOrder    = "o:"
	keyPrefixPosition = "p:"
	keyPrefixAccount  = "a:"
)

// PebbleDatabase stores snapshots as JSON values under short key prefixes.
type PebbleDatabase struct {
	db *pebble.DB
}

var _ Database = (*PebbleDatabase)(nil)

func OpenPebbleDatabase(path string) (*PebbleDatabase, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("cache: open pebble at %s: %w", path, err)
	}
	return &PebbleDatabase{db: db}, nil
}

func (d *PebbleDatabase) Close() error { return d.db.Close() }

func (d *PebbleDatabase) SaveOrder(o *order.Order) error {
	snap := OrderSnapshot{
		ClientOrderID: string(o.ClientOrderID()),
		VenueOrderID:  string(o.VenueOrderID()),
		InstrumentID:  o.InstrumentID().String(),
		StrategyID:    string(o.StrategyID()),
		Side:          o.Side().String(),
		OrderType:     o.Type().String(),
		Status:        o.Status().String(),
		Quantity:      o.Quantity().String(),
		FilledQty:     o.FilledQty().String(),
		AvgPx:         o.AvgPx(),
		TsLastEvent:   o.TsLastEvent(),
	}
	return d.put(keyPrefixOrder+snap.ClientOrderID, snap)
}

func (d *PebbleDatabase) DeleteOrder(id model.ClientOrderID) error {
	return d.db.Delete([]byte(keyPrefixOrder+string(id)), pebble.Sync)
}

func (d *PebbleDatabase) SavePosition(p *portfolio.Position) error {
	snap := PositionSnapshot{
		ID:           string(p.ID),
		InstrumentID: p.InstrumentID.String(),
		AccountID:    string(p.AccountID),
		SignedQty:    p.SignedQty().String(),
		AvgOpenPx:    p.AvgOpenPx().String(),
		RealizedPnL:  p.RealizedPnL().Amount.String(),
		Currency:     p.RealizedPnL().Currency.Code,
		TsOpened:     p.TsOpened,
		TsClosed:     p.TsClosed,
	}
	return d.put(keyPrefixPosition+snap.ID, snap)
}

func (d *PebbleDatabase) DeletePosition(id model.PositionID) error {
	return d.db.Delete([]byte(keyPrefixPosition+string(id)), pebble.Sync)
}

func (d *PebbleDatabase) SaveAccount(a *portfolio.Account) error {
	snap := accountSnapshot{ID: string(a.ID)}
	for _, b := range a.Balances() {
		snap.Balances = append(snap.Balances, balanceSnapshot{
			Currency: b.Currency.Code,
			Total:    b.Total.String(),
			Locked:   b.Locked.String(),
			Free:     b.Free.String(),
		})
	}
	return d.put(keyPrefixAccount+snap.ID, snap)
}

func (d *PebbleDatabase) LoadOrderSnapshots() ([]OrderSnapshot, error) {
	var out []OrderSnapshot
	err := d.scan(keyPrefixOrder, func(value []byte) error {
		var snap OrderSnapshot
		if err := json.Unmarshal(value, &snap); err != nil {
			return err
		}
		out = append(out, snap)
		return nil
	})
	return out, err
}

func (d *PebbleDatabase) LoadPositionSnapshots() ([]PositionSnapshot, error) {
	var out []PositionSnapshot
	err := d.scan(keyPrefixPosition, func(value []byte) error {
		var snap PositionSnapshot
		if err := json.Unmarshal(value, &snap); err != nil {
			return err
		}
		out = append(out, snap)
		return nil
	})
	return out, err
}

func (d *PebbleDatabase) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", key, err)
	}
	return d.db.Set([]byte(key), data, pebble.Sync)
}

// scan iterates all values under the prefix.
func (d *PebbleDatabase) scan(prefix string, fn func(value []byte) error) error {
	lower := []byte(prefix)
	upper := append([]byte(prefix[:len(prefix)-1]), prefix[len(prefix)-1]+1)
	iter, err := d.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
