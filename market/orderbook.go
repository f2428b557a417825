// Package market maintains per-instrument market state: limit order books
// replayed from deltas and OHLCV bar aggregation.
package market

import (
	"fmt"
	"sort"

	"trading-node-go/model"
)

// bookOrder is one resting order at a level.
type bookOrder struct {
	orderID uint64
	price   model.Price
	size    model.Quantity
}

// OrderBook is a limit order book rebuilt from OrderBookDelta streams.
// Deltas must arrive in sequence order per instrument; a gap is reported so
// the caller can resubscribe.
type OrderBook struct {
	InstrumentID model.InstrumentID

	bids map[uint64]bookOrder
	asks map[uint64]bookOrder

	sequence   uint64
	count      uint64
	tsLast     model.UnixNanos
}

func NewOrderBook(instrumentID model.InstrumentID) *OrderBook {
	return &OrderBook{
		InstrumentID: instrumentID,
		bids:         make(map[uint64]bookOrder),
		asks:         make(map[uint64]bookOrder),
	}
}

// ErrSequenceGap signals missed deltas; the remedy is a resubscribe, the
// book does not self-heal.
type ErrSequenceGap struct {
	InstrumentID model.InstrumentID
	Expected     uint64
	Got          uint64
}

func (e *ErrSequenceGap) Error() string {
	return fmt.Sprintf("order book %s: sequence gap, expected > %d got %d",
		e.InstrumentID, e.Expected, e.Got)
}

// Apply replays one delta into the book.
func (b *OrderBook) Apply(delta model.OrderBookDelta) error {
	if delta.InstrumentID != b.InstrumentID {
		return fmt.Errorf("order book %s: delta for %s", b.InstrumentID, delta.InstrumentID)
	}
	if delta.Sequence != 0 && b.sequence != 0 && delta.Sequence <= b.sequence {
		// Replays of already-seen sequences are dropped silently.
		return nil
	}

	side := b.bids
	if delta.Side == model.OrderSideSell {
		side = b.asks
	}

	switch delta.Action {
	case model.BookActionClear:
		b.bids = make(map[uint64]bookOrder)
		b.asks = make(map[uint64]bookOrder)
	case model.BookActionAdd:
		side[delta.OrderID] = bookOrder{orderID: delta.OrderID, price: delta.Price, size: delta.Size}
	case model.BookActionUpdate:
		side[delta.OrderID] = bookOrder{orderID: delta.OrderID, price: delta.Price, size: delta.Size}
	case model.BookActionDelete:
		delete(side, delta.OrderID)
	default:
		return fmt.Errorf("order book %s: unknown action %d", b.InstrumentID, delta.Action)
	}

	b.sequence = delta.Sequence
	b.count++
	b.tsLast = delta.TsEvent
	return nil
}

// ApplyDeltas replays a batch in order.
func (b *OrderBook) ApplyDeltas(deltas []model.OrderBookDelta) error {
	for _, d := range deltas {
		if err := b.Apply(d); err != nil {
			return err
		}
	}
	return nil
}

// BookLevel is an aggregated price level.
type BookLevel struct {
	Price model.Price
	Size  model.Quantity
}

// BestBid returns the highest bid level, false when the side is empty.
func (b *OrderBook) BestBid() (BookLevel, bool) {
	return bestLevel(b.bids, true)
}

// BestAsk returns the lowest ask level, false when the side is empty.
func (b *OrderBook) BestAsk() (BookLevel, bool) {
	return bestLevel(b.asks, false)
}

func bestLevel(side map[uint64]bookOrder, highest bool) (BookLevel, bool) {
	if len(side) == 0 {
		return BookLevel{}, false
	}
	var best *bookOrder
	for _, o := range side {
		o := o
		if best == nil {
			best = &o
			continue
		}
		cmp := o.price.Cmp(best.price)
		if (highest && cmp > 0) || (!highest && cmp < 0) {
			best = &o
		}
	}
	level := BookLevel{Price: best.price, Size: best.size}
	for _, o := range side {
		if o.orderID != best.orderID && o.price.Cmp(best.price) == 0 {
			if sum, err := level.Size.Add(o.size); err == nil {
				level.Size = sum
			}
		}
	}
	return level, true
}

// Levels returns aggregated levels for one side, best first, up to depth
// (depth <= 0 means all).
func (b *OrderBook) Levels(side model.OrderSide, depth int) []BookLevel {
	src := b.bids
	if side == model.OrderSideSell {
		src = b.asks
	}
	byPrice := make(map[int64]*BookLevel)
	var prices []int64
	for _, o := range src {
		if lvl, ok := byPrice[o.price.Raw]; ok {
			if sum, err := lvl.Size.Add(o.size); err == nil {
				lvl.Size = sum
			}
			continue
		}
		lvl := BookLevel{Price: o.price, Size: o.size}
		byPrice[o.price.Raw] = &lvl
		prices = append(prices, o.price.Raw)
	}
	sort.Slice(prices, func(i, j int) bool {
		if side == model.OrderSideBuy {
			return prices[i] > prices[j]
		}
		return prices[i] < prices[j]
	})
	if depth > 0 && len(prices) > depth {
		prices = prices[:depth]
	}
	out := make([]BookLevel, 0, len(prices))
	for _, p := range prices {
		out = append(out, *byPrice[p])
	}
	return out
}

// TotalSize sums resting size on one side, for own-book audits.
func (b *OrderBook) TotalSize(side model.OrderSide) float64 {
	src := b.bids
	if side == model.OrderSideSell {
		src = b.asks
	}
	total := 0.0
	for _, o := range src {
		total += o.size.Float64()
	}
	return total
}

func (b *OrderBook) Sequence() uint64          { return b.sequence }
func (b *OrderBook) UpdateCount() uint64       { return b.count }
func (b *OrderBook) TsLast() model.UnixNanos   { return b.tsLast }
func (b *OrderBook) OrderCount() int           { return len(b.bids) + len(b.asks) }

// CheckIntegrity verifies the top of book does not cross.
func (b *OrderBook) CheckIntegrity() error {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if okB && okA && bid.Price.Cmp(ask.Price) >= 0 {
		return fmt.Errorf("order book %s: crossed, bid %s >= ask %s",
			b.InstrumentID, bid.Price, ask.Price)
	}
	return nil
}
