package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-node-go/model"
)

func delta(action model.BookAction, side model.OrderSide, px, sz float64, orderID, seq uint64) model.OrderBookDelta {
	return model.NewOrderBookDelta(btcusd, action, side,
		model.MustPrice(px, 2), model.MustQuantity(sz, 2), orderID, 0, seq, int64(seq), int64(seq))
}

func TestOrderBook_AddUpdateDelete(t *testing.T) {
	b := NewOrderBook(btcusd)

	require.NoError(t, b.Apply(delta(model.BookActionAdd, model.OrderSideBuy, 100, 5, 1, 1)))
	require.NoError(t, b.Apply(delta(model.BookActionAdd, model.OrderSideBuy, 99, 3, 2, 2)))
	require.NoError(t, b.Apply(delta(model.BookActionAdd, model.OrderSideSell, 101, 2, 3, 3)))

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, "100.00", bid.Price.String())
	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, "101.00", ask.Price.String())
	assert.NoError(t, b.CheckIntegrity())

	// Update shrinks the top bid.
	require.NoError(t, b.Apply(delta(model.BookActionUpdate, model.OrderSideBuy, 100, 1, 1, 4)))
	bid, _ = b.BestBid()
	assert.Equal(t, "1.00", bid.Size.String())

	// Delete removes it; next best surfaces.
	require.NoError(t, b.Apply(delta(model.BookActionDelete, model.OrderSideBuy, 100, 0, 1, 5)))
	bid, _ = b.BestBid()
	assert.Equal(t, "99.00", bid.Price.String())
}

func TestOrderBook_UpdateWithZeroSizeDeletes(t *testing.T) {
	b := NewOrderBook(btcusd)
	require.NoError(t, b.Apply(delta(model.BookActionAdd, model.OrderSideSell, 101, 2, 7, 1)))

	// NewOrderBookDelta normalizes Update(size=0) to Delete.
	d := delta(model.BookActionUpdate, model.OrderSideSell, 101, 0, 7, 2)
	require.Equal(t, model.BookActionDelete, d.Action)
	require.NoError(t, b.Apply(d))
	_, ok := b.BestAsk()
	assert.False(t, ok)
}

func TestOrderBook_Clear(t *testing.T) {
	b := NewOrderBook(btcusd)
	require.NoError(t, b.Apply(delta(model.BookActionAdd, model.OrderSideBuy, 100, 5, 1, 1)))
	require.NoError(t, b.Apply(delta(model.BookActionAdd, model.OrderSideSell, 101, 5, 2, 2)))
	require.NoError(t, b.Apply(delta(model.BookActionClear, model.OrderSideNoSide, 0, 0, 0, 3)))
	assert.Zero(t, b.OrderCount())
}

func TestOrderBook_StaleSequenceDropped(t *testing.T) {
	b := NewOrderBook(btcusd)
	require.NoError(t, b.Apply(delta(model.BookActionAdd, model.OrderSideBuy, 100, 5, 1, 10)))

	// A replayed older delta must not mutate the book.
	require.NoError(t, b.Apply(delta(model.BookActionUpdate, model.OrderSideBuy, 100, 1, 1, 9)))
	bid, _ := b.BestBid()
	assert.Equal(t, "5.00", bid.Size.String())
	assert.Equal(t, uint64(10), b.Sequence())
}

func TestOrderBook_LevelsAggregateByPrice(t *testing.T) {
	b := NewOrderBook(btcusd)
	require.NoError(t, b.Apply(delta(model.BookActionAdd, model.OrderSideBuy, 100, 5, 1, 1)))
	require.NoError(t, b.Apply(delta(model.BookActionAdd, model.OrderSideBuy, 100, 3, 2, 2)))
	require.NoError(t, b.Apply(delta(model.BookActionAdd, model.OrderSideBuy, 99, 1, 3, 3)))

	levels := b.Levels(model.OrderSideBuy, 0)
	require.Len(t, levels, 2)
	assert.Equal(t, "100.00", levels[0].Price.String())
	assert.Equal(t, "8.00", levels[0].Size.String())

	top := b.Levels(model.OrderSideBuy, 1)
	assert.Len(t, top, 1)

	assert.InDelta(t, 9.0, b.TotalSize(model.OrderSideBuy), 1e-9)
}

func TestOrderBook_CrossedBookFailsIntegrity(t *testing.T) {
	b := NewOrderBook(btcusd)
	require.NoError(t, b.Apply(delta(model.BookActionAdd, model.OrderSideBuy, 102, 5, 1, 1)))
	require.NoError(t, b.Apply(delta(model.BookActionAdd, model.OrderSideSell, 101, 5, 2, 2)))
	assert.Error(t, b.CheckIntegrity())
}
