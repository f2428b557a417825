package portfolio

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-node-go/model"
)

var ethusdt = model.InstrumentID{Symbol: "ETHUSDT", Venue: "BINANCE"}

func posFill(tradeID string, side model.OrderSide, qty, px float64, ts int64) model.OrderFilled {
	return model.OrderFilled{
		OrderEventBase: model.OrderEventBase{
			EventID:      model.NewEventID(),
			InstrumentID: ethusdt,
			AccountID:    "BINANCE-001",
			StrategyID:   "S-001",
			TsEvent:      ts,
			TsInit:       ts,
		},
		TradeID: model.TradeID(tradeID),
		Side:    side,
		LastQty: model.MustQuantity(qty, 3),
		LastPx:  model.MustPrice(px, 2),
	}
}

func TestPosition_OpenIncreaseReduceClose(t *testing.T) {
	p, err := NewPosition("P-1", model.USDT, posFill("T-1", model.OrderSideBuy, 1.0, 3000, 1))
	require.NoError(t, err)
	assert.Equal(t, model.PositionSideLong, p.Side())
	assert.True(t, p.AvgOpenPx().Equal(decimal.NewFromInt(3000)))

	// Increase at a higher price: weighted open price.
	require.NoError(t, p.ApplyFill(posFill("T-2", model.OrderSideBuy, 1.0, 3100, 2)))
	assert.True(t, p.AvgOpenPx().Equal(decimal.NewFromInt(3050)), "got %s", p.AvgOpenPx())

	// Reduce half at 3150: realize (3150-3050)*1.
	require.NoError(t, p.ApplyFill(posFill("T-3", model.OrderSideSell, 1.0, 3150, 3)))
	assert.Equal(t, "100.00000000 USDT", p.RealizedPnL().String())
	assert.Equal(t, model.PositionSideLong, p.Side())

	// Close the rest at 3000: realize (3000-3050)*1 = -50.
	require.NoError(t, p.ApplyFill(posFill("T-4", model.OrderSideSell, 1.0, 3000, 4)))
	assert.True(t, p.IsFlat())
	assert.True(t, p.IsClosed())
	assert.Equal(t, "50.00000000 USDT", p.RealizedPnL().String())
}

func TestPosition_ShortSide(t *testing.T) {
	p, err := NewPosition("P-1", model.USDT, posFill("T-1", model.OrderSideSell, 2.0, 3000, 1))
	require.NoError(t, err)
	assert.Equal(t, model.PositionSideShort, p.Side())
	assert.True(t, p.Quantity().Equal(decimal.NewFromInt(2)))

	// Buy back lower: short profit.
	require.NoError(t, p.ApplyFill(posFill("T-2", model.OrderSideBuy, 2.0, 2900, 2)))
	assert.True(t, p.IsClosed())
	assert.Equal(t, "200.00000000 USDT", p.RealizedPnL().String())
}

func TestPosition_FlipThroughFlat(t *testing.T) {
	p, _ := NewPosition("P-1", model.USDT, posFill("T-1", model.OrderSideBuy, 1.0, 3000, 1))

	// Sell 3: closes the long (+100) and opens a 2-short at 3100.
	require.NoError(t, p.ApplyFill(posFill("T-2", model.OrderSideSell, 3.0, 3100, 2)))
	assert.Equal(t, model.PositionSideShort, p.Side())
	assert.True(t, p.Quantity().Equal(decimal.NewFromInt(2)))
	assert.True(t, p.AvgOpenPx().Equal(decimal.NewFromInt(3100)))
	assert.Equal(t, "100.00000000 USDT", p.RealizedPnL().String())
}

func TestPosition_DuplicateTradeIDIsNoOp(t *testing.T) {
	p, _ := NewPosition("P-1", model.USDT, posFill("T-1", model.OrderSideBuy, 1.0, 3000, 1))
	before := p.SignedQty()

	dup := posFill("T-1", model.OrderSideBuy, 1.0, 3000, 2)
	require.NoError(t, p.ApplyFill(dup))
	assert.True(t, p.SignedQty().Equal(before))
}

func TestPosition_UnrealizedPnL(t *testing.T) {
	p, _ := NewPosition("P-1", model.USDT, posFill("T-1", model.OrderSideBuy, 2.0, 3000, 1))
	u := p.UnrealizedPnL(model.MustPrice(3050, 2))
	assert.Equal(t, "100.00000000 USDT", u.String())

	short, _ := NewPosition("P-2", model.USDT, posFill("T-2", model.OrderSideSell, 2.0, 3000, 1))
	u = short.UnrealizedPnL(model.MustPrice(3050, 2))
	assert.Equal(t, "-100.00000000 USDT", u.String())
}

func TestAccountBalance_FreeConsistency(t *testing.T) {
	_, err := NewAccountBalance(model.USDT,
		decimal.NewFromInt(100), decimal.NewFromInt(30), decimal.NewFromInt(60))
	assert.Error(t, err)

	b, err := NewAccountBalance(model.USDT,
		decimal.NewFromInt(100), decimal.NewFromInt(30), decimal.NewFromInt(70))
	require.NoError(t, err)
	assert.True(t, b.Free.Equal(decimal.NewFromInt(70)))
}

func TestAccount_StateLogAndPurge(t *testing.T) {
	mk := func(ts int64, total int64) AccountState {
		b, _ := NewAccountBalance(model.USDT, decimal.NewFromInt(total), decimal.Zero, decimal.NewFromInt(total))
		return AccountState{
			EventID:   model.NewEventID(),
			AccountID: "BINANCE-001",
			Type:      model.AccountTypeMargin,
			Balances:  []AccountBalance{b},
			Reported:  true,
			TsEvent:   ts,
		}
	}

	a, err := NewAccount(mk(1, 100))
	require.NoError(t, err)
	a.ApplyState(mk(2, 110))
	a.ApplyState(mk(3, 120))
	require.Equal(t, 3, a.EventCount())

	bal, ok := a.Balance(model.USDT)
	require.True(t, ok)
	assert.True(t, bal.Total.Equal(decimal.NewFromInt(120)))

	removed := a.PurgeEventsBefore(3)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, a.EventCount())

	// The last snapshot is always kept, even when older than the cutoff.
	removed = a.PurgeEventsBefore(100)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, a.EventCount())
}
