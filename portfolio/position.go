// Package portfolio derives positions and accounts from order fill events
// and venue account states.
package portfolio

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trading-node-go/model"
)

// Position is the net exposure per (instrument, account). Signed quantity:
// positive long, negative short. Hedge-mode venues get one position per
// venue position id instead of one per instrument.
type Position struct {
	ID           model.PositionID
	InstrumentID model.InstrumentID
	AccountID    model.AccountID
	StrategyID   model.StrategyID

	signedQty   decimal.Decimal
	avgOpenPx   decimal.Decimal
	realizedPnL decimal.Decimal
	quoteCcy    model.Currency

	tradeIDs map[model.TradeID]struct{}

	TsOpened model.UnixNanos
	TsLast   model.UnixNanos
	TsClosed model.UnixNanos
}

// NewPosition opens a position from its first fill.
func NewPosition(id model.PositionID, quoteCcy model.Currency, fill model.OrderFilled) (*Position, error) {
	p := &Position{
		ID:           id,
		InstrumentID: fill.InstrumentID,
		AccountID:    fill.AccountID,
		StrategyID:   fill.StrategyID,
		quoteCcy:     quoteCcy,
		tradeIDs:     make(map[model.TradeID]struct{}),
		TsOpened:     fill.TsEvent,
	}
	if err := p.ApplyFill(fill); err != nil {
		return nil, err
	}
	return p, nil
}

// RestorePosition rebuilds a position from persisted state. The trade-id
// history is not restored; fills replayed after a restart are deduped by
// reconciliation event ids instead.
func RestorePosition(
	id model.PositionID,
	instrumentID model.InstrumentID,
	accountID model.AccountID,
	signedQty, avgOpenPx, realizedPnL decimal.Decimal,
	quoteCcy model.Currency,
	tsOpened, tsClosed model.UnixNanos,
) *Position {
	return &Position{
		ID:           id,
		InstrumentID: instrumentID,
		AccountID:    accountID,
		signedQty:    signedQty,
		avgOpenPx:    avgOpenPx,
		realizedPnL:  realizedPnL,
		quoteCcy:     quoteCcy,
		tradeIDs:     make(map[model.TradeID]struct{}),
		TsOpened:     tsOpened,
		TsLast:       tsOpened,
		TsClosed:     tsClosed,
	}
}

// Side derives Long/Short/Flat from the signed quantity.
func (p *Position) Side() model.PositionSide {
	switch p.signedQty.Sign() {
	case 1:
		return model.PositionSideLong
	case -1:
		return model.PositionSideShort
	default:
		return model.PositionSideFlat
	}
}

func (p *Position) SignedQty() decimal.Decimal { return p.signedQty }

// Quantity is the absolute exposure.
func (p *Position) Quantity() decimal.Decimal { return p.signedQty.Abs() }

func (p *Position) AvgOpenPx() decimal.Decimal { return p.avgOpenPx }

func (p *Position) RealizedPnL() model.Money {
	return model.Money{Amount: p.realizedPnL, Currency: p.quoteCcy}
}

func (p *Position) IsFlat() bool   { return p.signedQty.IsZero() }
func (p *Position) IsClosed() bool { return p.IsFlat() && p.TsClosed != 0 }

// UnrealizedPnL marks open exposure against the given price.
func (p *Position) UnrealizedPnL(markPx model.Price) model.Money {
	if p.signedQty.IsZero() {
		return model.Money{Amount: decimal.Zero, Currency: p.quoteCcy}
	}
	diff := markPx.Decimal().Sub(p.avgOpenPx)
	return model.Money{Amount: diff.Mul(p.signedQty), Currency: p.quoteCcy}
}

// ApplyFill folds one fill into the position. Fills seen before (same trade
// id) are no-ops so reconciliation replays stay idempotent. Reducing fills
// realize PnL against the average open price; a fill crossing through flat
// re-opens the remainder at the fill price.
func (p *Position) ApplyFill(fill model.OrderFilled) error {
	if _, seen := p.tradeIDs[fill.TradeID]; seen {
		return nil
	}
	if fill.InstrumentID != p.InstrumentID {
		return fmt.Errorf("position %s: fill for wrong instrument %s", p.ID, fill.InstrumentID)
	}

	qty := fill.LastQty.Decimal()
	if fill.Side == model.OrderSideSell {
		qty = qty.Neg()
	}
	px := fill.LastPx.Decimal()

	prev := p.signedQty
	next := prev.Add(qty)

	switch {
	case prev.IsZero():
		p.avgOpenPx = px
	case prev.Sign() == qty.Sign():
		// Increasing exposure: weighted average open price.
		total := p.avgOpenPx.Mul(prev.Abs()).Add(px.Mul(qty.Abs()))
		p.avgOpenPx = total.Div(next.Abs())
	default:
		// Reducing (possibly crossing flat): realize against avg open.
		closed := decimal.Min(prev.Abs(), qty.Abs())
		pnlPerUnit := px.Sub(p.avgOpenPx)
		if prev.Sign() < 0 {
			pnlPerUnit = pnlPerUnit.Neg()
		}
		p.realizedPnL = p.realizedPnL.Add(pnlPerUnit.Mul(closed))
		if next.Sign() != 0 && next.Sign() != prev.Sign() {
			// Flipped: the remainder opens at the fill price.
			p.avgOpenPx = px
		}
	}

	// Commission in the quote currency reduces realized PnL directly.
	if fill.Commission.Currency == p.quoteCcy && !fill.Commission.Amount.IsZero() {
		p.realizedPnL = p.realizedPnL.Sub(fill.Commission.Amount)
	}

	p.signedQty = next
	p.tradeIDs[fill.TradeID] = struct{}{}
	p.TsLast = fill.TsEvent
	if next.IsZero() {
		p.TsClosed = fill.TsEvent
	} else {
		p.TsClosed = 0
	}
	return nil
}
