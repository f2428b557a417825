package portfolio

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trading-node-go/model"
)

// AccountBalance is total/locked/free per currency; free must equal
// total - locked.
type AccountBalance struct {
	Currency model.Currency
	Total    decimal.Decimal
	Locked   decimal.Decimal
	Free     decimal.Decimal
}

func NewAccountBalance(currency model.Currency, total, locked, free decimal.Decimal) (AccountBalance, error) {
	if !total.Sub(locked).Equal(free) {
		return AccountBalance{}, fmt.Errorf(
			"account balance %s: free %s != total %s - locked %s",
			currency.Code, free, total, locked)
	}
	return AccountBalance{Currency: currency, Total: total, Locked: locked, Free: free}, nil
}

// MarginBalance is initial/maintenance margin per instrument.
type MarginBalance struct {
	InstrumentID model.InstrumentID
	Initial      model.Money
	Maintenance  model.Money
}

// AccountState is a venue snapshot of balances and margins; accounts keep
// an append-only log of these.
type AccountState struct {
	EventID   string
	AccountID model.AccountID
	Type      model.AccountType
	Balances  []AccountBalance
	Margins   []MarginBalance
	Reported  bool // true when venue-reported, false when calculated locally
	TsEvent   model.UnixNanos
	TsInit    model.UnixNanos
}

// Account is single-owner per account id within the cache.
type Account struct {
	ID   model.AccountID
	Type model.AccountType

	balances map[string]AccountBalance
	margins  map[model.InstrumentID]MarginBalance
	events   []AccountState
}

func NewAccount(state AccountState) (*Account, error) {
	if state.AccountID == "" {
		return nil, fmt.Errorf("account: empty account id")
	}
	a := &Account{
		ID:       state.AccountID,
		Type:     state.Type,
		balances: make(map[string]AccountBalance),
		margins:  make(map[model.InstrumentID]MarginBalance),
	}
	a.ApplyState(state)
	return a, nil
}

// ApplyState folds a snapshot into the account and appends it to the log.
func (a *Account) ApplyState(state AccountState) {
	for _, b := range state.Balances {
		a.balances[b.Currency.Code] = b
	}
	for _, m := range state.Margins {
		a.margins[m.InstrumentID] = m
	}
	a.events = append(a.events, state)
}

func (a *Account) Balance(currency model.Currency) (AccountBalance, bool) {
	b, ok := a.balances[currency.Code]
	return b, ok
}

func (a *Account) Balances() []AccountBalance {
	out := make([]AccountBalance, 0, len(a.balances))
	for _, b := range a.balances {
		out = append(out, b)
	}
	return out
}

func (a *Account) Margin(instrumentID model.InstrumentID) (MarginBalance, bool) {
	m, ok := a.margins[instrumentID]
	return m, ok
}

// Events returns the AccountState history, oldest first.
func (a *Account) Events() []AccountState {
	out := make([]AccountState, len(a.events))
	copy(out, a.events)
	return out
}

func (a *Account) EventCount() int { return len(a.events) }

// PurgeEventsBefore drops AccountState history older than the cutoff while
// always keeping the most recent snapshot. Returns the number removed.
func (a *Account) PurgeEventsBefore(cutoff model.UnixNanos) int {
	if len(a.events) <= 1 {
		return 0
	}
	kept := a.events[:0]
	removed := 0
	for i, ev := range a.events {
		if ev.TsEvent < cutoff && i != len(a.events)-1 {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	a.events = kept
	return removed
}
