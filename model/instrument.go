package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Instrument is the shared surface of all instrument variants. Instruments
// are immutable once inserted into the cache.
type Instrument interface {
	ID() InstrumentID
	Kind() string
	BaseCurrency() Currency
	QuoteCurrency() Currency
	SettlementCurrency() Currency
	PricePrecision() uint8
	SizePrecision() uint8
	TickSize() Price
	LotSize() Quantity
	MinQuantity() Quantity
	MaxQuantity() Quantity
	MinNotional() Money
	MaxNotional() Money
	MakerFee() Decimal
	TakerFee() Decimal
	MarginInit() Decimal
	MarginMaint() Decimal
	// Notional computes quantity x price in the quote currency.
	Notional(quantity Quantity, price Price) Money
	// MakePrice constructs a price at this instrument's precision.
	MakePrice(value float64) (Price, error)
	// MakeQty constructs a quantity at this instrument's precision.
	MakeQty(value float64) (Quantity, error)
}

// InstrumentBase holds the fields common to every variant.
type InstrumentBase struct {
	InstrumentID   InstrumentID
	Base           Currency
	Quote          Currency
	Settlement     Currency
	PriceIncrement Price
	SizeIncrement  Quantity
	Lot            Quantity
	MinQty         Quantity
	MaxQty         Quantity
	MinNotionalVal Money
	MaxNotionalVal Money
	MakerFeeRate   Decimal
	TakerFeeRate   Decimal
	MarginInitRate Decimal
	MarginMaintRate Decimal
	TsInit         UnixNanos
}

func (b *InstrumentBase) ID() InstrumentID            { return b.InstrumentID }
func (b *InstrumentBase) BaseCurrency() Currency      { return b.Base }
func (b *InstrumentBase) QuoteCurrency() Currency     { return b.Quote }
func (b *InstrumentBase) SettlementCurrency() Currency { return b.Settlement }
func (b *InstrumentBase) PricePrecision() uint8       { return b.PriceIncrement.Precision }
func (b *InstrumentBase) SizePrecision() uint8        { return b.SizeIncrement.Precision }
func (b *InstrumentBase) TickSize() Price             { return b.PriceIncrement }
func (b *InstrumentBase) LotSize() Quantity           { return b.Lot }
func (b *InstrumentBase) MinQuantity() Quantity       { return b.MinQty }
func (b *InstrumentBase) MaxQuantity() Quantity       { return b.MaxQty }
func (b *InstrumentBase) MinNotional() Money          { return b.MinNotionalVal }
func (b *InstrumentBase) MaxNotional() Money          { return b.MaxNotionalVal }
func (b *InstrumentBase) MakerFee() Decimal           { return b.MakerFeeRate }
func (b *InstrumentBase) TakerFee() Decimal           { return b.TakerFeeRate }
func (b *InstrumentBase) MarginInit() Decimal         { return b.MarginInitRate }
func (b *InstrumentBase) MarginMaint() Decimal        { return b.MarginMaintRate }

func (b *InstrumentBase) MakePrice(value float64) (Price, error) {
	return NewPrice(value, b.PricePrecision())
}

func (b *InstrumentBase) MakeQty(value float64) (Quantity, error) {
	return NewQuantity(value, b.SizePrecision())
}

func (b *InstrumentBase) notionalLinear(quantity Quantity, price Price) Money {
	amt := quantity.Decimal().Mul(price.Decimal())
	return Money{Amount: amt, Currency: b.Quote}
}

func (b *InstrumentBase) validate() error {
	if b.InstrumentID.IsZero() {
		return fmt.Errorf("instrument: empty id")
	}
	if !b.PriceIncrement.IsPositive() {
		return fmt.Errorf("instrument %s: 'price_increment' must be positive", b.InstrumentID)
	}
	if !b.SizeIncrement.IsPositive() {
		return fmt.Errorf("instrument %s: 'size_increment' must be positive", b.InstrumentID)
	}
	return nil
}

// CurrencyPair is a spot pair (e.g. BTC/USDT).
type CurrencyPair struct {
	InstrumentBase
}

func NewCurrencyPair(base InstrumentBase) (*CurrencyPair, error) {
	if err := base.validate(); err != nil {
		return nil, err
	}
	return &CurrencyPair{InstrumentBase: base}, nil
}

func (i *CurrencyPair) Kind() string { return "CURRENCY_PAIR" }

func (i *CurrencyPair) Notional(quantity Quantity, price Price) Money {
	return i.notionalLinear(quantity, price)
}

// Perpetual is a perpetual swap. IsInverse selects contract-style notional.
type Perpetual struct {
	InstrumentBase
	Multiplier Decimal
	IsInverse  bool
}

func NewPerpetual(base InstrumentBase, multiplier Decimal, isInverse bool) (*Perpetual, error) {
	if err := base.validate(); err != nil {
		return nil, err
	}
	if multiplier.IsZero() {
		multiplier = decimal.NewFromInt(1)
	}
	return &Perpetual{InstrumentBase: base, Multiplier: multiplier, IsInverse: isInverse}, nil
}

func (i *Perpetual) Kind() string { return "PERPETUAL" }

func (i *Perpetual) Notional(quantity Quantity, price Price) Money {
	if i.IsInverse {
		// qty * multiplier / price, settled in base units
		px := price.Decimal()
		if px.IsZero() {
			return Money{Amount: decimal.Zero, Currency: i.Base}
		}
		amt := quantity.Decimal().Mul(i.Multiplier).Div(px)
		return Money{Amount: amt, Currency: i.Base}
	}
	amt := quantity.Decimal().Mul(i.Multiplier).Mul(price.Decimal())
	return Money{Amount: amt, Currency: i.Quote}
}

// Futures is a dated futures contract.
type Futures struct {
	InstrumentBase
	Multiplier Decimal
	Activation UnixNanos
	Expiration UnixNanos
}

func NewFutures(base InstrumentBase, multiplier Decimal, activation, expiration UnixNanos) (*Futures, error) {
	if err := base.validate(); err != nil {
		return nil, err
	}
	if expiration != 0 && activation > expiration {
		return nil, fmt.Errorf("futures %s: activation after expiration", base.InstrumentID)
	}
	if multiplier.IsZero() {
		multiplier = decimal.NewFromInt(1)
	}
	return &Futures{InstrumentBase: base, Multiplier: multiplier, Activation: activation, Expiration: expiration}, nil
}

func (i *Futures) Kind() string { return "FUTURES" }

func (i *Futures) Notional(quantity Quantity, price Price) Money {
	amt := quantity.Decimal().Mul(i.Multiplier).Mul(price.Decimal())
	return Money{Amount: amt, Currency: i.Quote}
}

// OptionKind is PUT or CALL.
type OptionKind uint8

const (
	OptionKindCall OptionKind = iota
	OptionKindPut
)

func (k OptionKind) String() string {
	if k == OptionKindPut {
		return "PUT"
	}
	return "CALL"
}

// OptionContract is a vanilla option.
type OptionContract struct {
	InstrumentBase
	Option     OptionKind
	Strike     Price
	Multiplier Decimal
	Expiration UnixNanos
}

func NewOptionContract(base InstrumentBase, kind OptionKind, strike Price, multiplier Decimal, expiration UnixNanos) (*OptionContract, error) {
	if err := base.validate(); err != nil {
		return nil, err
	}
	if !strike.IsPositive() {
		return nil, fmt.Errorf("option %s: 'strike' must be positive", base.InstrumentID)
	}
	if multiplier.IsZero() {
		multiplier = decimal.NewFromInt(1)
	}
	return &OptionContract{
		InstrumentBase: base,
		Option:         kind,
		Strike:         strike,
		Multiplier:     multiplier,
		Expiration:     expiration,
	}, nil
}

func (i *OptionContract) Kind() string { return "OPTION" }

func (i *OptionContract) Notional(quantity Quantity, price Price) Money {
	amt := quantity.Decimal().Mul(i.Multiplier).Mul(price.Decimal())
	return Money{Amount: amt, Currency: i.Quote}
}
