package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimal is the arbitrary-precision signed decimal used wherever a float
// would lose information (leverage, commissions, funding rates).
type Decimal = decimal.Decimal

// Currency is an ISO-style code with a display precision.
type Currency struct {
	Code      string
	Precision uint8
}

var (
	USD  = Currency{Code: "USD", Precision: 2}
	USDT = Currency{Code: "USDT", Precision: 8}
	USDC = Currency{Code: "USDC", Precision: 8}
	BTC  = Currency{Code: "BTC", Precision: 8}
	ETH  = Currency{Code: "ETH", Precision: 8}
)

func NewCurrency(code string, precision uint8) (Currency, error) {
	if code == "" {
		return Currency{}, fmt.Errorf("currency: empty code")
	}
	if precision > MaxValuePrecision {
		return Currency{}, fmt.Errorf("currency: precision %d exceeds max %d", precision, MaxValuePrecision)
	}
	return Currency{Code: code, Precision: precision}, nil
}

// Money is an exact amount in a single currency. Arithmetic across
// currencies is refused.
type Money struct {
	Amount   decimal.Decimal
	Currency Currency
}

func NewMoney(amount decimal.Decimal, currency Currency) Money {
	return Money{Amount: amount, Currency: currency}
}

func MoneyFromFloat(amount float64, currency Currency) Money {
	return Money{Amount: decimal.NewFromFloat(amount), Currency: currency}
}

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, currencyMismatch(m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, currencyMismatch(m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

func (m Money) Neg() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

func (m Money) IsZero() bool     { return m.Amount.IsZero() }
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

func (m Money) String() string {
	return m.Amount.StringFixed(int32(m.Currency.Precision)) + " " + m.Currency.Code
}

func currencyMismatch(a, b Currency) error {
	return fmt.Errorf("money: currency mismatch %s vs %s", a.Code, b.Code)
}
