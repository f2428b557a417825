package model

import (
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// MaxValuePrecision bounds the decimal precision of Price and Quantity.
const MaxValuePrecision = 16

var pow10 = [MaxValuePrecision + 1]int64{
	1, 10, 100, 1000, 10000, 100000, 1000000, 10000000, 100000000,
	1000000000, 10000000000, 100000000000, 1000000000000, 10000000000000,
	100000000000000, 1000000000000000, 10000000000000000,
}

// Price is a fixed-point price: raw mantissa scaled by 10^precision.
// Arithmetic across mixed precisions is refused rather than silently scaled.
type Price struct {
	Raw       int64
	Precision uint8
}

func NewPrice(value float64, precision uint8) (Price, error) {
	if precision > MaxValuePrecision {
		return Price{}, fmt.Errorf("price: precision %d exceeds max %d", precision, MaxValuePrecision)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Price{}, fmt.Errorf("price: invalid value %v", value)
	}
	return Price{Raw: int64(math.Round(value * float64(pow10[precision]))), Precision: precision}, nil
}

// MustPrice panics on invalid input; reserved for constants and tests.
func MustPrice(value float64, precision uint8) Price {
	p, err := NewPrice(value, precision)
	if err != nil {
		panic(err)
	}
	return p
}

func PriceFromRaw(raw int64, precision uint8) (Price, error) {
	if precision > MaxValuePrecision {
		return Price{}, fmt.Errorf("price: precision %d exceeds max %d", precision, MaxValuePrecision)
	}
	return Price{Raw: raw, Precision: precision}, nil
}

func ParsePrice(s string) (Price, error) {
	prec := decimalPlaces(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Price{}, fmt.Errorf("price: parse %q: %w", s, err)
	}
	return NewPrice(v, prec)
}

func (p Price) Float64() float64 { return float64(p.Raw) / float64(pow10[p.Precision]) }

func (p Price) Decimal() decimal.Decimal {
	return decimal.New(p.Raw, -int32(p.Precision))
}

func (p Price) IsZero() bool     { return p.Raw == 0 }
func (p Price) IsPositive() bool { return p.Raw > 0 }

func (p Price) Add(other Price) (Price, error) {
	if p.Precision != other.Precision {
		return Price{}, precisionMismatch("price", p.Precision, other.Precision)
	}
	return Price{Raw: p.Raw + other.Raw, Precision: p.Precision}, nil
}

func (p Price) Sub(other Price) (Price, error) {
	if p.Precision != other.Precision {
		return Price{}, precisionMismatch("price", p.Precision, other.Precision)
	}
	return Price{Raw: p.Raw - other.Raw, Precision: p.Precision}, nil
}

func (p Price) Cmp(other Price) int {
	a, b := p.Decimal(), other.Decimal()
	return a.Cmp(b)
}

func (p Price) String() string {
	return decimal.New(p.Raw, -int32(p.Precision)).StringFixed(int32(p.Precision))
}

// Quantity is a non-negative fixed-point size.
type Quantity struct {
	Raw       int64
	Precision uint8
}

func NewQuantity(value float64, precision uint8) (Quantity, error) {
	if precision > MaxValuePrecision {
		return Quantity{}, fmt.Errorf("quantity: precision %d exceeds max %d", precision, MaxValuePrecision)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return Quantity{}, fmt.Errorf("quantity: invalid value %v", value)
	}
	return Quantity{Raw: int64(math.Round(value * float64(pow10[precision]))), Precision: precision}, nil
}

func MustQuantity(value float64, precision uint8) Quantity {
	q, err := NewQuantity(value, precision)
	if err != nil {
		panic(err)
	}
	return q
}

func QuantityFromRaw(raw int64, precision uint8) (Quantity, error) {
	if precision > MaxValuePrecision {
		return Quantity{}, fmt.Errorf("quantity: precision %d exceeds max %d", precision, MaxValuePrecision)
	}
	if raw < 0 {
		return Quantity{}, fmt.Errorf("quantity: negative raw value %d", raw)
	}
	return Quantity{Raw: raw, Precision: precision}, nil
}

func ParseQuantity(s string) (Quantity, error) {
	prec := decimalPlaces(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Quantity{}, fmt.Errorf("quantity: parse %q: %w", s, err)
	}
	return NewQuantity(v, prec)
}

func (q Quantity) Float64() float64 { return float64(q.Raw) / float64(pow10[q.Precision]) }

func (q Quantity) Decimal() decimal.Decimal {
	return decimal.New(q.Raw, -int32(q.Precision))
}

func (q Quantity) IsZero() bool     { return q.Raw == 0 }
func (q Quantity) IsPositive() bool { return q.Raw > 0 }

func (q Quantity) Add(other Quantity) (Quantity, error) {
	if q.Precision != other.Precision {
		return Quantity{}, precisionMismatch("quantity", q.Precision, other.Precision)
	}
	return Quantity{Raw: q.Raw + other.Raw, Precision: q.Precision}, nil
}

func (q Quantity) Sub(other Quantity) (Quantity, error) {
	if q.Precision != other.Precision {
		return Quantity{}, precisionMismatch("quantity", q.Precision, other.Precision)
	}
	if other.Raw > q.Raw {
		return Quantity{}, fmt.Errorf("quantity: subtraction underflow (%s - %s)", q, other)
	}
	return Quantity{Raw: q.Raw - other.Raw, Precision: q.Precision}, nil
}

// Rescale converts the quantity to the target precision so callers can
// combine values from sources with differing scales. Scaling down errors
// if sub-precision digits would be lost.
func (q Quantity) Rescale(precision uint8) (Quantity, error) {
	if precision > MaxValuePrecision {
		return Quantity{}, fmt.Errorf("quantity: precision %d exceeds max %d", precision, MaxValuePrecision)
	}
	switch {
	case precision == q.Precision:
		return q, nil
	case precision > q.Precision:
		factor := pow10[precision-q.Precision]
		if q.Raw > math.MaxInt64/factor {
			return Quantity{}, fmt.Errorf("quantity: rescale overflow (%s to precision %d)", q, precision)
		}
		return Quantity{Raw: q.Raw * factor, Precision: precision}, nil
	default:
		factor := pow10[q.Precision-precision]
		if q.Raw%factor != 0 {
			return Quantity{}, fmt.Errorf("quantity: rescale %s to precision %d loses digits", q, precision)
		}
		return Quantity{Raw: q.Raw / factor, Precision: precision}, nil
	}
}

func (q Quantity) Cmp(other Quantity) int {
	a, b := q.Decimal(), other.Decimal()
	return a.Cmp(b)
}

func (q Quantity) String() string {
	return decimal.New(q.Raw, -int32(q.Precision)).StringFixed(int32(q.Precision))
}

func precisionMismatch(kind string, a, b uint8) error {
	return fmt.Errorf("%s: precision mismatch %d vs %d", kind, a, b)
}

func decimalPlaces(s string) uint8 {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			n := len(s) - i - 1
			if n > MaxValuePrecision {
				return MaxValuePrecision
			}
			return uint8(n)
		}
	}
	return 0
}
