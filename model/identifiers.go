package model

import (
	"fmt"
	"strings"
)

// Venue identifies an execution or data venue (e.g. BINANCE, DYDX, SIM).
type Venue string

// Symbol is a venue-native ticker symbol.
type Symbol string

// InstrumentID is Symbol + Venue, rendered as "SYMBOL.VENUE".
type InstrumentID struct {
	Symbol Symbol
	Venue  Venue
}

func NewInstrumentID(symbol Symbol, venue Venue) (InstrumentID, error) {
	if symbol == "" {
		return InstrumentID{}, fmt.Errorf("instrument id: empty symbol")
	}
	if venue == "" {
		return InstrumentID{}, fmt.Errorf("instrument id: empty venue")
	}
	return InstrumentID{Symbol: symbol, Venue: venue}, nil
}

// ParseInstrumentID parses "SYMBOL.VENUE". The venue is everything after the
// last dot so dotted symbols survive.
func ParseInstrumentID(s string) (InstrumentID, error) {
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return InstrumentID{}, fmt.Errorf("instrument id: cannot parse %q, expected SYMBOL.VENUE", s)
	}
	return InstrumentID{Symbol: Symbol(s[:i]), Venue: Venue(s[i+1:])}, nil
}

func (id InstrumentID) String() string {
	return string(id.Symbol) + "." + string(id.Venue)
}

func (id InstrumentID) IsZero() bool { return id.Symbol == "" && id.Venue == "" }

// Opaque string identifiers. All reject the empty string at construction;
// engines treat the zero value as "not set".
type (
	TraderID        string
	StrategyID      string
	AccountID       string
	ClientOrderID   string
	VenueOrderID    string
	TradeID         string
	PositionID      string
	ExecAlgorithmID string
	OrderListID     string
	ClientID        string
)

func NewTraderID(s string) (TraderID, error) {
	if err := validateID("trader id", s); err != nil {
		return "", err
	}
	return TraderID(s), nil
}

func NewStrategyID(s string) (StrategyID, error) {
	if err := validateID("strategy id", s); err != nil {
		return "", err
	}
	return StrategyID(s), nil
}

func NewAccountID(s string) (AccountID, error) {
	if err := validateID("account id", s); err != nil {
		return "", err
	}
	return AccountID(s), nil
}

func NewClientOrderID(s string) (ClientOrderID, error) {
	if err := validateID("client order id", s); err != nil {
		return "", err
	}
	return ClientOrderID(s), nil
}

func NewVenueOrderID(s string) (VenueOrderID, error) {
	if err := validateID("venue order id", s); err != nil {
		return "", err
	}
	return VenueOrderID(s), nil
}

func NewTradeID(s string) (TradeID, error) {
	if err := validateID("trade id", s); err != nil {
		return "", err
	}
	return TradeID(s), nil
}

func NewPositionID(s string) (PositionID, error) {
	if err := validateID("position id", s); err != nil {
		return "", err
	}
	return PositionID(s), nil
}

func validateID(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%s: empty value", kind)
	}
	if strings.TrimSpace(s) != s {
		return fmt.Errorf("%s: leading/trailing whitespace in %q", kind, s)
	}
	return nil
}

// ExternalStrategyID marks orders adopted from the venue that no local
// strategy claims.
const ExternalStrategyID StrategyID = "EXTERNAL"
