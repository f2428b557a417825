package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trading-node-go/model"
)

// Envelope wraps every stream frame: a type tag plus the raw payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	frameTrade         = "trade"
	frameQuote         = "quote"
	frameBookDelta     = "book_delta"
	frameOrderUpdate   = "order_update"
	frameAccountUpdate = "account_update"
	framePong          = "pong"
)

type wireTrade struct {
	Symbol  string `json:"s"`
	Price   string `json:"p"`
	Qty     string `json:"q"`
	Maker   bool   `json:"m"` // buyer is the maker
	TradeID string `json:"t"`
	TsEvent int64  `json:"E"`
}

type wireQuote struct {
	Symbol  string `json:"s"`
	Bid     string `json:"b"`
	BidQty  string `json:"B"`
	Ask     string `json:"a"`
	AskQty  string `json:"A"`
	TsEvent int64  `json:"E"`
}

type wireBookDelta struct {
	Symbol   string `json:"s"`
	Action   string `json:"action"`
	Side     string `json:"side"`
	Price    string `json:"p"`
	Qty      string `json:"q"`
	Sequence uint64 `json:"seq"`
	TsEvent  int64  `json:"E"`
}

type wireOrderUpdate struct {
	Symbol        string `json:"s"`
	ClientOrderID string `json:"c"`
	VenueOrderID  string `json:"i"`
	Status        string `json:"X"`
	Side          string `json:"S"`
	LastQty       string `json:"l"`
	LastPrice     string `json:"L"`
	Commission    string `json:"n"`
	CommissionCcy string `json:"N"`
	TradeID       string `json:"t"`
	Reason        string `json:"r"`
	TsEvent       int64  `json:"E"`
}

type wireBalance struct {
	Asset  string `json:"a"`
	Total  string `json:"wb"`
	Locked string `json:"lk"`
}

type wireAccountUpdate struct {
	Balances []wireBalance `json:"B"`
	TsEvent  int64         `json:"E"`
}

func parseTrade(raw []byte, venue model.Venue, tsInit int64) (model.TradeTick, error) {
	var w wireTrade
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.TradeTick{}, err
	}
	price, err := model.ParsePrice(w.Price)
	if err != nil {
		return model.TradeTick{}, fmt.Errorf("trade price: %w", err)
	}
	qty, err := model.ParseQuantity(w.Qty)
	if err != nil {
		return model.TradeTick{}, fmt.Errorf("trade qty: %w", err)
	}
	aggressor := model.AggressorSideBuyer
	if w.Maker {
		aggressor = model.AggressorSideSeller
	}
	id := model.InstrumentID{Symbol: model.Symbol(w.Symbol), Venue: venue}
	return model.NewTradeTick(id, price, qty, aggressor, model.TradeID(w.TradeID), w.TsEvent, tsInit)
}

func parseQuote(raw []byte, venue model.Venue, tsInit int64) (model.QuoteTick, error) {
	var w wireQuote
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.QuoteTick{}, err
	}
	bid, err := model.ParsePrice(w.Bid)
	if err != nil {
		return model.QuoteTick{}, fmt.Errorf("quote bid: %w", err)
	}
	ask, err := model.ParsePrice(w.Ask)
	if err != nil {
		return model.QuoteTick{}, fmt.Errorf("quote ask: %w", err)
	}
	if bid.Precision != ask.Precision {
		if bid.Precision > ask.Precision {
			ask, err = model.NewPrice(ask.Float64(), bid.Precision)
		} else {
			bid, err = model.NewPrice(bid.Float64(), ask.Precision)
		}
		if err != nil {
			return model.QuoteTick{}, err
		}
	}
	bidQty, err := model.ParseQuantity(w.BidQty)
	if err != nil {
		return model.QuoteTick{}, fmt.Errorf("quote bid qty: %w", err)
	}
	askQty, err := model.ParseQuantity(w.AskQty)
	if err != nil {
		return model.QuoteTick{}, fmt.Errorf("quote ask qty: %w", err)
	}
	if bidQty.Precision != askQty.Precision {
		if bidQty.Precision > askQty.Precision {
			askQty, err = model.NewQuantity(askQty.Float64(), bidQty.Precision)
		} else {
			bidQty, err = model.NewQuantity(bidQty.Float64(), askQty.Precision)
		}
		if err != nil {
			return model.QuoteTick{}, err
		}
	}
	id := model.InstrumentID{Symbol: model.Symbol(w.Symbol), Venue: venue}
	return model.NewQuoteTick(id, bid, ask, bidQty, askQty, w.TsEvent, tsInit)
}

func parseBookDelta(raw []byte, venue model.Venue, tsInit int64) (model.OrderBookDelta, error) {
	var w wireBookDelta
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.OrderBookDelta{}, err
	}
	price, err := model.ParsePrice(w.Price)
	if err != nil {
		return model.OrderBookDelta{}, fmt.Errorf("delta price: %w", err)
	}
	qty, err := model.ParseQuantity(w.Qty)
	if err != nil {
		return model.OrderBookDelta{}, fmt.Errorf("delta qty: %w", err)
	}
	action := model.BookActionUpdate
	switch w.Action {
	case "ADD":
		action = model.BookActionAdd
	case "DELETE":
		action = model.BookActionDelete
	case "CLEAR":
		action = model.BookActionClear
	}
	side := model.OrderSideBuy
	if w.Side == "SELL" {
		side = model.OrderSideSell
	}
	id := model.InstrumentID{Symbol: model.Symbol(w.Symbol), Venue: venue}
	return model.NewOrderBookDelta(id, action, side, price, qty, 0, 0, w.Sequence, w.TsEvent, tsInit), nil
}

// parseOrderUpdate maps a venue execution report to the lifecycle event it
// evidences. Venue states outside the known set map to Canceled.
func parseOrderUpdate(raw []byte, venue model.Venue, account model.AccountID, tsInit int64) (model.OrderEvent, error) {
	var w wireOrderUpdate
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	base := model.OrderEventBase{
		EventID:       model.NewEventID(),
		InstrumentID:  model.InstrumentID{Symbol: model.Symbol(w.Symbol), Venue: venue},
		ClientOrderID: model.ClientOrderID(w.ClientOrderID),
		VenueOrderID:  model.VenueOrderID(w.VenueOrderID),
		AccountID:     account,
		TsEvent:       w.TsEvent,
		TsInit:        tsInit,
	}

	switch w.Status {
	case "NEW", "ACCEPTED":
		return model.OrderAccepted{OrderEventBase: base}, nil
	case "PARTIALLY_FILLED", "FILLED", "TRADE":
		lastQty, err := model.ParseQuantity(w.LastQty)
		if err != nil {
			return nil, fmt.Errorf("fill qty: %w", err)
		}
		lastPx, err := model.ParsePrice(w.LastPrice)
		if err != nil {
			return nil, fmt.Errorf("fill price: %w", err)
		}
		side := model.OrderSideBuy
		if w.Side == "SELL" {
			side = model.OrderSideSell
		}
		commission := model.Money{}
		if w.Commission != "" && w.CommissionCcy != "" {
			amount, err := decimal.NewFromString(w.Commission)
			if err != nil {
				return nil, fmt.Errorf("fill commission: %w", err)
			}
			ccy, err := model.NewCurrency(w.CommissionCcy, 8)
			if err != nil {
				return nil, err
			}
			commission = model.NewMoney(amount, ccy)
		}
		return model.OrderFilled{
			OrderEventBase: base,
			TradeID:        model.TradeID(w.TradeID),
			Side:           side,
			LastQty:        lastQty,
			LastPx:         lastPx,
			Commission:     commission,
		}, nil
	case "CANCELED":
		return model.OrderCanceled{OrderEventBase: base}, nil
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return model.OrderExpired{OrderEventBase: base}, nil
	case "REJECTED":
		return model.OrderRejected{OrderEventBase: base, Reason: w.Reason}, nil
	case "TRIGGERED":
		return model.OrderTriggered{OrderEventBase: base}, nil
	default:
		return model.OrderCanceled{OrderEventBase: base}, fmt.Errorf(
			"order update: unexpected venue status %q, mapping to CANCELED", w.Status)
	}
}

// now is split out so tests can pin observation timestamps.
var now = func() int64 { return time.Now().UnixNano() }
