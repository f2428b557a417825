package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"trading-node-go/execution"
	"trading-node-go/model"
	"trading-node-go/portfolio"
)

// Execution command methods. All go over signed REST; acknowledgements
// arrive asynchronously on the user stream as order_update frames.

func (a *VenueAdapter) SubmitOrder(ctx context.Context, cmd execution.SubmitOrder) error {
	init := cmd.Init
	params := map[string]string{
		"symbol":        string(init.InstrumentID.Symbol),
		"side":          init.Side.String(),
		"type":          init.OrderType.String(),
		"quantity":      init.Quantity.String(),
		"timeInForce":   init.TimeInForce.String(),
		"clientOrderId": string(init.ClientOrderID),
	}
	if init.Price != nil {
		params["price"] = init.Price.String()
	}
	if init.TriggerPrice != nil {
		params["triggerPrice"] = init.TriggerPrice.String()
	}
	if init.PostOnly {
		params["postOnly"] = "true"
	}
	if init.ReduceOnly {
		params["reduceOnly"] = "true"
	}
	if init.TimeInForce == model.TimeInForceGTD && init.ExpireTime > 0 {
		params["expireTime"] = strconv.FormatInt(init.ExpireTime/1e6, 10)
	}
	_, err := a.rest.Signed(ctx, http.MethodPost, "/api/v1/order", params)
	return err
}

func (a *VenueAdapter) ModifyOrder(ctx context.Context, cmd execution.ModifyOrder) error {
	params := map[string]string{
		"clientOrderId": string(cmd.ClientOrderID),
	}
	if cmd.Quantity != nil {
		params["quantity"] = cmd.Quantity.String()
	}
	if cmd.Price != nil {
		params["price"] = cmd.Price.String()
	}
	if cmd.TriggerPrice != nil {
		params["triggerPrice"] = cmd.TriggerPrice.String()
	}
	_, err := a.rest.Signed(ctx, http.MethodPut, "/api/v1/order", params)
	return err
}

func (a *VenueAdapter) CancelOrder(ctx context.Context, cmd execution.CancelOrder) error {
	_, err := a.rest.Signed(ctx, http.MethodDelete, "/api/v1/order", map[string]string{
		"clientOrderId": string(cmd.ClientOrderID),
	})
	return err
}

func (a *VenueAdapter) CancelAllOrders(ctx context.Context, cmd execution.CancelAll) error {
	params := map[string]string{
		"symbol": string(cmd.InstrumentID.Symbol),
	}
	if cmd.Side != model.OrderSideNoSide {
		params["side"] = cmd.Side.String()
	}
	_, err := a.rest.Signed(ctx, http.MethodDelete, "/api/v1/allOrders", params)
	return err
}

func (a *VenueAdapter) BatchCancel(ctx context.Context, cmd execution.BatchCancel) error {
	ids := make([]string, 0, len(cmd.ClientOrderIDs))
	for _, id := range cmd.ClientOrderIDs {
		ids = append(ids, string(id))
	}
	_, err := a.rest.Signed(ctx, http.MethodPost, "/api/v1/batchCancel", map[string]string{
		"symbol":         string(cmd.InstrumentID.Symbol),
		"clientOrderIds": strings.Join(ids, ","),
	})
	return err
}

// --- reports ---

type wireOrderReport struct {
	Symbol        string `json:"s"`
	ClientOrderID string `json:"c"`
	VenueOrderID  string `json:"i"`
	Status        string `json:"X"`
	Side          string `json:"S"`
	OrderType     string `json:"o"`
	TimeInForce   string `json:"f"`
	Quantity      string `json:"q"`
	FilledQty     string `json:"z"`
	Price         string `json:"p"`
	AvgPrice      string `json:"ap"`
	Reason        string `json:"r"`
	TsAccepted    int64  `json:"T"`
	TsLast        int64  `json:"E"`
}

type wireFillReport struct {
	Symbol        string `json:"s"`
	ClientOrderID string `json:"c"`
	VenueOrderID  string `json:"i"`
	TradeID       string `json:"t"`
	Side          string `json:"S"`
	Qty           string `json:"l"`
	Price         string `json:"L"`
	Commission    string `json:"n"`
	CommissionCcy string `json:"N"`
	Liquidity     string `json:"m"`
	TsEvent       int64  `json:"E"`
}

type wirePositionReport struct {
	Symbol  string `json:"s"`
	Side    string `json:"ps"`
	Qty     string `json:"pa"`
	TsLast  int64  `json:"E"`
}

func parseWireStatus(s string) model.OrderStatus {
	switch s {
	case "NEW", "ACCEPTED":
		return model.OrderStatusAccepted
	case "PARTIALLY_FILLED":
		return model.OrderStatusPartiallyFilled
	case "FILLED":
		return model.OrderStatusFilled
	case "CANCELED":
		return model.OrderStatusCanceled
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return model.OrderStatusExpired
	case "REJECTED":
		return model.OrderStatusRejected
	case "TRIGGERED":
		return model.OrderStatusTriggered
	default:
		return model.OrderStatusCanceled
	}
}

func parseWireOrderType(s string) model.OrderType {
	switch s {
	case "MARKET":
		return model.OrderTypeMarket
	case "STOP_MARKET":
		return model.OrderTypeStopMarket
	case "STOP_LIMIT":
		return model.OrderTypeStopLimit
	case "MARKET_IF_TOUCHED":
		return model.OrderTypeMarketIfTouched
	case "LIMIT_IF_TOUCHED":
		return model.OrderTypeLimitIfTouched
	default:
		return model.OrderTypeLimit
	}
}

func parseWireTIF(s string) model.TimeInForce {
	switch s {
	case "IOC":
		return model.TimeInForceIOC
	case "FOK":
		return model.TimeInForceFOK
	case "GTD":
		return model.TimeInForceGTD
	case "DAY":
		return model.TimeInForceDay
	default:
		return model.TimeInForceGTC
	}
}

func (a *VenueAdapter) orderReportFromWire(w wireOrderReport) (execution.OrderStatusReport, error) {
	qty, err := model.ParseQuantity(w.Quantity)
	if err != nil {
		return execution.OrderStatusReport{}, fmt.Errorf("report qty: %w", err)
	}
	filled := model.Quantity{Precision: qty.Precision}
	if w.FilledQty != "" {
		filled, err = model.ParseQuantity(w.FilledQty)
		if err != nil {
			return execution.OrderStatusReport{}, fmt.Errorf("report filled qty: %w", err)
		}
	}
	var price *model.Price
	if w.Price != "" && w.Price != "0" {
		p, err := model.ParsePrice(w.Price)
		if err != nil {
			return execution.OrderStatusReport{}, fmt.Errorf("report price: %w", err)
		}
		price = &p
	}
	avgPx := 0.0
	if w.AvgPrice != "" {
		avgPx, _ = strconv.ParseFloat(w.AvgPrice, 64)
	}
	side := model.OrderSideBuy
	if w.Side == "SELL" {
		side = model.OrderSideSell
	}
	return execution.OrderStatusReport{
		AccountID:     a.cfg.AccountID,
		InstrumentID:  model.InstrumentID{Symbol: model.Symbol(w.Symbol), Venue: a.cfg.Venue},
		ClientOrderID: model.ClientOrderID(w.ClientOrderID),
		VenueOrderID:  model.VenueOrderID(w.VenueOrderID),
		Side:          side,
		OrderType:     parseWireOrderType(w.OrderType),
		TimeInForce:   parseWireTIF(w.TimeInForce),
		Status:        parseWireStatus(w.Status),
		Quantity:      qty,
		FilledQty:     filled,
		Price:         price,
		AvgPx:         avgPx,
		Reason:        w.Reason,
		TsAccepted:    w.TsAccepted,
		TsLast:        w.TsLast,
	}, nil
}

func (a *VenueAdapter) fillReportFromWire(w wireFillReport) (execution.FillReport, error) {
	qty, err := model.ParseQuantity(w.Qty)
	if err != nil {
		return execution.FillReport{}, fmt.Errorf("fill report qty: %w", err)
	}
	px, err := model.ParsePrice(w.Price)
	if err != nil {
		return execution.FillReport{}, fmt.Errorf("fill report price: %w", err)
	}
	side := model.OrderSideBuy
	if w.Side == "SELL" {
		side = model.OrderSideSell
	}
	commission := model.Money{}
	if w.Commission != "" && w.CommissionCcy != "" {
		amount, err := decimal.NewFromString(w.Commission)
		if err != nil {
			return execution.FillReport{}, fmt.Errorf("fill report commission: %w", err)
		}
		ccy, err := model.NewCurrency(w.CommissionCcy, 8)
		if err != nil {
			return execution.FillReport{}, err
		}
		commission = model.NewMoney(amount, ccy)
	}
	return execution.FillReport{
		AccountID:     a.cfg.AccountID,
		InstrumentID:  model.InstrumentID{Symbol: model.Symbol(w.Symbol), Venue: a.cfg.Venue},
		ClientOrderID: model.ClientOrderID(w.ClientOrderID),
		VenueOrderID:  model.VenueOrderID(w.VenueOrderID),
		TradeID:       model.TradeID(w.TradeID),
		Side:          side,
		LastQty:       qty,
		LastPx:        px,
		Commission:    commission,
		LiquiditySide: w.Liquidity,
		TsEvent:       w.TsEvent,
	}, nil
}

func reportQueryParams(q execution.ReportQuery) map[string]string {
	params := map[string]string{}
	if !q.InstrumentID.IsZero() {
		params["symbol"] = string(q.InstrumentID.Symbol)
	}
	if q.Start > 0 {
		params["startTime"] = strconv.FormatInt(q.Start/1e6, 10)
	}
	if q.End > 0 {
		params["endTime"] = strconv.FormatInt(q.End/1e6, 10)
	}
	if q.OpenOnly {
		params["openOnly"] = "true"
	}
	return params
}

func (a *VenueAdapter) QueryOrder(ctx context.Context, clientOrderID model.ClientOrderID, venueOrderID model.VenueOrderID) (*execution.OrderStatusReport, error) {
	params := map[string]string{}
	if clientOrderID != "" {
		params["clientOrderId"] = string(clientOrderID)
	}
	if venueOrderID != "" {
		params["orderId"] = string(venueOrderID)
	}
	body, err := a.rest.Signed(ctx, http.MethodGet, "/api/v1/order", params)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Order *wireOrderReport `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("venue adapter: query order: %w", err)
	}
	if resp.Order == nil {
		return nil, nil
	}
	report, err := a.orderReportFromWire(*resp.Order)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (a *VenueAdapter) RequestOrderStatusReports(ctx context.Context, q execution.ReportQuery) ([]execution.OrderStatusReport, error) {
	body, err := a.rest.Signed(ctx, http.MethodGet, "/api/v1/orders", reportQueryParams(q))
	if err != nil {
		return nil, err
	}
	var resp struct {
		Orders []wireOrderReport `json:"orders"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("venue adapter: order reports: %w", err)
	}
	out := make([]execution.OrderStatusReport, 0, len(resp.Orders))
	for _, w := range resp.Orders {
		report, err := a.orderReportFromWire(w)
		if err != nil {
			return nil, err
		}
		out = append(out, report)
	}
	return out, nil
}

func (a *VenueAdapter) RequestFillReports(ctx context.Context, q execution.ReportQuery) ([]execution.FillReport, error) {
	body, err := a.rest.Signed(ctx, http.MethodGet, "/api/v1/fills", reportQueryParams(q))
	if err != nil {
		return nil, err
	}
	var resp struct {
		Fills []wireFillReport `json:"fills"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("venue adapter: fill reports: %w", err)
	}
	out := make([]execution.FillReport, 0, len(resp.Fills))
	for _, w := range resp.Fills {
		report, err := a.fillReportFromWire(w)
		if err != nil {
			return nil, err
		}
		out = append(out, report)
	}
	return out, nil
}

func (a *VenueAdapter) RequestPositionStatusReports(ctx context.Context, q execution.ReportQuery) ([]execution.PositionStatusReport, error) {
	body, err := a.rest.Signed(ctx, http.MethodGet, "/api/v1/positions", reportQueryParams(q))
	if err != nil {
		return nil, err
	}
	var resp struct {
		Positions []wirePositionReport `json:"positions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("venue adapter: position reports: %w", err)
	}
	out := make([]execution.PositionStatusReport, 0, len(resp.Positions))
	for _, w := range resp.Positions {
		qty, err := model.ParseQuantity(strings.TrimPrefix(w.Qty, "-"))
		if err != nil {
			return nil, fmt.Errorf("position report qty: %w", err)
		}
		side := model.PositionSideFlat
		switch {
		case w.Side == "LONG" || (w.Side == "" && !strings.HasPrefix(w.Qty, "-") && !qty.IsZero()):
			side = model.PositionSideLong
		case w.Side == "SHORT" || strings.HasPrefix(w.Qty, "-"):
			side = model.PositionSideShort
		}
		out = append(out, execution.PositionStatusReport{
			AccountID:    a.cfg.AccountID,
			InstrumentID: model.InstrumentID{Symbol: model.Symbol(w.Symbol), Venue: a.cfg.Venue},
			Side:         side,
			Quantity:     qty,
			TsLast:       w.TsLast,
		})
	}
	return out, nil
}

func (a *VenueAdapter) RequestAccountState(ctx context.Context) (portfolio.AccountState, error) {
	body, err := a.rest.Signed(ctx, http.MethodGet, "/api/v1/account", nil)
	if err != nil {
		return portfolio.AccountState{}, err
	}
	var resp struct {
		Balances []wireBalance `json:"B"`
		TsEvent  int64         `json:"E"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return portfolio.AccountState{}, fmt.Errorf("venue adapter: account state: %w", err)
	}
	raw, err := json.Marshal(wireAccountUpdate{Balances: resp.Balances, TsEvent: resp.TsEvent})
	if err != nil {
		return portfolio.AccountState{}, err
	}
	return a.parseAccountUpdate(raw, now())
}
