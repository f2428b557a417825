package execution

import (
	"context"
	"time"

	"go.uber.org/zap"

	"trading-node-go/cache"
	"trading-node-go/clock"
	"trading-node-go/market"
	"trading-node-go/model"
	"trading-node-go/order"
)

// ReconciliationConfig enumerates the knobs of the convergence loops. Zero
// intervals disable the corresponding check.
type ReconciliationConfig struct {
	Enabled      bool          `yaml:"enabled"`
	StartupDelay time.Duration `yaml:"startup_delay"`
	// LookbackMins bounds how far back startup report requests reach.
	// Zero means unbounded.
	LookbackMins int `yaml:"lookback_mins"`
	// InstrumentIDs scopes reconciliation; empty means all.
	InstrumentIDs []model.InstrumentID `yaml:"instrument_ids"`
	// FilterPositionReports skips position reconciliation entirely.
	FilterPositionReports bool `yaml:"filter_position_reports"`
	// FilteredClientOrderIDs are never touched by reconciliation.
	FilteredClientOrderIDs []model.ClientOrderID `yaml:"filtered_client_order_ids"`
	// GenerateMissingOrders synthesizes fills to explain divergence
	// between venue-reported and local filled quantity.
	GenerateMissingOrders bool `yaml:"generate_missing_orders"`

	InflightCheckInterval  time.Duration `yaml:"inflight_check_interval"`
	InflightCheckThreshold time.Duration `yaml:"inflight_check_threshold"`
	InflightCheckRetries   int           `yaml:"inflight_check_retries"`

	OpenCheckInterval      time.Duration `yaml:"open_check_interval"`
	OpenCheckLookbackMins  int           `yaml:"open_check_lookback_mins"`
	OpenCheckThreshold     time.Duration `yaml:"open_check_threshold"`
	OpenCheckMissingRetries int          `yaml:"open_check_missing_retries"`
	OpenCheckOpenOnly      bool          `yaml:"open_check_open_only"`

	OwnBooksAuditInterval time.Duration `yaml:"own_books_audit_interval"`
}

func DefaultReconciliationConfig() ReconciliationConfig {
	return ReconciliationConfig{
		Enabled:                 true,
		GenerateMissingOrders:   true,
		StartupDelay:            10 * time.Second,
		InflightCheckInterval:   2 * time.Second,
		InflightCheckThreshold:  5 * time.Second,
		InflightCheckRetries:    5,
		OpenCheckInterval:       5 * time.Second,
		OpenCheckThreshold:      5 * time.Second,
		OpenCheckMissingRetries: 5,
		OpenCheckOpenOnly:       true,
	}
}

const (
	timerReconcileStartup  = "reconcile-startup"
	timerInflightCheck     = "reconcile-inflight-check"
	timerOpenCheck         = "reconcile-open-check"
	timerOwnBooksAudit     = "reconcile-own-books-audit"
	reasonInflightGaveUp   = "in-flight check retries exhausted"
)

// BookSource exposes the locally maintained books for the audit pass.
type BookSource interface {
	OrderBook(id model.InstrumentID) (*market.OrderBook, bool)
}

// Reconciler converges local order and position state with the venue.
// Generated events carry reconciliation=true; the aggregate's event and
// trade dedup makes replays idempotent.
type Reconciler struct {
	log    *zap.Logger
	engine *Engine
	cache  *cache.Cache
	clk    clock.Clock
	cfg    ReconciliationConfig
	books  BookSource // may be nil

	inflightRetries map[model.ClientOrderID]int
	missingCounts   map[model.ClientOrderID]int
}

func NewReconciler(
	log *zap.Logger,
	engine *Engine,
	c *cache.Cache,
	clk clock.Clock,
	cfg ReconciliationConfig,
	books BookSource,
) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		log:             log,
		engine:          engine,
		cache:           c,
		clk:             clk,
		cfg:             cfg,
		books:           books,
		inflightRetries: make(map[model.ClientOrderID]int),
		missingCounts:   make(map[model.ClientOrderID]int),
	}
}

// Start schedules the startup pass and the periodic checks.
func (r *Reconciler) Start() error {
	if !r.cfg.Enabled {
		r.log.Info("reconciliation disabled")
		return nil
	}
	startup := r.clk.Now().Add(r.cfg.StartupDelay)
	if err := r.clk.SetTimeAlert(timerReconcileStartup, startup, func(clock.TimeEvent) {
		r.ReconcileStartup(context.Background())
	}); err != nil {
		return err
	}
	if r.cfg.InflightCheckInterval > 0 {
		if err := r.clk.SetTimer(timerInflightCheck, r.cfg.InflightCheckInterval, func(clock.TimeEvent) {
			r.CheckInflight(context.Background())
		}); err != nil {
			return err
		}
	}
	if r.cfg.OpenCheckInterval > 0 {
		if err := r.clk.SetTimer(timerOpenCheck, r.cfg.OpenCheckInterval, func(clock.TimeEvent) {
			r.CheckOpen(context.Background())
		}); err != nil {
			return err
		}
	}
	if r.cfg.OwnBooksAuditInterval > 0 && r.books != nil {
		if err := r.clk.SetTimer(timerOwnBooksAudit, r.cfg.OwnBooksAuditInterval, func(clock.TimeEvent) {
			r.AuditOwnBooks()
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) Stop() {
	r.clk.CancelTimer(timerReconcileStartup)
	r.clk.CancelTimer(timerInflightCheck)
	r.clk.CancelTimer(timerOpenCheck)
	r.clk.CancelTimer(timerOwnBooksAudit)
}

// ReconcileStartup requests the venue's full view per client and merges it.
// Locally-open orders absent from the venue report are closed out.
func (r *Reconciler) ReconcileStartup(ctx context.Context) {
	for _, c := range r.engine.Clients() {
		q := r.startupQuery()
		reports, err := c.RequestOrderStatusReports(ctx, q)
		if err != nil {
			r.log.Warn("reconciliation: order status request failed",
				zap.String("client", string(c.ID())), zap.Error(err))
			continue
		}
		present := make(map[model.ClientOrderID]struct{}, len(reports))
		for _, report := range reports {
			if r.skip(report.ClientOrderID, report.InstrumentID) {
				continue
			}
			present[report.ClientOrderID] = struct{}{}
			r.ReconcileReport(c, report)
		}

		fills, err := c.RequestFillReports(ctx, q)
		if err != nil {
			r.log.Warn("reconciliation: fill report request failed",
				zap.String("client", string(c.ID())), zap.Error(err))
		} else {
			for _, fr := range fills {
				if r.skip(fr.ClientOrderID, fr.InstrumentID) {
					continue
				}
				r.applyFillReport(fr)
			}
		}

		if !r.cfg.FilterPositionReports {
			positions, err := c.RequestPositionStatusReports(ctx, q)
			if err != nil {
				r.log.Warn("reconciliation: position report request failed",
					zap.String("client", string(c.ID())), zap.Error(err))
			} else {
				r.reconcilePositions(c, positions)
			}
		}

		if state, err := c.RequestAccountState(ctx); err != nil {
			r.log.Warn("reconciliation: account state request failed",
				zap.String("client", string(c.ID())), zap.Error(err))
		} else if err := r.cache.ApplyAccountState(state); err != nil {
			r.log.Warn("reconciliation: account state apply failed", zap.Error(err))
		}

		// Locally open but unreported within lookback: the venue no longer
		// knows the order.
		for _, o := range r.cache.OpenOrders(c.Venue()) {
			if r.skip(o.ClientOrderID(), o.InstrumentID()) {
				continue
			}
			if _, ok := present[o.ClientOrderID()]; !ok {
				r.closeMissing(o)
			}
		}
	}
}

// ReconcileMassStatus merges a client-pushed bundle.
func (r *Reconciler) ReconcileMassStatus(c Client, mass MassStatus) {
	for _, report := range mass.OrderReports {
		if r.skip(report.ClientOrderID, report.InstrumentID) {
			continue
		}
		r.ReconcileReport(c, report)
	}
	for _, fr := range mass.FillReports {
		if r.skip(fr.ClientOrderID, fr.InstrumentID) {
			continue
		}
		r.applyFillReport(fr)
	}
	if !r.cfg.FilterPositionReports {
		r.reconcilePositions(c, mass.PositionReports)
	}
}

// ReconcileReport converges one order toward the venue's view. The venue is
// authoritative: quantity gaps become synthetic fills, status gaps become
// synthetic lifecycle events.
func (r *Reconciler) ReconcileReport(c Client, report OrderStatusReport) {
	o, known := r.cache.Order(report.ClientOrderID)
	if !known {
		adopted, err := r.adoptFromReport(c, report)
		if err != nil {
			r.log.Warn("reconciliation: adopt external order failed",
				zap.String("client_order_id", string(report.ClientOrderID)), zap.Error(err))
			return
		}
		o = adopted
	}
	r.missingCounts[report.ClientOrderID] = 0
	r.inflightRetries[report.ClientOrderID] = 0

	// Acknowledge first so fills and closes have a legal path.
	if o.Status() == model.OrderStatusInitialized || o.Status().IsInflight() {
		if report.Status != model.OrderStatusRejected {
			if o.Status() == model.OrderStatusInitialized {
				r.engine.Process(r.event(o, report, func(base model.OrderEventBase) model.OrderEvent {
					return model.OrderSubmitted{OrderEventBase: base}
				}))
			}
			r.engine.Process(r.event(o, report, func(base model.OrderEventBase) model.OrderEvent {
				return model.OrderAccepted{OrderEventBase: base}
			}))
		}
	}

	if r.cfg.GenerateMissingOrders {
		if gap := r.fillGap(o, report); gap != nil {
			r.engine.Process(*gap)
		}
	}

	if o.Status() != report.Status {
		switch report.Status {
		case model.OrderStatusCanceled:
			r.engine.Process(r.event(o, report, func(base model.OrderEventBase) model.OrderEvent {
				return model.OrderCanceled{OrderEventBase: base}
			}))
		case model.OrderStatusExpired:
			r.engine.Process(r.event(o, report, func(base model.OrderEventBase) model.OrderEvent {
				return model.OrderExpired{OrderEventBase: base}
			}))
		case model.OrderStatusRejected:
			r.engine.Process(r.event(o, report, func(base model.OrderEventBase) model.OrderEvent {
				return model.OrderRejected{OrderEventBase: base, Reason: report.Reason}
			}))
		case model.OrderStatusTriggered:
			r.engine.Process(r.event(o, report, func(base model.OrderEventBase) model.OrderEvent {
				return model.OrderTriggered{OrderEventBase: base}
			}))
		case model.OrderStatusAccepted, model.OrderStatusPartiallyFilled, model.OrderStatusFilled:
			// Already converged by the acknowledge/fill steps above.
		default:
			r.log.Warn("reconciliation: no convergence path",
				zap.String("client_order_id", string(o.ClientOrderID())),
				zap.String("local", o.Status().String()),
				zap.String("venue", report.Status.String()))
		}
	}
}

// fillGap synthesizes one fill covering the difference between the venue's
// cumulative quantity and ours.
func (r *Reconciler) fillGap(o *order.Order, report OrderStatusReport) *model.OrderFilled {
	diff := report.FilledQty.Raw - o.FilledQty().Raw
	if diff <= 0 {
		return nil
	}
	qty, err := model.QuantityFromRaw(diff, report.FilledQty.Precision)
	if err != nil {
		return nil
	}
	px := report.Price
	if report.AvgPx > 0 {
		if p, err := model.NewPrice(report.AvgPx, pricePrecisionFor(report)); err == nil {
			px = &p
		}
	}
	if px == nil {
		lastPx := o.Price()
		if lastPx == nil {
			return nil
		}
		px = lastPx
	}
	base := r.base(o, report)
	return &model.OrderFilled{
		OrderEventBase: base,
		TradeID:        model.TradeID("RECON-" + base.EventID),
		Side:           o.Side(),
		LastQty:        qty,
		LastPx:         *px,
	}
}

func pricePrecisionFor(report OrderStatusReport) uint8 {
	if report.Price != nil {
		return report.Price.Precision
	}
	return 8
}

func (r *Reconciler) applyFillReport(fr FillReport) {
	o, ok := r.cache.Order(fr.ClientOrderID)
	if !ok {
		if o, ok = r.cache.OrderByVenueID(fr.VenueOrderID); !ok {
			r.log.Warn("reconciliation: fill report for unknown order dropped",
				zap.String("client_order_id", string(fr.ClientOrderID)),
				zap.String("trade_id", string(fr.TradeID)))
			return
		}
	}
	now := r.clk.UnixNanos()
	r.engine.Process(model.OrderFilled{
		OrderEventBase: model.OrderEventBase{
			EventID:        model.NewEventID(),
			StrategyID:     o.StrategyID(),
			InstrumentID:   fr.InstrumentID,
			ClientOrderID:  o.ClientOrderID(),
			VenueOrderID:   fr.VenueOrderID,
			AccountID:      fr.AccountID,
			Reconciliation: true,
			TsEvent:        fr.TsEvent,
			TsInit:         now,
		},
		TradeID:       fr.TradeID,
		Side:          fr.Side,
		LastQty:       fr.LastQty,
		LastPx:        fr.LastPx,
		Commission:    fr.Commission,
		LiquiditySide: fr.LiquiditySide,
	})
}

func (r *Reconciler) reconcilePositions(c Client, reports []PositionStatusReport) {
	for _, pr := range reports {
		if !r.inScope(pr.InstrumentID) {
			continue
		}
		local, ok := r.cache.PositionFor(pr.InstrumentID, pr.AccountID)
		localQty := "0"
		if ok {
			localQty = local.SignedQty().String()
		}
		if !ok && pr.Quantity.IsZero() {
			continue
		}
		if ok && local.Side() == pr.Side && local.Quantity().Equal(pr.Quantity.Decimal()) {
			continue
		}
		r.log.Warn("reconciliation: position divergence",
			zap.String("instrument", pr.InstrumentID.String()),
			zap.String("venue_side", pr.Side.String()),
			zap.String("venue_qty", pr.Quantity.String()),
			zap.String("local_qty", localQty))
	}
}

// CheckInflight queries orders stuck in Submitted/PendingUpdate/PendingCancel
// beyond the staleness threshold; after the retry budget the order is
// escalated out of the in-flight state.
func (r *Reconciler) CheckInflight(ctx context.Context) {
	threshold := r.clk.UnixNanos() - r.cfg.InflightCheckThreshold.Nanoseconds()
	for _, o := range r.cache.InflightOrders("") {
		if r.skip(o.ClientOrderID(), o.InstrumentID()) || o.TsLastEvent() > threshold {
			continue
		}
		c, err := r.engine.ClientFor(o.InstrumentID().Venue)
		if err != nil {
			continue
		}
		report, err := c.QueryOrder(ctx, o.ClientOrderID(), o.VenueOrderID())
		if err == nil && report != nil {
			r.ReconcileReport(c, *report)
			continue
		}
		r.inflightRetries[o.ClientOrderID()]++
		if r.inflightRetries[o.ClientOrderID()] <= r.cfg.InflightCheckRetries {
			continue
		}
		delete(r.inflightRetries, o.ClientOrderID())
		r.escalateInflight(o)
	}
}

func (r *Reconciler) escalateInflight(o *order.Order) {
	base := r.reconBase(o)
	if o.Status() == model.OrderStatusPendingCancel {
		// Rejected is not reachable from PendingCancel; the cancel is
		// assumed to have succeeded.
		r.engine.Process(model.OrderCanceled{OrderEventBase: base})
		return
	}
	r.engine.Process(model.OrderRejected{OrderEventBase: base, Reason: reasonInflightGaveUp})
}

// CheckOpen audits locally-open orders against the venue's open set. Orders
// missing at the venue for OpenCheckMissingRetries consecutive checks are
// closed; venue orders unknown locally are adopted as External.
func (r *Reconciler) CheckOpen(ctx context.Context) {
	threshold := r.clk.UnixNanos() - r.cfg.OpenCheckThreshold.Nanoseconds()
	for _, c := range r.engine.Clients() {
		q := ReportQuery{OpenOnly: r.cfg.OpenCheckOpenOnly}
		if r.cfg.OpenCheckLookbackMins > 0 {
			q.Start = r.clk.UnixNanos() - int64(r.cfg.OpenCheckLookbackMins)*int64(time.Minute)
		}
		reports, err := c.RequestOrderStatusReports(ctx, q)
		if err != nil {
			r.log.Warn("reconciliation: open check request failed",
				zap.String("client", string(c.ID())), zap.Error(err))
			continue
		}
		present := make(map[model.ClientOrderID]OrderStatusReport, len(reports))
		for _, report := range reports {
			present[report.ClientOrderID] = report
		}

		for _, o := range r.cache.OpenOrders(c.Venue()) {
			if r.skip(o.ClientOrderID(), o.InstrumentID()) || o.TsLastEvent() > threshold {
				continue
			}
			if report, ok := present[o.ClientOrderID()]; ok {
				r.missingCounts[o.ClientOrderID()] = 0
				if report.Status != o.Status() || report.FilledQty.Raw != o.FilledQty().Raw {
					r.ReconcileReport(c, report)
				}
				continue
			}
			r.missingCounts[o.ClientOrderID()]++
			if r.missingCounts[o.ClientOrderID()] < r.cfg.OpenCheckMissingRetries {
				continue
			}
			delete(r.missingCounts, o.ClientOrderID())
			r.closeMissing(o)
		}

		for id, report := range present {
			if r.skip(id, report.InstrumentID) {
				continue
			}
			if _, known := r.cache.Order(id); !known {
				r.ReconcileReport(c, report)
			}
		}
	}
}

// closeMissing transitions an order the venue no longer reports. GTD orders
// past expiry lapse; everything else is canceled.
func (r *Reconciler) closeMissing(o *order.Order) {
	base := r.reconBase(o)
	init := o.Init()
	if init.TimeInForce == model.TimeInForceGTD && init.ExpireTime != 0 && init.ExpireTime <= r.clk.UnixNanos() {
		r.log.Info("reconciliation: expiring order missing at venue",
			zap.String("client_order_id", string(o.ClientOrderID())))
		r.engine.Process(model.OrderExpired{OrderEventBase: base})
		return
	}
	r.log.Info("reconciliation: canceling order missing at venue",
		zap.String("client_order_id", string(o.ClientOrderID())))
	r.engine.Process(model.OrderCanceled{OrderEventBase: base})
}

// AuditOwnBooks cross-checks locally maintained books. Discrepancies are
// logged only; re-subscribing is the remedy, the audit never mutates.
func (r *Reconciler) AuditOwnBooks() {
	for _, id := range r.cfg.InstrumentIDs {
		book, ok := r.books.OrderBook(id)
		if !ok {
			continue
		}
		if err := book.CheckIntegrity(); err != nil {
			r.log.Warn("reconciliation: own-book integrity failure",
				zap.String("instrument", id.String()), zap.Error(err))
		}
	}
}

func (r *Reconciler) adoptFromReport(c Client, report OrderStatusReport) (*order.Order, error) {
	now := r.clk.UnixNanos()
	qty := report.Quantity
	if qty.IsZero() {
		qty = report.FilledQty
	}
	init := model.OrderInitialized{
		OrderEventBase: model.OrderEventBase{
			EventID:       model.NewEventID(),
			InstrumentID:  report.InstrumentID,
			ClientOrderID: report.ClientOrderID,
			VenueOrderID:  report.VenueOrderID,
			AccountID:     report.AccountID,
			TsEvent:       report.TsAccepted,
			TsInit:        now,
		},
		Side:        report.Side,
		OrderType:   report.OrderType,
		Quantity:    qty,
		TimeInForce: report.TimeInForce,
		Price:       report.Price,
	}
	r.log.Info("reconciliation: adopting external order",
		zap.String("client_order_id", string(report.ClientOrderID)),
		zap.String("instrument", report.InstrumentID.String()))
	return r.engine.AdoptExternalOrder(init)
}

func (r *Reconciler) skip(id model.ClientOrderID, instrumentID model.InstrumentID) bool {
	for _, filtered := range r.cfg.FilteredClientOrderIDs {
		if filtered == id {
			return true
		}
	}
	return !r.inScope(instrumentID)
}

func (r *Reconciler) inScope(id model.InstrumentID) bool {
	if len(r.cfg.InstrumentIDs) == 0 {
		return true
	}
	for _, scoped := range r.cfg.InstrumentIDs {
		if scoped == id {
			return true
		}
	}
	return false
}

func (r *Reconciler) startupQuery() ReportQuery {
	q := ReportQuery{}
	if r.cfg.LookbackMins > 0 {
		q.Start = r.clk.UnixNanos() - int64(r.cfg.LookbackMins)*int64(time.Minute)
	}
	return q
}

func (r *Reconciler) base(o *order.Order, report OrderStatusReport) model.OrderEventBase {
	now := r.clk.UnixNanos()
	return model.OrderEventBase{
		EventID:        model.NewEventID(),
		StrategyID:     o.StrategyID(),
		InstrumentID:   o.InstrumentID(),
		ClientOrderID:  o.ClientOrderID(),
		VenueOrderID:   report.VenueOrderID,
		AccountID:      report.AccountID,
		Reconciliation: true,
		TsEvent:        report.TsLast,
		TsInit:         now,
	}
}

func (r *Reconciler) reconBase(o *order.Order) model.OrderEventBase {
	now := r.clk.UnixNanos()
	return model.OrderEventBase{
		EventID:        model.NewEventID(),
		StrategyID:     o.StrategyID(),
		InstrumentID:   o.InstrumentID(),
		ClientOrderID:  o.ClientOrderID(),
		VenueOrderID:   o.VenueOrderID(),
		AccountID:      o.AccountID(),
		Reconciliation: true,
		TsEvent:        now,
		TsInit:         now,
	}
}

func (r *Reconciler) event(o *order.Order, report OrderStatusReport, build func(model.OrderEventBase) model.OrderEvent) model.OrderEvent {
	return build(r.base(o, report))
}
