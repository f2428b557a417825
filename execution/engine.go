package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"trading-node-go/bus"
	"trading-node-go/cache"
	"trading-node-go/clock"
	"trading-node-go/model"
	"trading-node-go/order"
	"trading-node-go/portfolio"
)

// EngineConfig tunes execution engine behavior.
type EngineConfig struct {
	// QueueSize bounds the outbound command queue.
	QueueSize int `yaml:"qsize"`
	// GracefulShutdownOnException requests kernel shutdown instead of
	// crashing the process when a command handler panics.
	GracefulShutdownOnException bool `yaml:"graceful_shutdown_on_exception"`
	// FilterUnclaimedExternalOrders drops events for external-strategy
	// orders nobody claimed instead of adopting them.
	FilterUnclaimedExternalOrders bool `yaml:"filter_unclaimed_external_orders"`
	// RoutingOverrides maps venues to specific clients, overriding the
	// client's own venue registration.
	RoutingOverrides map[model.Venue]model.ClientID `yaml:"routing_overrides"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{QueueSize: 1024}
}

// ErrUnknownVenue is wrapped into routing errors.
var ErrUnknownVenue = errors.New("no execution client for venue")

type command struct {
	clientID model.ClientID
	run      func(ctx context.Context, c Client) error
	describe string
}

// Engine serializes all domain mutations behind one mutex so reconciliation
// writes interleave safely with live event application. Venue I/O runs on a
// worker draining a bounded queue.
type Engine struct {
	log      *zap.Logger
	msgb     *bus.Bus
	cache    *cache.Cache
	clk      clock.Clock
	cfg      EngineConfig
	traderID model.TraderID

	mu      sync.Mutex
	clients map[model.ClientID]Client
	routing map[model.Venue]model.ClientID

	queue    chan command
	done     chan struct{}
	running  bool
	shutdown func(reason string) // kernel hook, may be nil
}

func NewEngine(
	log *zap.Logger,
	msgb *bus.Bus,
	c *cache.Cache,
	clk clock.Clock,
	traderID model.TraderID,
	cfg EngineConfig,
) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	e := &Engine{
		log:      log,
		msgb:     msgb,
		cache:    c,
		clk:      clk,
		cfg:      cfg,
		traderID: traderID,
		clients:  make(map[model.ClientID]Client),
		routing:  make(map[model.Venue]model.ClientID),
		queue:    make(chan command, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	for venue, clientID := range cfg.RoutingOverrides {
		e.routing[venue] = clientID
	}
	return e
}

// SetShutdownHook installs the kernel's graceful-shutdown callback.
func (e *Engine) SetShutdownHook(fn func(reason string)) {
	e.mu.Lock()
	e.shutdown = fn
	e.mu.Unlock()
}

func (e *Engine) RegisterClient(c Client) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.clients[c.ID()]; exists {
		return fmt.Errorf("execution engine: client %s already registered", c.ID())
	}
	e.clients[c.ID()] = c
	if c.Venue() != "" {
		if _, overridden := e.cfg.RoutingOverrides[c.Venue()]; !overridden {
			e.routing[c.Venue()] = c.ID()
		}
	}
	return nil
}

func (e *Engine) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	clients := make([]Client, 0, len(e.clients))
	for _, c := range e.clients {
		clients = append(clients, c)
	}
	e.mu.Unlock()

	for _, c := range clients {
		if err := c.Start(); err != nil {
			return fmt.Errorf("execution engine: start client %s: %w", c.ID(), err)
		}
	}
	go e.commandLoop()
	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	clients := make([]Client, 0, len(e.clients))
	for _, c := range e.clients {
		clients = append(clients, c)
	}
	e.mu.Unlock()

	close(e.done)
	for _, c := range clients {
		if err := c.Stop(); err != nil {
			e.log.Warn("execution engine: stop client failed",
				zap.String("client", string(c.ID())), zap.Error(err))
		}
	}
}

func (e *Engine) commandLoop() {
	for {
		select {
		case <-e.done:
			return
		case cmd := <-e.queue:
			e.runCommand(cmd)
		}
	}
}

func (e *Engine) runCommand(cmd command) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("execution engine: command handler panicked",
				zap.String("command", cmd.describe), zap.Any("panic", r))
			e.mu.Lock()
			hook := e.shutdown
			graceful := e.cfg.GracefulShutdownOnException
			e.mu.Unlock()
			if graceful && hook != nil {
				hook(fmt.Sprintf("panic in %s", cmd.describe))
			}
		}
	}()
	e.mu.Lock()
	c, ok := e.clients[cmd.clientID]
	e.mu.Unlock()
	if !ok {
		e.log.Error("execution engine: command for unknown client",
			zap.String("client", string(cmd.clientID)))
		return
	}
	if err := cmd.run(context.Background(), c); err != nil {
		e.log.Warn("execution engine: command failed",
			zap.String("command", cmd.describe), zap.Error(err))
	}
}

func (e *Engine) enqueue(cmd command) error {
	select {
	case e.queue <- cmd:
		return nil
	default:
		return fmt.Errorf("execution engine: command queue full (%d)", e.cfg.QueueSize)
	}
}

func (e *Engine) routeLocked(venue model.Venue) (model.ClientID, error) {
	id, ok := e.routing[venue]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownVenue, venue)
	}
	if _, ok := e.clients[id]; !ok {
		return "", fmt.Errorf("%w: %s routed to unregistered client %s", ErrUnknownVenue, venue, id)
	}
	return id, nil
}

// SubmitOrder builds the aggregate, caches it, applies Submitted and routes
// the command. Routing failures deny the order locally.
func (e *Engine) SubmitOrder(cmd SubmitOrder) error {
	e.mu.Lock()
	clientID, routeErr := e.routeLocked(cmd.Init.InstrumentID.Venue)
	e.mu.Unlock()

	o, err := order.New(cmd.Init)
	if err != nil {
		return err
	}
	if err := e.cache.AddOrder(o); err != nil {
		return err
	}
	if routeErr != nil {
		e.applyAndPublish(o, model.OrderDenied{
			OrderEventBase: e.eventBase(o),
			Reason:         routeErr.Error(),
		})
		return routeErr
	}
	e.applyAndPublish(o, model.OrderSubmitted{OrderEventBase: e.eventBase(o)})

	return e.enqueue(command{
		clientID: clientID,
		describe: "submit_order " + string(o.ClientOrderID()),
		run: func(ctx context.Context, c Client) error {
			return c.SubmitOrder(ctx, cmd)
		},
	})
}

// ModifyOrder applies PendingUpdate and routes.
func (e *Engine) ModifyOrder(cmd ModifyOrder) error {
	o, ok := e.cache.Order(cmd.ClientOrderID)
	if !ok {
		return fmt.Errorf("execution engine: modify for unknown order %s", cmd.ClientOrderID)
	}
	e.mu.Lock()
	clientID, err := e.routeLocked(o.InstrumentID().Venue)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.applyAndPublish(o, model.OrderPendingUpdate{OrderEventBase: e.eventBase(o)})
	return e.enqueue(command{
		clientID: clientID,
		describe: "modify_order " + string(cmd.ClientOrderID),
		run: func(ctx context.Context, c Client) error {
			return c.ModifyOrder(ctx, cmd)
		},
	})
}

// CancelOrder applies PendingCancel and routes.
func (e *Engine) CancelOrder(cmd CancelOrder) error {
	o, ok := e.cache.Order(cmd.ClientOrderID)
	if !ok {
		return fmt.Errorf("execution engine: cancel for unknown order %s", cmd.ClientOrderID)
	}
	e.mu.Lock()
	clientID, err := e.routeLocked(o.InstrumentID().Venue)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.applyAndPublish(o, model.OrderPendingCancel{OrderEventBase: e.eventBase(o)})
	return e.enqueue(command{
		clientID: clientID,
		describe: "cancel_order " + string(cmd.ClientOrderID),
		run: func(ctx context.Context, c Client) error {
			return c.CancelOrder(ctx, cmd)
		},
	})
}

// CancelAll applies PendingCancel to every open order on the instrument
// (optionally one side) and routes a single venue command.
func (e *Engine) CancelAll(cmd CancelAll) error {
	e.mu.Lock()
	clientID, err := e.routeLocked(cmd.InstrumentID.Venue)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	for _, o := range e.cache.OrdersForInstrument(cmd.InstrumentID) {
		if !o.IsOpen() {
			continue
		}
		if cmd.Side != model.OrderSideNoSide && o.Side() != cmd.Side {
			continue
		}
		e.applyAndPublish(o, model.OrderPendingCancel{OrderEventBase: e.eventBase(o)})
	}
	return e.enqueue(command{
		clientID: clientID,
		describe: "cancel_all " + cmd.InstrumentID.String(),
		run: func(ctx context.Context, c Client) error {
			return c.CancelAllOrders(ctx, cmd)
		},
	})
}

func (e *Engine) BatchCancel(cmd BatchCancel) error {
	e.mu.Lock()
	clientID, err := e.routeLocked(cmd.InstrumentID.Venue)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	for _, id := range cmd.ClientOrderIDs {
		if o, ok := e.cache.Order(id); ok && o.IsOpen() {
			e.applyAndPublish(o, model.OrderPendingCancel{OrderEventBase: e.eventBase(o)})
		}
	}
	return e.enqueue(command{
		clientID: clientID,
		describe: "batch_cancel " + cmd.InstrumentID.String(),
		run: func(ctx context.Context, c Client) error {
			return c.BatchCancel(ctx, cmd)
		},
	})
}

// Process applies an inbound order event: resolve the aggregate, route
// through the state machine, update positions on fills, republish. Invalid
// transitions are dropped at warning per the error taxonomy.
func (e *Engine) Process(event model.OrderEvent) {
	base := event.EventBase()
	o, ok := e.resolveOrder(base)
	if !ok {
		return
	}
	e.applyAndPublish(o, event)
	if fill, isFill := event.(model.OrderFilled); isFill {
		e.updatePosition(o, fill)
	}
}

func (e *Engine) resolveOrder(base model.OrderEventBase) (*order.Order, bool) {
	if base.ClientOrderID != "" {
		if o, ok := e.cache.Order(base.ClientOrderID); ok {
			return o, true
		}
	}
	if base.VenueOrderID != "" {
		if o, ok := e.cache.OrderByVenueID(base.VenueOrderID); ok {
			return o, true
		}
	}
	if e.cfg.FilterUnclaimedExternalOrders {
		e.log.Warn("execution engine: event for unclaimed external order dropped",
			zap.String("client_order_id", string(base.ClientOrderID)),
			zap.String("venue_order_id", string(base.VenueOrderID)))
		return nil, false
	}
	e.log.Warn("execution engine: event for unknown order dropped",
		zap.String("client_order_id", string(base.ClientOrderID)),
		zap.String("venue_order_id", string(base.VenueOrderID)))
	return nil, false
}

// AdoptExternalOrder inserts an order discovered at the venue under the
// EXTERNAL strategy id. Used by reconciliation.
func (e *Engine) AdoptExternalOrder(init model.OrderInitialized) (*order.Order, error) {
	init.StrategyID = model.ExternalStrategyID
	init.Reconciliation = true
	o, err := order.New(init)
	if err != nil {
		return nil, err
	}
	if err := e.cache.AddOrder(o); err != nil {
		return nil, err
	}
	e.publishOrderEvent(o, init)
	return o, nil
}

func (e *Engine) applyAndPublish(o *order.Order, event model.OrderEvent) {
	e.mu.Lock()
	err := o.Apply(event)
	e.mu.Unlock()
	if err != nil {
		var trigger *order.InvalidStateTrigger
		if errors.As(err, &trigger) {
			e.log.Warn("execution engine: invalid state transition dropped",
				zap.String("client_order_id", string(o.ClientOrderID())),
				zap.String("event", event.EventName()),
				zap.String("status", o.Status().String()),
				zap.Error(err))
			return
		}
		e.log.Warn("execution engine: event apply failed",
			zap.String("client_order_id", string(o.ClientOrderID())),
			zap.String("event", event.EventName()),
			zap.Error(err))
		return
	}
	e.cache.UpdateOrder(o)
	e.publishOrderEvent(o, event)
}

func (e *Engine) publishOrderEvent(o *order.Order, event model.OrderEvent) {
	if e.msgb == nil {
		return
	}
	topic := "events.order." + string(o.StrategyID()) + "." + o.InstrumentID().String()
	e.msgb.Publish(topic, event)
}

func (e *Engine) updatePosition(o *order.Order, fill model.OrderFilled) {
	accountID := fill.AccountID
	if accountID == "" {
		accountID = o.AccountID()
	}
	if fill.InstrumentID.IsZero() {
		fill.InstrumentID = o.InstrumentID()
	}
	fill.AccountID = accountID
	if fill.Side == model.OrderSideNoSide {
		fill.Side = o.Side()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.cache.PositionFor(fill.InstrumentID, accountID)
	if !ok {
		id := model.PositionID(fill.InstrumentID.String() + "-" + string(accountID))
		created, err := portfolio.NewPosition(id, e.quoteCurrency(fill.InstrumentID), fill)
		if err != nil {
			e.log.Warn("execution engine: open position failed", zap.Error(err))
			return
		}
		e.cache.AddPosition(created)
		return
	}
	if err := p.ApplyFill(fill); err != nil {
		e.log.Warn("execution engine: position fill failed",
			zap.String("position_id", string(p.ID)), zap.Error(err))
		return
	}
	e.cache.UpdatePosition(p)
}

func (e *Engine) quoteCurrency(id model.InstrumentID) model.Currency {
	if instr, ok := e.cache.Instrument(id); ok {
		return instr.QuoteCurrency()
	}
	return model.USDT
}

func (e *Engine) eventBase(o *order.Order) model.OrderEventBase {
	now := e.clk.UnixNanos()
	return model.OrderEventBase{
		EventID:       model.NewEventID(),
		TraderID:      e.traderID,
		StrategyID:    o.StrategyID(),
		InstrumentID:  o.InstrumentID(),
		ClientOrderID: o.ClientOrderID(),
		VenueOrderID:  o.VenueOrderID(),
		AccountID:     o.AccountID(),
		TsEvent:       now,
		TsInit:        now,
	}
}

// ClientFor resolves the client serving a venue.
func (e *Engine) ClientFor(venue model.Venue) (Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, err := e.routeLocked(venue)
	if err != nil {
		return nil, err
	}
	return e.clients[id], nil
}

// Clients returns all registered clients.
func (e *Engine) Clients() []Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Client, 0, len(e.clients))
	for _, c := range e.clients {
		out = append(out, c)
	}
	return out
}
