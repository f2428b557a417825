// Package node wires the trading node together and drives its lifecycle:
// boot, venue connection, startup reconciliation, trading, staged shutdown.
package node

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"trading-node-go/bus"
	"trading-node-go/cache"
	"trading-node-go/clock"
	"trading-node-go/config"
	"trading-node-go/data"
	"trading-node-go/execution"
	"trading-node-go/infrastructure/logger"
	"trading-node-go/metrics"
	"trading-node-go/model"
	"trading-node-go/persistence"
)

type State int32

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("STATE(%d)", int32(s))
	}
}

// Node owns every component and starts them in dependency order. Venue
// adapters register through AddDataClient/AddExecClient before Start.
type Node struct {
	cfg config.NodeConfig

	logs *logger.Logger
	log  *zap.Logger

	clk   *clock.LiveClock
	msgb  *bus.Bus
	db    cache.Database
	cache *cache.Cache

	dataEngine *data.Engine
	execEngine *execution.Engine
	reconciler *execution.Reconciler

	purgeMu sync.Mutex
	purger  *cache.Purger

	catalog *persistence.CatalogWriter
	feeder  *persistence.Feeder

	monitor    *metrics.Monitor
	metricsSrv *http.Server

	dataClients []data.Client

	state    atomic.Int32
	stopOnce sync.Once
	done     chan struct{}
}

func New(cfg config.NodeConfig) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logs, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		Outputs: []string{"stdout"},
		Format:  cfg.Logging.Format,
	})
	if err != nil {
		return nil, err
	}
	log := logs.Component("node")

	clk := clock.NewLiveClock()
	msgb := bus.New(logs.Component("bus"))

	var db cache.Database
	if cfg.Store.Enabled {
		db, err = cache.OpenPebbleDatabase(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("node: open store: %w", err)
		}
	}
	c := cache.New(logs.Component("cache"), db)
	if db != nil {
		if err := c.LoadSnapshots(); err != nil {
			return nil, err
		}
	}

	traderID, err := model.NewTraderID(cfg.TraderID)
	if err != nil {
		return nil, err
	}

	dataEngine := data.NewEngine(logs.Component("data"), msgb, c, clk, cfg.DataEngine())
	execEngine := execution.NewEngine(logs.Component("exec"), msgb, c, clk, traderID, cfg.ExecEngine())
	reconciler := execution.NewReconciler(
		logs.Component("recon"), execEngine, c, clk, cfg.Reconciliation(), dataEngine)
	purger := cache.NewPurger(c, clk, cfg.CachePurge(), logs.Component("purge"))

	n := &Node{
		cfg:        cfg,
		logs:       logs,
		log:        log,
		clk:        clk,
		msgb:       msgb,
		db:         db,
		cache:      c,
		dataEngine: dataEngine,
		execEngine: execEngine,
		reconciler: reconciler,
		purger:     purger,
		done:       make(chan struct{}),
	}

	if cfg.Catalog.Enabled {
		n.catalog = persistence.NewCatalogWriter(logs.Component("catalog"), cfg.CatalogWriter())
		n.feeder = persistence.NewFeeder(logs.Component("catalog"), n.catalog, msgb)
	}
	if cfg.Metrics.Enabled {
		n.monitor = metrics.New(metrics.DefaultConfig())
		n.wireMetrics()
	}

	execEngine.SetShutdownHook(n.RequestStop)
	return n, nil
}

// wireMetrics counts engine traffic off the bus so the engines themselves
// stay metrics-agnostic.
func (n *Node) wireMetrics() {
	mon := n.monitor
	n.msgb.Subscribe("data.quotes.**", func(any) { mon.RecordQuoteTick() })
	n.msgb.Subscribe("data.trades.**", func(any) { mon.RecordTradeTick() })
	n.msgb.Subscribe("data.book.deltas.**", func(any) { mon.RecordBookDelta() })
	n.msgb.Subscribe("data.bars.**", func(msg any) {
		if b, ok := msg.(model.Bar); ok {
			mon.RecordBarBuilt(b.BarType.Spec.Aggregation.String())
		}
	})
	n.msgb.Subscribe("events.order.**", func(msg any) {
		if ev, ok := msg.(model.OrderEvent); ok {
			mon.RecordOrderEvent(ev.EventName())
		}
	})
}

func (n *Node) State() State { return State(n.state.Load()) }
func (n *Node) Bus() *bus.Bus { return n.msgb }
func (n *Node) Cache() *cache.Cache { return n.cache }
func (n *Node) Clock() clock.Clock { return n.clk }
func (n *Node) DataEngine() *data.Engine { return n.dataEngine }
func (n *Node) ExecEngine() *execution.Engine { return n.execEngine }
func (n *Node) Monitor() *metrics.Monitor { return n.monitor }
func (n *Node) Logger() *logger.Logger { return n.logs }

func (n *Node) AddDataClient(c data.Client) error {
	if err := n.dataEngine.RegisterClient(c); err != nil {
		return err
	}
	n.dataClients = append(n.dataClients, c)
	return nil
}

func (n *Node) AddExecClient(c execution.Client) error {
	return n.execEngine.RegisterClient(c)
}

// ReloadPurgeConfig swaps the purge timers for new intervals while the
// node keeps running. Other config sections require a restart.
func (n *Node) ReloadPurgeConfig(cfg cache.PurgeConfig) error {
	if n.State() != StateRunning {
		return fmt.Errorf("node: purge reload in state %s", n.State())
	}
	n.purgeMu.Lock()
	defer n.purgeMu.Unlock()
	n.purger.Stop()
	n.purger = cache.NewPurger(n.cache, n.clk, cfg, n.logs.Component("purge"))
	if err := n.purger.Start(); err != nil {
		return err
	}
	n.log.Info("purge intervals reloaded")
	return nil
}

// Start boots the node: engines first, then venue connections bounded by
// the connection timeout, then a synchronous startup reconciliation pass
// bounded by its own timeout. Trading only begins once all stages pass.
func (n *Node) Start(ctx context.Context) error {
	if !n.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("node: start from state %s", n.State())
	}
	n.log.Info("node starting", zap.String("trader_id", n.cfg.TraderID))

	if n.monitor != nil {
		n.metricsSrv = n.monitor.Serve(n.cfg.Metrics.Listen)
		n.log.Info("metrics listening", zap.String("addr", n.cfg.Metrics.Listen))
	}

	if err := n.dataEngine.Start(); err != nil {
		return n.failStart(err)
	}
	if err := n.execEngine.Start(); err != nil {
		return n.failStart(err)
	}

	connCtx, cancel := context.WithTimeout(ctx, n.cfg.Node.ConnectionTimeout())
	defer cancel()
	if err := n.connectAll(connCtx); err != nil {
		return n.failStart(err)
	}

	if n.cfg.Recon.Enabled {
		reconCtx, cancelRecon := context.WithTimeout(ctx, n.cfg.Node.ReconciliationTimeout())
		n.reconciler.ReconcileStartup(reconCtx)
		cancelRecon()
	}
	if err := n.reconciler.Start(); err != nil {
		return n.failStart(err)
	}
	if err := n.purger.Start(); err != nil {
		return n.failStart(err)
	}

	n.state.Store(int32(StateRunning))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	n.log.Info("node running")
	return nil
}

func (n *Node) failStart(err error) error {
	n.log.Error("node start failed", zap.Error(err))
	n.state.Store(int32(StateStopped))
	n.teardown()
	return err
}

func (n *Node) connectAll(ctx context.Context) error {
	for _, c := range n.dataClients {
		if err := c.Connect(); err != nil {
			return fmt.Errorf("node: connect data client %s: %w", c.ID(), err)
		}
	}
	for _, c := range n.execEngine.Clients() {
		if err := c.Connect(); err != nil {
			return fmt.Errorf("node: connect exec client %s: %w", c.ID(), err)
		}
	}
	return nil
}

// RequestStop triggers an asynchronous shutdown. Safe from any goroutine,
// including engine panic-recovery hooks.
func (n *Node) RequestStop(reason string) {
	n.log.Warn("shutdown requested", zap.String("reason", reason))
	go n.Stop()
}

// Stop runs the staged shutdown: stop producing, disconnect venues within
// the disconnection timeout, then tear the rest down within the shutdown
// timeout. Idempotent.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.state.Store(int32(StateStopping))
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		n.log.Info("node stopping")

		n.reconciler.Stop()
		n.purgeMu.Lock()
		n.purger.Stop()
		n.purgeMu.Unlock()

		discCtx, cancel := context.WithTimeout(context.Background(), n.cfg.Node.DisconnectionTimeout())
		n.disconnectAll(discCtx)
		cancel()

		n.teardown()
		n.state.Store(int32(StateStopped))
		n.log.Info("node stopped")
		close(n.done)
	})
}

func (n *Node) disconnectAll(ctx context.Context) {
	for _, c := range n.dataClients {
		if err := c.Disconnect(); err != nil {
			n.log.Warn("disconnect data client failed",
				zap.String("client", string(c.ID())), zap.Error(err))
		}
	}
	for _, c := range n.execEngine.Clients() {
		if err := c.Disconnect(); err != nil {
			n.log.Warn("disconnect exec client failed",
				zap.String("client", string(c.ID())), zap.Error(err))
		}
	}
}

func (n *Node) teardown() {
	n.dataEngine.Stop()
	n.execEngine.Stop()

	if n.feeder != nil {
		n.feeder.Close()
	}
	if n.catalog != nil {
		if err := n.catalog.Close(); err != nil {
			n.log.Warn("catalog close failed", zap.Error(err))
		}
	}
	if n.metricsSrv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), n.cfg.Node.ShutdownTimeout())
		if err := n.metricsSrv.Shutdown(shutCtx); err != nil {
			n.log.Warn("metrics server shutdown failed", zap.Error(err))
		}
		cancel()
	}
	if n.db != nil {
		if err := n.db.Close(); err != nil {
			n.log.Warn("store close failed", zap.Error(err))
		}
	}
	n.clk.CancelTimers()
	_ = n.logs.Close()
}

// Run starts the node and blocks until a signal, context cancellation or
// an internal stop request.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(ctx); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		n.log.Info("signal received", zap.String("signal", sig.String()))
	case <-ctx.Done():
		n.log.Info("context canceled")
	case <-n.done:
		return nil
	}

	n.Stop()
	return nil
}

// WaitStopped blocks until shutdown completes or the timeout elapses.
func (n *Node) WaitStopped(timeout time.Duration) bool {
	select {
	case <-n.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
