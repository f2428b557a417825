package cache

import (
	"time"

	"go.uber.org/zap"

	"trading-node-go/clock"
)

// PurgeConfig controls the background purge lifecycles. A zero interval
// disables the corresponding lifecycle.
type PurgeConfig struct {
	ClosedOrdersInterval time.Duration `yaml:"closed_orders_interval"`
	ClosedOrdersBuffer   time.Duration `yaml:"closed_orders_buffer"`

	ClosedPositionsInterval time.Duration `yaml:"closed_positions_interval"`
	ClosedPositionsBuffer   time.Duration `yaml:"closed_positions_buffer"`

	AccountEventsInterval time.Duration `yaml:"account_events_interval"`
	AccountEventsLookback time.Duration `yaml:"account_events_lookback"`

	// FromDatabase forwards order and position deletes to the persistence
	// adapter.
	FromDatabase bool `yaml:"from_database"`
}

const (
	timerPurgeClosedOrders    = "purge-closed-orders"
	timerPurgeClosedPositions = "purge-closed-positions"
	timerPurgeAccountEvents   = "purge-account-events"
)

// Purger runs the configured purge lifecycles on clock timers.
type Purger struct {
	cache *Cache
	clk   clock.Clock
	cfg   PurgeConfig
	log   *zap.Logger
}

func NewPurger(cache *Cache, clk clock.Clock, cfg PurgeConfig, log *zap.Logger) *Purger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Purger{cache: cache, clk: clk, cfg: cfg, log: log}
}

func (p *Purger) Start() error {
	if p.cfg.ClosedOrdersInterval > 0 {
		err := p.clk.SetTimer(timerPurgeClosedOrders, p.cfg.ClosedOrdersInterval, func(ev clock.TimeEvent) {
			cutoff := ev.TsEvent - p.cfg.ClosedOrdersBuffer.Nanoseconds()
			if n := p.cache.PurgeClosedOrders(cutoff, p.cfg.FromDatabase); n > 0 {
				p.log.Debug("purged closed orders", zap.Int("count", n))
			}
		})
		if err != nil {
			return err
		}
	}
	if p.cfg.ClosedPositionsInterval > 0 {
		err := p.clk.SetTimer(timerPurgeClosedPositions, p.cfg.ClosedPositionsInterval, func(ev clock.TimeEvent) {
			cutoff := ev.TsEvent - p.cfg.ClosedPositionsBuffer.Nanoseconds()
			if n := p.cache.PurgeClosedPositions(cutoff, p.cfg.FromDatabase); n > 0 {
				p.log.Debug("purged closed positions", zap.Int("count", n))
			}
		})
		if err != nil {
			return err
		}
	}
	if p.cfg.AccountEventsInterval > 0 {
		err := p.clk.SetTimer(timerPurgeAccountEvents, p.cfg.AccountEventsInterval, func(ev clock.TimeEvent) {
			cutoff := ev.TsEvent - p.cfg.AccountEventsLookback.Nanoseconds()
			if n := p.cache.PurgeAccountEvents(cutoff); n > 0 {
				p.log.Debug("purged account events", zap.Int("count", n))
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Purger) Stop() {
	p.clk.CancelTimer(timerPurgeClosedOrders)
	p.clk.CancelTimer(timerPurgeClosedPositions)
	p.clk.CancelTimer(timerPurgeAccountEvents)
}
