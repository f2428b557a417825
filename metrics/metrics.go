// Package metrics collects Prometheus metrics for the trading node.
// Every Monitor carries its own registry so tests and embedded nodes
// never collide on the default one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	Namespace string
	Subsystem string
}

func DefaultConfig() Config {
	return Config{
		Namespace: "trading",
		Subsystem: "node",
	}
}

// Monitor aggregates the node's metrics.
type Monitor struct {
	registry *prometheus.Registry

	ordersSubmitted prometheus.Counter
	ordersDenied    prometheus.Counter
	orderEvents     *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	commandsQueued  prometheus.Counter
	commandsDropped prometheus.Counter
	commandErrors   prometheus.Counter

	reconRuns        prometheus.Counter
	reconAdopted     prometheus.Counter
	reconSynthFills  prometheus.Counter
	reconEscalations prometheus.Counter

	quotesProcessed prometheus.Counter
	tradesProcessed prometheus.Counter
	barsBuilt       *prometheus.CounterVec
	bookDeltas      prometheus.Counter

	wsReconnects   prometheus.Counter
	wsMode         prometheus.Gauge
	restRequests   *prometheus.CounterVec
	restErrors     *prometheus.CounterVec
	restLatency    *prometheus.HistogramVec

	purgedOrders    prometheus.Counter
	purgedPositions prometheus.Counter
	catalogRecords  prometheus.Counter
}

func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Monitor{
		registry: reg,

		ordersSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_submitted_total",
			Help:      "Orders submitted to venues.",
		}),
		ordersDenied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_denied_total",
			Help:      "Orders denied before reaching a venue.",
		}),
		orderEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "order_events_total",
				Help:      "Order events applied, by resulting status.",
			},
			[]string{"status"},
		),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "order_events_dropped_total",
			Help:      "Order events dropped as duplicates or invalid transitions.",
		}),
		commandsQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "commands_queued_total",
			Help:      "Venue commands enqueued.",
		}),
		commandsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "commands_dropped_total",
			Help:      "Venue commands dropped on a full queue.",
		}),
		commandErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "command_errors_total",
			Help:      "Venue command failures.",
		}),

		reconRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "reconciliation_runs_total",
			Help:      "Reconciliation passes executed.",
		}),
		reconAdopted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "reconciliation_adopted_orders_total",
			Help:      "External orders adopted from venue reports.",
		}),
		reconSynthFills: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "reconciliation_synthesized_fills_total",
			Help:      "Fills synthesized to close quantity gaps.",
		}),
		reconEscalations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "reconciliation_escalations_total",
			Help:      "Orders force-closed after retry exhaustion.",
		}),

		quotesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "quote_ticks_total",
			Help:      "Quote ticks processed by the data engine.",
		}),
		tradesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "trade_ticks_total",
			Help:      "Trade ticks processed by the data engine.",
		}),
		barsBuilt: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "bars_built_total",
				Help:      "Bars built, by aggregation method.",
			},
			[]string{"aggregation"},
		),
		bookDeltas: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "book_deltas_total",
			Help:      "Order book deltas applied.",
		}),

		wsReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ws_reconnects_total",
			Help:      "WebSocket reconnections.",
		}),
		wsMode: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ws_mode",
			Help:      "WebSocket connection mode (0=disconnected 1=connecting 2=active 3=reconnecting 4=disconnect 5=closed).",
		}),
		restRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rest_requests_total",
				Help:      "REST requests issued.",
			},
			[]string{"action"},
		),
		restErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rest_errors_total",
				Help:      "REST request failures.",
			},
			[]string{"action"},
		),
		restLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rest_latency_seconds",
				Help:      "REST request latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),

		purgedOrders: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "purged_orders_total",
			Help:      "Closed orders purged from the cache.",
		}),
		purgedPositions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "purged_positions_total",
			Help:      "Closed positions purged from the cache.",
		}),
		catalogRecords: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "catalog_records_total",
			Help:      "Records appended to the data catalog.",
		}),
	}

	return m
}

func (m *Monitor) RecordOrderSubmitted() { m.ordersSubmitted.Inc() }
func (m *Monitor) RecordOrderDenied() { m.ordersDenied.Inc() }
func (m *Monitor) RecordOrderEvent(status string) {
	m.orderEvents.WithLabelValues(status).Inc()
}
func (m *Monitor) RecordEventDropped() { m.eventsDropped.Inc() }
func (m *Monitor) RecordCommandQueued() { m.commandsQueued.Inc() }
func (m *Monitor) RecordCommandDropped() { m.commandsDropped.Inc() }
func (m *Monitor) RecordCommandError() { m.commandErrors.Inc() }

func (m *Monitor) RecordReconciliationRun() { m.reconRuns.Inc() }
func (m *Monitor) RecordOrderAdopted() { m.reconAdopted.Inc() }
func (m *Monitor) RecordSynthesizedFill() { m.reconSynthFills.Inc() }
func (m *Monitor) RecordEscalation() { m.reconEscalations.Inc() }

func (m *Monitor) RecordQuoteTick() { m.quotesProcessed.Inc() }
func (m *Monitor) RecordTradeTick() { m.tradesProcessed.Inc() }
func (m *Monitor) RecordBarBuilt(aggregation string) {
	m.barsBuilt.WithLabelValues(aggregation).Inc()
}
func (m *Monitor) RecordBookDelta() { m.bookDeltas.Inc() }

func (m *Monitor) RecordWSReconnect() { m.wsReconnects.Inc() }
func (m *Monitor) UpdateWSMode(mode int) { m.wsMode.Set(float64(mode)) }

func (m *Monitor) RecordRESTRequest(action string) {
	m.restRequests.WithLabelValues(action).Inc()
}
func (m *Monitor) RecordRESTError(action string) {
	m.restErrors.WithLabelValues(action).Inc()
}
func (m *Monitor) RecordRESTLatency(action string, seconds float64) {
	m.restLatency.WithLabelValues(action).Observe(seconds)
}

func (m *Monitor) RecordPurgedOrders(n int) { m.purgedOrders.Add(float64(n)) }
func (m *Monitor) RecordPurgedPositions(n int) { m.purgedPositions.Add(float64(n)) }
func (m *Monitor) RecordCatalogRecord() { m.catalogRecords.Inc() }

// Handler exposes the registry for scraping.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// Serve starts the scrape endpoint on addr. Shutdown via the returned server.
func (m *Monitor) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
