// Package config loads and validates the node configuration file.
// Durations are expressed in the unit named by the field suffix so the
// YAML stays readable; Runtime builders convert to the component configs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"trading-node-go/cache"
	"trading-node-go/data"
	"trading-node-go/execution"
	"trading-node-go/gateway"
	"trading-node-go/model"
	"trading-node-go/persistence"
)

// Env var names overriding credentials in the file. The file may ship
// without secrets; deployment injects them.
const (
	EnvAPIKey    = "TN_GATEWAY_API_KEY"
	EnvAPISecret = "TN_GATEWAY_API_SECRET"
)

type NodeConfig struct {
	Env      string `yaml:"env"`
	TraderID string `yaml:"trader_id"`

	Logging LoggingConfig `yaml:"logging"`
	Gateway GatewayConfig `yaml:"gateway"`
	Data    DataConfig    `yaml:"data"`
	Exec    ExecConfig    `yaml:"execution"`
	Recon   ReconConfig   `yaml:"reconciliation"`
	Purge   PurgeConfig   `yaml:"purge"`
	Catalog CatalogConfig `yaml:"catalog"`
	Store   StoreConfig   `yaml:"store"`
	Metrics MetricsConfig `yaml:"metrics"`
	Node    StageConfig   `yaml:"node"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type GatewayConfig struct {
	Venue         string          `yaml:"venue"`
	WSURL         string          `yaml:"ws_url"`
	RESTURL       string          `yaml:"rest_url"`
	APIKey        string          `yaml:"api_key"`
	APISecret     string          `yaml:"api_secret"`
	APIKeyHeader  string          `yaml:"api_key_header"`
	HeartbeatSecs int             `yaml:"heartbeat_secs"`
	ReadTimeoutSecs int           `yaml:"read_timeout_secs"`
	WriteQueueSize int            `yaml:"write_queue_size"`
	Reconnect     ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	InitialDelayMs int     `yaml:"initial_delay_ms"`
	MaxDelayMs     int     `yaml:"max_delay_ms"`
	BackoffFactor  float64 `yaml:"backoff_factor"`
	JitterFrac     float64 `yaml:"jitter_frac"`
	TimeoutSecs    int     `yaml:"timeout_secs"`
}

type DataConfig struct {
	TimeBarsTimestampOnClose   bool `yaml:"time_bars_timestamp_on_close"`
	TimeBarsIntervalLeftOpen   bool `yaml:"time_bars_interval_left_open"`
	TimeBarsBuildWithNoUpdates bool `yaml:"time_bars_build_with_no_updates"`
	ValidateDataSequence       bool `yaml:"validate_data_sequence"`
}

type ExecConfig struct {
	QueueSize                     int  `yaml:"qsize"`
	GracefulShutdownOnException   bool `yaml:"graceful_shutdown_on_exception"`
	FilterUnclaimedExternalOrders bool `yaml:"filter_unclaimed_external_orders"`
}

type ReconConfig struct {
	Enabled                bool     `yaml:"enabled"`
	StartupDelaySecs       int      `yaml:"startup_delay_secs"`
	LookbackMins           int      `yaml:"lookback_mins"`
	InstrumentIDs          []string `yaml:"instrument_ids"`
	FilterPositionReports  bool     `yaml:"filter_position_reports"`
	FilteredClientOrderIDs []string `yaml:"filtered_client_order_ids"`
	GenerateMissingOrders  bool     `yaml:"generate_missing_orders"`

	InflightCheckIntervalMs  int `yaml:"inflight_check_interval_ms"`
	InflightCheckThresholdMs int `yaml:"inflight_check_threshold_ms"`
	InflightCheckRetries     int `yaml:"inflight_check_retries"`

	OpenCheckIntervalSecs   int  `yaml:"open_check_interval_secs"`
	OpenCheckLookbackMins   int  `yaml:"open_check_lookback_mins"`
	OpenCheckThresholdMs    int  `yaml:"open_check_threshold_ms"`
	OpenCheckMissingRetries int  `yaml:"open_check_missing_retries"`
	OpenCheckOpenOnly       bool `yaml:"open_check_open_only"`

	OwnBooksAuditIntervalSecs int `yaml:"own_books_audit_interval_secs"`
}

type PurgeConfig struct {
	ClosedOrdersIntervalMins    int  `yaml:"closed_orders_interval_mins"`
	ClosedOrdersBufferMins      int  `yaml:"closed_orders_buffer_mins"`
	ClosedPositionsIntervalMins int  `yaml:"closed_positions_interval_mins"`
	ClosedPositionsBufferMins   int  `yaml:"closed_positions_buffer_mins"`
	AccountEventsIntervalMins   int  `yaml:"account_events_interval_mins"`
	AccountEventsLookbackMins   int  `yaml:"account_events_lookback_mins"`
	FromDatabase                bool `yaml:"from_database"`
}

type CatalogConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Root         string `yaml:"root"`
	MaxFileBytes int64  `yaml:"max_file_bytes"`
}

type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// StageConfig bounds each lifecycle stage of the node kernel.
type StageConfig struct {
	ConnectionTimeoutSecs     int `yaml:"connection_timeout_secs"`
	ReconciliationTimeoutSecs int `yaml:"reconciliation_timeout_secs"`
	PortfolioInitTimeoutSecs  int `yaml:"portfolio_init_timeout_secs"`
	DisconnectionTimeoutSecs  int `yaml:"disconnection_timeout_secs"`
	ShutdownTimeoutSecs       int `yaml:"shutdown_timeout_secs"`
}

func Default() NodeConfig {
	rc := execution.DefaultReconciliationConfig()
	return NodeConfig{
		Env:      "dev",
		TraderID: "TRADER-001",
		Logging:  LoggingConfig{Level: "info", Format: "json"},
		Gateway: GatewayConfig{
			APIKeyHeader:    "X-API-KEY",
			HeartbeatSecs:   20,
			ReadTimeoutSecs: 30,
			WriteQueueSize:  64,
			Reconnect: ReconnectConfig{
				InitialDelayMs: 100,
				MaxDelayMs:     10_000,
				BackoffFactor:  2,
				JitterFrac:     0.1,
				TimeoutSecs:    300,
			},
		},
		Data: DataConfig{TimeBarsTimestampOnClose: true, ValidateDataSequence: true},
		Exec: ExecConfig{QueueSize: 100, GracefulShutdownOnException: true},
		Recon: ReconConfig{
			Enabled:                  rc.Enabled,
			StartupDelaySecs:         int(rc.StartupDelay / time.Second),
			InflightCheckIntervalMs:  int(rc.InflightCheckInterval / time.Millisecond),
			InflightCheckThresholdMs: int(rc.InflightCheckThreshold / time.Millisecond),
			InflightCheckRetries:     rc.InflightCheckRetries,
			OpenCheckIntervalSecs:    int(rc.OpenCheckInterval / time.Second),
			OpenCheckThresholdMs:     int(rc.OpenCheckThreshold / time.Millisecond),
			OpenCheckMissingRetries:  rc.OpenCheckMissingRetries,
			OpenCheckOpenOnly:        rc.OpenCheckOpenOnly,
			GenerateMissingOrders:    true,
		},
		Purge: PurgeConfig{
			ClosedOrdersIntervalMins:    10,
			ClosedOrdersBufferMins:      60,
			ClosedPositionsIntervalMins: 10,
			ClosedPositionsBufferMins:   60,
			AccountEventsIntervalMins:   10,
			AccountEventsLookbackMins:   60,
		},
		Catalog: CatalogConfig{},
		Metrics: MetricsConfig{Listen: ":9100"},
		Node: StageConfig{
			ConnectionTimeoutSecs:     60,
			ReconciliationTimeoutSecs: 30,
			PortfolioInitTimeoutSecs:  10,
			DisconnectionTimeoutSecs:  10,
			ShutdownTimeoutSecs:       5,
		},
	}
}

// Load reads and validates the file. Fields absent from the file keep
// their defaults.
func Load(path string) (NodeConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads the file then applies credential env vars.
func LoadWithEnvOverrides(path string) (NodeConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv(EnvAPISecret); v != "" {
		cfg.Gateway.APISecret = v
	}
	return cfg, nil
}

func (c NodeConfig) Validate() error {
	if c.TraderID == "" {
		return fmt.Errorf("config: trader_id is required")
	}
	if c.Gateway.Venue == "" {
		return fmt.Errorf("config: gateway.venue is required")
	}
	if c.Gateway.WSURL == "" {
		return fmt.Errorf("config: gateway.ws_url is required")
	}
	if c.Exec.QueueSize <= 0 {
		return fmt.Errorf("config: execution.qsize must be positive")
	}
	if f := c.Gateway.Reconnect.BackoffFactor; f < 1 {
		return fmt.Errorf("config: gateway.reconnect.backoff_factor must be >= 1, got %v", f)
	}
	if j := c.Gateway.Reconnect.JitterFrac; j < 0 || j > 1 {
		return fmt.Errorf("config: gateway.reconnect.jitter_frac must be in [0,1], got %v", j)
	}
	if c.Recon.Enabled && c.Recon.InflightCheckRetries <= 0 {
		return fmt.Errorf("config: reconciliation.inflight_check_retries must be positive")
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("config: store.path is required when store is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("config: metrics.listen is required when metrics are enabled")
	}
	return nil
}

func mins(n int) time.Duration { return time.Duration(n) * time.Minute }
func secs(n int) time.Duration { return time.Duration(n) * time.Second }
func msec(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c NodeConfig) DataEngine() data.EngineConfig {
	return data.EngineConfig{
		TimeBarsTimestampOnClose:   c.Data.TimeBarsTimestampOnClose,
		TimeBarsIntervalLeftOpen:   c.Data.TimeBarsIntervalLeftOpen,
		TimeBarsBuildWithNoUpdates: c.Data.TimeBarsBuildWithNoUpdates,
		ValidateDataSequence:       c.Data.ValidateDataSequence,
	}
}

func (c NodeConfig) ExecEngine() execution.EngineConfig {
	return execution.EngineConfig{
		QueueSize:                     c.Exec.QueueSize,
		GracefulShutdownOnException:   c.Exec.GracefulShutdownOnException,
		FilterUnclaimedExternalOrders: c.Exec.FilterUnclaimedExternalOrders,
	}
}

func (c NodeConfig) Reconciliation() execution.ReconciliationConfig {
	r := c.Recon
	ids := make([]model.InstrumentID, 0, len(r.InstrumentIDs))
	for _, s := range r.InstrumentIDs {
		id, err := model.ParseInstrumentID(s)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	filtered := make([]model.ClientOrderID, 0, len(r.FilteredClientOrderIDs))
	for _, s := range r.FilteredClientOrderIDs {
		filtered = append(filtered, model.ClientOrderID(s))
	}
	return execution.ReconciliationConfig{
		Enabled:                 r.Enabled,
		StartupDelay:            secs(r.StartupDelaySecs),
		LookbackMins:            r.LookbackMins,
		InstrumentIDs:           ids,
		FilterPositionReports:   r.FilterPositionReports,
		FilteredClientOrderIDs:  filtered,
		GenerateMissingOrders:   r.GenerateMissingOrders,
		InflightCheckInterval:   msec(r.InflightCheckIntervalMs),
		InflightCheckThreshold:  msec(r.InflightCheckThresholdMs),
		InflightCheckRetries:    r.InflightCheckRetries,
		OpenCheckInterval:       secs(r.OpenCheckIntervalSecs),
		OpenCheckLookbackMins:   r.OpenCheckLookbackMins,
		OpenCheckThreshold:      msec(r.OpenCheckThresholdMs),
		OpenCheckMissingRetries: r.OpenCheckMissingRetries,
		OpenCheckOpenOnly:       r.OpenCheckOpenOnly,
		OwnBooksAuditInterval:   secs(r.OwnBooksAuditIntervalSecs),
	}
}

func (c NodeConfig) CachePurge() cache.PurgeConfig {
	p := c.Purge
	return cache.PurgeConfig{
		ClosedOrdersInterval:    mins(p.ClosedOrdersIntervalMins),
		ClosedOrdersBuffer:      mins(p.ClosedOrdersBufferMins),
		ClosedPositionsInterval: mins(p.ClosedPositionsIntervalMins),
		ClosedPositionsBuffer:   mins(p.ClosedPositionsBufferMins),
		AccountEventsInterval:   mins(p.AccountEventsIntervalMins),
		AccountEventsLookback:   mins(p.AccountEventsLookbackMins),
		FromDatabase:            p.FromDatabase,
	}
}

func (c NodeConfig) CatalogWriter() persistence.WriterConfig {
	return persistence.WriterConfig{Root: c.Catalog.Root, MaxFileBytes: c.Catalog.MaxFileBytes}
}

func (c NodeConfig) WSReconnect() gateway.ReconnectConfig {
	r := c.Gateway.Reconnect
	return gateway.ReconnectConfig{
		InitialDelay:  msec(r.InitialDelayMs),
		MaxDelay:      msec(r.MaxDelayMs),
		BackoffFactor: r.BackoffFactor,
		JitterFrac:    r.JitterFrac,
		Timeout:       secs(r.TimeoutSecs),
	}
}

func (c StageConfig) ConnectionTimeout() time.Duration     { return secs(c.ConnectionTimeoutSecs) }
func (c StageConfig) ReconciliationTimeout() time.Duration { return secs(c.ReconciliationTimeoutSecs) }
func (c StageConfig) PortfolioInitTimeout() time.Duration  { return secs(c.PortfolioInitTimeoutSecs) }
func (c StageConfig) DisconnectionTimeout() time.Duration  { return secs(c.DisconnectionTimeoutSecs) }
func (c StageConfig) ShutdownTimeout() time.Duration       { return secs(c.ShutdownTimeoutSecs) }
