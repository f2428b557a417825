package node

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-node-go/cache"
	"trading-node-go/config"
)

func testConfig(t *testing.T) config.NodeConfig {
	t.Helper()
	cfg := config.Default()
	cfg.TraderID = "TRADER-TEST"
	cfg.Gateway.Venue = "SIM"
	cfg.Gateway.WSURL = "ws://127.0.0.1:0"
	cfg.Logging.Level = "error"
	cfg.Recon.StartupDelaySecs = 1
	return cfg
}

func TestNode_StartStopLifecycle(t *testing.T) {
	n, err := New(testConfig(t))
	require.NoError(t, err)
	assert.Equal(t, StateCreated, n.State())

	require.NoError(t, n.Start(context.Background()))
	assert.Equal(t, StateRunning, n.State())

	// Reconciliation and purge timers are live while running.
	assert.NotEmpty(t, n.Clock().TimerNames())

	n.Stop()
	assert.Equal(t, StateStopped, n.State())
	assert.Empty(t, n.Clock().TimerNames())
	assert.True(t, n.WaitStopped(time.Second))
}

func TestNode_StartTwiceRefused(t *testing.T) {
	n, err := New(testConfig(t))
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	assert.Error(t, n.Start(context.Background()))
}

func TestNode_StopIdempotent(t *testing.T) {
	n, err := New(testConfig(t))
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))

	n.Stop()
	n.Stop()
	assert.Equal(t, StateStopped, n.State())
}

func TestNode_RequestStopShutsDown(t *testing.T) {
	n, err := New(testConfig(t))
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))

	n.RequestStop("test shutdown")
	require.True(t, n.WaitStopped(3*time.Second))
	assert.Equal(t, StateStopped, n.State())
}

func TestNode_InvalidConfigRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.TraderID = ""
	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trader_id")
}

func TestNode_ReloadPurgeConfig(t *testing.T) {
	n, err := New(testConfig(t))
	require.NoError(t, err)
	require.Error(t, n.ReloadPurgeConfig(cache.PurgeConfig{}), "only while running")

	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	require.NoError(t, n.ReloadPurgeConfig(cache.PurgeConfig{
		ClosedOrdersInterval: time.Minute,
		ClosedOrdersBuffer:   10 * time.Minute,
	}))
	assert.Contains(t, n.Clock().TimerNames(), "purge-closed-orders")
}

func TestNode_MetricsCountBusTraffic(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = "127.0.0.1:0"

	n, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, n.Monitor())

	n.Bus().Publish("data.trades.SIM.BTCUSDT", struct{}{})
	n.Bus().Publish("data.trades.SIM.BTCUSDT", struct{}{})
	n.Bus().Publish("data.quotes.SIM.BTCUSDT", struct{}{})

	rec := httptest.NewRecorder()
	n.Monitor().Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, "trading_node_trade_ticks_total 2")
	assert.Contains(t, body, "trading_node_quote_ticks_total 1")
}

func TestNode_StoreEnabledOpensDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Enabled = true
	cfg.Store.Path = t.TempDir()

	n, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	require.NotNil(t, n.Cache())
	n.Stop()
}
