package persistence

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trading-node-go/bus"
	"trading-node-go/model"
)

var btcusd = model.InstrumentID{Symbol: "BTC-USD", Venue: "COINBASE"}

func tsForDay(t *testing.T, day string, offset time.Duration) int64 {
	t.Helper()
	d, err := time.Parse("20060102", day)
	require.NoError(t, err)
	return d.Add(offset).UnixNano()
}

func tradeAt(ts int64) model.TradeTick {
	tk, err := model.NewTradeTick(btcusd, model.MustPrice(50000, 2), model.MustQuantity(1, 3),
		model.AggressorSideBuyer, model.TradeID(model.NewEventID()), ts, ts)
	if err != nil {
		panic(err)
	}
	return tk
}

func TestCatalogWriter_LayoutAndDayRotation(t *testing.T) {
	root := t.TempDir()
	w := NewCatalogWriter(zap.NewNop(), WriterConfig{Root: root})
	defer w.Close()

	require.NoError(t, w.WriteTradeTick(tradeAt(tsForDay(t, "20260115", time.Hour))))
	require.NoError(t, w.WriteTradeTick(tradeAt(tsForDay(t, "20260115", 2*time.Hour))))
	require.NoError(t, w.WriteTradeTick(tradeAt(tsForDay(t, "20260116", time.Minute))))
	require.NoError(t, w.Close())

	dir := filepath.Join(root, "trades", "BTC-USD.COINBASE")
	first, err := os.ReadFile(filepath.Join(dir, "20260115.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(first), "\n"))

	second, err := os.ReadFile(filepath.Join(dir, "20260116.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(second), "\n"))
}

func TestCatalogWriter_SizeRotationWithinDay(t *testing.T) {
	root := t.TempDir()
	w := NewCatalogWriter(zap.NewNop(), WriterConfig{Root: root, MaxFileBytes: 300})
	defer w.Close()

	for i := 0; i < 6; i++ {
		require.NoError(t, w.WriteTradeTick(tradeAt(tsForDay(t, "20260115", time.Duration(i)*time.Minute))))
	}
	require.NoError(t, w.Close())

	dir := filepath.Join(root, "trades", "BTC-USD.COINBASE")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Greater(t, len(entries), 1, "size rotation produced part files")
	_, err = os.Stat(filepath.Join(dir, "20260115.jsonl"))
	assert.NoError(t, err)
}

func TestCatalogWriter_BarTypeEmbeddedInDirectory(t *testing.T) {
	root := t.TempDir()
	w := NewCatalogWriter(zap.NewNop(), WriterConfig{Root: root})
	defer w.Close()

	barType := model.BarType{
		InstrumentID: btcusd,
		Spec:         model.BarSpecification{Step: 1, Aggregation: model.BarAggregationMinute},
		Source:       model.AggregationSourceInternal,
	}
	bar, err := model.NewBar(barType,
		model.MustPrice(100, 0), model.MustPrice(101, 0), model.MustPrice(99, 0),
		model.MustPrice(100, 0), model.MustQuantity(5, 0),
		tsForDay(t, "20260115", time.Minute), tsForDay(t, "20260115", time.Minute))
	require.NoError(t, err)
	require.NoError(t, w.WriteBar(bar))
	require.NoError(t, w.Close())

	_, err = os.Stat(filepath.Join(root, "bars", barType.String(), "20260115.jsonl"))
	assert.NoError(t, err)
}

func TestCatalogRoot_EnvFallback(t *testing.T) {
	t.Setenv(CatalogPathEnv, "/tmp/catalog-test")
	assert.Equal(t, "/tmp/catalog-test", CatalogRoot())

	t.Setenv(CatalogPathEnv, "")
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, wd, CatalogRoot())
}

func TestFeeder_WritesFromBusTopics(t *testing.T) {
	root := t.TempDir()
	w := NewCatalogWriter(zap.NewNop(), WriterConfig{Root: root})
	msgb := bus.New(zap.NewNop())
	fd := NewFeeder(zap.NewNop(), w, msgb)
	defer fd.Close()

	msgb.Publish("data.trades.COINBASE.BTC-USD", tradeAt(tsForDay(t, "20260115", time.Hour)))
	require.NoError(t, w.Close())

	_, err := os.Stat(filepath.Join(root, "trades", "BTC-USD.COINBASE", "20260115.jsonl"))
	assert.NoError(t, err)
}
