package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvd-market-sentry/internal/engine"
	"cvd-market-sentry/pkg/types"
)

func testConfig() *types.Config {
	return &types.Config{
		Trading: types.TradingConfig{
			Symbol:         "BTCUSDT",
			Timeframe:      "1m",
			LookbackPeriod: 4,
			MaxPositions:   3,
		},
		Signals: types.SignalConfig{
			CVDLookback:     4,
			HistorySize:     100,
			PivotCapacity:   50,
			MinConfidence:   60,
			RefreshInterval: time.Minute,
			EvalInterval:    time.Minute,
		},
		Risk: types.RiskConfig{
			RiskPerTrade:    0.01,
			RiskRewardRatio: 1.5,
			MonitorInterval: 30 * time.Second,
		},
		WebSocket: types.WebSocketConfig{
			Endpoint:             "wss://fstream.binance.com/ws",
			ReconnectInterval:    5 * time.Second,
			PingInterval:         20 * time.Second,
			MaxReconnectAttempts: 10,
		},
	}
}

func newTestMonitor(t *testing.T) *PerformanceMonitor {
	t.Helper()

	cfg := testConfig()
	ce, err := engine.NewConfluenceEngine(cfg)
	require.NoError(t, err)

	pm := NewPerformanceMonitor(ce, cfg)
	t.Cleanup(pm.Stop)
	return pm
}

func TestGetMetricsReturnsIndependentSnapshot(t *testing.T) {
	pm := newTestMonitor(t)

	first := pm.GetMetrics()
	first.TotalSignals = 999

	// 修改返回的快照不应影响内部状态
	second := pm.GetMetrics()
	assert.NotEqual(t, int64(999), second.TotalSignals)
	assert.Equal(t, int64(0), second.TotalSignals)
	assert.False(t, second.LastUpdateTime.IsZero())
}

func TestConcurrentMetricsAccess(t *testing.T) {
	pm := newTestMonitor(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				pm.updateMetrics()
				pm.generateReport()
				_ = pm.snapshot()
			}
		}()
	}
	wg.Wait()

	metrics := pm.snapshot()
	assert.Equal(t, int64(0), metrics.ProcessedTrades)
}

func TestGetDailyReportWithoutDatabase(t *testing.T) {
	pm := newTestMonitor(t)

	_, err := pm.GetDailyReport("BTCUSDT")
	assert.Error(t, err)
}
