package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
			CVDLookback:          4,
			HistorySize:          100,
			PivotCapacity:        50,
			HighFundingThreshold: 0.01,
			LowFundingThreshold:  -0.01,
			ConfirmationPeriod:   3,
			BearishConfirmRatio:  0.999,
			BullishConfirmRatio:  1.001,
			MinConfidence:        60,
			OITrendWindow:        3,
			OIDeadBand:           0.001,
			RefreshInterval:      time.Minute,
			EvalInterval:         time.Minute,
		},
		Risk: types.RiskConfig{
			RiskPerTrade:         0.01,
			RiskRewardRatio:      1.5,
			BaseStopLossPct:      0.02,
			VolatilityMultiplier: 1.5,
			MinPositionSize:      0.001,
			MaxAccountUsage:      0.5,
			MonitorInterval:      30 * time.Second,
		},
		WebSocket: types.WebSocketConfig{
			Endpoint:             "wss://fstream.binance.com/ws",
			ReconnectInterval:    5 * time.Second,
			PingInterval:         20 * time.Second,
			MaxReconnectAttempts: 10,
		},
	}
}

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"1m", time.Minute, false},
		{"15m", 15 * time.Minute, false},
		{"4h", 4 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"", 0, true},
		{"m", 0, true},
		{"0m", 0, true},
		{"-5m", 0, true},
		{"15s", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseTimeframe(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNewConfluenceEngine(t *testing.T) {
	ce, err := NewConfluenceEngine(testConfig())
	require.NoError(t, err)
	defer ce.cancel()

	assert.Nil(t, ce.GetDatabaseManager())
	assert.False(t, ce.GetBackup().Enabled())
	assert.NotNil(t, ce.GetRiskManager())
	assert.NotNil(t, ce.GetEvaluator())

	stats := ce.GetStats()
	assert.Equal(t, int64(0), stats["processed_trades"])
	assert.Equal(t, int64(0), stats["detected_signals"])
	assert.Equal(t, "BTCUSDT", stats["symbol"])
	assert.Equal(t, false, stats["ws_connected"])
}

func TestNewConfluenceEngineBadTimeframe(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.Timeframe = "fast"

	_, err := NewConfluenceEngine(cfg)
	assert.Error(t, err)
}

func TestCloseCallbackFeedsPersistPipeline(t *testing.T) {
	ce, err := NewConfluenceEngine(testConfig())
	require.NoError(t, err)
	defer ce.cancel()

	// 两笔成交跨越1m边界，第一根K线收盘后应进入持久化管道
	require.NoError(t, ce.aggregator.ProcessTrade(&types.TradeEvent{
		Symbol:    "BTCUSDT",
		Price:     100,
		Quantity:  2,
		Timestamp: 60_000,
	}))
	require.NoError(t, ce.aggregator.ProcessTrade(&types.TradeEvent{
		Symbol:       "BTCUSDT",
		Price:        101,
		Quantity:     1,
		Timestamp:    120_000,
		IsBuyerMaker: true,
	}))

	select {
	case entry := <-ce.entryChan:
		assert.Equal(t, int64(60_000), entry.Timestamp)
		assert.Equal(t, 2.0, entry.Delta)
		assert.Equal(t, 2.0, entry.CumulativeCVD)
	default:
		t.Fatal("收盘K线未进入持久化管道")
	}
}

func TestFindClosedPositionUnknownID(t *testing.T) {
	ce, err := NewConfluenceEngine(testConfig())
	require.NoError(t, err)
	defer ce.cancel()

	assert.Nil(t, ce.findClosedPosition("missing"))
}
