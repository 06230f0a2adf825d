package cvd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvd-market-sentry/pkg/types"
)

func testSignalConfig() types.SignalConfig {
	return types.SignalConfig{
		CVDLookback:   10,
		HistorySize:   1000,
		PivotCapacity: 50,
	}
}

func newTestAggregator() *Aggregator {
	return NewAggregator("BTCUSDT", time.Minute, testSignalConfig())
}

func trade(ts int64, qty float64, buyerMaker bool) *types.TradeEvent {
	return &types.TradeEvent{
		Symbol:       "BTCUSDT",
		Price:        100,
		Quantity:     qty,
		Timestamp:    ts,
		IsBuyerMaker: buyerMaker,
	}
}

func TestProcessTradeBucketing(t *testing.T) {
	agg := newTestAggregator()

	// 同一分钟内的成交落入同一个桶
	require.NoError(t, agg.ProcessTrade(trade(60_000, 1, false)))
	require.NoError(t, agg.ProcessTrade(trade(119_999, 2, true)))

	stats := agg.CurrentCandleStats()
	assert.Equal(t, 2, stats.TradeCount)
	assert.InDelta(t, -1.0, stats.Delta, 1e-9) // +1 - 2
	assert.InDelta(t, 1.0, stats.BuyVolume, 1e-9)
	assert.InDelta(t, 2.0, stats.SellVolume, 1e-9)

	// 跨边界的成交触发收盘
	require.NoError(t, agg.ProcessTrade(trade(120_000, 5, false)))
	assert.Equal(t, 1, agg.HistoryLen())

	closed := agg.History(1)[0]
	assert.Equal(t, int64(60_000), closed.Timestamp)
	assert.InDelta(t, -1.0, closed.Delta, 1e-9)
	assert.InDelta(t, -1.0, closed.CumulativeCVD, 1e-9)
}

func TestCandleBoundaryAlignment(t *testing.T) {
	agg := newTestAggregator()

	// 任意时间戳都对齐到向下取整边界
	require.NoError(t, agg.ProcessTrade(trade(95_432, 1, false)))
	require.NoError(t, agg.ProcessTrade(trade(121_000, 1, false)))

	closed := agg.History(1)[0]
	assert.Equal(t, int64(60_000), closed.Timestamp)
}

func TestDeltaInvariant(t *testing.T) {
	agg := newTestAggregator()

	require.NoError(t, agg.ProcessTrade(trade(60_000, 3, false)))
	require.NoError(t, agg.ProcessTrade(trade(60_001, 1, true)))
	require.NoError(t, agg.ProcessTrade(trade(60_002, 2, false)))
	require.NoError(t, agg.ProcessTrade(trade(120_000, 1, false)))

	closed := agg.History(1)[0]
	assert.InDelta(t, closed.BuyVolume-closed.SellVolume, closed.Delta, 1e-9)
	assert.InDelta(t, closed.BuyVolume+closed.SellVolume, closed.TotalVolume, 1e-9)
	assert.InDelta(t, closed.BuyVolume/closed.TotalVolume, closed.BuyRatio, 1e-9)
}

func TestCumulativeCVDChains(t *testing.T) {
	agg := newTestAggregator()

	// 三根K线，delta分别为 +1, -2, +3
	require.NoError(t, agg.ProcessTrade(trade(60_000, 1, false)))
	require.NoError(t, agg.ProcessTrade(trade(120_000, 2, true)))
	require.NoError(t, agg.ProcessTrade(trade(180_000, 3, false)))
	require.NoError(t, agg.ProcessTrade(trade(240_000, 1, false)))

	history := agg.History(10)
	require.Len(t, history, 3)
	assert.InDelta(t, 1.0, history[0].CumulativeCVD, 1e-9)
	assert.InDelta(t, -1.0, history[1].CumulativeCVD, 1e-9)
	assert.InDelta(t, 2.0, history[2].CumulativeCVD, 1e-9)

	for i := 1; i < len(history); i++ {
		assert.InDelta(t, history[i-1].CumulativeCVD+history[i].Delta, history[i].CumulativeCVD, 1e-9)
	}
}

func TestCurrentCVDIncludesOpenCandle(t *testing.T) {
	agg := newTestAggregator()

	require.NoError(t, agg.ProcessTrade(trade(60_000, 1, false)))
	require.NoError(t, agg.ProcessTrade(trade(120_000, 4, false)))

	// 累计1（已收盘）+ 4（进行中）
	assert.InDelta(t, 5.0, agg.CurrentCVD(), 1e-9)

	// 无新成交时幂等
	assert.Equal(t, agg.CurrentCVD(), agg.CurrentCVD())
}

func TestInvalidTradeDoesNotCorruptState(t *testing.T) {
	agg := newTestAggregator()

	require.NoError(t, agg.ProcessTrade(trade(60_000, 1, false)))

	before := agg.CurrentCandleStats()

	assert.ErrorIs(t, agg.ProcessTrade(nil), ErrInvalidTrade)
	assert.ErrorIs(t, agg.ProcessTrade(trade(60_001, 0, false)), ErrInvalidTrade)
	assert.ErrorIs(t, agg.ProcessTrade(trade(60_001, -1, false)), ErrInvalidTrade)
	assert.ErrorIs(t, agg.ProcessTrade(&types.TradeEvent{Price: 0, Quantity: 1, Timestamp: 60_001}), ErrInvalidTrade)
	assert.ErrorIs(t, agg.ProcessTrade(&types.TradeEvent{Price: 100, Quantity: 1, Timestamp: 0}), ErrInvalidTrade)

	after := agg.CurrentCandleStats()
	assert.Equal(t, before, after)
}

func TestHistoryCapacityEviction(t *testing.T) {
	agg := newTestAggregator()

	// 1002笔成交分布在1002个不同的K线周期，收盘1001根，容量1000
	for i := 0; i < 1002; i++ {
		ts := int64(i+1) * 60_000
		require.NoError(t, agg.ProcessTrade(trade(ts, 1, false)))
	}

	assert.Equal(t, 1000, agg.HistoryLen())

	// 最旧一根（open_time=60000）已被淘汰
	history := agg.History(1000)
	assert.Equal(t, int64(2*60_000), history[0].Timestamp)
	assert.Equal(t, int64(1001*60_000), history[len(history)-1].Timestamp)
}

func TestPivotRefresh(t *testing.T) {
	cfg := testSignalConfig()
	cfg.CVDLookback = 4 // half-window 2
	agg := NewAggregator("BTCUSDT", time.Minute, cfg)

	// 构造 delta 序列使累计CVD先升后降再升：形成一个枢轴高点
	deltas := []float64{1, 2, 3, -2, -3, 1, 2, 3, 4, 5}
	ts := int64(60_000)
	for _, d := range deltas {
		qty := d
		buyerMaker := false
		if d < 0 {
			qty = -d
			buyerMaker = true
		}
		require.NoError(t, agg.ProcessTrade(trade(ts, qty, buyerMaker)))
		ts += 60_000
	}
	// 收盘最后一根
	require.NoError(t, agg.ProcessTrade(trade(ts, 1, false)))

	highs := agg.PivotHighs(10)
	require.NotEmpty(t, highs)
	// 累计CVD峰值出现在第三根K线（1+2+3=6）
	assert.InDelta(t, 6.0, highs[0].Value, 1e-9)
	assert.Equal(t, int64(3*60_000), highs[0].Timestamp)
}

func TestDetectDivergence(t *testing.T) {
	agg := newTestAggregator()

	// 直接注入CVD枢轴：高点500 -> 300（lower high）
	agg.pivotHighs.Push(types.Pivot{Timestamp: 1, Value: 500})
	agg.pivotHighs.Push(types.Pivot{Timestamp: 2, Value: 300})

	higherHigh := []types.Pivot{{Timestamp: 1, Value: 100}, {Timestamp: 2, Value: 110}}
	assert.True(t, agg.DetectDivergence(higherHigh, types.SignalBearish))

	// CVD顺序颠倒（300 -> 500）则无背离
	agg.pivotHighs.Clear()
	agg.pivotHighs.Push(types.Pivot{Timestamp: 1, Value: 300})
	agg.pivotHighs.Push(types.Pivot{Timestamp: 2, Value: 500})
	assert.False(t, agg.DetectDivergence(higherHigh, types.SignalBearish))

	// 价格未创新高也无背离
	agg.pivotHighs.Clear()
	agg.pivotHighs.Push(types.Pivot{Timestamp: 1, Value: 500})
	agg.pivotHighs.Push(types.Pivot{Timestamp: 2, Value: 300})
	lowerHigh := []types.Pivot{{Timestamp: 1, Value: 110}, {Timestamp: 2, Value: 100}}
	assert.False(t, agg.DetectDivergence(lowerHigh, types.SignalBearish))
}

func TestDetectBullishDivergence(t *testing.T) {
	agg := newTestAggregator()

	// CVD低点走高（higher low），价格走低（lower low）→ 看多背离
	agg.pivotLows.Push(types.Pivot{Timestamp: 1, Value: -500})
	agg.pivotLows.Push(types.Pivot{Timestamp: 2, Value: -300})

	lowerLow := []types.Pivot{{Timestamp: 1, Value: 100}, {Timestamp: 2, Value: 90}}
	assert.True(t, agg.DetectDivergence(lowerLow, types.SignalBullish))

	// 枢轴不足时返回false
	assert.False(t, agg.DetectDivergence(lowerLow[:1], types.SignalBullish))
}

func TestReset(t *testing.T) {
	agg := newTestAggregator()

	require.NoError(t, agg.ProcessTrade(trade(60_000, 1, false)))
	require.NoError(t, agg.ProcessTrade(trade(120_000, 1, false)))

	agg.Reset()

	assert.Equal(t, 0, agg.HistoryLen())
	assert.InDelta(t, 0.0, agg.CurrentCVD(), 1e-9)
	assert.Empty(t, agg.PivotHighs(10))
	assert.Equal(t, "insufficient_data", agg.Strength())
}

func TestCloseCallback(t *testing.T) {
	agg := newTestAggregator()

	var closed []types.CVDEntry
	agg.SetCloseCallback(func(e types.CVDEntry) {
		closed = append(closed, e)
	})

	require.NoError(t, agg.ProcessTrade(trade(60_000, 2, false)))
	require.NoError(t, agg.ProcessTrade(trade(120_000, 1, false)))

	require.Len(t, closed, 1)
	assert.Equal(t, int64(60_000), closed[0].Timestamp)
	assert.InDelta(t, 2.0, closed[0].Delta, 1e-9)
}
