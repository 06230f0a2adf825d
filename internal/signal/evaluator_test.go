package signal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvd-market-sentry/internal/cvd"
	"cvd-market-sentry/pkg/types"
)

// mockProvider 手写的DataProvider桩实现
type mockProvider struct {
	klines    []types.KLine
	klinesErr error
	price     float64
	priceErr  error
	funding   float64
	oi        float64
	balance   float64
}

func (m *mockProvider) GetHistoricalKlines(ctx context.Context, symbol, interval string, limit int) ([]types.KLine, error) {
	if m.klinesErr != nil {
		return nil, m.klinesErr
	}
	return m.klines, nil
}

func (m *mockProvider) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if m.priceErr != nil {
		return 0, m.priceErr
	}
	return m.price, nil
}

func (m *mockProvider) GetFundingRate(ctx context.Context, symbol string) (*types.FundingRate, error) {
	return &types.FundingRate{Symbol: symbol, Rate: m.funding, Time: time.Now()}, nil
}

func (m *mockProvider) GetOpenInterest(ctx context.Context, symbol string) (*types.OpenInterest, error) {
	return &types.OpenInterest{Symbol: symbol, Value: m.oi, Time: time.Now()}, nil
}

func (m *mockProvider) GetAccountBalance(ctx context.Context) (float64, error) {
	return m.balance, nil
}

func (m *mockProvider) GetPositionInfo(ctx context.Context, symbol string) (*types.PositionInfo, error) {
	return nil, nil
}

func testSignalConfig() types.SignalConfig {
	return types.SignalConfig{
		CVDLookback:          4,
		HistorySize:          1000,
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
		EvalInterval:         30 * time.Second,
	}
}

func testTradingConfig() types.TradingConfig {
	return types.TradingConfig{
		Symbol:         "BTCUSDT",
		Timeframe:      "15m",
		LookbackPeriod: 4,
		MaxPositions:   1,
	}
}

// feedDeltas 每根K线灌入一笔指定增量的成交，最后追加一笔触发收盘
func feedDeltas(t *testing.T, agg *cvd.Aggregator, deltas []float64) {
	t.Helper()
	for i, delta := range deltas {
		event := &types.TradeEvent{
			Symbol:    "BTCUSDT",
			Price:     100,
			Quantity:  delta,
			Timestamp: int64(i+1) * 60000,
		}
		if delta < 0 {
			event.Quantity = -delta
			event.IsBuyerMaker = true
		}
		require.NoError(t, agg.ProcessTrade(event))
	}
	require.NoError(t, agg.ProcessTrade(&types.TradeEvent{
		Symbol:    "BTCUSDT",
		Price:     100,
		Quantity:  1,
		Timestamp: int64(len(deltas)+1) * 60000,
	}))
}

// makeKlines 按高低价序列构造K线
func makeKlines(highs, lows []float64) []types.KLine {
	klines := make([]types.KLine, len(highs))
	base := time.UnixMilli(1700000000000)
	for i := range highs {
		open := base.Add(time.Duration(i) * 15 * time.Minute)
		klines[i] = types.KLine{
			Symbol:    "BTCUSDT",
			OpenTime:  open,
			CloseTime: open.Add(15*time.Minute - time.Millisecond),
			Open:      (highs[i] + lows[i]) / 2,
			High:      highs[i],
			Low:       lows[i],
			Close:     (highs[i] + lows[i]) / 2,
			Volume:    100,
			Interval:  "15m",
		}
	}
	return klines
}

func TestFeedDeltasClosesEveryCandle(t *testing.T) {
	agg := cvd.NewAggregator("BTCUSDT", time.Minute, testSignalConfig())

	deltas := []float64{100, -50, 200}
	feedDeltas(t, agg, deltas)

	// 每个delta各占一根已收盘K线，追加的收盘触发笔仍在进行中
	require.Equal(t, len(deltas), agg.HistoryLen())
	history := agg.History(len(deltas))
	assert.Equal(t, 100.0, history[0].Delta)
	assert.Equal(t, -50.0, history[1].Delta)
	assert.Equal(t, 200.0, history[2].Delta)
	assert.Equal(t, 250.0, history[2].CumulativeCVD)
}

func TestCheckBearishSignalFullConfluence(t *testing.T) {
	agg := cvd.NewAggregator("BTCUSDT", time.Minute, testSignalConfig())
	// 累计CVD: 100,300,500,300,100,50,200,300,200,100
	// CVD高点枢轴 500 -> 300，构成更低高点
	feedDeltas(t, agg, []float64{100, 200, 200, -200, -200, -50, 150, 100, -100, -100})

	provider := &mockProvider{
		// 价格高点枢轴 30 -> 35，构成更高高点
		klines: makeKlines(
			[]float64{10, 20, 30, 20, 10, 15, 25, 35, 25, 15},
			[]float64{5, 15, 25, 15, 5, 10, 20, 30, 20, 10}),
		price:   30, // 低于近期高点35，确认走弱
		funding: 0.02,
		oi:      50000,
	}

	e := NewEvaluator(provider, agg, testTradingConfig(), testSignalConfig())
	signal := e.CheckBearishSignal(context.Background())

	assert.True(t, signal.Valid)
	assert.Equal(t, types.SignalBearish, signal.Type)
	// 结构25 + 背离35 + 资金费率20 + 确认10，首次采样持仓量趋势为flat
	assert.Equal(t, 90, signal.Confidence)
	assert.True(t, signal.Conditions["price_higher_high"])
	assert.True(t, signal.Conditions["cvd_divergence"])
	assert.True(t, signal.Conditions["funding_rate_extreme"])
	assert.False(t, signal.Conditions["open_interest_rising"])
	assert.True(t, signal.Conditions["confirmation"])
}

func TestCheckBearishSignalNoHigherHigh(t *testing.T) {
	agg := cvd.NewAggregator("BTCUSDT", time.Minute, testSignalConfig())
	feedDeltas(t, agg, []float64{100, 200, 200, -200, -200, -50, 150, 100, -100, -100})

	provider := &mockProvider{
		// 价格高点枢轴 35 -> 30，无更高高点
		klines: makeKlines(
			[]float64{10, 20, 35, 20, 10, 15, 25, 30, 25, 15},
			[]float64{5, 15, 25, 15, 5, 10, 20, 22, 20, 10}),
		price:   30,
		funding: 0.02,
		oi:      50000,
	}

	e := NewEvaluator(provider, agg, testTradingConfig(), testSignalConfig())
	signal := e.CheckBearishSignal(context.Background())

	assert.False(t, signal.Valid)
	assert.Equal(t, 0, signal.Confidence)
	assert.False(t, signal.Conditions["price_higher_high"])
	// 硬性条件失败后直接短路，不再评估后续条件
	_, evaluated := signal.Conditions["cvd_divergence"]
	assert.False(t, evaluated)
}

func TestCheckBearishSignalNoDivergence(t *testing.T) {
	agg := cvd.NewAggregator("BTCUSDT", time.Minute, testSignalConfig())
	// CVD高点枢轴 300 -> 500，与价格同向，无背离
	feedDeltas(t, agg, []float64{100, 100, 100, -200, -150, 50, 250, 200, -200, -200})

	provider := &mockProvider{
		klines: makeKlines(
			[]float64{10, 20, 30, 20, 10, 15, 25, 35, 25, 15},
			[]float64{5, 15, 25, 15, 5, 10, 20, 30, 20, 10}),
		price:   30,
		funding: 0.02,
		oi:      50000,
	}

	e := NewEvaluator(provider, agg, testTradingConfig(), testSignalConfig())
	signal := e.CheckBearishSignal(context.Background())

	assert.False(t, signal.Valid)
	assert.True(t, signal.Conditions["price_higher_high"])
	assert.False(t, signal.Conditions["cvd_divergence"])
	_, evaluated := signal.Conditions["funding_rate_extreme"]
	assert.False(t, evaluated)
}

func TestCheckBullishSignalFullConfluence(t *testing.T) {
	agg := cvd.NewAggregator("BTCUSDT", time.Minute, testSignalConfig())
	// 累计CVD: -100,-300,-500,-300,-100,-50,-200,-300,-200,-100
	// CVD低点枢轴 -500 -> -300，构成更高低点
	feedDeltas(t, agg, []float64{-100, -200, -200, 200, 200, 50, -150, -100, 100, 100})

	provider := &mockProvider{
		// 价格低点枢轴 10 -> 5，构成更低低点
		klines: makeKlines(
			[]float64{35, 25, 15, 25, 35, 30, 20, 10, 20, 30},
			[]float64{30, 20, 10, 20, 30, 25, 15, 5, 15, 25}),
		price:   20, // 高于近期低点5，确认走强
		funding: -0.02,
		oi:      50000,
	}

	e := NewEvaluator(provider, agg, testTradingConfig(), testSignalConfig())
	signal := e.CheckBullishSignal(context.Background())

	assert.True(t, signal.Valid)
	assert.Equal(t, types.SignalBullish, signal.Type)
	assert.Equal(t, 90, signal.Confidence)
	assert.True(t, signal.Conditions["price_lower_low"])
	assert.True(t, signal.Conditions["cvd_divergence"])
	assert.True(t, signal.Conditions["funding_rate_extreme"])
	assert.True(t, signal.Conditions["confirmation"])
}

func TestCheckBullishSignalFundingNotExtreme(t *testing.T) {
	agg := cvd.NewAggregator("BTCUSDT", time.Minute, testSignalConfig())
	feedDeltas(t, agg, []float64{-100, -200, -200, 200, 200, 50, -150, -100, 100, 100})

	provider := &mockProvider{
		klines: makeKlines(
			[]float64{35, 25, 15, 25, 35, 30, 20, 10, 20, 30},
			[]float64{30, 20, 10, 20, 30, 25, 15, 5, 15, 25}),
		price:   20,
		funding: 0.0001, // 未达到极低阈值
		oi:      50000,
	}

	e := NewEvaluator(provider, agg, testTradingConfig(), testSignalConfig())
	signal := e.CheckBullishSignal(context.Background())

	// 结构25 + 背离35 + 确认10 = 70，仍然过线
	assert.True(t, signal.Valid)
	assert.Equal(t, 70, signal.Confidence)
	assert.False(t, signal.Conditions["funding_rate_extreme"])
}

func TestCheckSignalDegradesOnProviderFailure(t *testing.T) {
	agg := cvd.NewAggregator("BTCUSDT", time.Minute, testSignalConfig())

	provider := &mockProvider{klinesErr: errors.New("网络超时")}
	e := NewEvaluator(provider, agg, testTradingConfig(), testSignalConfig())

	signal := e.CheckBearishSignal(context.Background())
	assert.False(t, signal.Valid)
	assert.Equal(t, 0, signal.Confidence)
	assert.False(t, signal.Conditions["price_higher_high"])
}

func TestOpenInterestTrend(t *testing.T) {
	agg := cvd.NewAggregator("BTCUSDT", time.Minute, testSignalConfig())
	e := NewEvaluator(&mockProvider{}, agg, testTradingConfig(), testSignalConfig())

	// 采样不足
	e.oiSamples = []float64{100, 101}
	assert.Equal(t, "flat", e.openInterestTrendLocked())

	// 上升超过死区
	e.oiSamples = []float64{100, 101, 102, 103}
	assert.Equal(t, "rising", e.openInterestTrendLocked())

	// 下降超过死区
	e.oiSamples = []float64{103, 102, 101, 100}
	assert.Equal(t, "falling", e.openInterestTrendLocked())

	// 变化在死区内
	e.oiSamples = []float64{100000, 100000, 100000, 100050}
	assert.Equal(t, "flat", e.openInterestTrendLocked())
}

func TestSignalSummary(t *testing.T) {
	agg := cvd.NewAggregator("BTCUSDT", time.Minute, testSignalConfig())
	feedDeltas(t, agg, []float64{100, 200, 200, -200, -200, -50, 150, 100, -100, -100})

	provider := &mockProvider{price: 42000, funding: 0.005, oi: 88000}
	e := NewEvaluator(provider, agg, testTradingConfig(), testSignalConfig())

	summary := e.SignalSummary(context.Background())

	assert.Equal(t, "BTCUSDT", summary["symbol"])
	assert.Equal(t, 42000.0, summary["current_price"])
	assert.Equal(t, 0.005, summary["funding_rate"])
	assert.Equal(t, 88000.0, summary["open_interest"])
	assert.Contains(t, summary, "cvd_current")
	assert.Contains(t, summary, "cvd_strength")
}
