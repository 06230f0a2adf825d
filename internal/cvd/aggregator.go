package cvd

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cvd-market-sentry/internal/indicators"
	"cvd-market-sentry/pkg/types"
)

// ErrInvalidTrade 成交事件字段缺失或非法
var ErrInvalidTrade = errors.New("invalid trade event")

// Aggregator CVD聚合器
//
// 将逐笔成交按固定周期聚合为K线桶，维护累计CVD、有界历史
// 和枢轴序列。同一聚合器的所有可变状态由内部互斥锁保护，
// 对外的读取不会观察到半更新的K线桶。
type Aggregator struct {
	mu sync.RWMutex

	symbol      string
	timeframeMs int64
	lookback    int

	current     *types.CVDCandle
	cumulative  float64
	history     *Ring[types.CVDEntry]
	totalClosed int // 累计收盘K线数，用于枢轴绝对位置映射

	pivotHighs *Ring[types.Pivot]
	pivotLows  *Ring[types.Pivot]
	lastHighTS int64
	lastLowTS  int64

	// 收盘回调，用于持久化/备份，在锁外调用
	onClose func(types.CVDEntry)
}

// NewAggregator 创建CVD聚合器
func NewAggregator(symbol string, timeframe time.Duration, cfg types.SignalConfig) *Aggregator {
	historySize := cfg.HistorySize
	if historySize <= 0 {
		historySize = 1000
	}
	pivotCap := cfg.PivotCapacity
	if pivotCap <= 0 {
		pivotCap = 50
	}

	agg := &Aggregator{
		symbol:      symbol,
		timeframeMs: timeframe.Milliseconds(),
		lookback:    cfg.CVDLookback,
		history:     NewRing[types.CVDEntry](historySize),
		pivotHighs:  NewRing[types.Pivot](pivotCap),
		pivotLows:   NewRing[types.Pivot](pivotCap),
	}

	zap.L().Info("📊 CVD聚合器初始化完成",
		zap.String("symbol", symbol),
		zap.Duration("timeframe", timeframe),
		zap.Int("history_size", historySize),
		zap.Int("lookback", cfg.CVDLookback))

	return agg
}

// SetCloseCallback 设置K线收盘回调
func (a *Aggregator) SetCloseCallback(fn func(types.CVDEntry)) {
	a.mu.Lock()
	a.onClose = fn
	a.mu.Unlock()
}

// ProcessTrade 处理单笔成交事件
//
// 非法事件返回ErrInvalidTrade并保持聚合器状态不变，不会中断流。
func (a *Aggregator) ProcessTrade(event *types.TradeEvent) error {
	if event == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidTrade)
	}
	if event.Quantity <= 0 {
		return fmt.Errorf("%w: quantity=%f", ErrInvalidTrade, event.Quantity)
	}
	if event.Price <= 0 {
		return fmt.Errorf("%w: price=%f", ErrInvalidTrade, event.Price)
	}
	if event.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp=%d", ErrInvalidTrade, event.Timestamp)
	}

	a.mu.Lock()

	openTime := a.bucketOpenTime(event.Timestamp)

	// 跨越K线边界时先收盘当前K线
	var closed *types.CVDEntry
	if a.current != nil && a.current.OpenTime != openTime {
		closed = a.closeCurrentLocked()
	}

	// 初始化新K线桶
	if a.current == nil {
		a.current = &types.CVDCandle{
			OpenTime:  openTime,
			CloseTime: openTime + a.timeframeMs - 1,
		}
	}

	// 根据主动方归类成交量
	// is_buyer_maker为true时挂单方是买方，主动方为卖方
	if event.IsBuyerMaker {
		a.current.Delta -= event.Quantity
		a.current.SellVolume += event.Quantity
	} else {
		a.current.Delta += event.Quantity
		a.current.BuyVolume += event.Quantity
	}
	a.current.TotalVolume += event.Quantity
	a.current.TradeCount++

	callback := a.onClose
	a.mu.Unlock()

	if closed != nil && callback != nil {
		callback(*closed)
	}

	return nil
}

// bucketOpenTime 计算时间戳所属K线的开盘时间（毫秒向下取整对齐）
func (a *Aggregator) bucketOpenTime(timestamp int64) int64 {
	return timestamp / a.timeframeMs * a.timeframeMs
}

// closeCurrentLocked 收盘当前K线，调用方需持有写锁
func (a *Aggregator) closeCurrentLocked() *types.CVDEntry {
	if a.current == nil {
		return nil
	}

	a.cumulative += a.current.Delta

	totalVolume := a.current.TotalVolume
	if totalVolume < 1 {
		totalVolume = 1
	}

	entry := types.CVDEntry{
		Timestamp:     a.current.OpenTime,
		Delta:         a.current.Delta,
		CumulativeCVD: a.cumulative,
		BuyVolume:     a.current.BuyVolume,
		SellVolume:    a.current.SellVolume,
		TotalVolume:   a.current.TotalVolume,
		TradeCount:    a.current.TradeCount,
		BuyRatio:      a.current.BuyVolume / totalVolume,
	}

	a.history.Push(entry)
	a.totalClosed++

	a.refreshPivotsLocked()

	zap.L().Debug("K线收盘",
		zap.String("symbol", a.symbol),
		zap.Int64("open_time", entry.Timestamp),
		zap.Float64("delta", entry.Delta),
		zap.Float64("cumulative_cvd", entry.CumulativeCVD),
		zap.Int("trade_count", entry.TradeCount))

	a.current = nil

	return &entry
}

// refreshPivotsLocked 在K线收盘后刷新CVD枢轴，调用方需持有写锁
func (a *Aggregator) refreshPivotsLocked() {
	if a.lookback <= 0 || a.history.Len() < a.lookback*2 {
		return
	}

	// 取最近至多50个累计CVD值做枢轴检测
	window := 50
	if window > a.history.Len() {
		window = a.history.Len()
	}
	recent := a.history.Last(window)

	series := make([]float64, len(recent))
	for i, e := range recent {
		series[i] = e.CumulativeCVD
	}

	halfWindow := a.lookback / 2

	for _, idx := range indicators.FindPivotHighs(series, halfWindow) {
		entry := recent[idx]
		if entry.Timestamp <= a.lastHighTS {
			continue
		}
		a.pivotHighs.Push(types.Pivot{
			Timestamp: entry.Timestamp,
			Value:     entry.CumulativeCVD,
			Index:     a.totalClosed - (len(recent) - idx),
		})
		a.lastHighTS = entry.Timestamp
	}

	for _, idx := range indicators.FindPivotLows(series, halfWindow) {
		entry := recent[idx]
		if entry.Timestamp <= a.lastLowTS {
			continue
		}
		a.pivotLows.Push(types.Pivot{
			Timestamp: entry.Timestamp,
			Value:     entry.CumulativeCVD,
			Index:     a.totalClosed - (len(recent) - idx),
		})
		a.lastLowTS = entry.Timestamp
	}
}

// Restore 从历史快照恢复聚合器状态，用于重启后的暖启动
//
// 传入条目需按时间升序排列。恢复会清空现有状态，
// 累计CVD取最后一条快照的值，并基于恢复的历史重建枢轴。
func (a *Aggregator) Restore(entries []types.CVDEntry) {
	if len(entries) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.current = nil
	a.history.Clear()
	a.pivotHighs.Clear()
	a.pivotLows.Clear()
	a.lastHighTS = 0
	a.lastLowTS = 0

	for _, entry := range entries {
		a.history.Push(entry)
	}
	a.cumulative = entries[len(entries)-1].CumulativeCVD
	a.totalClosed = len(entries)

	a.refreshPivotsLocked()

	zap.L().Info("📚 CVD历史恢复完成",
		zap.String("symbol", a.symbol),
		zap.Int("entries", len(entries)),
		zap.Float64("cumulative_cvd", a.cumulative))
}

// CurrentCVD 返回包含进行中K线在内的实时累计CVD
func (a *Aggregator) CurrentCVD() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.current != nil {
		return a.cumulative + a.current.Delta
	}
	return a.cumulative
}

// History 返回最近n条收盘K线快照，从旧到新
func (a *Aggregator) History(n int) []types.CVDEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.history.Last(n)
}

// HistoryLen 当前历史长度
func (a *Aggregator) HistoryLen() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.history.Len()
}

// PivotHighs 返回最近n个CVD枢轴高点
func (a *Aggregator) PivotHighs(n int) []types.Pivot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pivotHighs.Last(n)
}

// PivotLows 返回最近n个CVD枢轴低点
func (a *Aggregator) PivotLows(n int) []types.Pivot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pivotLows.Last(n)
}

// DetectDivergence 检测价格与CVD的背离
//
// 比较方式为按新近程度取双方各自最近的两个枢轴做位置对应，
// 不做时间戳对齐，是对原策略行为的刻意保留。
// 看空背离：价格更高的高点 且 CVD更低的高点；看多背离为镜像。
func (a *Aggregator) DetectDivergence(pricePivots []types.Pivot, kind types.SignalType) bool {
	var cvdPivots []types.Pivot
	if kind == types.SignalBearish {
		cvdPivots = a.PivotHighs(5)
	} else {
		cvdPivots = a.PivotLows(5)
	}

	if len(pricePivots) < 2 || len(cvdPivots) < 2 {
		return false
	}

	pricePrev := pricePivots[len(pricePivots)-2]
	priceLast := pricePivots[len(pricePivots)-1]
	cvdPrev := cvdPivots[len(cvdPivots)-2]
	cvdLast := cvdPivots[len(cvdPivots)-1]

	var divergence bool
	if kind == types.SignalBearish {
		divergence = priceLast.Value > pricePrev.Value && cvdLast.Value < cvdPrev.Value
	} else {
		divergence = priceLast.Value < pricePrev.Value && cvdLast.Value > cvdPrev.Value
	}

	if divergence {
		zap.L().Info("🔀 检测到CVD背离",
			zap.String("symbol", a.symbol),
			zap.String("kind", string(kind)),
			zap.Float64("price_prev", pricePrev.Value),
			zap.Float64("price_last", priceLast.Value),
			zap.Float64("cvd_prev", cvdPrev.Value),
			zap.Float64("cvd_last", cvdLast.Value))
	}

	return divergence
}

// CurrentCandleStats 返回进行中K线的实时统计
func (a *Aggregator) CurrentCandleStats() types.CandleStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := types.CandleStats{CumulativeCVD: a.cumulative}
	if a.current == nil {
		return stats
	}

	totalVolume := a.current.TotalVolume
	if totalVolume < 1 {
		totalVolume = 1
	}

	stats.Delta = a.current.Delta
	stats.BuyVolume = a.current.BuyVolume
	stats.SellVolume = a.current.SellVolume
	stats.TotalVolume = totalVolume
	stats.BuyRatio = a.current.BuyVolume / totalVolume
	stats.SellRatio = a.current.SellVolume / totalVolume
	stats.TradeCount = a.current.TradeCount
	stats.CumulativeCVD = a.cumulative + a.current.Delta

	return stats
}

// Strength 根据最近5根K线的平均delta给出粗粒度强弱判定
func (a *Aggregator) Strength() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.history.Len() < 5 {
		return "insufficient_data"
	}

	recent := a.history.Last(5)
	var sum float64
	for _, e := range recent {
		sum += e.Delta
	}
	avg := sum / float64(len(recent))

	switch {
	case avg > 1000:
		return "strong_bullish"
	case avg > 100:
		return "bullish"
	case avg < -1000:
		return "strong_bearish"
	case avg < -100:
		return "bearish"
	default:
		return "neutral"
	}
}

// Reset 清空聚合器全部状态
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.current = nil
	a.cumulative = 0
	a.history.Clear()
	a.totalClosed = 0
	a.pivotHighs.Clear()
	a.pivotLows.Clear()
	a.lastHighTS = 0
	a.lastLowTS = 0

	zap.L().Info("🔄 CVD聚合器已重置", zap.String("symbol", a.symbol))
}

// Symbol 聚合器所属交易对
func (a *Aggregator) Symbol() string {
	return a.symbol
}
