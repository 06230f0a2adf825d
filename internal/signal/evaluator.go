package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cvd-market-sentry/internal/cvd"
	"cvd-market-sentry/internal/indicators"
	"cvd-market-sentry/internal/market"
	"cvd-market-sentry/pkg/types"
)

// 置信度权重
const (
	structureWeight    = 25 // 价格结构（HH/LL）
	divergenceWeight   = 35 // CVD背离，核心条件
	fundingWeight      = 20 // 资金费率极值
	openInterestWeight = 10 // 持仓量趋势
	confirmWeight      = 10 // 价格确认
)

// maxTrackedPivots 价格枢轴保留数量
const maxTrackedPivots = 10

// Evaluator 合流信号评估器
//
// 综合四类证据评估入场信号：价格结构、CVD背离、资金费率极值、持仓量趋势。
// 价格结构与CVD背离是硬性条件，不满足则直接返回无效信号。
type Evaluator struct {
	mu         sync.Mutex
	provider   market.DataProvider
	aggregator *cvd.Aggregator

	symbol    string
	timeframe string
	lookback  int
	cfg       types.SignalConfig

	// 价格数据缓存，按刷新间隔节流更新
	priceData  []types.KLine
	lastUpdate time.Time

	// 价格枢轴，保留最近maxTrackedPivots个
	pivotHighs []types.Pivot
	pivotLows  []types.Pivot

	// 持仓量采样滑动窗口，容量为趋势窗口+1
	oiSamples []float64
}

// NewEvaluator 创建信号评估器
func NewEvaluator(provider market.DataProvider, aggregator *cvd.Aggregator,
	tradingCfg types.TradingConfig, signalCfg types.SignalConfig) *Evaluator {

	return &Evaluator{
		provider:   provider,
		aggregator: aggregator,
		symbol:     tradingCfg.Symbol,
		timeframe:  tradingCfg.Timeframe,
		lookback:   tradingCfg.LookbackPeriod,
		cfg:        signalCfg,
	}
}

// CheckBearishSignal 评估看空信号
//
// 条件：价格创更高高点(HH) + CVD更低高点(LH)背离 + 资金费率极高 +
// 持仓量上升 + 价格走弱确认。前两项为硬性条件。
func (e *Evaluator) CheckBearishSignal(ctx context.Context) *types.Signal {
	e.mu.Lock()
	defer e.mu.Unlock()

	signal := types.NewSignal(e.symbol, types.SignalBearish)

	e.updatePriceDataLocked(ctx)

	// 1. 价格更高高点
	priceHH := e.checkPriceHigherHighLocked()
	signal.Conditions["price_higher_high"] = priceHH.valid
	signal.Details["price_analysis"] = priceHH.details
	if !priceHH.valid {
		return signal
	}

	// 2. CVD背离（更低高点）
	divergence := e.aggregator.DetectDivergence(e.pivotHighs, types.SignalBearish)
	signal.Conditions["cvd_divergence"] = divergence
	if !divergence {
		return signal
	}

	// 3. 资金费率极高
	funding := e.checkFundingRate(ctx, types.SignalBearish)
	signal.Conditions["funding_rate_extreme"] = funding.extreme
	signal.Details["funding_analysis"] = funding.details

	// 4. 持仓量上升（辅助条件）
	oiTrend := e.openInterestTrendLocked()
	oiRising := oiTrend == "rising"
	signal.Conditions["open_interest_rising"] = oiRising
	signal.Details["oi_analysis"] = oiTrend

	// 5. 价格走弱确认
	confirmation := e.checkPriceConfirmationLocked(ctx, types.SignalBearish)
	signal.Conditions["confirmation"] = confirmation.valid
	signal.Details["confirmation"] = confirmation.details

	score := structureWeight + divergenceWeight
	if funding.extreme {
		score += fundingWeight
	}
	if oiRising {
		score += openInterestWeight
	}
	if confirmation.valid {
		score += confirmWeight
	}
	signal.Confidence = score
	signal.Valid = score >= e.cfg.MinConfidence

	if signal.Valid {
		zap.L().Info("🔻 检测到看空合流信号",
			zap.String("symbol", e.symbol),
			zap.Int("confidence", score),
			zap.Any("conditions", signal.Conditions))
	}

	return signal
}

// CheckBullishSignal 评估看多信号
//
// 条件：价格创更低低点(LL) + CVD更高低点(HL)背离 + 资金费率极低 +
// 持仓量下降 + 价格走强确认。前两项为硬性条件。
func (e *Evaluator) CheckBullishSignal(ctx context.Context) *types.Signal {
	e.mu.Lock()
	defer e.mu.Unlock()

	signal := types.NewSignal(e.symbol, types.SignalBullish)

	e.updatePriceDataLocked(ctx)

	// 1. 价格更低低点
	priceLL := e.checkPriceLowerLowLocked()
	signal.Conditions["price_lower_low"] = priceLL.valid
	signal.Details["price_analysis"] = priceLL.details
	if !priceLL.valid {
		return signal
	}

	// 2. CVD背离（更高低点）
	divergence := e.aggregator.DetectDivergence(e.pivotLows, types.SignalBullish)
	signal.Conditions["cvd_divergence"] = divergence
	if !divergence {
		return signal
	}

	// 3. 资金费率极低
	funding := e.checkFundingRate(ctx, types.SignalBullish)
	signal.Conditions["funding_rate_extreme"] = funding.extreme
	signal.Details["funding_analysis"] = funding.details

	// 4. 持仓量下降（辅助条件）
	oiTrend := e.openInterestTrendLocked()
	oiFalling := oiTrend == "falling"
	signal.Conditions["open_interest_falling"] = oiFalling
	signal.Details["oi_analysis"] = oiTrend

	// 5. 价格走强确认
	confirmation := e.checkPriceConfirmationLocked(ctx, types.SignalBullish)
	signal.Conditions["confirmation"] = confirmation.valid
	signal.Details["confirmation"] = confirmation.details

	score := structureWeight + divergenceWeight
	if funding.extreme {
		score += fundingWeight
	}
	if oiFalling {
		score += openInterestWeight
	}
	if confirmation.valid {
		score += confirmWeight
	}
	signal.Confidence = score
	signal.Valid = score >= e.cfg.MinConfidence

	if signal.Valid {
		zap.L().Info("🔺 检测到看多合流信号",
			zap.String("symbol", e.symbol),
			zap.Int("confidence", score),
			zap.Any("conditions", signal.Conditions))
	}

	return signal
}

// updatePriceDataLocked 按刷新间隔更新价格数据并重算枢轴
//
// 行情获取失败时保留旧数据，评估继续基于上一次快照进行。
func (e *Evaluator) updatePriceDataLocked(ctx context.Context) {
	if !e.lastUpdate.IsZero() && time.Since(e.lastUpdate) < e.cfg.RefreshInterval {
		return
	}

	klines, err := e.provider.GetHistoricalKlines(ctx, e.symbol, e.timeframe, e.lookback+20)
	if err != nil {
		zap.L().Error("❌ 更新价格数据失败", zap.Error(err))
		return
	}

	e.priceData = klines
	e.lastUpdate = time.Now()
	e.refreshPricePivotsLocked()
	e.recordOpenInterestLocked(ctx)

	zap.L().Debug("📊 价格数据已更新",
		zap.String("symbol", e.symbol),
		zap.Int("candles", len(e.priceData)))
}

// refreshPricePivotsLocked 重算价格枢轴
func (e *Evaluator) refreshPricePivotsLocked() {
	if len(e.priceData) < e.lookback {
		return
	}

	highs := make([]float64, len(e.priceData))
	lows := make([]float64, len(e.priceData))
	for i, k := range e.priceData {
		highs[i] = k.High
		lows[i] = k.Low
	}

	halfWindow := e.lookback / 2

	e.pivotHighs = e.pivotHighs[:0]
	for _, idx := range indicators.FindPivotHighs(highs, halfWindow) {
		e.pivotHighs = append(e.pivotHighs, types.Pivot{
			Timestamp: e.priceData[idx].OpenTime.UnixMilli(),
			Value:     e.priceData[idx].High,
			Index:     idx,
		})
	}

	e.pivotLows = e.pivotLows[:0]
	for _, idx := range indicators.FindPivotLows(lows, halfWindow) {
		e.pivotLows = append(e.pivotLows, types.Pivot{
			Timestamp: e.priceData[idx].OpenTime.UnixMilli(),
			Value:     e.priceData[idx].Low,
			Index:     idx,
		})
	}

	// 只保留最近的枢轴
	if len(e.pivotHighs) > maxTrackedPivots {
		e.pivotHighs = e.pivotHighs[len(e.pivotHighs)-maxTrackedPivots:]
	}
	if len(e.pivotLows) > maxTrackedPivots {
		e.pivotLows = e.pivotLows[len(e.pivotLows)-maxTrackedPivots:]
	}
}

// recordOpenInterestLocked 采样持仓量到滑动窗口
func (e *Evaluator) recordOpenInterestLocked(ctx context.Context) {
	oi, err := e.provider.GetOpenInterest(ctx, e.symbol)
	if err != nil {
		zap.L().Warn("获取持仓量失败", zap.Error(err))
		return
	}

	e.oiSamples = append(e.oiSamples, oi.Value)
	if len(e.oiSamples) > e.cfg.OITrendWindow+1 {
		e.oiSamples = e.oiSamples[len(e.oiSamples)-e.cfg.OITrendWindow-1:]
	}
}

type checkResult struct {
	valid   bool
	details string
}

// checkPriceHigherHighLocked 检查最近两个价格高点是否构成更高高点
func (e *Evaluator) checkPriceHigherHighLocked() checkResult {
	if len(e.pivotHighs) < 2 {
		return checkResult{details: "价格高点枢轴不足"}
	}

	prev := e.pivotHighs[len(e.pivotHighs)-2].Value
	recent := e.pivotHighs[len(e.pivotHighs)-1].Value

	if recent > prev {
		return checkResult{
			valid:   true,
			details: fmt.Sprintf("更高高点: %.2f -> %.2f", prev, recent),
		}
	}
	return checkResult{details: fmt.Sprintf("无更高高点: %.2f -> %.2f", prev, recent)}
}

// checkPriceLowerLowLocked 检查最近两个价格低点是否构成更低低点
func (e *Evaluator) checkPriceLowerLowLocked() checkResult {
	if len(e.pivotLows) < 2 {
		return checkResult{details: "价格低点枢轴不足"}
	}

	prev := e.pivotLows[len(e.pivotLows)-2].Value
	recent := e.pivotLows[len(e.pivotLows)-1].Value

	if recent < prev {
		return checkResult{
			valid:   true,
			details: fmt.Sprintf("更低低点: %.2f -> %.2f", prev, recent),
		}
	}
	return checkResult{details: fmt.Sprintf("无更低低点: %.2f -> %.2f", prev, recent)}
}

type fundingResult struct {
	extreme bool
	rate    float64
	details string
}

// checkFundingRate 检查资金费率是否达到对应方向的极值
//
// 获取失败视为不极端，信号评估降级继续。
func (e *Evaluator) checkFundingRate(ctx context.Context, kind types.SignalType) fundingResult {
	funding, err := e.provider.GetFundingRate(ctx, e.symbol)
	if err != nil {
		zap.L().Warn("获取资金费率失败", zap.Error(err))
		return fundingResult{details: fmt.Sprintf("资金费率不可用: %v", err)}
	}

	result := fundingResult{rate: funding.Rate}
	switch kind {
	case types.SignalBearish:
		result.extreme = funding.Rate >= e.cfg.HighFundingThreshold
	case types.SignalBullish:
		result.extreme = funding.Rate <= e.cfg.LowFundingThreshold
	}
	result.details = fmt.Sprintf("资金费率: %.6f (阈值 %.4f / %.4f)",
		funding.Rate, e.cfg.HighFundingThreshold, e.cfg.LowFundingThreshold)
	return result
}

// openInterestTrendLocked 基于滑动窗口判断持仓量趋势
//
// 对比窗口首末两个采样，变化幅度超过死区比例才认定方向，
// 采样不足时返回flat。
func (e *Evaluator) openInterestTrendLocked() string {
	if len(e.oiSamples) < e.cfg.OITrendWindow+1 {
		return "flat"
	}

	oldest := e.oiSamples[0]
	newest := e.oiSamples[len(e.oiSamples)-1]
	if oldest <= 0 {
		return "flat"
	}

	change := (newest - oldest) / oldest
	switch {
	case change > e.cfg.OIDeadBand:
		return "rising"
	case change < -e.cfg.OIDeadBand:
		return "falling"
	default:
		return "flat"
	}
}

// checkPriceConfirmationLocked 检查当前价格是否确认信号方向
//
// 看空要求当前价低于确认窗口最高价的一定比例，看多相反。
func (e *Evaluator) checkPriceConfirmationLocked(ctx context.Context, kind types.SignalType) checkResult {
	if len(e.priceData) < 2 {
		return checkResult{details: "价格数据不足"}
	}

	currentPrice, err := e.provider.GetCurrentPrice(ctx, e.symbol)
	if err != nil {
		zap.L().Warn("获取当前价格失败", zap.Error(err))
		return checkResult{details: fmt.Sprintf("当前价格不可用: %v", err)}
	}

	window := e.cfg.ConfirmationPeriod
	if window > len(e.priceData) {
		window = len(e.priceData)
	}
	recent := e.priceData[len(e.priceData)-window:]

	switch kind {
	case types.SignalBearish:
		recentHigh := recent[0].High
		for _, k := range recent[1:] {
			if k.High > recentHigh {
				recentHigh = k.High
			}
		}
		if currentPrice < recentHigh*e.cfg.BearishConfirmRatio {
			return checkResult{
				valid:   true,
				details: fmt.Sprintf("价格走弱: %.2f < %.2f", currentPrice, recentHigh),
			}
		}
		return checkResult{details: fmt.Sprintf("价格未走弱: %.2f >= %.2f", currentPrice, recentHigh)}

	case types.SignalBullish:
		recentLow := recent[0].Low
		for _, k := range recent[1:] {
			if k.Low < recentLow {
				recentLow = k.Low
			}
		}
		if currentPrice > recentLow*e.cfg.BullishConfirmRatio {
			return checkResult{
				valid:   true,
				details: fmt.Sprintf("价格走强: %.2f > %.2f", currentPrice, recentLow),
			}
		}
		return checkResult{details: fmt.Sprintf("价格未走强: %.2f <= %.2f", currentPrice, recentLow)}
	}

	return checkResult{details: "未知信号方向"}
}

// SignalSummary 当前信号环境概览
func (e *Evaluator) SignalSummary(ctx context.Context) map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	summary := map[string]interface{}{
		"symbol":    e.symbol,
		"timestamp": time.Now().Format(time.RFC3339),
	}

	if price, err := e.provider.GetCurrentPrice(ctx, e.symbol); err == nil {
		summary["current_price"] = price
	}
	if funding, err := e.provider.GetFundingRate(ctx, e.symbol); err == nil {
		summary["funding_rate"] = funding.Rate
	}
	if oi, err := e.provider.GetOpenInterest(ctx, e.symbol); err == nil {
		summary["open_interest"] = oi.Value
	}

	stats := e.aggregator.CurrentCandleStats()
	summary["cvd_current"] = stats.CumulativeCVD
	summary["cvd_delta"] = stats.Delta
	summary["cvd_strength"] = e.aggregator.Strength()
	summary["price_pivots_high"] = len(e.pivotHighs)
	summary["price_pivots_low"] = len(e.pivotLows)
	summary["cvd_pivots_high"] = len(e.aggregator.PivotHighs(e.cfg.PivotCapacity))
	summary["cvd_pivots_low"] = len(e.aggregator.PivotLows(e.cfg.PivotCapacity))

	return summary
}
