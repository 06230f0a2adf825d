package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"cvd-market-sentry/internal/engine"
	"cvd-market-sentry/pkg/types"
)

// PerformanceMonitor 引擎性能监控器
type PerformanceMonitor struct {
	engine *engine.ConfluenceEngine
	config *types.Config

	ctx    context.Context
	cancel context.CancelFunc

	// 性能指标，monitorLoop写入、reportLoop读取，由mu保护
	mu      sync.RWMutex
	metrics *PerformanceMetrics
}

// PerformanceMetrics 性能指标
type PerformanceMetrics struct {
	StartTime       time.Time `json:"start_time"`
	ProcessedTrades int64     `json:"processed_trades"`
	ClosedCandles   int64     `json:"closed_candles"`
	TotalSignals    int64     `json:"total_signals"`
	BullishSignals  int64     `json:"bullish_signals"`
	BearishSignals  int64     `json:"bearish_signals"`
	AvgConfidence   float64   `json:"avg_confidence"`
	SignalFrequency float64   `json:"signal_frequency"` // 信号/小时

	// 模拟交易表现，来自风险引擎
	TotalTrades      int     `json:"total_trades"`
	WinRate          float64 `json:"win_rate"`
	TotalRealizedPnL float64 `json:"total_realized_pnl"`
	ProfitFactor     float64 `json:"profit_factor"`

	LastUpdateTime time.Time `json:"last_update_time"`
}

// NewPerformanceMonitor 创建性能监控器
func NewPerformanceMonitor(confluenceEngine *engine.ConfluenceEngine, config *types.Config) *PerformanceMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &PerformanceMonitor{
		engine: confluenceEngine,
		config: config,
		ctx:    ctx,
		cancel: cancel,
		metrics: &PerformanceMetrics{
			StartTime: time.Now(),
		},
	}
}

// Start 启动性能监控
func (pm *PerformanceMonitor) Start() {
	zap.L().Info("📊 启动引擎性能监控器")

	go pm.monitorLoop()
	go pm.reportLoop()
}

// monitorLoop 监控循环
func (pm *PerformanceMonitor) monitorLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
			pm.updateMetrics()
		}
	}
}

// reportLoop 报告循环
func (pm *PerformanceMonitor) reportLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
			pm.generateReport()
		}
	}
}

// updateMetrics 更新性能指标
func (pm *PerformanceMonitor) updateMetrics() {
	// 数据采集均在锁外进行，锁仅保护指标写入
	engineStats := pm.engine.GetStats()
	breakdown := pm.collectSignalBreakdown()
	riskMetrics := pm.collectTradingMetrics()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if processedTrades, ok := engineStats["processed_trades"].(int64); ok {
		pm.metrics.ProcessedTrades = processedTrades
	}
	if closedCandles, ok := engineStats["closed_candles"].(int64); ok {
		pm.metrics.ClosedCandles = closedCandles
	}
	if detectedSignals, ok := engineStats["detected_signals"].(int64); ok {
		pm.metrics.TotalSignals = detectedSignals
	}

	// 计算信号频率（信号/小时）
	runTime := time.Since(pm.metrics.StartTime).Hours()
	if runTime > 0 {
		pm.metrics.SignalFrequency = float64(pm.metrics.TotalSignals) / runTime
	}

	if breakdown != nil {
		pm.metrics.BullishSignals = breakdown.bullish
		pm.metrics.BearishSignals = breakdown.bearish
		pm.metrics.AvgConfidence = breakdown.avgConfidence
	}

	if riskMetrics != nil {
		pm.metrics.TotalTrades = riskMetrics.TotalTrades
		pm.metrics.WinRate = riskMetrics.WinRate
		pm.metrics.TotalRealizedPnL = riskMetrics.TotalRealizedPnL
		pm.metrics.ProfitFactor = riskMetrics.ProfitFactor
	}

	pm.metrics.LastUpdateTime = time.Now()
}

// signalBreakdown 信号方向分布统计
type signalBreakdown struct {
	bullish       int64
	bearish       int64
	avgConfidence float64
}

// collectSignalBreakdown 从数据库统计信号方向分布和平均置信度
func (pm *PerformanceMonitor) collectSignalBreakdown() *signalBreakdown {
	dbManager := pm.engine.GetDatabaseManager()
	if dbManager == nil {
		zap.L().Debug("数据库未启用，跳过信号分布统计")
		return nil
	}

	signals, err := dbManager.GetSignals(pm.config.Trading.Symbol, 100)
	if err != nil {
		zap.L().Warn("获取历史信号失败",
			zap.String("symbol", pm.config.Trading.Symbol),
			zap.Error(err))
		return nil
	}
	if len(signals) == 0 {
		return nil
	}

	breakdown := &signalBreakdown{}
	var totalConfidence int
	for _, sig := range signals {
		switch sig.SignalType {
		case string(types.SignalBullish):
			breakdown.bullish++
		case string(types.SignalBearish):
			breakdown.bearish++
		}
		totalConfidence += sig.Confidence
	}
	breakdown.avgConfidence = float64(totalConfidence) / float64(len(signals))

	return breakdown
}

// collectTradingMetrics 从风险引擎拉取模拟交易表现
func (pm *PerformanceMonitor) collectTradingMetrics() *types.RiskMetrics {
	ctx, cancel := context.WithTimeout(pm.ctx, 10*time.Second)
	defer cancel()

	return pm.engine.GetRiskManager().RiskMetrics(ctx)
}

// snapshot 返回当前指标的独立副本
func (pm *PerformanceMonitor) snapshot() PerformanceMetrics {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return *pm.metrics
}

// generateReport 生成性能报告
func (pm *PerformanceMonitor) generateReport() {
	metrics := pm.snapshot()
	runTime := time.Since(metrics.StartTime)

	zap.L().Info("📈 引擎性能报告",
		zap.Duration("run_time", runTime),
		zap.Int64("processed_trades", metrics.ProcessedTrades),
		zap.Int64("closed_candles", metrics.ClosedCandles),
		zap.Int64("total_signals", metrics.TotalSignals),
		zap.Int64("bullish_signals", metrics.BullishSignals),
		zap.Int64("bearish_signals", metrics.BearishSignals),
		zap.Float64("avg_confidence", metrics.AvgConfidence),
		zap.Float64("signal_frequency", metrics.SignalFrequency))

	if metrics.TotalTrades > 0 {
		zap.L().Info("📊 模拟交易表现",
			zap.Int("total_trades", metrics.TotalTrades),
			zap.Float64("win_rate", metrics.WinRate),
			zap.Float64("total_realized_pnl", metrics.TotalRealizedPnL),
			zap.Float64("profit_factor", metrics.ProfitFactor))
	}
}

// GetMetrics 刷新并返回当前性能指标的快照
func (pm *PerformanceMonitor) GetMetrics() *PerformanceMetrics {
	pm.updateMetrics()
	metrics := pm.snapshot()
	return &metrics
}

// GetMetricsJSON 获取JSON格式的性能指标
func (pm *PerformanceMonitor) GetMetricsJSON() (string, error) {
	metrics := pm.GetMetrics()
	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DailyReport 日报告
type DailyReport struct {
	Symbol         string    `json:"symbol"`
	Date           time.Time `json:"date"`
	TotalSignals   int       `json:"total_signals"`
	BullishSignals int       `json:"bullish_signals"`
	BearishSignals int       `json:"bearish_signals"`
	AvgConfidence  float64   `json:"avg_confidence"`
	BullishRatio   float64   `json:"bullish_ratio"`
	BearishRatio   float64   `json:"bearish_ratio"`
}

// GetDailyReport 获取指定交易对的当日信号报告
func (pm *PerformanceMonitor) GetDailyReport(symbol string) (*DailyReport, error) {
	dbManager := pm.engine.GetDatabaseManager()
	if dbManager == nil {
		return nil, fmt.Errorf("数据库未启用")
	}

	performances, err := dbManager.GetDailyPerformance(symbol, 1)
	if err != nil {
		return nil, err
	}

	if len(performances) == 0 {
		return &DailyReport{
			Symbol: symbol,
			Date:   time.Now().Truncate(24 * time.Hour),
		}, nil
	}

	perf := performances[0]

	report := &DailyReport{
		Symbol:         symbol,
		Date:           perf.Date,
		TotalSignals:   perf.TotalSignals,
		BullishSignals: perf.BullishSignals,
		BearishSignals: perf.BearishSignals,
	}

	if perf.AvgConfidence != nil {
		report.AvgConfidence = *perf.AvgConfidence
	}

	if report.TotalSignals > 0 {
		report.BullishRatio = float64(report.BullishSignals) / float64(report.TotalSignals) * 100
		report.BearishRatio = float64(report.BearishSignals) / float64(report.TotalSignals) * 100
	}

	return report, nil
}

// PrintFormattedReport 打印格式化报告
func (pm *PerformanceMonitor) PrintFormattedReport() {
	metrics := pm.GetMetrics()
	runTime := time.Since(metrics.StartTime)

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("📈 CVD合流信号引擎性能报告")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("🕐 运行时间: %s\n", runTime.Truncate(time.Second))
	fmt.Printf("📊 处理成交: %d\n", metrics.ProcessedTrades)
	fmt.Printf("🕯️ 收盘K线: %d\n", metrics.ClosedCandles)
	fmt.Printf("🎯 总信号数: %d\n", metrics.TotalSignals)
	fmt.Printf("🔺 看多信号: %d\n", metrics.BullishSignals)
	fmt.Printf("🔻 看空信号: %d\n", metrics.BearishSignals)
	fmt.Printf("⭐ 平均置信度: %.2f\n", metrics.AvgConfidence)
	fmt.Printf("🔄 信号频率: %.2f信号/小时\n", metrics.SignalFrequency)

	if metrics.TotalTrades > 0 {
		fmt.Println(strings.Repeat("-", 80))
		fmt.Printf("💹 模拟交易: %d笔 胜率%.2f%% 累计盈亏%+.2f 盈亏因子%.2f\n",
			metrics.TotalTrades,
			metrics.WinRate,
			metrics.TotalRealizedPnL,
			metrics.ProfitFactor)
	}

	fmt.Println(strings.Repeat("=", 80) + "\n")
}

// Stop 停止性能监控
func (pm *PerformanceMonitor) Stop() {
	zap.L().Info("🛑 停止引擎性能监控器")
	pm.cancel()
}
