package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"cvd-market-sentry/internal/cvd"
	"cvd-market-sentry/internal/database"
	"cvd-market-sentry/internal/market"
	"cvd-market-sentry/internal/notifier"
	"cvd-market-sentry/internal/risk"
	"cvd-market-sentry/internal/signal"
	"cvd-market-sentry/internal/storage"
	"cvd-market-sentry/internal/stream"
	"cvd-market-sentry/pkg/types"
)

// ConfluenceEngine 合流信号引擎
//
// 串联各组件：WebSocket成交流 -> CVD聚合器 -> 信号评估器 -> 风险引擎，
// 收盘K线异步落库并写入Redis备份，有效信号触发通知和模拟开仓。
type ConfluenceEngine struct {
	config *types.Config

	wsClient   *stream.Client
	provider   market.DataProvider
	aggregator *cvd.Aggregator
	evaluator  *signal.Evaluator
	riskMgr    *risk.Manager
	dbManager  *database.Manager // 未启用MySQL时为nil
	backup     *storage.Backup
	notify     notifier.Interface

	// 收盘K线持久化管道
	entryChan chan types.CVDEntry

	// 控制
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// 统计
	processedTrades int64
	closedCandles   int64
	detectedSignals int64
	statsMutex      sync.RWMutex
}

// NewConfluenceEngine 创建合流信号引擎
func NewConfluenceEngine(cfg *types.Config) (*ConfluenceEngine, error) {
	ctx, cancel := context.WithCancel(context.Background())

	timeframe, err := parseTimeframe(cfg.Trading.Timeframe)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("解析K线周期失败: %v", err)
	}

	provider := market.NewBinanceProvider(cfg.Binance, cfg.Network, cfg.Cache)
	wsClient := stream.NewClient(cfg.Network.Proxy, cfg.WebSocket)
	aggregator := cvd.NewAggregator(cfg.Trading.Symbol, timeframe, cfg.Signals)
	evaluator := signal.NewEvaluator(provider, aggregator, cfg.Trading, cfg.Signals)
	riskMgr := risk.NewManager(provider, cfg.Trading, cfg.Risk)

	// 数据库按配置可选
	var dbManager *database.Manager
	if cfg.Database.MySQL.Enabled {
		dbManager, err = database.NewManager(cfg.Database.MySQL)
		if err != nil {
			cancel()
			return nil, err
		}
	} else {
		zap.L().Info("🔧 MySQL未启用，跳过数据库持久化")
	}

	backup := storage.NewBackup(cfg.Redis)
	notify := notifier.NewDingTalkNotifier(cfg.DingTalk.WebhookURL, cfg.DingTalk.Secret)

	engine := &ConfluenceEngine{
		config:     cfg,
		wsClient:   wsClient,
		provider:   provider,
		aggregator: aggregator,
		evaluator:  evaluator,
		riskMgr:    riskMgr,
		dbManager:  dbManager,
		backup:     backup,
		notify:     notify,
		entryChan:  make(chan types.CVDEntry, 1000),
		ctx:        ctx,
		cancel:     cancel,
	}

	// 收盘K线进入持久化管道，满时丢弃避免阻塞聚合
	aggregator.SetCloseCallback(func(entry types.CVDEntry) {
		select {
		case engine.entryChan <- entry:
		default:
			zap.L().Warn("持久化通道满，丢弃收盘K线",
				zap.Int64("timestamp", entry.Timestamp))
		}
	})

	return engine, nil
}

// Start 启动引擎
func (ce *ConfluenceEngine) Start() error {
	zap.L().Info("🚀 启动合流信号引擎",
		zap.String("symbol", ce.config.Trading.Symbol),
		zap.String("timeframe", ce.config.Trading.Timeframe))

	// 1. 尝试从Redis备份恢复CVD历史
	ce.restoreHistory()

	// 2. 连接WebSocket并订阅归集成交
	if err := ce.wsClient.Connect(); err != nil {
		return err
	}
	if err := ce.wsClient.Subscribe([]string{ce.config.Trading.Symbol}); err != nil {
		return err
	}

	// 3. 启动各工作协程
	ce.startWorkers()

	zap.L().Info("✅ 合流信号引擎启动成功")

	return nil
}

// restoreHistory 从Redis备份恢复CVD历史，失败仅告警不中断启动
func (ce *ConfluenceEngine) restoreHistory() {
	if !ce.backup.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(ce.ctx, 10*time.Second)
	defer cancel()

	entries, err := ce.backup.LoadRecent(ctx, ce.config.Trading.Symbol, ce.config.Signals.HistorySize)
	if err != nil {
		zap.L().Warn("⚠️ 恢复CVD历史失败", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		zap.L().Info("📚 无可恢复的CVD历史，冷启动")
		return
	}

	ce.aggregator.Restore(entries)
}

// startWorkers 启动工作协程
func (ce *ConfluenceEngine) startWorkers() {
	ce.wsClient.StartReading()

	ce.wg.Add(1)
	go ce.tradeCollector()

	ce.wg.Add(1)
	go ce.entryPersister()

	ce.wg.Add(1)
	go ce.signalLoop()

	ce.wg.Add(1)
	go ce.positionMonitorLoop()

	ce.wg.Add(1)
	go ce.statsLoop()
}

// tradeCollector 成交数据收集器
func (ce *ConfluenceEngine) tradeCollector() {
	defer ce.wg.Done()

	tradeSource := ce.wsClient.GetTradeChannel()

	for {
		select {
		case <-ce.ctx.Done():
			return
		case <-ce.wsClient.Done():
			zap.L().Error("🛑 行情流已终止，停止成交收集")
			return
		case trade := <-tradeSource:
			if trade == nil {
				continue
			}

			if err := ce.aggregator.ProcessTrade(trade); err != nil {
				zap.L().Warn("成交事件处理失败",
					zap.Error(err),
					zap.String("symbol", trade.Symbol))
				continue
			}

			ce.incrementTradeCount()
		}
	}
}

// entryPersister 收盘K线持久化器
func (ce *ConfluenceEngine) entryPersister() {
	defer ce.wg.Done()

	symbol := ce.config.Trading.Symbol

	for {
		select {
		case <-ce.ctx.Done():
			return
		case entry := <-ce.entryChan:
			ce.incrementCandleCount()

			// Redis备份异步写入，内部自带超时
			ce.backup.StoreEntry(symbol, entry)

			if ce.dbManager != nil {
				if err := ce.dbManager.SaveCVDEntry(symbol, &entry); err != nil {
					zap.L().Error("保存CVD K线失败",
						zap.Error(err),
						zap.Int64("timestamp", entry.Timestamp))
				}
			}
		}
	}
}

// signalLoop 信号评估循环
func (ce *ConfluenceEngine) signalLoop() {
	defer ce.wg.Done()

	interval := ce.config.Signals.EvalInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ce.ctx.Done():
			return
		case <-ticker.C:
			ce.evaluateSignals()
		}
	}
}

// evaluateSignals 执行一轮双向信号评估
func (ce *ConfluenceEngine) evaluateSignals() {
	ctx, cancel := context.WithTimeout(ce.ctx, 30*time.Second)
	defer cancel()

	bearish := ce.evaluator.CheckBearishSignal(ctx)
	if bearish != nil && bearish.Valid {
		ce.handleSignal(ctx, bearish)
	}

	bullish := ce.evaluator.CheckBullishSignal(ctx)
	if bullish != nil && bullish.Valid {
		ce.handleSignal(ctx, bullish)
	}
}

// handleSignal 处理有效的合流信号
func (ce *ConfluenceEngine) handleSignal(ctx context.Context, sig *types.Signal) {
	ce.incrementSignalCount()

	zap.L().Info("🎯 发现合流信号",
		zap.String("symbol", sig.Symbol),
		zap.String("type", string(sig.Type)),
		zap.Int("confidence", sig.Confidence))

	// 保存信号到数据库（异步）
	if ce.dbManager != nil {
		go func(s types.Signal) {
			if err := ce.dbManager.SaveSignal(&s); err != nil {
				zap.L().Error("保存信号失败",
					zap.Error(err),
					zap.String("symbol", s.Symbol))
			}

			// 更新当日信号表现统计
			if err := ce.dbManager.UpdateDailyPerformance(s.Symbol, string(s.Type), s.Confidence); err != nil {
				zap.L().Error("更新信号表现统计失败",
					zap.Error(err),
					zap.String("symbol", s.Symbol))
			}
		}(*sig)
	}

	// 计算开仓参数并注册模拟持仓
	params, err := ce.riskMgr.CalculatePositionParameters(ctx, sig)
	if err != nil {
		zap.L().Warn("⚠️ 开仓参数计算失败，仅发送信号通知",
			zap.Error(err),
			zap.String("symbol", sig.Symbol))

		if nerr := ce.notify.SendSignalAlert(sig, nil); nerr != nil {
			zap.L().Error("发送信号通知失败", zap.Error(nerr))
		}
		return
	}

	if _, err := ce.riskMgr.RegisterPosition(params); err != nil {
		zap.L().Warn("⚠️ 持仓注册被拒绝",
			zap.Error(err),
			zap.String("symbol", sig.Symbol))
	}

	if err := ce.notify.SendSignalAlert(sig, params); err != nil {
		zap.L().Error("发送信号通知失败", zap.Error(err))
	}
}

// positionMonitorLoop 持仓监控循环
func (ce *ConfluenceEngine) positionMonitorLoop() {
	defer ce.wg.Done()

	interval := ce.config.Risk.MonitorInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ce.ctx.Done():
			return
		case <-ticker.C:
			ce.monitorPositions()
		}
	}
}

// monitorPositions 刷新活跃持仓盈亏并检查止损止盈触发
func (ce *ConfluenceEngine) monitorPositions() {
	ctx, cancel := context.WithTimeout(ce.ctx, 30*time.Second)
	defer cancel()

	for _, position := range ce.riskMgr.ActivePositions(ctx) {
		updated, err := ce.riskMgr.UpdatePositionPnL(ctx, position.ID)
		if err != nil {
			zap.L().Warn("刷新持仓盈亏失败",
				zap.Error(err),
				zap.String("position_id", position.ID))
			continue
		}

		reason, err := ce.riskMgr.CheckStopLossTakeProfit(ctx, position.ID)
		if err != nil {
			zap.L().Warn("检查止损止盈失败",
				zap.Error(err),
				zap.String("position_id", position.ID))
			continue
		}
		if reason == "" {
			continue
		}

		ce.closePosition(updated, reason)
	}
}

// closePosition 按触发原因平仓并落库、通知
func (ce *ConfluenceEngine) closePosition(position *types.Position, reason types.CloseReason) {
	pnl, err := ce.riskMgr.ClosePosition(position.ID, reason, position.CurrentPrice)
	if err != nil {
		zap.L().Error("平仓失败",
			zap.Error(err),
			zap.String("position_id", position.ID))
		return
	}

	zap.L().Info("💰 持仓已平仓",
		zap.String("position_id", position.ID),
		zap.String("symbol", position.Symbol),
		zap.String("reason", string(reason)),
		zap.Float64("exit_price", position.CurrentPrice),
		zap.Float64("realized_pnl", pnl))

	closed := ce.findClosedPosition(position.ID)
	if closed == nil {
		return
	}

	if ce.dbManager != nil {
		if err := ce.dbManager.SaveTrade(closed); err != nil {
			zap.L().Error("保存已完成交易失败",
				zap.Error(err),
				zap.String("position_id", closed.ID))
		}
	}

	if err := ce.notify.SendPositionClosed(closed); err != nil {
		zap.L().Error("发送平仓通知失败", zap.Error(err))
	}
}

// findClosedPosition 从历史记录中按ID查找已平仓持仓
func (ce *ConfluenceEngine) findClosedPosition(positionID string) *types.Position {
	history := ce.riskMgr.TradeHistory()
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].ID == positionID {
			return &history[i]
		}
	}
	return nil
}

// statsLoop 引擎性能统计循环
func (ce *ConfluenceEngine) statsLoop() {
	defer ce.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ce.ctx.Done():
			return
		case <-ticker.C:
			ce.logStats()
		}
	}
}

// logStats 记录引擎运行统计
func (ce *ConfluenceEngine) logStats() {
	ce.statsMutex.RLock()
	processedTrades := ce.processedTrades
	closedCandles := ce.closedCandles
	detectedSignals := ce.detectedSignals
	ce.statsMutex.RUnlock()

	zap.L().Info("📈 引擎运行统计",
		zap.Int64("processed_trades", processedTrades),
		zap.Int64("closed_candles", closedCandles),
		zap.Int64("detected_signals", detectedSignals),
		zap.Int("history_len", ce.aggregator.HistoryLen()),
		zap.Float64("cumulative_cvd", ce.aggregator.CurrentCVD()),
		zap.String("cvd_strength", ce.aggregator.Strength()),
		zap.Bool("ws_connected", ce.wsClient.IsConnected()))
}

// incrementTradeCount 增加成交计数
func (ce *ConfluenceEngine) incrementTradeCount() {
	ce.statsMutex.Lock()
	ce.processedTrades++
	ce.statsMutex.Unlock()
}

// incrementCandleCount 增加收盘K线计数
func (ce *ConfluenceEngine) incrementCandleCount() {
	ce.statsMutex.Lock()
	ce.closedCandles++
	ce.statsMutex.Unlock()
}

// incrementSignalCount 增加信号计数
func (ce *ConfluenceEngine) incrementSignalCount() {
	ce.statsMutex.Lock()
	ce.detectedSignals++
	ce.statsMutex.Unlock()
}

// GetStats 获取引擎统计信息
func (ce *ConfluenceEngine) GetStats() map[string]interface{} {
	ce.statsMutex.RLock()
	defer ce.statsMutex.RUnlock()

	return map[string]interface{}{
		"processed_trades": ce.processedTrades,
		"closed_candles":   ce.closedCandles,
		"detected_signals": ce.detectedSignals,
		"history_len":      ce.aggregator.HistoryLen(),
		"cumulative_cvd":   ce.aggregator.CurrentCVD(),
		"cvd_strength":     ce.aggregator.Strength(),
		"ws_connected":     ce.wsClient.IsConnected(),
		"symbol":           ce.config.Trading.Symbol,
		"timeframe":        ce.config.Trading.Timeframe,
	}
}

// ResetCVD 清空聚合器状态，重新开始累计
func (ce *ConfluenceEngine) ResetCVD() {
	ce.aggregator.Reset()
}

// GetDatabaseManager 获取数据库管理器，未启用时为nil
func (ce *ConfluenceEngine) GetDatabaseManager() *database.Manager {
	return ce.dbManager
}

// GetRiskManager 获取风险引擎
func (ce *ConfluenceEngine) GetRiskManager() *risk.Manager {
	return ce.riskMgr
}

// GetEvaluator 获取信号评估器
func (ce *ConfluenceEngine) GetEvaluator() *signal.Evaluator {
	return ce.evaluator
}

// GetBackup 获取Redis备份
func (ce *ConfluenceEngine) GetBackup() *storage.Backup {
	return ce.backup
}

// Stop 停止引擎
func (ce *ConfluenceEngine) Stop() error {
	zap.L().Info("🛑 停止合流信号引擎")

	ce.cancel()

	if err := ce.wsClient.Close(); err != nil {
		zap.L().Error("关闭WebSocket连接失败", zap.Error(err))
	}

	// 等待所有协程结束
	done := make(chan struct{})
	go func() {
		ce.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("✅ 所有工作协程已停止")
	case <-time.After(30 * time.Second):
		zap.L().Warn("⚠️ 停止超时，强制退出")
	}

	if ce.dbManager != nil {
		if err := ce.dbManager.Close(); err != nil {
			zap.L().Error("关闭数据库连接失败", zap.Error(err))
		}
	}

	if err := ce.backup.Close(); err != nil {
		zap.L().Error("关闭Redis连接失败", zap.Error(err))
	}

	zap.L().Info("✅ 合流信号引擎已停止")

	return nil
}

// parseTimeframe 解析K线周期字符串，如 1m / 15m / 4h / 1d
func parseTimeframe(timeframe string) (time.Duration, error) {
	if len(timeframe) < 2 {
		return 0, fmt.Errorf("非法K线周期: %q", timeframe)
	}

	unit := timeframe[len(timeframe)-1:]
	value, err := strconv.Atoi(strings.TrimSuffix(timeframe, unit))
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("非法K线周期: %q", timeframe)
	}

	switch unit {
	case "m":
		return time.Duration(value) * time.Minute, nil
	case "h":
		return time.Duration(value) * time.Hour, nil
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("不支持的K线周期单位: %q", unit)
	}
}
