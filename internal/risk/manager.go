package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cvd-market-sentry/internal/market"
	"cvd-market-sentry/pkg/types"
)

var (
	// ErrValidation 开仓参数校验未通过
	ErrValidation = errors.New("开仓参数校验失败")
	// ErrUnknownPosition 持仓ID不存在
	ErrUnknownPosition = errors.New("未知持仓")
)

// 校验告警阈值
const (
	highRiskRatio          = 0.1 // 单笔风险超过账户10%时告警
	lowConfidenceThreshold = 60  // 信号置信度低于60时告警
)

// volatilityWindow SL波动率计算的K线与滚动窗口
const (
	volatilityKlines  = 20
	volatilityRolling = 10
)

// Manager 风险管理器
//
// 负责仓位规模计算、止损止盈设定、开仓校验与持仓生命周期跟踪。
// 活跃持仓在内存中维护，平仓后转入交易历史。
type Manager struct {
	mu       sync.Mutex
	provider market.DataProvider

	symbol       string
	timeframe    string
	cfg          types.RiskConfig
	maxPositions int

	active  map[string]*types.Position
	history []types.Position
}

// NewManager 创建风险管理器
func NewManager(provider market.DataProvider, tradingCfg types.TradingConfig, riskCfg types.RiskConfig) *Manager {
	zap.L().Info("🛡️ 风险管理器初始化",
		zap.Float64("risk_per_trade", riskCfg.RiskPerTrade),
		zap.Float64("risk_reward_ratio", riskCfg.RiskRewardRatio),
		zap.Int("max_positions", tradingCfg.MaxPositions))

	return &Manager{
		provider:     provider,
		symbol:       tradingCfg.Symbol,
		timeframe:    tradingCfg.Timeframe,
		cfg:          riskCfg,
		maxPositions: tradingCfg.MaxPositions,
		active:       make(map[string]*types.Position),
	}
}

// CalculatePositionParameters 根据信号计算开仓参数
//
// 依次检查开仓许可、账户余额、当前价格，然后计算波动率调整的
// 止损止盈与风险约束下的仓位规模。任一环节不满足时返回错误。
func (m *Manager) CalculatePositionParameters(ctx context.Context, signal *types.Signal) (*types.PositionParams, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.canOpenPositionLocked(ctx); err != nil {
		return nil, err
	}

	balance, err := m.provider.GetAccountBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取账户余额失败: %v", err)
	}
	if balance <= 0 {
		return nil, fmt.Errorf("账户余额无效: %.2f", balance)
	}

	currentPrice, err := m.provider.GetCurrentPrice(ctx, m.symbol)
	if err != nil {
		return nil, fmt.Errorf("获取当前价格失败: %v", err)
	}
	if currentPrice <= 0 {
		return nil, fmt.Errorf("当前价格无效: %.2f", currentPrice)
	}

	side := types.SideShort
	if signal.Type == types.SignalBullish {
		side = types.SideLong
	}

	stopLoss, takeProfit := m.calculateStopLossTakeProfit(ctx, currentPrice, side)

	size := m.calculatePositionSize(balance, currentPrice, stopLoss)
	if size <= 0 {
		return nil, fmt.Errorf("计算仓位规模无效: %.6f", size)
	}

	riskAmount := balance * m.cfg.RiskPerTrade
	rewardAmount := riskAmount * m.cfg.RiskRewardRatio

	params := &types.PositionParams{
		Symbol:         m.symbol,
		Side:           side,
		Size:           size,
		EntryPrice:     currentPrice,
		StopLoss:       stopLoss,
		TakeProfit:     takeProfit,
		RiskAmount:     riskAmount,
		RewardAmount:   rewardAmount,
		AccountBalance: balance,
		Confidence:     signal.Confidence,
		Timestamp:      time.Now(),
	}

	zap.L().Info("💰 开仓参数计算完成",
		zap.String("symbol", m.symbol),
		zap.String("side", string(side)),
		zap.Float64("size", size),
		zap.Float64("entry", currentPrice),
		zap.Float64("stop_loss", stopLoss),
		zap.Float64("take_profit", takeProfit),
		zap.Float64("risk_amount", riskAmount))

	return params, nil
}

// canOpenPositionLocked 检查是否允许开新仓
func (m *Manager) canOpenPositionLocked(ctx context.Context) error {
	// 交易所侧已有持仓则拒绝
	info, err := m.provider.GetPositionInfo(ctx, m.symbol)
	if err != nil {
		return fmt.Errorf("获取持仓信息失败: %v", err)
	}
	if info != nil && math.Abs(info.Amount) > 0 {
		return fmt.Errorf("%s 已存在交易所持仓", m.symbol)
	}

	if len(m.active) >= m.maxPositions {
		return fmt.Errorf("已达到最大持仓数: %d/%d", len(m.active), m.maxPositions)
	}
	return nil
}

// calculateStopLossTakeProfit 计算波动率调整后的止损止盈价位
//
// 以近期K线高低价差的滚动均值作为波动率代理，止损比例取
// 基础比例与波动率放大值中的较大者。行情不可用时退回基础比例。
func (m *Manager) calculateStopLossTakeProfit(ctx context.Context, entryPrice float64, side types.Side) (float64, float64) {
	adjustedPct := m.cfg.BaseStopLossPct

	klines, err := m.provider.GetHistoricalKlines(ctx, m.symbol, m.timeframe, volatilityKlines)
	if err != nil {
		zap.L().Warn("计算波动率止损失败，使用基础止损比例", zap.Error(err))
	} else if len(klines) >= volatilityRolling {
		recent := klines[len(klines)-volatilityRolling:]
		var sum float64
		for _, k := range recent {
			sum += k.High - k.Low
		}
		avgRange := sum / float64(len(recent))
		volatilityPct := avgRange / entryPrice * m.cfg.VolatilityMultiplier
		if volatilityPct > adjustedPct {
			adjustedPct = volatilityPct
		}
	}

	if side == types.SideLong {
		stopLoss := entryPrice * (1 - adjustedPct)
		takeProfit := entryPrice * (1 + adjustedPct*m.cfg.RiskRewardRatio)
		return stopLoss, takeProfit
	}
	stopLoss := entryPrice * (1 + adjustedPct)
	takeProfit := entryPrice * (1 - adjustedPct*m.cfg.RiskRewardRatio)
	return stopLoss, takeProfit
}

// calculatePositionSize 按单笔风险计算仓位规模并做上下限约束
func (m *Manager) calculatePositionSize(balance, entryPrice, stopLoss float64) float64 {
	stopDistance := math.Abs(entryPrice - stopLoss)
	if stopDistance <= 0 {
		return 0
	}

	size := balance * m.cfg.RiskPerTrade / stopDistance

	maxSize := balance * m.cfg.MaxAccountUsage / entryPrice
	if size > maxSize {
		size = maxSize
	}
	if size < m.cfg.MinPositionSize {
		size = m.cfg.MinPositionSize
	}
	return size
}

// ValidatePosition 校验开仓参数
//
// 错误项直接否决，警告项不影响有效性，由上层决定是否继续。
func (m *Manager) ValidatePosition(params *types.PositionParams) *types.ValidationResult {
	result := &types.ValidationResult{Valid: true}

	if params.Size <= 0 {
		result.Errors = append(result.Errors, "仓位规模必须为正")
		result.Valid = false
	}

	switch params.Side {
	case types.SideLong:
		if params.StopLoss >= params.EntryPrice {
			result.Errors = append(result.Errors, "多头止损应低于入场价")
			result.Valid = false
		}
		if params.TakeProfit <= params.EntryPrice {
			result.Errors = append(result.Errors, "多头止盈应高于入场价")
			result.Valid = false
		}
	case types.SideShort:
		if params.StopLoss <= params.EntryPrice {
			result.Errors = append(result.Errors, "空头止损应高于入场价")
			result.Valid = false
		}
		if params.TakeProfit >= params.EntryPrice {
			result.Errors = append(result.Errors, "空头止盈应低于入场价")
			result.Valid = false
		}
	default:
		result.Errors = append(result.Errors, fmt.Sprintf("未知持仓方向: %s", params.Side))
		result.Valid = false
	}

	if params.AccountBalance > 0 && params.RiskAmount > params.AccountBalance*highRiskRatio {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("单笔风险偏高: %.2f (%.1f%%)",
				params.RiskAmount, params.RiskAmount/params.AccountBalance*100))
	}
	if params.Confidence < lowConfidenceThreshold {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("信号置信度偏低: %d%%", params.Confidence))
	}

	return result
}

// RegisterPosition 校验通过后注册持仓开始跟踪
func (m *Manager) RegisterPosition(params *types.PositionParams) (*types.Position, error) {
	validation := m.ValidatePosition(params)
	if !validation.Valid {
		return nil, fmt.Errorf("%w: %v", ErrValidation, validation.Errors)
	}
	for _, warning := range validation.Warnings {
		zap.L().Warn("⚠️ 开仓参数告警", zap.String("warning", warning))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.active) >= m.maxPositions {
		return nil, fmt.Errorf("%w: 已达到最大持仓数 %d", ErrValidation, m.maxPositions)
	}
	for _, p := range m.active {
		if p.Symbol == params.Symbol {
			return nil, fmt.Errorf("%w: %s 已有活跃持仓", ErrValidation, params.Symbol)
		}
	}

	position := &types.Position{
		ID:             uuid.NewString(),
		Symbol:         params.Symbol,
		Side:           params.Side,
		Size:           params.Size,
		EntryPrice:     params.EntryPrice,
		StopLoss:       params.StopLoss,
		TakeProfit:     params.TakeProfit,
		RiskAmount:     params.RiskAmount,
		RewardAmount:   params.RewardAmount,
		AccountBalance: params.AccountBalance,
		Confidence:     params.Confidence,
		Status:         types.StatusActive,
		OpenTime:       time.Now(),
	}
	m.active[position.ID] = position

	zap.L().Info("📌 持仓已注册",
		zap.String("position_id", position.ID),
		zap.String("symbol", position.Symbol),
		zap.String("side", string(position.Side)))

	snapshot := *position
	return &snapshot, nil
}

// UpdatePositionPnL 按最新价格刷新持仓浮动盈亏
func (m *Manager) UpdatePositionPnL(ctx context.Context, positionID string) (*types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePositionPnLLocked(ctx, positionID)
}

func (m *Manager) updatePositionPnLLocked(ctx context.Context, positionID string) (*types.Position, error) {
	position, ok := m.active[positionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPosition, positionID)
	}

	currentPrice, err := m.provider.GetCurrentPrice(ctx, position.Symbol)
	if err != nil {
		return nil, fmt.Errorf("获取当前价格失败: %v", err)
	}

	if position.Side == types.SideLong {
		position.UnrealizedPnL = (currentPrice - position.EntryPrice) * position.Size
	} else {
		position.UnrealizedPnL = (position.EntryPrice - currentPrice) * position.Size
	}
	position.CurrentPrice = currentPrice
	position.LastUpdate = time.Now()

	snapshot := *position
	return &snapshot, nil
}

// CheckStopLossTakeProfit 检查持仓是否触发止损或止盈
//
// 未触发时返回空原因。
func (m *Manager) CheckStopLossTakeProfit(ctx context.Context, positionID string) (types.CloseReason, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	position, ok := m.active[positionID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPosition, positionID)
	}

	currentPrice, err := m.provider.GetCurrentPrice(ctx, position.Symbol)
	if err != nil {
		return "", fmt.Errorf("获取当前价格失败: %v", err)
	}

	if position.Side == types.SideLong {
		if currentPrice <= position.StopLoss {
			return types.CloseStopLoss, nil
		}
		if currentPrice >= position.TakeProfit {
			return types.CloseTakeProfit, nil
		}
	} else {
		if currentPrice >= position.StopLoss {
			return types.CloseStopLoss, nil
		}
		if currentPrice <= position.TakeProfit {
			return types.CloseTakeProfit, nil
		}
	}

	return "", nil
}

// ClosePosition 平仓并结算已实现盈亏
//
// 持仓记录转入交易历史，从活跃集合移除。
func (m *Manager) ClosePosition(positionID string, reason types.CloseReason, exitPrice float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	position, ok := m.active[positionID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPosition, positionID)
	}

	var realizedPnL float64
	if position.Side == types.SideLong {
		realizedPnL = (exitPrice - position.EntryPrice) * position.Size
	} else {
		realizedPnL = (position.EntryPrice - exitPrice) * position.Size
	}

	position.Status = types.StatusClosed
	position.ExitPrice = exitPrice
	position.RealizedPnL = realizedPnL
	position.CloseTime = time.Now()
	position.CloseReason = reason

	m.history = append(m.history, *position)
	delete(m.active, positionID)

	zap.L().Info("🔚 持仓已平仓",
		zap.String("position_id", positionID),
		zap.String("symbol", position.Symbol),
		zap.String("side", string(position.Side)),
		zap.String("reason", string(reason)),
		zap.Float64("entry", position.EntryPrice),
		zap.Float64("exit", exitPrice),
		zap.Float64("realized_pnl", realizedPnL))

	return realizedPnL, nil
}

// RiskMetrics 计算当前风险指标
func (m *Manager) RiskMetrics(ctx context.Context) *types.RiskMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := &types.RiskMetrics{
		ActivePositions: len(m.active),
		MaxPositions:    m.maxPositions,
		RiskPerTrade:    m.cfg.RiskPerTrade * 100,
		RiskRewardRatio: m.cfg.RiskRewardRatio,
		TotalTrades:     len(m.history),
	}

	if balance, err := m.provider.GetAccountBalance(ctx); err == nil {
		metrics.AccountBalance = balance
	}

	for id := range m.active {
		if _, err := m.updatePositionPnLLocked(ctx, id); err != nil {
			zap.L().Warn("刷新持仓盈亏失败", zap.String("position_id", id), zap.Error(err))
		}
	}
	for _, p := range m.active {
		metrics.TotalUnrealizedPnL += p.UnrealizedPnL
	}

	if len(m.history) > 0 {
		var winSum, lossSum float64
		var winCount, lossCount int
		for _, trade := range m.history {
			metrics.TotalRealizedPnL += trade.RealizedPnL
			if trade.RealizedPnL > 0 {
				winSum += trade.RealizedPnL
				winCount++
			} else if trade.RealizedPnL < 0 {
				lossSum += trade.RealizedPnL
				lossCount++
			}
		}
		metrics.WinRate = float64(winCount) / float64(len(m.history)) * 100
		if winCount > 0 {
			metrics.AvgWin = winSum / float64(winCount)
		}
		if lossCount > 0 {
			metrics.AvgLoss = lossSum / float64(lossCount)
		}
		if metrics.AvgLoss != 0 {
			metrics.ProfitFactor = math.Abs(metrics.AvgWin / metrics.AvgLoss)
		}
	}

	return metrics
}

// ActivePositions 返回刷新盈亏后的活跃持仓快照
func (m *Manager) ActivePositions(ctx context.Context) []types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	positions := make([]types.Position, 0, len(m.active))
	for id := range m.active {
		if _, err := m.updatePositionPnLLocked(ctx, id); err != nil {
			zap.L().Warn("刷新持仓盈亏失败", zap.String("position_id", id), zap.Error(err))
		}
	}
	for _, p := range m.active {
		positions = append(positions, *p)
	}
	return positions
}

// TradeHistory 返回已完成交易记录副本
func (m *Manager) TradeHistory() []types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.Position, len(m.history))
	copy(out, m.history)
	return out
}
