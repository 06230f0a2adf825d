package types

import "time"

// Side 持仓方向
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// PositionStatus 持仓状态
type PositionStatus string

const (
	StatusActive PositionStatus = "active"
	StatusClosed PositionStatus = "closed"
)

// CloseReason 平仓原因
type CloseReason string

const (
	CloseStopLoss   CloseReason = "stop_loss"
	CloseTakeProfit CloseReason = "take_profit"
	CloseManual     CloseReason = "manual"
)

// PositionParams 开仓参数，由风险引擎在sizing阶段计算
type PositionParams struct {
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	Size           float64   `json:"size"`
	EntryPrice     float64   `json:"entry_price"`
	StopLoss       float64   `json:"stop_loss"`
	TakeProfit     float64   `json:"take_profit"`
	RiskAmount     float64   `json:"risk_amount"`
	RewardAmount   float64   `json:"reward_amount"`
	AccountBalance float64   `json:"account_balance"`
	Confidence     int       `json:"confidence"` // 来自触发信号
	Timestamp      time.Time `json:"timestamp"`
}

// Position 受管持仓
//
// 由风险引擎在校验通过后创建，活跃期间原地更新盈亏，
// 平仓后整体转入不可变的历史记录并从活跃集合移除。
type Position struct {
	ID             string         `json:"id"`
	Symbol         string         `json:"symbol"`
	Side           Side           `json:"side"`
	Size           float64        `json:"size"`
	EntryPrice     float64        `json:"entry_price"`
	StopLoss       float64        `json:"stop_loss"`
	TakeProfit     float64        `json:"take_profit"`
	RiskAmount     float64        `json:"risk_amount"`
	RewardAmount   float64        `json:"reward_amount"`
	AccountBalance float64        `json:"account_balance"` // 开仓时账户余额
	Confidence     int            `json:"confidence"`
	Status         PositionStatus `json:"status"`
	OpenTime       time.Time      `json:"open_time"`

	// 活跃期间的实时字段
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	CurrentPrice  float64   `json:"current_price"`
	LastUpdate    time.Time `json:"last_update"`

	// 平仓后填充
	ExitPrice   float64     `json:"exit_price,omitempty"`
	RealizedPnL float64     `json:"realized_pnl,omitempty"`
	CloseTime   time.Time   `json:"close_time,omitempty"`
	CloseReason CloseReason `json:"close_reason,omitempty"`
}

// ValidationResult 开仓参数校验结果
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Warnings []string `json:"warnings"`
	Errors   []string `json:"errors"`
}

// RiskMetrics 聚合风险指标，按需扫描计算，不做缓存
type RiskMetrics struct {
	AccountBalance     float64 `json:"account_balance"`
	ActivePositions    int     `json:"active_positions"`
	MaxPositions       int     `json:"max_positions"`
	RiskPerTrade       float64 `json:"risk_per_trade"` // 百分比
	RiskRewardRatio    float64 `json:"risk_reward_ratio"`
	TotalUnrealizedPnL float64 `json:"total_unrealized_pnl"`
	TotalRealizedPnL   float64 `json:"total_realized_pnl"`
	TotalTrades        int     `json:"total_trades"`
	WinRate            float64 `json:"win_rate"` // 百分比
	AvgWin             float64 `json:"avg_win"`
	AvgLoss            float64 `json:"avg_loss"`
	ProfitFactor       float64 `json:"profit_factor"` // |avg_win/avg_loss|，无亏损时为0
}
