package types

import "time"

// SignalType 信号方向
type SignalType string

const (
	SignalBullish SignalType = "bullish" // 看多
	SignalBearish SignalType = "bearish" // 看空
)

// Signal 合流交易信号
//
// 每次评估都产生一个全新的Signal值，不作为持久状态保存。
// Conditions记录各命名条件的布尔结果，Details记录对应的诊断明细。
type Signal struct {
	Symbol     string                 `json:"symbol"`
	Type       SignalType             `json:"type"`
	Valid      bool                   `json:"valid"`
	Confidence int                    `json:"confidence"` // 0-100，由各条件加权累加
	Conditions map[string]bool        `json:"conditions"`
	Details    map[string]interface{} `json:"details"`
	Timestamp  time.Time              `json:"timestamp"`
}

// NewSignal 创建指定方向的空信号
func NewSignal(symbol string, signalType SignalType) *Signal {
	return &Signal{
		Symbol:     symbol,
		Type:       signalType,
		Conditions: make(map[string]bool),
		Details:    make(map[string]interface{}),
		Timestamp:  time.Now(),
	}
}
