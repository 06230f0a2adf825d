package types

import "time"

// TradeEvent 逐笔成交事件
type TradeEvent struct {
	Symbol       string  `json:"symbol"`
	Price        float64 `json:"price"`
	Quantity     float64 `json:"quantity"`
	Timestamp    int64   `json:"timestamp"`      // 成交时间 单位：毫秒
	IsBuyerMaker bool    `json:"is_buyer_maker"` // true表示挂单方为买方，即主动方为卖方
}

// KLine K线数据结构（通用市场数据）
type KLine struct {
	Symbol    string    `json:"symbol"`
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Interval  string    `json:"interval"` // 15m
}

// FundingRate 资金费率
type FundingRate struct {
	Symbol string    `json:"symbol"`
	Rate   float64   `json:"rate"`
	Time   time.Time `json:"time"`
}

// OpenInterest 持仓量
type OpenInterest struct {
	Symbol string    `json:"symbol"`
	Value  float64   `json:"value"`
	Time   time.Time `json:"time"`
}

// PositionInfo 交易所侧持仓信息
type PositionInfo struct {
	Symbol        string  `json:"symbol"`
	Amount        float64 `json:"amount"` // 净持仓量，正为多头，负为空头
	EntryPrice    float64 `json:"entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}
