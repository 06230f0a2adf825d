package types

// CVDCandle 进行中的CVD聚合K线桶
type CVDCandle struct {
	OpenTime    int64   `json:"open_time"`  // 单位：毫秒
	CloseTime   int64   `json:"close_time"` // open_time + timeframe - 1
	Delta       float64 `json:"delta"`      // 买方主动量 - 卖方主动量
	BuyVolume   float64 `json:"buy_volume"`
	SellVolume  float64 `json:"sell_volume"`
	TotalVolume float64 `json:"total_volume"`
	TradeCount  int     `json:"trade_count"`
}

// CVDEntry 已收盘K线的CVD历史快照
type CVDEntry struct {
	Timestamp     int64   `json:"timestamp"` // K线开盘时间 单位：毫秒
	Delta         float64 `json:"delta"`
	CumulativeCVD float64 `json:"cumulative_cvd"` // 截至本K线的累计CVD
	BuyVolume     float64 `json:"buy_volume"`
	SellVolume    float64 `json:"sell_volume"`
	TotalVolume   float64 `json:"total_volume"`
	TradeCount    int     `json:"trade_count"`
	BuyRatio      float64 `json:"buy_ratio"` // buy_volume / max(total_volume, 1)
}

// Pivot 枢轴点记录
type Pivot struct {
	Timestamp int64   `json:"timestamp"` // 枢轴所在K线开盘时间 单位：毫秒
	Value     float64 `json:"value"`
	Index     int     `json:"index"` // 检测时在历史序列中的绝对位置
}

// CandleStats 当前K线实时统计
type CandleStats struct {
	Delta         float64 `json:"delta"`
	BuyVolume     float64 `json:"buy_volume"`
	SellVolume    float64 `json:"sell_volume"`
	TotalVolume   float64 `json:"total_volume"`
	BuyRatio      float64 `json:"buy_ratio"`
	SellRatio     float64 `json:"sell_ratio"`
	TradeCount    int     `json:"trade_count"`
	CumulativeCVD float64 `json:"cumulative_cvd"` // 含进行中K线的实时累计值
}
