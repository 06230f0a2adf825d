package types

import "time"

// Config 主配置结构
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Binance   BinanceConfig   `mapstructure:"binance"`
	Redis     RedisConfig     `mapstructure:"redis"`
	DingTalk  DingTalkConfig  `mapstructure:"dingtalk"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Network   NetworkConfig   `mapstructure:"network"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Signals   SignalConfig    `mapstructure:"signals"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Cache     CacheConfig     `mapstructure:"cache"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // 日志级别
	FilePath   string `mapstructure:"file_path"`   // 日志输出路径名
	MaxSize    int    `mapstructure:"max_size"`    // 日志文件大小 单位：MB，超限后会自动切割
	MaxAge     int    `mapstructure:"max_age"`     // 日志文件存放时间 单位：天
	MaxBackups int    `mapstructure:"max_backups"` // 日志文件备份数量
	Compress   bool   `mapstructure:"compress"`    // 日志文件压缩
}

// BinanceConfig 币安合约API配置
type BinanceConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	Testnet   bool   `mapstructure:"testnet"` // 是否使用测试网
}

// RedisConfig Redis配置
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DingTalkConfig 钉钉配置
type DingTalkConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Secret     string `mapstructure:"secret"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
}

// MySQLConfig MySQL配置
type MySQLConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// NetworkConfig 网络配置
type NetworkConfig struct {
	Proxy   string        `mapstructure:"proxy"`   // HTTP代理地址，如 http://127.0.0.1:7890
	Timeout time.Duration `mapstructure:"timeout"` // 网络超时时间
}

// TradingConfig 交易配置
type TradingConfig struct {
	Symbol         string `mapstructure:"symbol"`          // 交易对，如 BTCUSDT
	Timeframe      string `mapstructure:"timeframe"`       // K线周期，如 15m
	LookbackPeriod int    `mapstructure:"lookback_period"` // 价格枢轴检测回看周期
	MaxPositions   int    `mapstructure:"max_positions"`   // 最大同时持仓数
}

// SignalConfig 信号检测配置
type SignalConfig struct {
	CVDLookback          int           `mapstructure:"cvd_lookback"`           // CVD枢轴检测回看周期
	HistorySize          int           `mapstructure:"history_size"`           // CVD历史环形缓冲容量
	PivotCapacity        int           `mapstructure:"pivot_capacity"`         // 枢轴环形缓冲容量
	HighFundingThreshold float64       `mapstructure:"high_funding_threshold"` // 资金费率极高阈值
	LowFundingThreshold  float64       `mapstructure:"low_funding_threshold"`  // 资金费率极低阈值
	ConfirmationPeriod   int           `mapstructure:"confirmation_period"`    // 价格确认窗口K线数
	BearishConfirmRatio  float64       `mapstructure:"bearish_confirm_ratio"`  // 看空确认比例，当前价需低于近期高点的该倍数
	BullishConfirmRatio  float64       `mapstructure:"bullish_confirm_ratio"`  // 看多确认比例，当前价需高于近期低点的该倍数
	MinConfidence        int           `mapstructure:"min_confidence"`         // 信号有效最低置信度
	OITrendWindow        int           `mapstructure:"oi_trend_window"`        // 持仓量趋势对比窗口
	OIDeadBand           float64       `mapstructure:"oi_dead_band"`           // 持仓量趋势死区比例
	RefreshInterval      time.Duration `mapstructure:"refresh_interval"`       // 价格数据刷新间隔
	EvalInterval         time.Duration `mapstructure:"eval_interval"`          // 信号轮询间隔
}

// RiskConfig 风险管理配置
type RiskConfig struct {
	RiskPerTrade         float64       `mapstructure:"risk_per_trade"`        // 单笔风险占账户比例
	RiskRewardRatio      float64       `mapstructure:"risk_reward_ratio"`     // 盈亏比
	BaseStopLossPct      float64       `mapstructure:"base_stop_loss_pct"`    // 基础止损百分比
	VolatilityMultiplier float64       `mapstructure:"volatility_multiplier"` // 波动率止损放大系数
	MinPositionSize      float64       `mapstructure:"min_position_size"`     // 交易所最小下单量
	MaxAccountUsage      float64       `mapstructure:"max_account_usage"`     // 名义仓位占账户上限
	MonitorInterval      time.Duration `mapstructure:"monitor_interval"`      // 持仓监控间隔
}

// CacheConfig 行情数据缓存TTL配置
type CacheConfig struct {
	KlinesTTL       time.Duration `mapstructure:"klines_ttl"`        // K线缓存时间
	FundingTTL      time.Duration `mapstructure:"funding_ttl"`       // 资金费率缓存时间
	OpenInterestTTL time.Duration `mapstructure:"open_interest_ttl"` // 持仓量缓存时间
}

// WebSocketConfig WebSocket配置
type WebSocketConfig struct {
	Endpoint             string        `mapstructure:"endpoint"`
	ReconnectInterval    time.Duration `mapstructure:"reconnect_interval"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
}
