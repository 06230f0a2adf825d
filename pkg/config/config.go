package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"

	"cvd-market-sentry/pkg/types"
)

// Load 加载配置
func Load() (*types.Config, error) {
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// 设置默认值
	setDefaults()

	// 读取环境变量
	viper.AutomaticEnv()

	// 优先尝试读取本地配置文件
	viper.SetConfigName("config.local")
	if err := viper.ReadInConfig(); err != nil {
		// 如果本地配置文件不存在，尝试读取默认配置文件
		viper.SetConfigName("config")
		if err := viper.ReadInConfig(); err != nil {
			var configFileNotFoundError viper.ConfigFileNotFoundError
			if !errors.As(err, &configFileNotFoundError) {
				return nil, err
			}
		}
	}

	var config types.Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file_path", "logs")
	viper.SetDefault("log.max_size", 200)
	viper.SetDefault("log.max_age", 30)
	viper.SetDefault("log.max_backups", 7)
	viper.SetDefault("log.compress", false)

	viper.SetDefault("binance.api_key", "")
	viper.SetDefault("binance.api_secret", "")
	viper.SetDefault("binance.testnet", true)

	viper.SetDefault("redis.url", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("dingtalk.webhook_url", "")
	viper.SetDefault("dingtalk.secret", "")

	viper.SetDefault("database.mysql.enabled", false)
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", 3306)
	viper.SetDefault("database.mysql.username", "root")
	viper.SetDefault("database.mysql.password", "")
	viper.SetDefault("database.mysql.database", "cvd_sentry")
	viper.SetDefault("database.mysql.max_idle_conns", 10)
	viper.SetDefault("database.mysql.max_open_conns", 50)

	viper.SetDefault("network.proxy", "")
	viper.SetDefault("network.timeout", 30*time.Second)

	viper.SetDefault("trading.symbol", "BTCUSDT")
	viper.SetDefault("trading.timeframe", "15m")
	viper.SetDefault("trading.lookback_period", 20)
	viper.SetDefault("trading.max_positions", 1)

	viper.SetDefault("signals.cvd_lookback", 10)
	viper.SetDefault("signals.history_size", 1000)
	viper.SetDefault("signals.pivot_capacity", 50)
	viper.SetDefault("signals.high_funding_threshold", 0.01)
	viper.SetDefault("signals.low_funding_threshold", -0.01)
	viper.SetDefault("signals.confirmation_period", 3)
	viper.SetDefault("signals.bearish_confirm_ratio", 0.999)
	viper.SetDefault("signals.bullish_confirm_ratio", 1.001)
	viper.SetDefault("signals.min_confidence", 60)
	viper.SetDefault("signals.oi_trend_window", 3)
	viper.SetDefault("signals.oi_dead_band", 0.001)
	viper.SetDefault("signals.refresh_interval", time.Minute)
	viper.SetDefault("signals.eval_interval", 30*time.Second)

	viper.SetDefault("websocket.endpoint", "wss://fstream.binance.com/ws")
	viper.SetDefault("websocket.reconnect_interval", 5*time.Second)
	viper.SetDefault("websocket.ping_interval", 20*time.Second)
	viper.SetDefault("websocket.max_reconnect_attempts", 10)

	viper.SetDefault("risk.risk_per_trade", 0.01)
	viper.SetDefault("risk.risk_reward_ratio", 1.5)
	viper.SetDefault("risk.base_stop_loss_pct", 0.02)
	viper.SetDefault("risk.volatility_multiplier", 1.5)
	viper.SetDefault("risk.min_position_size", 0.001)
	viper.SetDefault("risk.max_account_usage", 0.5)
	viper.SetDefault("risk.monitor_interval", 5*time.Second)

	viper.SetDefault("cache.klines_ttl", time.Minute)
	viper.SetDefault("cache.funding_ttl", 5*time.Minute)
	viper.SetDefault("cache.open_interest_ttl", time.Minute)
}
