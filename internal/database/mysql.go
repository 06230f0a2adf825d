package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cvd-market-sentry/pkg/types"
)

// Manager 数据库管理器
type Manager struct {
	db     *gorm.DB
	config types.MySQLConfig
}

// CVDCandle 收盘CVD K线模型
type CVDCandle struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Symbol        string    `gorm:"type:varchar(20);not null;index:idx_symbol_time" json:"symbol"`
	Timestamp     int64     `gorm:"not null;index:idx_symbol_time" json:"timestamp"`
	Delta         float64   `gorm:"type:decimal(24,8);not null" json:"delta"`
	CumulativeCVD float64   `gorm:"type:decimal(24,8);not null" json:"cumulative_cvd"`
	BuyVolume     float64   `gorm:"type:decimal(24,8);not null" json:"buy_volume"`
	SellVolume    float64   `gorm:"type:decimal(24,8);not null" json:"sell_volume"`
	TradeCount    int       `gorm:"default:0" json:"trade_count"`
	BuyRatio      float64   `gorm:"type:decimal(10,6)" json:"buy_ratio"`
	CreatedAt     time.Time `json:"created_at"`
}

// ConfluenceSignal 合流信号模型
type ConfluenceSignal struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Symbol     string    `gorm:"type:varchar(20);not null;index:idx_symbol_time" json:"symbol"`
	SignalTime int64     `gorm:"not null;index:idx_symbol_time" json:"signal_time"`
	SignalType string    `gorm:"type:enum('bullish','bearish');not null" json:"signal_type"`
	Valid      bool      `gorm:"default:false" json:"valid"`
	Confidence int       `gorm:"default:0" json:"confidence"`
	Conditions string    `gorm:"type:text" json:"conditions"` // JSON编码的条件明细
	CreatedAt  time.Time `json:"created_at"`
}

// CompletedTrade 已完成交易模型
type CompletedTrade struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	PositionID  string    `gorm:"type:varchar(40);not null;uniqueIndex" json:"position_id"`
	Symbol      string    `gorm:"type:varchar(20);not null;index:idx_symbol_close" json:"symbol"`
	Side        string    `gorm:"type:enum('LONG','SHORT');not null" json:"side"`
	Size        float64   `gorm:"type:decimal(24,8);not null" json:"size"`
	EntryPrice  float64   `gorm:"type:decimal(20,8);not null" json:"entry_price"`
	ExitPrice   float64   `gorm:"type:decimal(20,8);not null" json:"exit_price"`
	StopLoss    float64   `gorm:"type:decimal(20,8)" json:"stop_loss"`
	TakeProfit  float64   `gorm:"type:decimal(20,8)" json:"take_profit"`
	RealizedPnL float64   `gorm:"type:decimal(24,8);not null" json:"realized_pnl"`
	CloseReason string    `gorm:"type:varchar(20);not null" json:"close_reason"`
	OpenTime    time.Time `gorm:"not null" json:"open_time"`
	CloseTime   time.Time `gorm:"not null;index:idx_symbol_close" json:"close_time"`
	CreatedAt   time.Time `json:"created_at"`
}

// DailyPerformance 按日聚合的信号表现模型
type DailyPerformance struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Symbol         string    `gorm:"type:varchar(20);not null;uniqueIndex:uk_symbol_date" json:"symbol"`
	Date           time.Time `gorm:"type:date;not null;uniqueIndex:uk_symbol_date" json:"date"`
	TotalSignals   int       `gorm:"default:0" json:"total_signals"`
	BullishSignals int       `gorm:"default:0" json:"bullish_signals"`
	BearishSignals int       `gorm:"default:0" json:"bearish_signals"`
	AvgConfidence  *float64  `gorm:"type:decimal(5,2)" json:"avg_confidence"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewManager 创建数据库管理器
func NewManager(config types.MySQLConfig) (*Manager, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		config.Username,
		config.Password,
		config.Host,
		config.Port,
		config.Database,
	)

	// 配置GORM日志
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 生产环境使用Silent
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %v", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库实例失败: %v", err)
	}

	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	manager := &Manager{
		db:     db,
		config: config,
	}

	// 自动迁移表结构
	if err := manager.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %v", err)
	}

	zap.L().Info("✅ MySQL数据库连接成功",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("database", config.Database))

	return manager, nil
}

// AutoMigrate 自动迁移表结构
func (m *Manager) AutoMigrate() error {
	return m.db.AutoMigrate(
		&CVDCandle{},
		&ConfluenceSignal{},
		&CompletedTrade{},
		&DailyPerformance{},
	)
}

// SaveCVDEntry 保存单条收盘CVD K线
func (m *Manager) SaveCVDEntry(symbol string, entry *types.CVDEntry) error {
	candle := &CVDCandle{
		Symbol:        symbol,
		Timestamp:     entry.Timestamp,
		Delta:         entry.Delta,
		CumulativeCVD: entry.CumulativeCVD,
		BuyVolume:     entry.BuyVolume,
		SellVolume:    entry.SellVolume,
		TradeCount:    entry.TradeCount,
		BuyRatio:      entry.BuyRatio,
		CreatedAt:     time.Now(),
	}
	return m.db.Create(candle).Error
}

// BatchSaveCVDEntries 批量保存收盘CVD K线
func (m *Manager) BatchSaveCVDEntries(symbol string, entries []types.CVDEntry) error {
	if len(entries) == 0 {
		return nil
	}

	candles := make([]CVDCandle, 0, len(entries))
	now := time.Now()
	for _, entry := range entries {
		candles = append(candles, CVDCandle{
			Symbol:        symbol,
			Timestamp:     entry.Timestamp,
			Delta:         entry.Delta,
			CumulativeCVD: entry.CumulativeCVD,
			BuyVolume:     entry.BuyVolume,
			SellVolume:    entry.SellVolume,
			TradeCount:    entry.TradeCount,
			BuyRatio:      entry.BuyRatio,
			CreatedAt:     now,
		})
	}

	tx := m.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	// 分批处理避免单个事务过大
	batchSize := 100
	for i := 0; i < len(candles); i += batchSize {
		end := i + batchSize
		if end > len(candles) {
			end = len(candles)
		}
		if err := tx.CreateInBatches(candles[i:end], end-i).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("批量插入CVD数据失败: %v", err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("提交批量插入事务失败: %v", err)
	}

	zap.L().Debug("✅ 批量保存CVD数据完成",
		zap.Int("count", len(entries)),
		zap.String("symbol", symbol))

	return nil
}

// SaveSignal 保存合流信号
func (m *Manager) SaveSignal(signal *types.Signal) error {
	conditions, err := json.Marshal(signal.Conditions)
	if err != nil {
		conditions = []byte("{}")
	}

	dbSignal := &ConfluenceSignal{
		Symbol:     signal.Symbol,
		SignalTime: signal.Timestamp.UnixMilli(),
		SignalType: string(signal.Type),
		Valid:      signal.Valid,
		Confidence: signal.Confidence,
		Conditions: string(conditions),
		CreatedAt:  time.Now(),
	}
	return m.db.Create(dbSignal).Error
}

// UpdateDailyPerformance 更新当日信号表现统计
func (m *Manager) UpdateDailyPerformance(symbol string, signalType string, confidence int) error {
	today := time.Now().Truncate(24 * time.Hour)
	strength := float64(confidence)

	var performance DailyPerformance
	result := m.db.Where("symbol = ? AND date = ?", symbol, today).First(&performance)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		// 创建新记录
		performance = DailyPerformance{
			Symbol:        symbol,
			Date:          today,
			TotalSignals:  1,
			AvgConfidence: &strength,
		}

		if signalType == string(types.SignalBullish) {
			performance.BullishSignals = 1
		} else if signalType == string(types.SignalBearish) {
			performance.BearishSignals = 1
		}

		return m.db.Create(&performance).Error
	} else if result.Error != nil {
		return result.Error
	}

	// 更新现有记录
	updates := map[string]interface{}{
		"total_signals": performance.TotalSignals + 1,
	}

	if signalType == string(types.SignalBullish) {
		updates["bullish_signals"] = performance.BullishSignals + 1
	} else if signalType == string(types.SignalBearish) {
		updates["bearish_signals"] = performance.BearishSignals + 1
	}

	// 计算新的平均置信度
	if performance.AvgConfidence != nil {
		newAvg := ((*performance.AvgConfidence)*float64(performance.TotalSignals) + strength) / float64(performance.TotalSignals+1)
		updates["avg_confidence"] = newAvg
	} else {
		updates["avg_confidence"] = strength
	}

	return m.db.Model(&performance).Where("id = ?", performance.ID).Updates(updates).Error
}

// GetDailyPerformance 获取最近days天的信号表现统计
func (m *Manager) GetDailyPerformance(symbol string, days int) ([]DailyPerformance, error) {
	var performances []DailyPerformance
	err := m.db.Where("symbol = ?", symbol).
		Order("date DESC").
		Limit(days).
		Find(&performances).Error
	return performances, err
}

// SaveTrade 保存已完成交易
func (m *Manager) SaveTrade(position *types.Position) error {
	trade := &CompletedTrade{
		PositionID:  position.ID,
		Symbol:      position.Symbol,
		Side:        string(position.Side),
		Size:        position.Size,
		EntryPrice:  position.EntryPrice,
		ExitPrice:   position.ExitPrice,
		StopLoss:    position.StopLoss,
		TakeProfit:  position.TakeProfit,
		RealizedPnL: position.RealizedPnL,
		CloseReason: string(position.CloseReason),
		OpenTime:    position.OpenTime,
		CloseTime:   position.CloseTime,
		CreatedAt:   time.Now(),
	}
	return m.db.Create(trade).Error
}

// GetCVDEntries 获取最近的收盘CVD K线，按时间倒序
func (m *Manager) GetCVDEntries(symbol string, limit int) ([]CVDCandle, error) {
	var candles []CVDCandle
	err := m.db.Where("symbol = ?", symbol).
		Order("timestamp DESC").
		Limit(limit).
		Find(&candles).Error
	return candles, err
}

// GetSignals 获取最近的合流信号
func (m *Manager) GetSignals(symbol string, limit int) ([]ConfluenceSignal, error) {
	var signals []ConfluenceSignal
	err := m.db.Where("symbol = ?", symbol).
		Order("signal_time DESC").
		Limit(limit).
		Find(&signals).Error
	return signals, err
}

// GetTrades 获取最近的已完成交易
func (m *Manager) GetTrades(symbol string, limit int) ([]CompletedTrade, error) {
	var trades []CompletedTrade
	err := m.db.Where("symbol = ?", symbol).
		Order("close_time DESC").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}

// Close 关闭数据库连接
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接健康状态
func (m *Manager) Health() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
