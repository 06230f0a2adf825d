package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"cvd-market-sentry/pkg/types"
)

// snapshotRetention Redis中CVD快照的保留时长
const snapshotRetention = 24 * time.Hour

// Backup CVD快照备份
//
// 收盘的CVD K线异步写入Redis有序集合，进程重启后可回放恢复。
// Redis不可用时降级为空操作，不影响主流程。
type Backup struct {
	client   *redis.Client
	useRedis bool
}

// NewBackup 创建快照备份，Redis连接失败时降级为纯内存模式
func NewBackup(redisConfig types.RedisConfig) *Backup {
	b := &Backup{}

	if redisConfig.URL == "" {
		zap.L().Info("🔧 未配置Redis，CVD快照备份停用")
		return b
	}

	b.client = redis.NewClient(&redis.Options{
		Addr:     redisConfig.URL,
		Password: redisConfig.Password,
		DB:       redisConfig.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := b.client.Ping(ctx).Result(); err != nil {
		zap.L().Warn("⚠️ Redis连接失败，CVD快照备份停用", zap.Error(err))
		return b
	}

	b.useRedis = true
	zap.L().Info("✅ Redis连接成功")
	return b
}

// Enabled 备份是否可用
func (b *Backup) Enabled() bool {
	return b.useRedis
}

func snapshotKey(symbol string) string {
	return fmt.Sprintf("cvd:candles:%s", symbol)
}

// StoreEntry 异步备份一条收盘CVD K线
func (b *Backup) StoreEntry(symbol string, entry types.CVDEntry) {
	if !b.useRedis {
		return
	}
	go b.writeEntry(symbol, entry)
}

func (b *Backup) writeEntry(symbol string, entry types.CVDEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	key := snapshotKey(symbol)
	value, err := json.Marshal(entry)
	if err != nil {
		zap.L().Warn("序列化CVD快照失败", zap.Error(err))
		return
	}

	// 以K线开盘时间为分数存入有序集合
	if err := b.client.ZAdd(ctx, key, &redis.Z{
		Score:  float64(entry.Timestamp),
		Member: value,
	}).Err(); err != nil {
		zap.L().Warn("Redis备份失败", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	b.client.Expire(ctx, key, snapshotRetention)

	// 清理超过保留期的旧快照
	cutoff := time.Now().Add(-snapshotRetention).UnixMilli()
	b.client.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff))
}

// LoadRecent 读取最近n条CVD快照，按时间升序
//
// 进程重启后用于恢复CVD历史。
func (b *Backup) LoadRecent(ctx context.Context, symbol string, n int) ([]types.CVDEntry, error) {
	if !b.useRedis {
		return nil, nil
	}

	values, err := b.client.ZRevRange(ctx, snapshotKey(symbol), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("读取CVD快照失败: %v", err)
	}

	// ZRevRange返回从新到旧，反转为升序
	entries := make([]types.CVDEntry, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		var entry types.CVDEntry
		if err := json.Unmarshal([]byte(values[i]), &entry); err != nil {
			zap.L().Warn("解析CVD快照失败", zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Stats 备份状态统计
func (b *Backup) Stats(symbol string) map[string]interface{} {
	stats := map[string]interface{}{
		"redis_enabled": b.useRedis,
	}

	if b.useRedis {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		count, err := b.client.ZCard(ctx, snapshotKey(symbol)).Result()
		if err == nil {
			stats["snapshot_count"] = count
		} else {
			stats["redis_error"] = err.Error()
		}
	}

	return stats
}

// Close 关闭Redis连接
func (b *Backup) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}
