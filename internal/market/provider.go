package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"

	"cvd-market-sentry/pkg/types"
)

// ErrDataUnavailable 交易所返回空数据或数据不完整
var ErrDataUnavailable = errors.New("行情数据不可用")

// DataProvider 行情与账户数据访问接口
type DataProvider interface {
	GetHistoricalKlines(ctx context.Context, symbol, interval string, limit int) ([]types.KLine, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	GetFundingRate(ctx context.Context, symbol string) (*types.FundingRate, error)
	GetOpenInterest(ctx context.Context, symbol string) (*types.OpenInterest, error)
	GetAccountBalance(ctx context.Context) (float64, error)
	GetPositionInfo(ctx context.Context, symbol string) (*types.PositionInfo, error)
}

// BinanceProvider 基于币安合约REST API的数据提供者，带TTL缓存
type BinanceProvider struct {
	client   *futures.Client
	cache    *ttlCache
	cacheCfg types.CacheConfig
}

// NewBinanceProvider 创建币安合约数据提供者
func NewBinanceProvider(binanceCfg types.BinanceConfig, networkCfg types.NetworkConfig, cacheCfg types.CacheConfig) *BinanceProvider {
	if binanceCfg.Testnet {
		futures.UseTestnet = true
		zap.L().Info("🧪 使用币安合约测试网")
	}

	client := futures.NewClient(binanceCfg.APIKey, binanceCfg.APISecret)

	transport := &http.Transport{}
	if networkCfg.Proxy != "" {
		if proxyURL, err := url.Parse(networkCfg.Proxy); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
			zap.L().Info("✅ 已配置HTTP代理", zap.String("proxy", networkCfg.Proxy))
		} else {
			zap.L().Warn("⚠️ 代理地址格式错误", zap.Error(err))
		}
	}

	timeout := networkCfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client.HTTPClient = &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}

	zap.L().Info("✅ 初始化币安合约客户端", zap.Duration("timeout", timeout))

	return &BinanceProvider{
		client:   client,
		cache:    newTTLCache(),
		cacheCfg: cacheCfg,
	}
}

// GetHistoricalKlines 获取历史K线，结果按时间升序
func (p *BinanceProvider) GetHistoricalKlines(ctx context.Context, symbol, interval string, limit int) ([]types.KLine, error) {
	cacheKey := fmt.Sprintf("klines:%s:%s:%d", symbol, interval, limit)
	if cached, ok := p.cache.Get(cacheKey); ok {
		return cached.([]types.KLine), nil
	}

	raw, err := p.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取K线失败: %v", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s 无K线数据", ErrDataUnavailable, symbol)
	}

	klines := make([]types.KLine, 0, len(raw))
	for _, k := range raw {
		kline, err := parseKline(symbol, interval, k)
		if err != nil {
			zap.L().Warn("解析K线数据失败", zap.Error(err))
			continue
		}
		klines = append(klines, kline)
	}
	if len(klines) == 0 {
		return nil, fmt.Errorf("%w: %s K线数据解析为空", ErrDataUnavailable, symbol)
	}

	p.cache.Set(cacheKey, klines, p.cacheCfg.KlinesTTL)

	zap.L().Debug("📊 历史K线数据获取完成",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("count", len(klines)))
	return klines, nil
}

// GetCurrentPrice 获取最新成交价，不走缓存
func (p *BinanceProvider) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := p.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取最新价格失败: %v", err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("%w: %s 无价格数据", ErrDataUnavailable, symbol)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("解析价格失败: %v", err)
	}
	return price, nil
}

// GetFundingRate 获取当前资金费率
func (p *BinanceProvider) GetFundingRate(ctx context.Context, symbol string) (*types.FundingRate, error) {
	cacheKey := "funding:" + symbol
	if cached, ok := p.cache.Get(cacheKey); ok {
		return cached.(*types.FundingRate), nil
	}

	indexes, err := p.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取资金费率失败: %v", err)
	}
	if len(indexes) == 0 {
		return nil, fmt.Errorf("%w: %s 无资金费率数据", ErrDataUnavailable, symbol)
	}

	rate, err := strconv.ParseFloat(indexes[0].LastFundingRate, 64)
	if err != nil {
		return nil, fmt.Errorf("解析资金费率失败: %v", err)
	}

	funding := &types.FundingRate{
		Symbol: symbol,
		Rate:   rate,
		Time:   time.UnixMilli(indexes[0].Time),
	}
	p.cache.Set(cacheKey, funding, p.cacheCfg.FundingTTL)
	return funding, nil
}

// GetOpenInterest 获取当前持仓量
func (p *BinanceProvider) GetOpenInterest(ctx context.Context, symbol string) (*types.OpenInterest, error) {
	cacheKey := "oi:" + symbol
	if cached, ok := p.cache.Get(cacheKey); ok {
		return cached.(*types.OpenInterest), nil
	}

	res, err := p.client.NewGetOpenInterestService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取持仓量失败: %v", err)
	}

	value, err := strconv.ParseFloat(res.OpenInterest, 64)
	if err != nil {
		return nil, fmt.Errorf("解析持仓量失败: %v", err)
	}

	oi := &types.OpenInterest{
		Symbol: symbol,
		Value:  value,
		Time:   time.UnixMilli(res.Time),
	}
	p.cache.Set(cacheKey, oi, p.cacheCfg.OpenInterestTTL)
	return oi, nil
}

// GetAccountBalance 获取账户钱包总余额（USDT）
func (p *BinanceProvider) GetAccountBalance(ctx context.Context) (float64, error) {
	account, err := p.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取账户信息失败: %v", err)
	}

	balance, err := strconv.ParseFloat(account.TotalWalletBalance, 64)
	if err != nil {
		return 0, fmt.Errorf("解析账户余额失败: %v", err)
	}
	return balance, nil
}

// GetPositionInfo 获取交易所侧持仓信息，无持仓时返回nil
func (p *BinanceProvider) GetPositionInfo(ctx context.Context, symbol string) (*types.PositionInfo, error) {
	risks, err := p.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取持仓信息失败: %v", err)
	}

	for _, r := range risks {
		amount, err := strconv.ParseFloat(r.PositionAmt, 64)
		if err != nil || amount == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(r.MarkPrice, 64)
		pnl, _ := strconv.ParseFloat(r.UnRealizedProfit, 64)
		return &types.PositionInfo{
			Symbol:        r.Symbol,
			Amount:        amount,
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnL: pnl,
		}, nil
	}
	return nil, nil
}

func parseKline(symbol, interval string, k *futures.Kline) (types.KLine, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return types.KLine{}, fmt.Errorf("解析开盘价失败: %v", err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return types.KLine{}, fmt.Errorf("解析最高价失败: %v", err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return types.KLine{}, fmt.Errorf("解析最低价失败: %v", err)
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return types.KLine{}, fmt.Errorf("解析收盘价失败: %v", err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return types.KLine{}, fmt.Errorf("解析成交量失败: %v", err)
	}

	return types.KLine{
		Symbol:    symbol,
		OpenTime:  time.UnixMilli(k.OpenTime),
		CloseTime: time.UnixMilli(k.CloseTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		Interval:  interval,
	}, nil
}
