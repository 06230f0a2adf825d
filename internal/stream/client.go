package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"cvd-market-sentry/pkg/types"
)

// Client 币安合约逐笔成交WebSocket客户端
type Client struct {
	endpoint      string
	proxy         string
	conn          *websocket.Conn
	mu            sync.RWMutex
	isConnected   bool
	reconnectChan chan struct{}
	ctx           context.Context
	cancel        context.CancelFunc
	tradeChan     chan *types.TradeEvent
	symbols       []string
	config        types.WebSocketConfig
}

// aggTradeEvent 币安归集成交推送
type aggTradeEvent struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// subscribeRequest 币安订阅消息
type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// NewClient 创建新的WebSocket客户端
func NewClient(proxy string, config types.WebSocketConfig) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		endpoint:      config.Endpoint,
		proxy:         proxy,
		reconnectChan: make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
		tradeChan:     make(chan *types.TradeEvent, 1000), // 缓冲1000条成交数据
		config:        config,
	}
}

// Connect 建立WebSocket连接
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 拷贝默认Dialer，避免代理设置污染包级全局
	dialer := *websocket.DefaultDialer
	if c.proxy != "" {
		proxyURL, err := url.Parse(c.proxy)
		if err != nil {
			return fmt.Errorf("解析代理URL失败: %v", err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}

	conn, _, err := dialer.Dial(c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("WebSocket连接失败: %v", err)
	}

	c.conn = conn
	c.isConnected = true

	zap.L().Info("✅ WebSocket连接建立成功",
		zap.String("endpoint", c.endpoint),
		zap.String("proxy", c.proxy))

	return nil
}

// Subscribe 订阅归集成交数据流
func (c *Client) Subscribe(symbols []string) error {
	c.mu.Lock()
	c.symbols = symbols
	conn := c.conn
	isConnected := c.isConnected
	c.mu.Unlock()

	if !isConnected || conn == nil {
		return fmt.Errorf("WebSocket未连接")
	}

	request := subscribeRequest{
		Method: "SUBSCRIBE",
		ID:     1,
	}
	for _, symbol := range symbols {
		request.Params = append(request.Params, strings.ToLower(symbol)+"@aggTrade")
	}

	if err := conn.WriteJSON(request); err != nil {
		return fmt.Errorf("发送订阅消息失败: %v", err)
	}

	zap.L().Info("📊 已订阅归集成交数据",
		zap.Strings("symbols", symbols))

	return nil
}

// StartReading 开始读取WebSocket数据
func (c *Client) StartReading() {
	go c.readLoop()
	go c.reconnectLoop()
	go c.pingLoop()
}

// readLoop 读取数据循环
func (c *Client) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("WebSocket读取panic", zap.Any("error", r))
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			if conn == nil {
				time.Sleep(time.Second)
				continue
			}

			_, message, err := conn.ReadMessage()
			if err != nil {
				zap.L().Error("WebSocket读取消息失败", zap.Error(err))
				c.handleDisconnect()
				continue
			}

			if err := c.parseTradeData(message); err != nil {
				zap.L().Warn("解析成交数据失败", zap.Error(err))
			}
		}
	}
}

// parseTradeData 解析归集成交数据
func (c *Client) parseTradeData(message []byte) error {
	var event aggTradeEvent
	if err := json.Unmarshal(message, &event); err != nil {
		return err
	}

	// 忽略订阅应答等非成交消息
	if event.EventType != "aggTrade" {
		return nil
	}

	trade, err := parseAggTrade(&event)
	if err != nil {
		return err
	}

	select {
	case c.tradeChan <- trade:
	default:
		zap.L().Warn("成交数据通道满，丢弃数据", zap.String("symbol", trade.Symbol))
	}

	return nil
}

// parseAggTrade 解析单条归集成交
func parseAggTrade(event *aggTradeEvent) (*types.TradeEvent, error) {
	price, err := strconv.ParseFloat(event.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("解析成交价失败: %v", err)
	}

	quantity, err := strconv.ParseFloat(event.Quantity, 64)
	if err != nil {
		return nil, fmt.Errorf("解析成交量失败: %v", err)
	}

	return &types.TradeEvent{
		Symbol:       event.Symbol,
		Price:        price,
		Quantity:     quantity,
		Timestamp:    event.TradeTime,
		IsBuyerMaker: event.IsBuyerMaker,
	}, nil
}

// reconnectLoop 重连循环，重连成功后自动恢复订阅
func (c *Client) reconnectLoop() {
	reconnectAttempts := 0

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.reconnectChan:
			reconnectAttempts++
			if reconnectAttempts > c.config.MaxReconnectAttempts {
				zap.L().Error("🛑 达到最大重连次数，行情流终止",
					zap.Int("max_attempts", c.config.MaxReconnectAttempts))
				// 终止整个客户端，让上层通过Done感知并处理
				c.cancel()
				return
			}

			zap.L().Info("尝试重连WebSocket",
				zap.Int("attempt", reconnectAttempts),
				zap.Int("max_attempts", c.config.MaxReconnectAttempts))

			if err := c.Connect(); err != nil {
				zap.L().Error("重连失败", zap.Error(err))
				time.Sleep(c.config.ReconnectInterval)
				select {
				case c.reconnectChan <- struct{}{}:
				default:
				}
				continue
			}

			c.mu.RLock()
			symbols := c.symbols
			c.mu.RUnlock()
			if len(symbols) > 0 {
				if err := c.Subscribe(symbols); err != nil {
					zap.L().Error("重连后恢复订阅失败", zap.Error(err))
					c.handleDisconnect()
					continue
				}
			}

			reconnectAttempts = 0
			zap.L().Info("WebSocket重连成功")
		}
	}
}

// pingLoop 心跳循环
func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			isConnected := c.isConnected
			c.mu.RUnlock()

			if !isConnected || conn == nil {
				continue
			}

			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				zap.L().Error("发送心跳失败", zap.Error(err))
				c.handleDisconnect()
			}
		}
	}
}

// handleDisconnect 处理断线
func (c *Client) handleDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.isConnected = false

	// 触发重连
	select {
	case c.reconnectChan <- struct{}{}:
	default:
	}
}

// Done 客户端终止信号
//
// 达到最大重连次数或调用Close后关闭，读取、心跳协程随之退出，
// 上层据此停止消费并决定是否整体停机。
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// GetTradeChannel 获取成交数据通道
func (c *Client) GetTradeChannel() <-chan *types.TradeEvent {
	return c.tradeChan
}

// Close 关闭WebSocket连接
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		c.isConnected = false
		return err
	}

	return nil
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}
