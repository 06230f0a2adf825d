package stream

import (
	"reflect"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvd-market-sentry/pkg/types"
)

func newTestClient() *Client {
	return NewClient("", types.WebSocketConfig{
		Endpoint:             "wss://fstream.binance.com/ws",
		ReconnectInterval:    time.Second,
		PingInterval:         20 * time.Second,
		MaxReconnectAttempts: 3,
	})
}

func TestParseTradeData(t *testing.T) {
	c := newTestClient()

	msg := []byte(`{"e":"aggTrade","E":1700000000100,"s":"BTCUSDT","a":12345,"p":"42000.50","q":"0.25","T":1700000000000,"m":true}`)
	require.NoError(t, c.parseTradeData(msg))

	select {
	case trade := <-c.GetTradeChannel():
		assert.Equal(t, "BTCUSDT", trade.Symbol)
		assert.Equal(t, 42000.50, trade.Price)
		assert.Equal(t, 0.25, trade.Quantity)
		assert.Equal(t, int64(1700000000000), trade.Timestamp)
		assert.True(t, trade.IsBuyerMaker)
	default:
		t.Fatal("成交数据未进入通道")
	}
}

func TestParseTradeDataIgnoresSubscribeAck(t *testing.T) {
	c := newTestClient()

	// 订阅应答不应产生成交事件
	require.NoError(t, c.parseTradeData([]byte(`{"result":null,"id":1}`)))

	select {
	case <-c.GetTradeChannel():
		t.Fatal("订阅应答不应产生成交事件")
	default:
	}
}

func TestParseTradeDataInvalidPrice(t *testing.T) {
	c := newTestClient()

	msg := []byte(`{"e":"aggTrade","s":"BTCUSDT","p":"not-a-number","q":"0.25","T":1700000000000,"m":false}`)
	assert.Error(t, c.parseTradeData(msg))
}

func TestParseTradeDataDropsWhenChannelFull(t *testing.T) {
	c := newTestClient()
	c.tradeChan = make(chan *types.TradeEvent, 1)

	msg := []byte(`{"e":"aggTrade","s":"BTCUSDT","p":"42000","q":"1","T":1700000000000,"m":false}`)
	require.NoError(t, c.parseTradeData(msg))
	// 通道已满时静默丢弃，不报错
	require.NoError(t, c.parseTradeData(msg))
	assert.Len(t, c.tradeChan, 1)
}

func TestIsConnectedDefaultsFalse(t *testing.T) {
	c := newTestClient()
	assert.False(t, c.IsConnected())
}

func TestReconnectGiveUpTerminatesClient(t *testing.T) {
	c := NewClient("", types.WebSocketConfig{
		Endpoint:             "ws://127.0.0.1:1",
		ReconnectInterval:    10 * time.Millisecond,
		PingInterval:         20 * time.Second,
		MaxReconnectAttempts: 0,
	})

	go c.reconnectLoop()
	c.reconnectChan <- struct{}{}

	// 超过最大重连次数后客户端整体终止
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("客户端未在放弃重连后终止")
	}
	assert.False(t, c.IsConnected())
}

func TestConnectDoesNotMutateDefaultDialer(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", types.WebSocketConfig{
		Endpoint:             "ws://127.0.0.1:1",
		ReconnectInterval:    time.Second,
		PingInterval:         20 * time.Second,
		MaxReconnectAttempts: 1,
	})

	before := reflect.ValueOf(websocket.DefaultDialer.Proxy).Pointer()

	// 无可用端口，连接必然失败，但不应污染包级默认Dialer
	assert.Error(t, c.Connect())

	after := reflect.ValueOf(websocket.DefaultDialer.Proxy).Pointer()
	assert.Equal(t, before, after)
}
