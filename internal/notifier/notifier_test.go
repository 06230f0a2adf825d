package notifier

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvd-market-sentry/pkg/types"
)

func sampleSignal() *types.Signal {
	sig := types.NewSignal("BTCUSDT", types.SignalBearish)
	sig.Valid = true
	sig.Confidence = 90
	sig.Conditions["price_higher_high"] = true
	sig.Conditions["cvd_divergence"] = true
	sig.Conditions["funding_rate_extreme"] = false
	return sig
}

func samplePosition() *types.Position {
	return &types.Position{
		ID:          "test-id",
		Symbol:      "BTCUSDT",
		Side:        types.SideShort,
		Size:        0.5,
		EntryPrice:  50000,
		ExitPrice:   49000,
		RealizedPnL: 500,
		Status:      types.StatusClosed,
		CloseReason: types.CloseTakeProfit,
		CloseTime:   time.Now(),
	}
}

func TestFactoryFallsBackToConsole(t *testing.T) {
	n := NewDingTalkNotifier("", "secret")
	_, ok := n.(*ConsoleNotifier)
	assert.True(t, ok)
}

func TestFactoryReturnsDingTalk(t *testing.T) {
	n := NewDingTalkNotifier("https://oapi.dingtalk.com/robot/send?access_token=abc", "secret")
	_, ok := n.(*DingTalkNotifier)
	assert.True(t, ok)
}

func TestConsoleNotifierNeverFails(t *testing.T) {
	cn := NewConsoleNotifier()
	assert.NoError(t, cn.SendSignalAlert(sampleSignal(), nil))
	assert.NoError(t, cn.SendPositionClosed(samplePosition()))
}

func TestBuildSignedURL(t *testing.T) {
	dtn := &DingTalkNotifier{
		webhookURL: "https://oapi.dingtalk.com/robot/send?access_token=abc",
		secret:     "test-secret",
	}

	signedURL, err := dtn.buildSignedURL()
	require.NoError(t, err)
	assert.Contains(t, signedURL, "access_token=abc")
	assert.Contains(t, signedURL, "&timestamp=")
	assert.Contains(t, signedURL, "&sign=")
}

func TestBuildSignedURLWithoutSecret(t *testing.T) {
	dtn := &DingTalkNotifier{
		webhookURL: "https://oapi.dingtalk.com/robot/send?access_token=abc",
	}

	signedURL, err := dtn.buildSignedURL()
	require.NoError(t, err)
	assert.Equal(t, dtn.webhookURL, signedURL)
}

func TestGenerateSignatureDeterministic(t *testing.T) {
	dtn := &DingTalkNotifier{secret: "test-secret"}

	first, err := dtn.generateSignature(1700000000000)
	require.NoError(t, err)
	second, err := dtn.generateSignature(1700000000000)
	require.NoError(t, err)

	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)

	// 不同时间戳应产生不同签名
	other, err := dtn.generateSignature(1700000000001)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestBuildSignalMarkdown(t *testing.T) {
	dtn := &DingTalkNotifier{}
	params := &types.PositionParams{
		Symbol:     "BTCUSDT",
		Side:       types.SideShort,
		Size:       0.5,
		EntryPrice: 50000,
		StopLoss:   51000,
		TakeProfit: 48500,
		RiskAmount: 500,
	}

	content := dtn.buildSignalMarkdown(sampleSignal(), params)

	assert.Contains(t, content, "BTCUSDT")
	assert.Contains(t, content, "看空")
	assert.Contains(t, content, "90")
	assert.Contains(t, content, "price_higher_high")
	assert.Contains(t, content, "止损")
	assert.Contains(t, content, "$51000.00")
}

func TestBuildSignalMarkdownWithoutParams(t *testing.T) {
	dtn := &DingTalkNotifier{}
	content := dtn.buildSignalMarkdown(sampleSignal(), nil)

	assert.Contains(t, content, "BTCUSDT")
	assert.NotContains(t, content, "开仓建议")
}

func TestBuildPositionClosedMarkdown(t *testing.T) {
	dtn := &DingTalkNotifier{}
	content := dtn.buildPositionClosedMarkdown(samplePosition())

	assert.Contains(t, content, "盈利")
	assert.Contains(t, content, "BTCUSDT")
	assert.Contains(t, content, "SHORT")
	assert.Contains(t, content, "take_profit")
}

func TestSafePadding(t *testing.T) {
	// 中文字符按rune计数而非字节
	assert.Equal(t, 53, safePadding("交易对", 60))
	// 超长内容不产生负数
	assert.Equal(t, 0, safePadding(strings.Repeat("x", 100), 60))
}
