package notifier

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"cvd-market-sentry/pkg/types"
)

// safePadding 安全地计算填充空格数量，避免负数
func safePadding(content string, totalWidth int) int {
	// 使用utf8.RuneCountInString计算实际显示字符数，而不是字节数
	runeCount := utf8.RuneCountInString(content)
	padding := totalWidth - runeCount - 4 // 4是边框字符数
	if padding < 0 {
		padding = 0
	}
	return padding
}

// Interface 通知接口
type Interface interface {
	SendSignalAlert(signal *types.Signal, params *types.PositionParams) error
	SendPositionClosed(position *types.Position) error
}

// ConsoleNotifier 控制台通知器
type ConsoleNotifier struct{}

func NewConsoleNotifier() *ConsoleNotifier {
	return &ConsoleNotifier{}
}

func (cn *ConsoleNotifier) SendSignalAlert(signal *types.Signal, params *types.PositionParams) error {
	cn.printSignal(signal, params)
	return nil
}

func (cn *ConsoleNotifier) SendPositionClosed(position *types.Position) error {
	cn.printPositionClosed(position)
	return nil
}

func (cn *ConsoleNotifier) printSignal(signal *types.Signal, params *types.PositionParams) {
	border := "╔" + strings.Repeat("═", 60) + "╗"
	bottomBorder := "╚" + strings.Repeat("═", 60) + "╝"

	arrow := "🔺"
	direction := "看多"
	if signal.Type == types.SignalBearish {
		arrow = "🔻"
		direction = "看空"
	}

	fmt.Println()
	fmt.Println(border)
	title := fmt.Sprintf("%s 🚨 检测到%s合流信号！", arrow, direction)
	fmt.Printf("║ %s%s ║\n", title, strings.Repeat(" ", safePadding(title, 60)))
	fmt.Println("║" + strings.Repeat(" ", 60) + "║")
	fmt.Printf("║ 交易对: %-47s ║\n", signal.Symbol)
	fmt.Printf("║ 置信度: %-47d ║\n", signal.Confidence)
	fmt.Printf("║ 信号时间: %-44s ║\n", signal.Timestamp.Format("2006-01-02 15:04:05"))

	if params != nil {
		fmt.Println("║" + strings.Repeat(" ", 60) + "║")
		fmt.Printf("║ 方向: %-49s ║\n", string(params.Side))
		fmt.Printf("║ 仓位规模: %-44.6f ║\n", params.Size)
		fmt.Printf("║ 入场价: $%-44.2f ║\n", params.EntryPrice)
		fmt.Printf("║ 止损: $%-46.2f ║\n", params.StopLoss)
		fmt.Printf("║ 止盈: $%-46.2f ║\n", params.TakeProfit)
		fmt.Printf("║ 风险金额: $%-43.2f ║\n", params.RiskAmount)
	}

	fmt.Println("║" + strings.Repeat(" ", 60) + "║")
	hint := "💡 信号仅供参考，请结合风险控制执行！"
	fmt.Printf("║ %s%s ║\n", hint, strings.Repeat(" ", safePadding(hint, 60)))
	fmt.Println(bottomBorder)
	fmt.Println()
}

func (cn *ConsoleNotifier) printPositionClosed(position *types.Position) {
	border := "╔" + strings.Repeat("═", 60) + "╗"
	bottomBorder := "╚" + strings.Repeat("═", 60) + "╝"

	result := "📈 盈利"
	if position.RealizedPnL < 0 {
		result = "📉 亏损"
	}

	fmt.Println()
	fmt.Println(border)
	title := fmt.Sprintf("%s 持仓已平仓", result)
	fmt.Printf("║ %s%s ║\n", title, strings.Repeat(" ", safePadding(title, 60)))
	fmt.Println("║" + strings.Repeat(" ", 60) + "║")
	fmt.Printf("║ 交易对: %-47s ║\n", position.Symbol)
	fmt.Printf("║ 方向: %-49s ║\n", string(position.Side))
	fmt.Printf("║ 入场价: $%-44.2f ║\n", position.EntryPrice)
	fmt.Printf("║ 出场价: $%-44.2f ║\n", position.ExitPrice)
	fmt.Printf("║ 已实现盈亏: $%-41.2f ║\n", position.RealizedPnL)
	fmt.Printf("║ 平仓原因: %-44s ║\n", string(position.CloseReason))
	fmt.Printf("║ 平仓时间: %-44s ║\n", position.CloseTime.Format("2006-01-02 15:04:05"))
	fmt.Println(bottomBorder)
	fmt.Println()
}

// DingTalkNotifier 钉钉通知器
type DingTalkNotifier struct {
	webhookURL string
	secret     string
	enabled    bool
	httpClient *http.Client
}

// DingTalkMessage 钉钉消息结构
type DingTalkMessage struct {
	MsgType  string            `json:"msgtype"`
	Markdown *DingTalkMarkdown `json:"markdown,omitempty"`
	At       *DingTalkAt       `json:"at,omitempty"`
}

type DingTalkMarkdown struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type DingTalkAt struct {
	AtAll bool `json:"isAtAll"`
}

// DingTalkResponse 钉钉API响应
type DingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func NewDingTalkNotifier(webhookURL, secret string) Interface {
	// 如果没有配置webhook URL，返回控制台通知器
	if webhookURL == "" {
		fmt.Println("🔧 未配置钉钉Webhook URL，使用控制台输出模式")
		return NewConsoleNotifier()
	}

	if secret != "" {
		fmt.Println("✅ 已配置钉钉通知服务（含加签验证）")
	} else {
		fmt.Println("⚠️ 钉钉通知已配置，但未设置secret（建议配置加签验证）")
	}

	return &DingTalkNotifier{
		webhookURL: webhookURL,
		secret:     secret,
		enabled:    true,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (dtn *DingTalkNotifier) SendSignalAlert(signal *types.Signal, params *types.PositionParams) error {
	if !dtn.enabled {
		return NewConsoleNotifier().SendSignalAlert(signal, params)
	}

	direction := "看多"
	if signal.Type == types.SignalBearish {
		direction = "看空"
	}
	title := fmt.Sprintf("🚨 %s合流信号 - %s", direction, signal.Symbol)
	content := dtn.buildSignalMarkdown(signal, params)

	if err := dtn.sendDingTalkMessage(title, content); err != nil {
		fmt.Printf("❌ 钉钉发送失败: %v，降级为控制台输出\n", err)
		return NewConsoleNotifier().SendSignalAlert(signal, params)
	}

	fmt.Printf("✅ 钉钉通知已发送: %s %s信号 置信度%d\n", signal.Symbol, direction, signal.Confidence)
	return nil
}

func (dtn *DingTalkNotifier) SendPositionClosed(position *types.Position) error {
	if !dtn.enabled {
		return NewConsoleNotifier().SendPositionClosed(position)
	}

	title := fmt.Sprintf("🔚 持仓平仓 - %s", position.Symbol)
	content := dtn.buildPositionClosedMarkdown(position)

	if err := dtn.sendDingTalkMessage(title, content); err != nil {
		fmt.Printf("❌ 钉钉发送失败: %v，降级为控制台输出\n", err)
		return NewConsoleNotifier().SendPositionClosed(position)
	}

	fmt.Printf("✅ 钉钉平仓通知已发送: %s 盈亏 %+.2f\n", position.Symbol, position.RealizedPnL)
	return nil
}

// generateSignature 生成钉钉加签
func (dtn *DingTalkNotifier) generateSignature(timestamp int64) (string, error) {
	if dtn.secret == "" {
		return "", nil // 没有secret则不加签
	}

	// 按照文档要求: timestamp + "\n" + secret
	stringToSign := fmt.Sprintf("%d\n%s", timestamp, dtn.secret)

	// HMAC-SHA256签名
	h := hmac.New(sha256.New, []byte(dtn.secret))
	h.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(h.Sum(nil))

	// URL编码
	return url.QueryEscape(signature), nil
}

// buildSignedURL 构建带签名的URL
func (dtn *DingTalkNotifier) buildSignedURL() (string, error) {
	timestamp := time.Now().UnixNano() / 1e6 // 毫秒时间戳

	if dtn.secret == "" {
		return dtn.webhookURL, nil
	}

	signature, err := dtn.generateSignature(timestamp)
	if err != nil {
		return "", err
	}

	// 添加timestamp和sign参数
	separator := "&"
	if !strings.Contains(dtn.webhookURL, "?") {
		separator = "?"
	}

	return fmt.Sprintf("%s%stimestamp=%d&sign=%s",
		dtn.webhookURL, separator, timestamp, signature), nil
}

// buildSignalMarkdown 构建信号通知的Markdown内容
func (dtn *DingTalkNotifier) buildSignalMarkdown(signal *types.Signal, params *types.PositionParams) string {
	arrow := "🔺"
	color := "green"
	direction := "看多"
	if signal.Type == types.SignalBearish {
		arrow = "🔻"
		color = "red"
		direction = "看空"
	}

	content := fmt.Sprintf(`## %s %s合流信号触发

**交易对**: %s
**置信度**: <font color="%s">%d</font>
**信号时间**: %s

**条件明细**:
`,
		arrow, direction,
		signal.Symbol,
		color, signal.Confidence,
		signal.Timestamp.Format("2006-01-02 15:04:05"))

	for name, ok := range signal.Conditions {
		mark := "✅"
		if !ok {
			mark = "❌"
		}
		content += fmt.Sprintf("- %s %s\n", mark, name)
	}

	if params != nil {
		content += fmt.Sprintf(`
**开仓建议**:
- 方向: %s
- 仓位规模: %.6f
- 入场价: $%.2f
- 止损: $%.2f
- 止盈: $%.2f
- 风险金额: $%.2f
`,
			string(params.Side), params.Size, params.EntryPrice,
			params.StopLoss, params.TakeProfit, params.RiskAmount)
	}

	content += "\n> 💡 信号仅供参考，请结合风险控制执行！"
	return content
}

// buildPositionClosedMarkdown 构建平仓通知的Markdown内容
func (dtn *DingTalkNotifier) buildPositionClosedMarkdown(position *types.Position) string {
	result := "📈 盈利"
	color := "green"
	if position.RealizedPnL < 0 {
		result = "📉 亏损"
		color = "red"
	}

	return fmt.Sprintf(`## %s 持仓已平仓

**交易对**: %s
**方向**: %s
**入场价**: $%.2f
**出场价**: $%.2f
**已实现盈亏**: <font color="%s">%+.2f</font>
**平仓原因**: %s
**平仓时间**: %s  `,
		result,
		position.Symbol,
		string(position.Side),
		position.EntryPrice,
		position.ExitPrice,
		color, position.RealizedPnL,
		string(position.CloseReason),
		position.CloseTime.Format("2006-01-02 15:04:05"))
}

// sendDingTalkMessage 发送钉钉消息
func (dtn *DingTalkNotifier) sendDingTalkMessage(title, content string) error {
	// 构建带签名的URL
	signedURL, err := dtn.buildSignedURL()
	if err != nil {
		return fmt.Errorf("生成签名失败: %v", err)
	}

	// 构建消息体
	message := &DingTalkMessage{
		MsgType: "markdown",
		Markdown: &DingTalkMarkdown{
			Title: title,
			Text:  content,
		},
		At: &DingTalkAt{
			AtAll: false, // 不@所有人，避免过度打扰
		},
	}

	// 序列化为JSON
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %v", err)
	}

	// 发送HTTP请求
	resp, err := dtn.httpClient.Post(signedURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %v", err)
	}
	defer resp.Body.Close()

	// 解析响应
	var dingResp DingTalkResponse
	if err := json.NewDecoder(resp.Body).Decode(&dingResp); err != nil {
		return fmt.Errorf("解析响应失败: %v", err)
	}

	// 检查返回结果
	if dingResp.ErrCode != 0 {
		return fmt.Errorf("钉钉API错误 [%d]: %s", dingResp.ErrCode, dingResp.ErrMsg)
	}

	return nil
}
