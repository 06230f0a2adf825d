package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cvd-market-sentry/internal/engine"
	"cvd-market-sentry/internal/monitor"
	"cvd-market-sentry/pkg/types"
)

// App 应用程序管理器
type App struct {
	config *types.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApp 创建应用程序实例
func NewApp(config *types.Config) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 启动应用程序
func (app *App) Start() {
	zap.L().Info("🚀 CVD Market Sentry 启动中...")

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.runConfluenceEngine()
	}()

	zap.L().Info("✅ CVD Market Sentry 已启动")
}

// Stop 停止应用程序
func (app *App) Stop() {
	zap.L().Info("🛑 收到停止信号，正在优雅关闭...")
	app.cancel()

	// 等待所有goroutine结束，最多等待30秒
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("✅ CVD Market Sentry 已安全关闭")
	case <-time.After(30 * time.Second):
		zap.L().Warn("⚠️ 强制关闭超时")
	}
}

// WaitForShutdown 等待关闭信号
func (app *App) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

// runConfluenceEngine 运行合流信号引擎直至上下文取消
func (app *App) runConfluenceEngine() {
	confluenceEngine, err := engine.NewConfluenceEngine(app.config)
	if err != nil {
		zap.L().Error("❌ 创建合流信号引擎失败", zap.Error(err))
		return
	}

	if err := confluenceEngine.Start(); err != nil {
		zap.L().Error("❌ 启动合流信号引擎失败", zap.Error(err))
		return
	}

	// 创建性能监控器
	performanceMonitor := monitor.NewPerformanceMonitor(confluenceEngine, app.config)
	performanceMonitor.Start()

	// 等待上下文取消
	<-app.ctx.Done()

	// 退出前打印最终报告
	performanceMonitor.PrintFormattedReport()
	performanceMonitor.Stop()

	if err := confluenceEngine.Stop(); err != nil {
		zap.L().Error("❌ 停止合流信号引擎失败", zap.Error(err))
	}
}
