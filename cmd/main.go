package main

import (
	"log"

	"cvd-market-sentry/pkg/config"
	"cvd-market-sentry/pkg/logger"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("加载配置失败:", err)
	}

	// 初始化日志
	syncLogger, err := logger.Init(cfg.Log)
	if err != nil {
		log.Fatal("初始化日志失败:", err)
	}
	defer syncLogger()

	// 启动应用
	app := NewApp(cfg)
	app.Start()

	// 等待中断信号后优雅关闭
	app.WaitForShutdown()
	app.Stop()
}
