/*
 * @author: sun977
 * @date: 2026.10.15
 * @description: Server 模式子命令
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"neoaudit/internal/app/neoaudit"
	"neoaudit/internal/pkg/logger"
)

var (
	shutdownTimeout time.Duration
	watchConfig     bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 HTTP 服务模式",
	Long: `启动 HTTP 服务，对外提供扫描任务的创建、停止与查询接口。
启动时会把上次进程遗留的 pending/running 任务置为 failed。

示例:
  neoaudit server --config ./configs/config.yaml --watch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 60*time.Second, "退出时等待活动任务落库的时间")
	serverCmd.Flags().BoolVar(&watchConfig, "watch", false, "监听配置文件并热更新日志配置")
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	app, err := neoaudit.NewApp(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	if watchConfig {
		if err := app.WatchConfig(cfgFile); err != nil {
			logger.Warnf("config watcher disabled: %v", err)
		}
	}
	if err := app.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start app: %w", err)
	}

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down NeoAudit server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return app.Stop(ctx)
}
