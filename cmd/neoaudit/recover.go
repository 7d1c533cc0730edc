/*
 * @author: sun977
 * @date: 2026.10.15
 * @description: Recover 子命令，只执行遗留任务回收
 */

package main

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"neoaudit/internal/app/neoaudit/setup"
	"neoaudit/internal/pkg/logger"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "将遗留的 pending/running 任务置为 failed",
	Long: `进程异常退出后，数据库中可能残留 pending/running 任务。
该命令不启动 HTTP 服务，只把这些任务标记为 failed。
server 启动时会自动执行同样的回收，服务运行期间不要执行该命令。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if _, err := logger.InitLogger(cfg.Log); err != nil {
			return err
		}
		infra, err := setup.BuildInfra(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = infra.Close() }()
		module, err := setup.BuildScanModule(cfg, infra)
		if err != nil {
			return err
		}

		n, err := module.TaskService.RecoverOrphans(context.Background())
		if err != nil {
			return err
		}
		pterm.Success.Printfln("%d orphaned tasks marked failed", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}
