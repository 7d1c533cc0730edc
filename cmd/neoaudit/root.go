/*
 * @author: sun977
 * @date: 2026.10.15
 * @description: Cobra Root Command 定义
 */

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"neoaudit/internal/config"
)

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "neoaudit",
	Short: "NeoAudit 扫描任务编排服务",
	Long: `NeoAudit 负责调度 Web 扫描、API 攻击、依赖扫描与基线检查任务，
统一归一化结果、计算风险评分并生成报告。

示例:
  1.启动服务模式
	neoaudit server --config ./configs/config.yaml
  2.单次运行扫描
	neoaudit scan -T baseline_check -t http://127.0.0.1:8080
	neoaudit scan -T dependency_scan -t ./src --set tools=trivy,bandit
`,
	SilenceUsage: true,
}

func Execute() {
	// 全局 Panic Recovery
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n[FATAL] neoaudit crashed unexpectedly: %v\n", r)
			os.Exit(1)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件或目录 (默认: ./configs)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (debug, info, warn, error)")
}

// loadConfig 加载配置并应用命令行覆盖
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}
