/*
 * @author: sun977
 * @date: 2026.10.15
 * @description: Scan 模式子命令 (Standalone Mode)
 *               使用内存 SQLite 在进程内执行一次任务，结束后输出结果汇总
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"neoaudit/internal/app/neoaudit/setup"
	"neoaudit/internal/config"
	"neoaudit/internal/model/scan"
	"neoaudit/internal/pkg/logger"
	taskService "neoaudit/internal/service/task"
)

var (
	scanType   string
	scanTarget string
	scanSets   []string
	reportFile string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "执行单次扫描任务 (Standalone)",
	Long: `在不启动 HTTP 服务的情况下执行一次扫描任务，任务记录保存在内存库中。
Ctrl+C 会向任务发出停止信号，已产生的进度会保留。

示例:
  neoaudit scan -T web_scan -t http://127.0.0.1:3000 --set spider=false
  neoaudit scan -T api_attack -t http://127.0.0.1:8000 --set dsl_file=common.yaml
  neoaudit scan -T dependency_scan -t ./src -o report.md
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVarP(&scanType, "type", "T", "", "扫描类型 (web_scan/api_attack/dependency_scan/baseline_check)")
	scanCmd.Flags().StringVarP(&scanTarget, "target", "t", "", "扫描目标 (URL/主机/本地路径)")
	scanCmd.Flags().StringSliceVar(&scanSets, "set", nil, "任务配置 key=value，可重复")
	scanCmd.Flags().StringVarP(&reportFile, "output", "o", "", "报告输出文件 (Markdown)")

	_ = scanCmd.MarkFlagRequired("type")
	_ = scanCmd.MarkFlagRequired("target")
}

func runScan(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	// 单机模式不落盘
	cfg.Database = &config.DatabaseConfig{Type: "sqlite", SQLitePath: ":memory:", LogLevel: "silent", AutoMigrate: true}
	if logLevel == "" {
		cfg.Log.Level = "warn"
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
	service := module.TaskService

	id, err := service.CreateTask(ctx, &taskService.CreateTaskRequest{
		ScanType: scanType,
		Target:   scanTarget,
		Config:   parseSets(scanSets),
	})
	if err != nil {
		return err
	}

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("task #%d %s -> %s", id, scanType, scanTarget))
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	go func() {
		if _, ok := <-quit; ok {
			if delivered, _ := service.StopTask(context.Background(), id); delivered {
				spinner.UpdateText("stop requested, waiting for task to exit...")
			}
		}
	}()

	service.Wait()

	task, err := service.GetTask(context.Background(), id)
	if err != nil {
		spinner.Fail(err.Error())
		return err
	}
	switch task.Status {
	case scan.TaskStatusFinished:
		spinner.Success(fmt.Sprintf("task #%d finished (%s)", id, task.FinishReason))
	case scan.TaskStatusStopped:
		spinner.Warning(fmt.Sprintf("task #%d stopped at %d%%", id, task.Progress))
	default:
		spinner.Fail(fmt.Sprintf("task #%d %s: %s", id, task.Status, task.ErrorMessage))
	}

	printSummary(task)

	if reportFile != "" && task.ReportContent != "" {
		if err := os.WriteFile(reportFile, []byte(task.ReportContent), 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		pterm.Info.Printfln("report written to %s", reportFile)
	}
	if task.Status == scan.TaskStatusFailed {
		return fmt.Errorf("task failed: %s", task.ErrorMessage)
	}
	return nil
}

// parseSets 解析 key=value，布尔与整数转换为对应类型
func parseSets(sets []string) map[string]interface{} {
	cfg := make(map[string]interface{}, len(sets))
	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if b, err := strconv.ParseBool(value); err == nil {
			cfg[key] = b
		} else if n, err := strconv.Atoi(value); err == nil {
			cfg[key] = n
		} else {
			cfg[key] = value
		}
	}
	return cfg
}

func printSummary(task *scan.ScanTask) {
	if task.Status != scan.TaskStatusFinished {
		return
	}
	pterm.DefaultSection.Println("Risk")
	pterm.Printfln("score: %d  level: %s  summary: %s", task.RiskScore, task.RiskLevel, task.VulnSummary)

	findings, err := task.Findings()
	if err != nil || len(findings) == 0 {
		pterm.Info.Println("No findings.")
		return
	}
	pterm.DefaultSection.Println("Findings")
	data := pterm.TableData{{"Severity", "Title", "Location", "Source"}}
	for _, f := range findings {
		data = append(data, []string{string(f.Severity), f.Title, f.Location, f.Source})
	}
	_ = pterm.DefaultTable.WithHasHeader(true).WithData(data).Render()
}
