package setup

import (
	"fmt"

	"neoaudit/internal/config"
	"neoaudit/internal/core/runner"
	taskHandler "neoaudit/internal/handler/task"
	"neoaudit/internal/model/scan"
	"neoaudit/internal/pkg/logger"
	"neoaudit/internal/pkg/tool_adapter"
	"neoaudit/internal/pkg/tool_adapter/zap"
	"neoaudit/internal/pkg/utils"
	scanRepo "neoaudit/internal/repo/mysql/scan"
	"neoaudit/internal/service/postscan"
	taskService "neoaudit/internal/service/task"
)

// BuildRunnerManager 按配置构建四种扫描策略
func BuildRunnerManager(cfg *config.ScanConfig) (*runner.RunnerManager, error) {
	invoker := tool_adapter.NewProcessInvoker()

	zapClient := zap.NewClient(cfg.Web.ZapAddress, cfg.Web.APIKey, cfg.Web.RequestTimeout)
	web := runner.NewWebRunner(zapClient, cfg.Web, cfg.PollInterval)

	attack := runner.NewAttackRunner(runner.NewDSLGenerator(cfg.Attack.DSLDir), cfg.Attack)

	dependency, err := runner.NewDependencyRunner(invoker, cfg.Dependency)
	if err != nil {
		return nil, err
	}
	baseline, err := runner.NewBaselineRunner(invoker, cfg.Baseline)
	if err != nil {
		return nil, err
	}

	manager := runner.NewRunnerManager(web, attack, dependency, baseline)
	logger.WithFields(map[string]interface{}{
		"path":             "setup.scan",
		"operation":        "build_runners",
		"scan_types":       manager.Types(),
		"dependency_tools": dependency.Tools(),
	}).Info("扫描策略初始化完成")
	return manager, nil
}

// BuildPipeline 构建后处理流水线，未配置的阶段跳过
func BuildPipeline(cfg *config.PostScanConfig, infra *InfraModule) (*postscan.Pipeline, error) {
	var templateFile string
	if cfg.Report != nil {
		templateFile = cfg.Report.TemplateFile
	}
	renderer, err := postscan.NewTemplateRenderer(templateFile)
	if err != nil {
		return nil, fmt.Errorf("report renderer: %w", err)
	}

	var tickets postscan.TicketCreator
	minSeverity := scan.SeverityHigh
	if t := cfg.Ticket; t != nil && t.Enabled {
		if t.Endpoint == "" {
			return nil, fmt.Errorf("post_scan.ticket.endpoint is required when tickets are enabled")
		}
		tickets = postscan.NewWebhookTicketCreator(t.Endpoint, t.Token, t.Timeout)
		minSeverity = scan.ParseSeverity(t.MinSeverity)
	}

	var notifier postscan.Notifier = postscan.LogNotifier{}
	if n := cfg.Notify; n != nil && n.Enabled && infra.RedisClient != nil {
		notifier = postscan.NewRedisNotifier(infra.RedisClient, n.Channel)
	}

	return postscan.NewPipeline(renderer, tickets, notifier, minSeverity).WithRecorder(infra.Metrics), nil
}

// BuildScanModule 装配扫描任务模块：Repository -> Registry/Supervisor -> Service -> Handler
func BuildScanModule(cfg *config.Config, infra *InfraModule) (*ScanModule, error) {
	logger.WithFields(map[string]interface{}{
		"path":      "setup.scan",
		"operation": "build_module",
		"func_name": "setup.BuildScanModule",
	}).Info("开始初始化扫描任务模块")

	runners, err := BuildRunnerManager(cfg.Scan)
	if err != nil {
		return nil, fmt.Errorf("failed to build runners: %w", err)
	}
	pipeline, err := BuildPipeline(cfg.PostScan, infra)
	if err != nil {
		return nil, fmt.Errorf("failed to build post-scan pipeline: %w", err)
	}
	guard, err := utils.NewTargetGuard(cfg.Security.AllowPublicTargets, cfg.Security.ExtraAllowedCIDRs)
	if err != nil {
		return nil, fmt.Errorf("failed to build target guard: %w", err)
	}

	repo := scanRepo.NewScanTaskRepository(infra.DB)
	registry := taskService.NewRegistry(cfg.Scan.StopGrace)
	supervisor := taskService.NewSupervisor(registry, repo, runners, pipeline, infra.Metrics)
	service := taskService.NewScanTaskService(repo, registry, supervisor, guard, infra.Metrics)

	return &ScanModule{
		TaskHandler:   taskHandler.NewScanTaskHandler(service),
		TaskService:   service,
		Registry:      registry,
		Supervisor:    supervisor,
		RunnerManager: runners,
		Pipeline:      pipeline,
	}, nil
}
