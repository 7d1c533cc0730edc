/**
 * 应用程序核心逻辑
 * @author: sun977
 * @date: 2026.10.15
 * @description: 负责初始化各组件、启动 HTTP 服务、回收遗留任务与优雅退出
 */
package neoaudit

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"neoaudit/internal/app/neoaudit/router"
	"neoaudit/internal/app/neoaudit/setup"
	"neoaudit/internal/config"
	"neoaudit/internal/pkg/logger"
)

// App 应用程序结构体
type App struct {
	config     *config.Config
	logger     *logger.LoggerManager
	infra      *setup.InfraModule
	scanModule *setup.ScanModule
	router     *router.Router
	httpServer *http.Server
	watcher    *config.ConfigWatcher
}

// NewApp 根据已加载的配置创建应用实例
func NewApp(cfg *config.Config) (*App, error) {
	loggerManager, err := logger.InitLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	logger.Info("NeoAudit application initializing...")

	infra, err := setup.BuildInfra(cfg)
	if err != nil {
		return nil, err
	}
	scanModule, err := setup.BuildScanModule(cfg, infra)
	if err != nil {
		_ = infra.Close()
		return nil, err
	}

	r := router.NewRouter(cfg, scanModule, infra.Metrics)
	r.SetupRoutes()

	return &App{
		config:     cfg,
		logger:     loggerManager,
		infra:      infra,
		scanModule: scanModule,
		router:     r,
		httpServer: &http.Server{
			Addr:           cfg.Server.Addr(),
			Handler:        r.GetEngine(),
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			IdleTimeout:    cfg.Server.IdleTimeout,
			MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		},
	}, nil
}

// GetConfig 获取配置实例
func (a *App) GetConfig() *config.Config {
	return a.config
}

// GetRouter 获取路由器实例
func (a *App) GetRouter() *router.Router {
	return a.router
}

// GetScanModule 获取扫描任务模块
func (a *App) GetScanModule() *setup.ScanModule {
	return a.scanModule
}

// WatchConfig 监听配置文件，热更新日志配置
// 其余配置项只在重启后生效
func (a *App) WatchConfig(configPath string) error {
	watcher, err := config.NewConfigWatcher(configPath)
	if err != nil {
		return err
	}
	watcher.SetErrorHandler(func(err error) {
		logger.LogSystemEvent("ConfigWatcher", "Reload", err.Error(), logger.WarnLevel, nil)
	})
	watcher.AddCallback(func(oldConfig, newConfig *config.Config) error {
		if err := a.logger.UpdateConfig(newConfig.Log); err != nil {
			return err
		}
		logger.LogSystemEvent("ConfigWatcher", "Reload", "log config reloaded", logger.InfoLevel, map[string]interface{}{
			"level": newConfig.Log.Level,
		})
		return nil
	})
	if err := watcher.Start(); err != nil {
		_ = watcher.Stop()
		return err
	}
	a.watcher = watcher
	return nil
}

// Start 回收遗留任务并启动 HTTP 服务
func (a *App) Start(ctx context.Context) error {
	n, err := a.scanModule.TaskService.RecoverOrphans(ctx)
	if err != nil {
		return err
	}
	logger.LogSystemEvent("App", "Start", fmt.Sprintf("recovered %d orphaned tasks", n), logger.InfoLevel, nil)

	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Failed to start HTTP server: %v", err)
		}
	}()
	logger.Infof("NeoAudit started successfully on %s", a.httpServer.Addr)
	return nil
}

// Stop 关闭 HTTP 服务，停止全部活动任务并等待其落库
func (a *App) Stop(ctx context.Context) error {
	logger.Info("Stopping NeoAudit server...")

	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop HTTP server: %w", err))
	}
	if err := a.scanModule.TaskService.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to drain scan tasks: %w", err))
	}
	if a.watcher != nil {
		_ = a.watcher.Stop()
	}
	if err := a.infra.Close(); err != nil {
		errs = append(errs, err)
	}

	logger.Info("NeoAudit stopped")
	_ = a.logger.Close()
	return errors.Join(errs...)
}
