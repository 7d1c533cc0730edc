/**
 * 初始化
 * @author: sun977
 * @date: 2026.10.15
 * @description: 各模块依赖装配的聚合输出，setup 层只负责装配，不包含业务逻辑
 */
package setup

import (
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"neoaudit/internal/core/runner"
	taskHandler "neoaudit/internal/handler/task"
	"neoaudit/internal/pkg/monitor"
	"neoaudit/internal/service/postscan"
	taskService "neoaudit/internal/service/task"
)

// InfraModule 基础设施聚合输出
// RedisClient 在未启用 Redis 时为 nil
type InfraModule struct {
	DB          *gorm.DB
	RedisClient *redis.Client
	Metrics     *monitor.Metrics
}

// ScanModule 扫描任务模块聚合输出
type ScanModule struct {
	// Handler（对外路由处理器）
	TaskHandler *taskHandler.ScanTaskHandler

	// Services
	TaskService taskService.ScanTaskService

	// Core Components
	Registry      *taskService.Registry
	Supervisor    *taskService.Supervisor
	RunnerManager *runner.RunnerManager
	Pipeline      *postscan.Pipeline
}
