package setup

import (
	"fmt"

	"neoaudit/internal/config"
	"neoaudit/internal/pkg/database"
	"neoaudit/internal/pkg/logger"
	"neoaudit/internal/pkg/monitor"
	"neoaudit/internal/pkg/tool_adapter"
)

// BuildInfra 初始化数据库、Redis 与指标
// Redis 连接失败不阻断启动，通知阶段退化为日志输出
func BuildInfra(cfg *config.Config) (*InfraModule, error) {
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	infra := &InfraModule{
		DB:      db,
		Metrics: monitor.NewMetrics(),
	}
	tool_adapter.SetRecorder(infra.Metrics)

	if cfg.Redis != nil && cfg.Redis.Enabled {
		client, err := database.NewRedisConnection(cfg.Redis)
		if err != nil {
			logger.LogSystemEvent("Setup", "BuildInfra", fmt.Sprintf("redis unavailable, notifications fall back to log: %v", err), logger.WarnLevel, nil)
		} else {
			infra.RedisClient = client
		}
	}

	logger.WithFields(map[string]interface{}{
		"path":      "setup.infra",
		"operation": "build_infra",
		"db_type":   cfg.Database.Type,
		"redis":     infra.RedisClient != nil,
	}).Info("基础设施初始化完成")
	return infra, nil
}

// Close 释放连接
func (m *InfraModule) Close() error {
	if m.RedisClient != nil {
		_ = m.RedisClient.Close()
	}
	if m.DB != nil {
		sqlDB, err := m.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}
