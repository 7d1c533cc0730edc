package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"neoaudit/internal/config"
	"neoaudit/internal/model/scan"
)

// NewSQLiteConnection 创建 SQLite 连接，单机/CLI 模式使用
// sqlite_path 为 :memory: 时使用内存库
func NewSQLiteConnection(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}

	// sqlite 只允许单写者，内存库还要求所有操作共享同一连接
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// AutoMigrate 迁移业务表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&scan.ScanTask{})
}
