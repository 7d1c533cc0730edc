/**
 * 配置管理
 * @author: sun977
 * @date: 2026.10.12
 * @description: 扫描编排服务配置结构定义
 */
package config

import (
	"fmt"
	"time"
)

// Config 全局配置
type Config struct {
	App      *AppConfig      `yaml:"app" mapstructure:"app"`
	Server   *ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      *LogConfig      `yaml:"log" mapstructure:"log"`
	Database *DatabaseConfig `yaml:"database" mapstructure:"database"`
	Redis    *RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Scan     *ScanConfig     `yaml:"scan" mapstructure:"scan"`
	PostScan *PostScanConfig `yaml:"post_scan" mapstructure:"post_scan"`
	Security *SecurityConfig `yaml:"security" mapstructure:"security"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`               // 应用名称
	Version     string `yaml:"version" mapstructure:"version"`         // 应用版本
	Environment string `yaml:"environment" mapstructure:"environment"` // 运行环境
	Debug       bool   `yaml:"debug" mapstructure:"debug"`             // 调试模式
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host           string        `yaml:"host" mapstructure:"host"`                         // 监听地址
	Port           int           `yaml:"port" mapstructure:"port"`                         // 监听端口
	Mode           string        `yaml:"mode" mapstructure:"mode"`                         // 运行模式 (debug/release/test)
	Prefix         string        `yaml:"prefix" mapstructure:"prefix"`                     // 路由前缀
	ReadTimeout    time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`         // 读取超时
	WriteTimeout   time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`       // 写入超时
	IdleTimeout    time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`         // 空闲超时
	MaxHeaderBytes int           `yaml:"max_header_bytes" mapstructure:"max_header_bytes"` // 最大头部字节数
}

// Addr 监听地址
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`             // 日志级别 (debug/info/warn/error)
	Format     string `yaml:"format" mapstructure:"format"`           // 日志格式 (json/text)
	Output     string `yaml:"output" mapstructure:"output"`           // 日志输出 (stdout/stderr/file)
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`     // 日志文件路径
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // 最大文件大小（MB）
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // 最大备份数
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // 最大保留天数
	Compress   bool   `yaml:"compress" mapstructure:"compress"`       // 是否压缩
	Caller     bool   `yaml:"caller" mapstructure:"caller"`           // 是否显示调用者信息
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type            string        `yaml:"type" mapstructure:"type"`                             // mysql / sqlite
	Host            string        `yaml:"host" mapstructure:"host"`                             // 主机地址
	Port            int           `yaml:"port" mapstructure:"port"`                             // 端口
	Username        string        `yaml:"username" mapstructure:"username"`                     // 用户名
	Password        string        `yaml:"password" mapstructure:"password"`                     // 密码
	Database        string        `yaml:"database" mapstructure:"database"`                     // 数据库名
	Charset         string        `yaml:"charset" mapstructure:"charset"`                       // 字符集
	ParseTime       bool          `yaml:"parse_time" mapstructure:"parse_time"`                 // 是否解析时间
	Loc             string        `yaml:"loc" mapstructure:"loc"`                               // 时区
	SQLitePath      string        `yaml:"sqlite_path" mapstructure:"sqlite_path"`               // sqlite 文件路径 (:memory: 为内存库)
	LogLevel        string        `yaml:"log_level" mapstructure:"log_level"`                   // GORM 日志级别
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`         // 最大空闲连接数
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`         // 最大打开连接数
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`   // 连接最大生存时间
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"` // 连接最大空闲时间
	AutoMigrate     bool          `yaml:"auto_migrate" mapstructure:"auto_migrate"`             // 启动时自动迁移
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`     // 是否启用
	Host     string `yaml:"host" mapstructure:"host"`           // 主机地址
	Port     int    `yaml:"port" mapstructure:"port"`           // 端口
	Password string `yaml:"password" mapstructure:"password"`   // 密码
	DB       int    `yaml:"db" mapstructure:"db"`               // 数据库编号
	PoolSize int    `yaml:"pool_size" mapstructure:"pool_size"` // 连接池大小
}

// ScanConfig 扫描引擎配置
type ScanConfig struct {
	PollInterval time.Duration         `yaml:"poll_interval" mapstructure:"poll_interval"` // 轮询间隔
	StopGrace    time.Duration         `yaml:"stop_grace" mapstructure:"stop_grace"`       // 停止信号未被确认时，强制取消前的等待时间
	Web          *WebScanConfig        `yaml:"web" mapstructure:"web"`
	Attack       *AttackScanConfig     `yaml:"attack" mapstructure:"attack"`
	Dependency   *DependencyScanConfig `yaml:"dependency" mapstructure:"dependency"`
	Baseline     *BaselineScanConfig   `yaml:"baseline" mapstructure:"baseline"`
}

// WebScanConfig ZAP 守护进程配置
type WebScanConfig struct {
	ZapAddress     string        `yaml:"zap_address" mapstructure:"zap_address"`         // ZAP API 地址
	APIKey         string        `yaml:"api_key" mapstructure:"api_key"`                 // ZAP API Key
	MaxDuration    time.Duration `yaml:"max_duration" mapstructure:"max_duration"`       // 整体墙钟时限
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"` // 单次 API 调用超时
	MaxPollErrors  int           `yaml:"max_poll_errors" mapstructure:"max_poll_errors"` // 连续轮询失败上限
}

// AttackScanConfig API 攻击配置
type AttackScanConfig struct {
	DSLDir         string        `yaml:"dsl_dir" mapstructure:"dsl_dir"`                 // 攻击 DSL 目录
	RateLimit      float64       `yaml:"rate_limit" mapstructure:"rate_limit"`           // 每秒请求数
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"` // 单请求超时
	MaxBodyBytes   int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`   // 响应体读取上限
}

// ToolConfig 外部工具配置
type ToolConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`   // 是否启用
	Binary   string `yaml:"binary" mapstructure:"binary"`     // 可执行文件
	Template string `yaml:"template" mapstructure:"template"` // 命令模板，为空使用内置模板
}

// DependencyScanConfig 依赖扫描配置
type DependencyScanConfig struct {
	ToolTimeout time.Duration          `yaml:"tool_timeout" mapstructure:"tool_timeout"` // 单个子工具超时
	Tools       map[string]*ToolConfig `yaml:"tools" mapstructure:"tools"`               // 子工具配置，key 为工具名
}

// BaselineScanConfig 基线检查配置
type BaselineScanConfig struct {
	Nuclei         *ToolConfig   `yaml:"nuclei" mapstructure:"nuclei"`
	ToolTimeout    time.Duration `yaml:"tool_timeout" mapstructure:"tool_timeout"`       // nuclei 超时
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"` // 头部探测超时
	Severity       []string      `yaml:"severity" mapstructure:"severity"`               // nuclei 严重程度过滤
}

// PostScanConfig 扫描后处理配置
type PostScanConfig struct {
	Report *ReportConfig `yaml:"report" mapstructure:"report"`
	Ticket *TicketConfig `yaml:"ticket" mapstructure:"ticket"`
	Notify *NotifyConfig `yaml:"notify" mapstructure:"notify"`
}

// ReportConfig 报告配置
type ReportConfig struct {
	TemplateFile string `yaml:"template_file" mapstructure:"template_file"` // 自定义 Markdown 模板
}

// TicketConfig 缺陷工单配置
type TicketConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	Endpoint    string        `yaml:"endpoint" mapstructure:"endpoint"`         // 工单系统 Webhook
	Token       string        `yaml:"token" mapstructure:"token"`               // Bearer Token
	MinSeverity string        `yaml:"min_severity" mapstructure:"min_severity"` // 建单最低等级
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// NotifyConfig 通知配置
type NotifyConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Channel string `yaml:"channel" mapstructure:"channel"` // Redis 发布频道
}

// SecurityConfig 目标安全策略
type SecurityConfig struct {
	AllowPublicTargets bool     `yaml:"allow_public_targets" mapstructure:"allow_public_targets"` // 允许公网目标
	ExtraAllowedCIDRs  []string `yaml:"extra_allowed_cidrs" mapstructure:"extra_allowed_cidrs"`   // 额外允许的网段
}
