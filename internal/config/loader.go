package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix 环境变量前缀
const DefaultEnvPrefix = "NEOAUDIT"

// ConfigLoader 配置加载器
// configPath 可以是目录（按 config.<env>.yaml -> config.yaml 顺序查找）也可以是具体文件
type ConfigLoader struct {
	configPath string
	envPrefix  string
	viper      *viper.Viper
}

// NewConfigLoader 创建配置加载器
func NewConfigLoader(configPath, envPrefix string) *ConfigLoader {
	if envPrefix == "" {
		envPrefix = DefaultEnvPrefix
	}
	return &ConfigLoader{
		configPath: configPath,
		envPrefix:  envPrefix,
		viper:      viper.New(),
	}
}

// LoadConfig 加载配置
// 优先级：环境变量 > 配置文件 > 默认值
func (cl *ConfigLoader) LoadConfig() (*Config, error) {
	// .env 文件可选，不存在时忽略
	_ = godotenv.Load()

	cl.viper.SetConfigType("yaml")
	cl.viper.SetEnvPrefix(cl.envPrefix)
	cl.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cl.viper.AutomaticEnv()

	cl.bindEnvVars()
	cl.setDefaults()

	if err := cl.loadConfigFile(); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	var cfg Config
	if err := cl.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// loadConfigFile 加载配置文件
func (cl *ConfigLoader) loadConfigFile() error {
	if cl.configPath == "" {
		if envPath := os.Getenv(cl.envPrefix + "_CONFIG_PATH"); envPath != "" {
			cl.configPath = envPath
		} else {
			cl.configPath = "./configs"
		}
	}

	// 指定了具体文件
	if info, err := os.Stat(cl.configPath); err == nil && !info.IsDir() {
		cl.viper.SetConfigFile(cl.configPath)
		return cl.viper.ReadInConfig()
	}

	cl.viper.AddConfigPath(cl.configPath)
	cl.viper.AddConfigPath("./configs")
	cl.viper.AddConfigPath(".")

	// 先尝试环境特定的配置文件
	cl.viper.SetConfigName(fmt.Sprintf("config.%s", cl.getEnvironment()))
	if err := cl.viper.ReadInConfig(); err != nil {
		cl.viper.SetConfigName("config")
		if err := cl.viper.ReadInConfig(); err != nil {
			return fmt.Errorf("config file not found: %w", err)
		}
	}
	return nil
}

// getEnvironment 获取运行环境
func (cl *ConfigLoader) getEnvironment() string {
	env := os.Getenv(cl.envPrefix + "_ENV")
	if env == "" {
		env = os.Getenv("GO_ENV")
	}
	if env == "" {
		env = "development"
	}
	return env
}

// bindEnvVars 绑定常用的环境变量别名
func (cl *ConfigLoader) bindEnvVars() {
	p := cl.envPrefix
	_ = cl.viper.BindEnv("server.port", p+"_SERVER_PORT")
	_ = cl.viper.BindEnv("database.type", p+"_DB_TYPE")
	_ = cl.viper.BindEnv("database.host", p+"_DB_HOST")
	_ = cl.viper.BindEnv("database.port", p+"_DB_PORT")
	_ = cl.viper.BindEnv("database.username", p+"_DB_USERNAME")
	_ = cl.viper.BindEnv("database.password", p+"_DB_PASSWORD")
	_ = cl.viper.BindEnv("database.database", p+"_DB_DATABASE")
	_ = cl.viper.BindEnv("redis.password", p+"_REDIS_PASSWORD")
	_ = cl.viper.BindEnv("scan.web.api_key", p+"_ZAP_API_KEY")
	_ = cl.viper.BindEnv("post_scan.ticket.token", p+"_TICKET_TOKEN")
	_ = cl.viper.BindEnv("log.level", p+"_LOG_LEVEL")
}

// setDefaults 设置默认值
func (cl *ConfigLoader) setDefaults() {
	for key, value := range defaultValues() {
		cl.viper.SetDefault(key, value)
	}
}

// defaultValues 默认配置项
func defaultValues() map[string]interface{} {
	return map[string]interface{}{
		"app.name":        "NeoAudit",
		"app.version":     "1.0.0",
		"app.environment": "development",
		"app.debug":       false,

		"server.host":             "0.0.0.0",
		"server.port":             8090,
		"server.mode":             "release",
		"server.prefix":           "/api/v1",
		"server.read_timeout":     "30s",
		"server.write_timeout":    "30s",
		"server.idle_timeout":     "60s",
		"server.max_header_bytes": 1048576,

		"log.level":       "info",
		"log.format":      "json",
		"log.output":      "stdout",
		"log.file_path":   "./logs/neoaudit.log",
		"log.max_size":    100,
		"log.max_backups": 3,
		"log.max_age":     28,
		"log.compress":    true,
		"log.caller":      false,

		"database.type":               "sqlite",
		"database.sqlite_path":        "./data/neoaudit.db",
		"database.host":               "localhost",
		"database.port":               3306,
		"database.charset":            "utf8mb4",
		"database.parse_time":         true,
		"database.loc":                "Local",
		"database.log_level":          "warn",
		"database.max_idle_conns":     10,
		"database.max_open_conns":     50,
		"database.conn_max_lifetime":  "1h",
		"database.conn_max_idle_time": "10m",
		"database.auto_migrate":       true,

		"redis.enabled":   false,
		"redis.host":      "localhost",
		"redis.port":      6379,
		"redis.db":        0,
		"redis.pool_size": 10,

		"scan.poll_interval":            "2s",
		"scan.stop_grace":               "30s",
		"scan.web.zap_address":          "http://127.0.0.1:8080",
		"scan.web.max_duration":         "1h",
		"scan.web.request_timeout":      "10s",
		"scan.web.max_poll_errors":      3,
		"scan.attack.dsl_dir":           "./configs/attacks",
		"scan.attack.rate_limit":        10.0,
		"scan.attack.request_timeout":   "10s",
		"scan.attack.max_body_bytes":    1048576,
		"scan.dependency.tool_timeout":  "10m",
		"scan.baseline.tool_timeout":    "10m",
		"scan.baseline.request_timeout": "10s",
		"scan.baseline.nuclei.enabled":  true,
		"scan.baseline.nuclei.binary":   "nuclei",

		"post_scan.ticket.enabled":      false,
		"post_scan.ticket.min_severity": "high",
		"post_scan.ticket.timeout":      "10s",
		"post_scan.notify.enabled":      false,
		"post_scan.notify.channel":      "neoaudit:scan:events",

		"security.allow_public_targets": false,
	}
}

// Validate 校验配置并补齐运行期必须的零值
func Validate(cfg *Config) error {
	if cfg.Server == nil || cfg.Log == nil || cfg.Database == nil || cfg.Scan == nil {
		return fmt.Errorf("server, log, database and scan sections are required")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	switch strings.ToLower(cfg.Database.Type) {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}
	if cfg.Scan.PollInterval <= 0 {
		cfg.Scan.PollInterval = 2 * time.Second
	}
	if cfg.Scan.StopGrace <= 0 {
		cfg.Scan.StopGrace = 30 * time.Second
	}
	if cfg.Scan.Web == nil {
		cfg.Scan.Web = &WebScanConfig{}
	}
	if cfg.Scan.Attack == nil {
		cfg.Scan.Attack = &AttackScanConfig{}
	}
	if cfg.Scan.Dependency == nil {
		cfg.Scan.Dependency = &DependencyScanConfig{}
	}
	if cfg.Scan.Baseline == nil {
		cfg.Scan.Baseline = &BaselineScanConfig{}
	}
	if cfg.PostScan == nil {
		cfg.PostScan = &PostScanConfig{}
	}
	if cfg.Security == nil {
		cfg.Security = &SecurityConfig{}
	}
	if cfg.Redis == nil {
		cfg.Redis = &RedisConfig{}
	}
	return nil
}

// GetConfigPath 获取实际使用的配置文件路径
func (cl *ConfigLoader) GetConfigPath() string {
	return cl.viper.ConfigFileUsed()
}

// LoadConfigFromFile 从指定文件加载配置
func LoadConfigFromFile(configFile string) (*Config, error) {
	return NewConfigLoader(configFile, DefaultEnvPrefix).LoadConfig()
}

// LoadConfig 按目录加载配置，为空时使用 ./configs
func LoadConfig(configDir string) (*Config, error) {
	if configDir != "" {
		configDir = filepath.Clean(configDir)
	}
	return NewConfigLoader(configDir, DefaultEnvPrefix).LoadConfig()
}
