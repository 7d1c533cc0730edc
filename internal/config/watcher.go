package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher 配置文件监听器
// 使用 fsnotify 监听配置文件写入，防抖后重新加载并依次执行回调
// 任一回调失败时保留旧配置
type ConfigWatcher struct {
	loader      *ConfigLoader
	config      *Config
	watcher     *fsnotify.Watcher
	callbacks   []ConfigChangeCallback
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	reloadDelay time.Duration
	timer       *time.Timer
	onError     func(error)
}

// ConfigChangeCallback 配置变更回调函数
type ConfigChangeCallback func(oldConfig, newConfig *Config) error

// NewConfigWatcher 创建配置监听器
func NewConfigWatcher(configPath string) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ConfigWatcher{
		loader:      NewConfigLoader(configPath, DefaultEnvPrefix),
		watcher:     watcher,
		ctx:         ctx,
		cancel:      cancel,
		reloadDelay: 500 * time.Millisecond, // 防抖延迟
		onError:     func(error) {},
	}, nil
}

// SetErrorHandler 设置重载失败时的处理函数（一般用于写日志）
func (cw *ConfigWatcher) SetErrorHandler(fn func(error)) {
	if fn != nil {
		cw.onError = fn
	}
}

// SetReloadDelay 设置防抖延迟
func (cw *ConfigWatcher) SetReloadDelay(d time.Duration) {
	cw.reloadDelay = d
}

// Start 启动配置监听
func (cw *ConfigWatcher) Start() error {
	cfg, err := cw.loader.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load initial config: %w", err)
	}
	cw.mu.Lock()
	cw.config = cfg
	cw.mu.Unlock()

	configFile := cw.loader.GetConfigPath()
	if configFile == "" {
		return fmt.Errorf("config file path is empty")
	}
	if err := cw.watcher.Add(configFile); err != nil {
		return fmt.Errorf("failed to watch config file %s: %w", configFile, err)
	}

	go cw.watchLoop()
	return nil
}

// Stop 停止配置监听
func (cw *ConfigWatcher) Stop() error {
	cw.cancel()
	cw.mu.Lock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.mu.Unlock()
	return cw.watcher.Close()
}

// GetConfig 获取当前配置
func (cw *ConfigWatcher) GetConfig() *Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

// AddCallback 添加配置变更回调
func (cw *ConfigWatcher) AddCallback(callback ConfigChangeCallback) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

func (cw *ConfigWatcher) watchLoop() {
	for {
		select {
		case <-cw.ctx.Done():
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				cw.scheduleReload()
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.onError(fmt.Errorf("config watcher error: %w", err))
		}
	}
}

// scheduleReload 连续写入只触发一次重载
func (cw *ConfigWatcher) scheduleReload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(cw.reloadDelay, func() {
		if cw.ctx.Err() != nil {
			return
		}
		if err := cw.reloadConfig(); err != nil {
			cw.onError(err)
		}
	})
}

// reloadConfig 重新加载配置
func (cw *ConfigWatcher) reloadConfig() error {
	// 每次重载使用新的 viper 实例，避免残留旧键
	loader := NewConfigLoader(cw.loader.GetConfigPath(), cw.loader.envPrefix)
	newConfig, err := loader.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	cw.mu.RLock()
	oldConfig := cw.config
	callbacks := append([]ConfigChangeCallback(nil), cw.callbacks...)
	cw.mu.RUnlock()

	for _, callback := range callbacks {
		if err := callback(oldConfig, newConfig); err != nil {
			return fmt.Errorf("config change callback failed: %w", err)
		}
	}

	cw.mu.Lock()
	cw.config = newConfig
	cw.mu.Unlock()
	return nil
}
