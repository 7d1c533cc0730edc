package registry

import (
	"fmt"
	"sort"
	"sync"

	"neoaudit/internal/pkg/tool_adapter/command"
	"neoaudit/internal/pkg/tool_adapter/parser"
)

// Adapter 封装了一个命令行工具的适配逻辑：怎么调用、怎么解析
type Adapter struct {
	Name    string
	Builder command.CommandBuilder
	Parser  parser.Parser
}

// ToolRegistry 工具注册中心
type ToolRegistry struct {
	adapters map[string]*Adapter
	mu       sync.RWMutex
}

// NewToolRegistry 创建注册中心
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{adapters: make(map[string]*Adapter)}
}

// Register 注册一个工具适配器，同名覆盖
func (r *ToolRegistry) Register(name string, builder command.CommandBuilder, p parser.Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = &Adapter{Name: name, Builder: builder, Parser: p}
}

// RegisterTemplate 以命令模板注册，解析器按同名从 parser 包查找
// allowed 为模板可读取的任务参数键
func (r *ToolRegistry) RegisterTemplate(name, binary, tmpl string, defaults map[string]interface{}, allowed ...string) error {
	builder, err := command.NewTemplateBuilder(binary, tmpl, defaults, allowed...)
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	p, ok := parser.Get(name)
	if !ok {
		return fmt.Errorf("register %s: no parser for tool", name)
	}
	r.Register(name, builder, p)
	return nil
}

// Get 获取工具适配器
func (r *ToolRegistry) Get(name string) (*Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, exists := r.adapters[name]
	if !exists {
		return nil, fmt.Errorf("tool adapter not found: %s", name)
	}
	if adapter.Builder == nil {
		return nil, fmt.Errorf("command builder not implemented for tool: %s", name)
	}
	if adapter.Parser == nil {
		return nil, fmt.Errorf("result parser not implemented for tool: %s", name)
	}
	return adapter, nil
}

// Names 已注册工具
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
