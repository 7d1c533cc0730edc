package command

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// CommandBuilder 定义命令构建接口
// 它的职责是将抽象的配置转换为具体的操作系统命令
type CommandBuilder interface {
	// Build 根据目标和任务参数生成可执行文件与参数列表
	Build(target string, params map[string]interface{}) (string, []string, error)
}

// TemplateCommandBuilder 基于 Go Template 的通用命令构建器
// 模板可使用 sprig 函数，如 {{ .Target | squote }}、{{ default "json" .Format }}
// 二进制只来自服务端配置；Target 与任务参数按不透明值处理，切分后原样落在单个参数内
type TemplateCommandBuilder struct {
	BinaryPath    string                 // 二进制
	TemplateStr   string                 // 命令模板字符串，约定以 {{.Binary}} 开头
	DefaultParams map[string]interface{} // 默认参数，来自服务端配置
	AllowedParams []string               // 允许从任务参数读取的键

	tmpl *template.Template
}

// NewTemplateBuilder 创建模板构建器，模板在创建时解析
func NewTemplateBuilder(binary string, tmpl string, defaults map[string]interface{}, allowed ...string) (*TemplateCommandBuilder, error) {
	// missingkey=zero 允许模板引用不存在的参数
	parsed, err := template.New("cmd").Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command template: %w", err)
	}
	return &TemplateCommandBuilder{
		BinaryPath:    binary,
		TemplateStr:   tmpl,
		DefaultParams: defaults,
		AllowedParams: allowed,
		tmpl:          parsed,
	}, nil
}

// Build 根据目标和任务参数生成命令
// 模板上下文数据 = DefaultParams + params 中允许的键 + {"Target": target, "Binary": binary}
func (b *TemplateCommandBuilder) Build(target string, params map[string]interface{}) (string, []string, error) {
	if err := checkValue("target", target); err != nil {
		return "", nil, err
	}

	data := make(map[string]interface{}, len(b.DefaultParams)+len(b.AllowedParams)+2)
	for k, v := range b.DefaultParams {
		data[k] = v
	}

	// 外部输入先以占位符渲染，切分后再替换
	var values []string
	placeholder := func(v string) string {
		values = append(values, v)
		return fmt.Sprintf("\x00%d\x00", len(values)-1)
	}
	for _, key := range b.AllowedParams {
		raw, ok := params[key]
		if !ok || raw == nil {
			continue
		}
		v := fmt.Sprint(raw)
		if err := checkValue(key, v); err != nil {
			return "", nil, err
		}
		if v == "" {
			data[key] = ""
			continue
		}
		data[key] = placeholder(v)
	}
	data["Target"] = placeholder(target)
	data["Binary"] = b.BinaryPath

	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, data); err != nil {
		return "", nil, fmt.Errorf("failed to execute command template: %w", err)
	}

	args, err := SplitArgs(buf.String())
	if err != nil {
		return "", nil, err
	}
	if len(args) == 0 || args[0] == "" {
		return "", nil, fmt.Errorf("generated command is empty")
	}
	if args[0] != b.BinaryPath {
		return "", nil, fmt.Errorf("command template must start with {{.Binary}}")
	}
	for i := 1; i < len(args); i++ {
		if args[i], err = substitute(args[i], values); err != nil {
			return "", nil, err
		}
	}
	return args[0], args[1:], nil
}

// checkValue 拒绝会被当作选项或破坏占位符的外部输入
func checkValue(name, v string) error {
	if strings.HasPrefix(strings.TrimSpace(v), "-") {
		return fmt.Errorf("%s must not start with '-': %q", name, v)
	}
	if strings.ContainsRune(v, 0) {
		return fmt.Errorf("%s contains NUL byte", name)
	}
	return nil
}

// substitute 将参数中的占位符替换为原值
func substitute(arg string, values []string) (string, error) {
	if !strings.ContainsRune(arg, 0) {
		return arg, nil
	}
	var out strings.Builder
	for {
		i := strings.IndexByte(arg, 0)
		if i < 0 {
			out.WriteString(arg)
			return out.String(), nil
		}
		j := strings.IndexByte(arg[i+1:], 0)
		if j < 0 {
			return "", fmt.Errorf("malformed command argument")
		}
		idx, err := strconv.Atoi(arg[i+1 : i+1+j])
		if err != nil || idx < 0 || idx >= len(values) {
			return "", fmt.Errorf("malformed command argument")
		}
		out.WriteString(arg[:i])
		out.WriteString(values[idx])
		arg = arg[i+j+2:]
	}
}

// SplitArgs 按 shell 规则切分参数，支持单引号、双引号和反斜杠转义
// 不做变量展开和通配，生成的参数直接交给 exec
func SplitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inArg   bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\\':
			escaped = true
			inArg = true
		case quote == '"':
			if r == '"' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inArg = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in command: %s", line)
	}
	if escaped {
		return nil, fmt.Errorf("trailing backslash in command: %s", line)
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}
