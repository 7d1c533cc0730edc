package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// 任务配置 (map[string]interface{}) 来自 JSON，数字统一为 float64，以下函数做宽松读取

// MapString 读取字符串，类型不符返回默认值
func MapString(m map[string]interface{}, key, def string) string {
	if v, ok := m[key]; ok {
		switch val := v.(type) {
		case string:
			if val != "" {
				return val
			}
		case fmt.Stringer:
			return val.String()
		}
	}
	return def
}

// MapBool 读取布尔值，兼容 "true"/"false" 字符串
func MapBool(m map[string]interface{}, key string, def bool) bool {
	v, ok := m[key]
	if !ok {
		return def
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return StringToBool(val, def)
	case float64:
		return val != 0
	case int:
		return val != 0
	}
	return def
}

// MapInt 读取整数
func MapInt(m map[string]interface{}, key string, def int) int {
	v, ok := m[key]
	if !ok {
		return def
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case int64:
		return int(val)
	case string:
		return StringToInt(val, def)
	}
	return def
}

// MapDuration 读取时长，字符串按 time.ParseDuration 解析，数字按秒处理
func MapDuration(m map[string]interface{}, key string, def time.Duration) time.Duration {
	v, ok := m[key]
	if !ok {
		return def
	}
	switch val := v.(type) {
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(val)); err == nil && d > 0 {
			return d
		}
		if secs, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	case float64:
		if val > 0 {
			return time.Duration(val * float64(time.Second))
		}
	case int:
		if val > 0 {
			return time.Duration(val) * time.Second
		}
	case time.Duration:
		if val > 0 {
			return val
		}
	}
	return def
}

// MapStrings 读取字符串列表，兼容逗号分隔字符串
func MapStrings(m map[string]interface{}, key string) []string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		return StringToSlice(val, ",")
	}
	return nil
}

// StringToInt 字符串转int
func StringToInt(str string, defaultValue int) int {
	if str == "" {
		return defaultValue
	}
	if val, err := strconv.Atoi(strings.TrimSpace(str)); err == nil {
		return val
	}
	return defaultValue
}

// StringToBool 字符串转bool
func StringToBool(str string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(str)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return defaultValue
}

// StringToSlice 字符串按分隔符切分，去除空白项
func StringToSlice(str, separator string) []string {
	if str == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(str, separator) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
