package postscan

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"neoaudit/internal/model/scan"
	"neoaudit/internal/pkg/logger"
)

// DefaultNotifyChannel 默认发布频道
const DefaultNotifyChannel = "neoaudit:scan:events"

// Event 通知事件
type Event struct {
	Type         string            `json:"type"`
	TaskID       uint64            `json:"task_id"`
	ScanType     scan.ScanType     `json:"scan_type"`
	Target       string            `json:"target"`
	Risk         scan.RiskResult   `json:"risk"`
	FinishReason scan.FinishReason `json:"finish_reason"`
	Findings     []scan.Finding    `json:"findings"`
	DurationSec  float64           `json:"duration"`
}

// NewEvent 由处理输入构造事件
func NewEvent(in *Input) *Event {
	return &Event{
		Type:         "scan.finished",
		TaskID:       in.TaskID,
		ScanType:     in.ScanType,
		Target:       in.Target,
		Risk:         in.Risk,
		FinishReason: in.FinishReason,
		Findings:     in.Findings,
		DurationSec:  in.Duration().Seconds(),
	}
}

// RedisNotifier 通过 Redis Pub/Sub 发布扫描完成事件
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier 创建 Redis 通知器
func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

// Notify 发布事件
func (n *RedisNotifier) Notify(ctx context.Context, in *Input) error {
	payload, err := json.Marshal(NewEvent(in))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", n.channel, err)
	}
	return nil
}

// LogNotifier 未配置 Redis 时的兜底实现，只写日志
type LogNotifier struct{}

// Notify 记录事件摘要
func (LogNotifier) Notify(ctx context.Context, in *Input) error {
	logger.LogSystemEvent("PostScan", "Notify", fmt.Sprintf("task %d finished with risk %s (%d)", in.TaskID, in.Risk.Level, in.Risk.Score), logger.InfoLevel, map[string]interface{}{
		"task_id":       in.TaskID,
		"target":        in.Target,
		"findings":      len(in.Findings),
		"finish_reason": in.FinishReason,
	})
	return nil
}
