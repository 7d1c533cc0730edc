/**
 * 扫描任务模型
 * @author: sun977
 * @date: 2026.10.12
 * @description: ScanTask 持久化实体与任务状态机定义
 */
package scan

import (
	"encoding/json"
	"errors"
	"time"

	"neoaudit/internal/model/base"
)

// ScanType 扫描类型
type ScanType string

const (
	ScanTypeWeb        ScanType = "web_scan"        // Web 爬虫 + 主动扫描
	ScanTypeAPIAttack  ScanType = "api_attack"      // DSL 驱动的 API 攻击
	ScanTypeDependency ScanType = "dependency_scan" // 依赖/代码漏洞扫描
	ScanTypeBaseline   ScanType = "baseline_check"  // 基线检查
)

// KnownScanTypes 已知的扫描类型列表
var KnownScanTypes = []ScanType{ScanTypeWeb, ScanTypeAPIAttack, ScanTypeDependency, ScanTypeBaseline}

// IsKnown 是否为已知扫描类型
func (t ScanType) IsKnown() bool {
	for _, k := range KnownScanTypes {
		if k == t {
			return true
		}
	}
	return false
}

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusPending  TaskStatus = "pending"  // 已创建，等待调度
	TaskStatusRunning  TaskStatus = "running"  // 正在执行
	TaskStatusFinished TaskStatus = "finished" // 正常完成
	TaskStatusFailed   TaskStatus = "failed"   // 执行失败
	TaskStatusStopped  TaskStatus = "stopped"  // 被用户停止
)

// IsTerminal 是否为终态，终态不可再迁移
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusFinished || s == TaskStatusFailed || s == TaskStatusStopped
}

// transitions 合法的状态迁移表
var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending: {TaskStatusRunning, TaskStatusFailed}, // pending -> failed 仅用于遗留回收与写库失败兜底
	TaskStatusRunning: {TaskStatusFinished, TaskStatusFailed, TaskStatusStopped},
}

// ErrIllegalTransition 非法状态迁移
var ErrIllegalTransition = errors.New("illegal task status transition")

// CanTransition 判断 from -> to 是否合法
func CanTransition(from, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FinishReason 任务结束原因，区分正常完成、超时截断与停止
type FinishReason string

const (
	FinishReasonCompleted FinishReason = "completed" // 进度到达 100%
	FinishReasonTimeout   FinishReason = "timeout"   // 墙钟超时，保留部分结果
	FinishReasonDegraded  FinishReason = "degraded"  // 工具不可用/出错，结果不完整
	FinishReasonStopped   FinishReason = "stopped"   // 用户停止
	FinishReasonError     FinishReason = "error"     // 执行异常
)

// ScanTask 扫描任务实体
// 由边界层以 pending 状态创建，之后只由 Supervisor 修改
type ScanTask struct {
	base.BaseModel

	ScanType ScanType   `json:"scan_type" gorm:"size:32;index;not null;comment:扫描类型"`
	Target   string     `json:"target" gorm:"size:512;not null;comment:扫描目标"`
	Config   string     `json:"config" gorm:"type:text;comment:扫描配置(JSON)"`
	Status   TaskStatus `json:"status" gorm:"size:20;index;default:'pending';comment:任务状态(pending/running/finished/failed/stopped)"`
	Progress int        `json:"progress" gorm:"default:0;comment:进度(0-100)"`

	StartTime *time.Time `json:"start_time" gorm:"comment:开始时间"`
	EndTime   *time.Time `json:"end_time" gorm:"comment:结束时间"`
	Duration  float64    `json:"duration" gorm:"default:0;comment:耗时(秒)"`

	RiskScore       int          `json:"risk_score" gorm:"default:0;comment:风险评分"`
	RiskLevel       string       `json:"risk_level" gorm:"size:20;comment:风险等级"`
	VulnSummary     string       `json:"vuln_summary" gorm:"type:text;comment:漏洞统计(JSON)"`
	Vulnerabilities string       `json:"vulnerabilities" gorm:"type:longtext;comment:漏洞列表(JSON)"`
	ReportContent   string       `json:"report_content" gorm:"type:longtext;comment:报告内容(Markdown)"`
	ErrorMessage    string       `json:"error_message" gorm:"type:text;comment:错误信息"`
	FinishReason    FinishReason `json:"finish_reason" gorm:"size:20;comment:结束原因"`
}

// TableName 定义表名
func (ScanTask) TableName() string {
	return "scan_tasks"
}

// ConfigMap 解析 Config 字段，解析失败时返回空 map
func (t *ScanTask) ConfigMap() map[string]interface{} {
	cfg := make(map[string]interface{})
	if t.Config == "" {
		return cfg
	}
	if err := json.Unmarshal([]byte(t.Config), &cfg); err != nil {
		return make(map[string]interface{})
	}
	return cfg
}

// SetConfigMap 序列化配置
func (t *ScanTask) SetConfigMap(cfg map[string]interface{}) error {
	if cfg == nil {
		t.Config = "{}"
		return nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	t.Config = string(data)
	return nil
}

// Findings 反序列化 Vulnerabilities 字段
func (t *ScanTask) Findings() ([]Finding, error) {
	if t.Vulnerabilities == "" {
		return nil, nil
	}
	var findings []Finding
	if err := json.Unmarshal([]byte(t.Vulnerabilities), &findings); err != nil {
		return nil, err
	}
	return findings, nil
}

// TerminalUpdate 终态落库字段，由 Supervisor 一次性写入
type TerminalUpdate struct {
	Status       TaskStatus
	FinishReason FinishReason
	EndTime      time.Time
	Duration     float64
	ErrorMessage string

	// 以下字段仅 finished 写入
	Risk            *RiskResult
	Vulnerabilities string
	ReportContent   string
}
