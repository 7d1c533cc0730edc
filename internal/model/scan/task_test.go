package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(TaskStatusPending, TaskStatusRunning))
	assert.True(t, CanTransition(TaskStatusRunning, TaskStatusFinished))
	assert.True(t, CanTransition(TaskStatusRunning, TaskStatusFailed))
	assert.True(t, CanTransition(TaskStatusRunning, TaskStatusStopped))
	assert.True(t, CanTransition(TaskStatusPending, TaskStatusFailed))

	// pending 不能直接进入终态
	assert.False(t, CanTransition(TaskStatusPending, TaskStatusFinished))
	assert.False(t, CanTransition(TaskStatusPending, TaskStatusStopped))

	// 终态不可迁移
	for _, from := range []TaskStatus{TaskStatusFinished, TaskStatusFailed, TaskStatusStopped} {
		assert.True(t, from.IsTerminal())
		for _, to := range []TaskStatus{TaskStatusPending, TaskStatusRunning, TaskStatusFinished, TaskStatusFailed, TaskStatusStopped} {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestParseSeverity(t *testing.T) {
	cases := map[string]Severity{
		"CRITICAL":  SeverityCritical,
		"High":      SeverityHigh,
		"moderate":  SeverityMedium,
		"low":       SeverityLow,
		"info":      SeverityInfo,
		"":          SeverityMedium,
		"whatever":  SeverityMedium,
		" severe  ": SeverityCritical,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseSeverity(in), in)
	}
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.False(t, SeverityLow.AtLeast(SeverityMedium))
	assert.Equal(t, SeverityMedium.Rank(), Severity("bogus").Rank())
}

func TestScanTaskConfigMap(t *testing.T) {
	task := &ScanTask{}
	assert.Empty(t, task.ConfigMap())

	assert.NoError(t, task.SetConfigMap(map[string]interface{}{"path": "/src"}))
	assert.Equal(t, "/src", task.ConfigMap()["path"])

	task.Config = "{not json"
	assert.Empty(t, task.ConfigMap())
	assert.True(t, ScanTypeBaseline.IsKnown())
	assert.False(t, ScanType("bogus").IsKnown())
}
