package storage

import (
	"context"
)

// 运行状态
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// RunRecord 一次运行的记录（对外导出）
// 时间均为毫秒时间戳
type RunRecord struct {
	ID         string   `json:"id"`
	Status     string   `json:"status"`
	StartedAt  int64    `json:"started_at"`
	FinishedAt int64    `json:"finished_at,omitempty"`
	StartDate  int      `json:"start_date"`
	EndDate    int      `json:"end_date"`
	Total      int      `json:"total"`
	Failed     []string `json:"failed,omitempty"`
	Message    string   `json:"message,omitempty"`
	RunDir     string   `json:"run_dir,omitempty"`
}

// EventRecord 运行过程中的一条事件
type EventRecord struct {
	ID        int64  `json:"id"`
	RunID     string `json:"run_id"`
	Type      string `json:"type"`
	Module    string `json:"module,omitempty"`
	Worker    string `json:"worker,omitempty"`
	Message   string `json:"message,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// JournalRepository 运行日志存储接口（对外导出）
type JournalRepository interface {
	// CreateRun 记录运行开始
	CreateRun(ctx context.Context, run *RunRecord) error
	// FinishRun 更新运行结果
	FinishRun(ctx context.Context, run *RunRecord) error
	// GetRun 按ID查询
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	// ListRuns 按开始时间倒序列出最近的运行
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)
	// AppendEvent 追加事件
	AppendEvent(ctx context.Context, ev *EventRecord) error
	// ListEvents 按时间顺序列出某次运行的事件
	ListEvents(ctx context.Context, runID string) ([]*EventRecord, error)
	// Close 关闭连接
	Close() error
}
