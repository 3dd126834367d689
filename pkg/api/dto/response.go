package dto

// APIResponse 通用API响应结构
type APIResponse[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) APIResponse[any] {
	return APIResponse[any]{
		Code:    code,
		Message: message,
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// ProgressInfo 当前运行进度
type ProgressInfo struct {
	RunID          string   `json:"run_id,omitempty"`
	Total          int      `json:"total"`
	Completed      int      `json:"completed"`
	Skipped        int      `json:"skipped"`
	Running        int      `json:"running"`
	Failed         int      `json:"failed"`
	Pending        int      `json:"pending"`
	Finished       bool     `json:"finished"`
	Elapsed        string   `json:"elapsed,omitempty"`
	RunningModules []string `json:"running_modules,omitempty"`
	FailedModules  []string `json:"failed_modules,omitempty"`
}

// RunSummary 运行记录摘要
type RunSummary struct {
	ID         string   `json:"id"`
	Status     string   `json:"status"`
	StartedAt  string   `json:"started_at"`
	FinishedAt string   `json:"finished_at,omitempty"`
	Duration   string   `json:"duration,omitempty"`
	StartDate  int      `json:"start_date,omitempty"`
	EndDate    int      `json:"end_date,omitempty"`
	Total      int      `json:"total"`
	Failed     []string `json:"failed,omitempty"`
	Message    string   `json:"message,omitempty"`
	RunDir     string   `json:"run_dir,omitempty"`
}

// HistoryResponse 运行历史
type HistoryResponse struct {
	Total int          `json:"total"`
	Items []RunSummary `json:"items"`
}

// EventItem 运行事件
type EventItem struct {
	Type      string `json:"type"`
	Module    string `json:"module,omitempty"`
	Worker    string `json:"worker,omitempty"`
	Message   string `json:"message,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
	CreatedAt string `json:"created_at"`
}
