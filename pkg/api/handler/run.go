package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/sim-runner/pkg/api/dto"
	"github.com/LENAX/sim-runner/pkg/core/engine"
	"github.com/LENAX/sim-runner/pkg/storage"
)

// RunHandler 运行进度与运行历史API处理器
type RunHandler struct {
	progress *engine.ProgressTracker
	journal  storage.JournalRepository
}

// NewRunHandler 创建RunHandler，journal为nil时历史接口返回503
func NewRunHandler(progress *engine.ProgressTracker, journal storage.JournalRepository) *RunHandler {
	return &RunHandler{progress: progress, journal: journal}
}

// Progress 当前运行进度
// GET /api/v1/progress
func (h *RunHandler) Progress(c *gin.Context) {
	if h.progress == nil {
		c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ProgressInfo{}))
		return
	}
	snap := h.progress.Snapshot()
	info := dto.ProgressInfo{
		RunID:          snap.RunID,
		Total:          snap.Total,
		Completed:      snap.Completed,
		Skipped:        snap.Skipped,
		Running:        snap.Running,
		Failed:         snap.Failed,
		Pending:        snap.Pending,
		Finished:       snap.Finished,
		RunningModules: snap.RunningModules,
		FailedModules:  snap.FailedModules,
	}
	if !snap.StartedAt.IsZero() {
		info.Elapsed = formatDuration(time.Since(snap.StartedAt))
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(info))
}

// List 列出最近的运行
// GET /api/v1/runs
func (h *RunHandler) List(c *gin.Context) {
	if !h.requireJournal(c) {
		return
	}
	var query dto.HistoryQueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("查询参数错误: %v", err)))
		return
	}

	runs, err := h.journal.ListRuns(c.Request.Context(), query.GetDefaultLimit())
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("查询运行记录失败: %v", err)))
		return
	}
	items := make([]dto.RunSummary, 0, len(runs))
	for _, run := range runs {
		items = append(items, toRunSummary(run))
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.HistoryResponse{Total: len(items), Items: items}))
}

// Get 查询单次运行
// GET /api/v1/runs/:id
func (h *RunHandler) Get(c *gin.Context) {
	if !h.requireJournal(c) {
		return
	}
	run, err := h.journal.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, fmt.Sprintf("运行不存在: %s", c.Param("id"))))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, err.Error()))
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(toRunSummary(run)))
}

// Events 查询单次运行的事件
// GET /api/v1/runs/:id/events
func (h *RunHandler) Events(c *gin.Context) {
	if !h.requireJournal(c) {
		return
	}
	events, err := h.journal.ListEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, err.Error()))
		return
	}
	items := make([]dto.EventItem, 0, len(events))
	for _, ev := range events {
		items = append(items, dto.EventItem{
			Type:      ev.Type,
			Module:    ev.Module,
			Worker:    ev.Worker,
			Message:   ev.Message,
			Skipped:   ev.Skipped,
			CreatedAt: time.UnixMilli(ev.CreatedAt).Format(time.RFC3339Nano),
		})
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(items))
}

func (h *RunHandler) requireJournal(c *gin.Context) bool {
	if h.journal == nil {
		c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse(503, "运行日志未配置"))
		return false
	}
	return true
}

func toRunSummary(run *storage.RunRecord) dto.RunSummary {
	s := dto.RunSummary{
		ID:        run.ID,
		Status:    run.Status,
		StartedAt: time.UnixMilli(run.StartedAt).Format(time.RFC3339),
		StartDate: run.StartDate,
		EndDate:   run.EndDate,
		Total:     run.Total,
		Failed:    run.Failed,
		Message:   run.Message,
		RunDir:    run.RunDir,
	}
	if run.FinishedAt > 0 {
		s.FinishedAt = time.UnixMilli(run.FinishedAt).Format(time.RFC3339)
		s.Duration = formatDuration(time.Duration(run.FinishedAt-run.StartedAt) * time.Millisecond)
	}
	return s
}
