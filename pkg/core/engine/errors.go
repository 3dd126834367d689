package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/LENAX/sim-runner/pkg/core/dag"
	"github.com/LENAX/sim-runner/pkg/core/scheduler"
	"github.com/LENAX/sim-runner/pkg/core/worker"
)

var (
	// ErrCycle 依赖存在环，剩余模块永远无法就绪
	ErrCycle = dag.ErrCycle
	// ErrLivenessTimeout worker在存活超时内没有任何消息
	ErrLivenessTimeout = errors.New("worker liveness timeout")
	// ErrNoWorkers 所有worker都已丢弃，无法继续派发
	ErrNoWorkers = errors.New("no live workers")
	// ErrWorkerExited worker进程意外退出
	ErrWorkerExited = worker.ErrWorkerExited
	// ErrDepsNotFound 依赖无法解析
	ErrDepsNotFound = scheduler.ErrDepsNotFound
)

// RunError 本次运行中有模块失败（对外导出）
// Causes记录每个失败模块的原因
type RunError struct {
	Failed []string
	Causes map[string]error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("modules failed: %s", strings.Join(e.Failed, ", "))
}

// Unwrap 支持errors.Is(err, ErrLivenessTimeout)等判断
func (e *RunError) Unwrap() []error {
	out := make([]error, 0, len(e.Causes))
	for _, name := range e.Failed {
		if err := e.Causes[name]; err != nil {
			out = append(out, err)
		}
	}
	return out
}

// CycleError 没有可运行的模块但仍有未完成模块
type CycleError struct {
	Pending []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: stuck modules: %s", ErrCycle, strings.Join(e.Pending, ", "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }
