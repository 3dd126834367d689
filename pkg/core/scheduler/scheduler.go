// Package scheduler 按依赖关系决定模块的运行顺序
//
// 提供两种策略：
//   - Kahn：全局就绪队列，worker池逐个领取
//   - Partition：按分区（lang）整批领取依赖闭包，用于跨运行时的批量交接
//
// 两者都实现 Scheduler 接口。
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/LENAX/sim-runner/pkg/config"
)

var (
	// ErrDepsNotFound 存在无法解析的依赖
	ErrDepsNotFound = errors.New("deps not found")
	// ErrSysConflict user模块与系统缓存中的模块重名
	ErrSysConflict = errors.New("some user modules already exist in sys modules")
)

// Scheduler 调度器统一接口（对外导出）
type Scheduler interface {
	// Ready 当前可领取的模块数量
	Ready() int
	// PopReady 领取一个就绪模块，partition为空表示不限分区
	PopReady(partition string) (string, bool)
	// OnFinished 模块成功完成，重复调用无副作用
	OnFinished(name string)
	// OnError 模块失败，其下游保持阻塞
	OnError(name string)
	// IsFinished 所有模块均已成功完成
	IsFinished() bool
	// Pending 尚未完成且未失败的模块（已排序）
	Pending() []string
	// Failed 失败的模块（已排序）
	Failed() []string
	// Total 模块总数
	Total() int
}

// MissingDep 无法解析的依赖
type MissingDep struct {
	Module string
	Dep    string
}

// DepsNotFoundError 依赖缺失错误，列出全部 模块 -> 依赖
type DepsNotFoundError struct {
	Missing []MissingDep
}

func (e *DepsNotFoundError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		parts = append(parts, m.Module+" -> "+m.Dep)
	}
	return fmt.Sprintf("%s: %s", ErrDepsNotFound, strings.Join(parts, ", "))
}

func (e *DepsNotFoundError) Unwrap() error { return ErrDepsNotFound }

// ValidateOptions 依赖校验选项
type ValidateOptions struct {
	// SysModules 系统缓存中已经构建过的模块，可以作为依赖
	SysModules map[string]bool
	// CheckSysConflict user模式且user/sys缓存不同时为true
	CheckSysConflict bool
	// Known 其他已知完成的模块（本缓存的rerun记录、主阶段模块），只参与依赖解析
	Known map[string]bool
}

// Validate 运行前校验依赖（对外导出）
// 每个依赖必须在本次运行的模块集合中，或者已存在于系统缓存；
// validate_deps为false的模块不校验。
// 开启CheckSysConflict时，非sys模块与系统缓存重名视为冲突。
func Validate(modules []config.ModuleConfig, opts ValidateOptions) error {
	if opts.CheckSysConflict {
		var conflicts []string
		for _, m := range modules {
			if !m.Sys && opts.SysModules[m.Name] {
				conflicts = append(conflicts, m.Name)
			}
		}
		if len(conflicts) > 0 {
			return fmt.Errorf("%w: %v", ErrSysConflict, conflicts)
		}
	}

	inSet := make(map[string]bool, len(modules))
	for _, m := range modules {
		inSet[m.Name] = true
	}

	var missing []MissingDep
	for _, m := range modules {
		if !m.ShouldValidateDeps() {
			continue
		}
		for _, dep := range m.Deps {
			if !inSet[dep] && !opts.SysModules[dep] && !opts.Known[dep] {
				missing = append(missing, MissingDep{Module: m.Name, Dep: dep})
			}
		}
	}
	if len(missing) > 0 {
		return &DepsNotFoundError{Missing: missing}
	}
	return nil
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
