// Package engine 编排器：把调度器、worker池和rerun缓存串成一次完整的增量运行
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/LENAX/sim-runner/pkg/core/scheduler"
	"github.com/LENAX/sim-runner/pkg/core/worker"
)

const (
	// DefaultLivenessTimeout worker超过该时间没有任何消息视为挂起
	DefaultLivenessTimeout = 30 * time.Second
	// DefaultCheckInterval 存活检查间隔
	DefaultCheckInterval = 100 * time.Millisecond
)

// Options 编排器配置
type Options struct {
	Workers           int
	HeartbeatInterval time.Duration
	LivenessTimeout   time.Duration
	CheckInterval     time.Duration
	StopTimeout       time.Duration
	Launcher          worker.Launcher
	// NamePrefix worker名称前缀
	NamePrefix string

	RunID    string
	Bus      *EventBus
	Progress *ProgressTracker
	Logger   *slog.Logger
}

// Orchestrator 单协程的事件驱动编排器（对外导出）
type Orchestrator struct {
	opts Options
	log  *slog.Logger
}

// NewOrchestrator 创建编排器
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Launcher == nil {
		return nil, fmt.Errorf("缺少worker Launcher")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.LivenessTimeout <= 0 {
		opts.LivenessTimeout = DefaultLivenessTimeout
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = worker.DefaultHeartbeatInterval
	}
	if opts.Progress == nil {
		opts.Progress = NewProgressTracker()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.RunID != "" {
		log = log.With("run_id", opts.RunID)
	}
	return &Orchestrator{opts: opts, log: log}, nil
}

// Progress 进度追踪器
func (o *Orchestrator) Progress() *ProgressTracker {
	return o.opts.Progress
}

// runState 一次Run内部的状态，只在编排协程中访问
type runState struct {
	sched  scheduler.Scheduler
	pool   *worker.Pool
	causes map[string]error
}

func (s *runState) failedNames() []string {
	names := make([]string, 0, len(s.causes))
	for n := range s.causes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run 运行调度器中的全部模块（对外导出）
// 返回nil表示全部完成；*RunError表示有模块失败；*CycleError表示剩余模块永远无法就绪
func (o *Orchestrator) Run(ctx context.Context, sched scheduler.Scheduler) error {
	total := sched.Total()
	if total == 0 {
		return nil
	}
	size := o.opts.Workers
	if total < size {
		size = total
	}

	pool, err := worker.NewPool(ctx, worker.PoolConfig{
		Size:              size,
		Launcher:          o.opts.Launcher,
		HeartbeatInterval: o.opts.HeartbeatInterval,
		StopTimeout:       o.opts.StopTimeout,
		NamePrefix:        o.opts.NamePrefix,
		Logger:            o.log,
	})
	if err != nil {
		return err
	}

	st := &runState{sched: sched, pool: pool, causes: make(map[string]error)}
	ticker := time.NewTicker(o.opts.CheckInterval)
	defer ticker.Stop()

	for {
		if len(st.causes) == 0 {
			o.dispatch(st)
		}

		if len(pool.Busy()) == 0 {
			if err := o.exitError(st); err != nil || sched.IsFinished() {
				pool.Shutdown(true)
				return err
			}
		}

		select {
		case <-ctx.Done():
			o.log.Warn("🛑 运行被取消，终止全部worker", "busy", len(pool.Busy()))
			pool.Shutdown(false)
			return fmt.Errorf("运行被取消: %w", ctx.Err())

		case ev := <-pool.Events():
			o.handleEvent(st, ev)

		case now := <-ticker.C:
			o.checkLiveness(st, now)
		}
	}
}

// exitError 在没有运行中的worker时判断是否应当结束
func (o *Orchestrator) exitError(st *runState) error {
	if len(st.causes) > 0 {
		failed := st.failedNames()
		o.log.Error("❌ 运行失败", "failed", failed)
		return &RunError{Failed: failed, Causes: st.causes}
	}
	if st.sched.IsFinished() {
		o.log.Info("✅ 全部模块运行完成", "total", st.sched.Total())
		return nil
	}
	if st.sched.Ready() == 0 {
		pending := st.sched.Pending()
		o.log.Error("❌ 检测到循环依赖", "pending", pending)
		return &CycleError{Pending: pending}
	}
	if st.pool.Alive() == 0 {
		return fmt.Errorf("%w: %d个模块未运行", ErrNoWorkers, len(st.sched.Pending()))
	}
	return nil
}

// dispatch 把就绪模块派发给空闲worker
func (o *Orchestrator) dispatch(st *runState) {
	for _, w := range st.pool.Idle() {
		name, ok := st.sched.PopReady("")
		if !ok {
			return
		}
		if err := w.Dispatch(name); err != nil {
			o.fail(st, name, w.Name(), err)
			st.pool.Discard(w)
			continue
		}
		o.log.Info("🚚 派发模块", "module", name, "worker", w.Name())
		o.opts.Progress.Dispatched(name, w.Name())
		o.publish(NewRunEvent(EventModuleDispatched, o.opts.RunID, name).WithWorker(w.Name()))
	}
}

func (o *Orchestrator) handleEvent(st *runState, ev worker.Event) {
	w := ev.Worker
	if ev.Exited {
		mod := w.Complete()
		if mod == "" {
			o.log.Debug("worker已退出", "worker", w.Name(), "error", ev.Err)
			return
		}
		o.log.Error("💥 worker意外退出", "worker", w.Name(), "module", mod, "error", ev.Err)
		o.publish(NewRunEvent(EventWorkerExited, o.opts.RunID, mod).WithWorker(w.Name()).WithMessage(errString(ev.Err)))
		o.fail(st, mod, w.Name(), ev.Err)
		return
	}

	msg := ev.Msg
	switch msg.Type {
	case worker.MsgHeartbeat:
		// readLoop已刷新LastSeen
	case worker.MsgDone:
		if msg.Module != w.Active() {
			o.log.Warn("忽略过期的完成消息", "worker", w.Name(), "module", msg.Module)
			return
		}
		w.Complete()
		st.sched.OnFinished(msg.Module)
		o.opts.Progress.Done(msg.Module, msg.Skipped)
		if msg.Skipped {
			o.log.Info("⏭️ 模块已跳过", "module", msg.Module, "worker", w.Name())
			e := NewRunEvent(EventModuleSkipped, o.opts.RunID, msg.Module).WithWorker(w.Name())
			e.Skipped = true
			o.publish(e)
		} else {
			o.log.Info("✅ 模块完成", "module", msg.Module, "worker", w.Name())
			o.publish(NewRunEvent(EventModuleDone, o.opts.RunID, msg.Module).WithWorker(w.Name()))
		}
	case worker.MsgError:
		if msg.Module != w.Active() {
			o.log.Warn("忽略过期的错误消息", "worker", w.Name(), "module", msg.Module, "error", msg.Error)
			return
		}
		mod := w.Complete()
		o.fail(st, mod, w.Name(), errors.New(msg.Error))
		st.pool.Discard(w)
	default:
		o.log.Warn("未知的worker消息", "worker", w.Name(), "type", msg.Type)
	}
}

// checkLiveness 超过存活超时没有消息的worker视为挂起：运行中的模块记为失败，worker被丢弃
func (o *Orchestrator) checkLiveness(st *runState, now time.Time) {
	timeout := o.opts.LivenessTimeout
	for _, w := range st.pool.Workers() {
		state := w.State()
		if state != worker.StateIdle && state != worker.StateBusy {
			continue
		}
		silent := now.Sub(w.LastSeen())
		if silent <= timeout {
			continue
		}
		mod := w.Complete()
		o.log.Error("⏰ worker存活超时", "worker", w.Name(), "module", mod, "silent", silent)
		o.publish(NewRunEvent(EventWorkerTimeout, o.opts.RunID, mod).WithWorker(w.Name()).
			WithMessage(fmt.Sprintf("no message for %s", silent.Round(time.Millisecond))))
		st.pool.Discard(w)
		if mod != "" {
			o.fail(st, mod, w.Name(), fmt.Errorf("%w: %s 超过 %s 无消息", ErrLivenessTimeout, w.Name(), timeout))
		}
	}
}

func (o *Orchestrator) fail(st *runState, mod, workerName string, err error) {
	if _, seen := st.causes[mod]; seen {
		return
	}
	if err == nil {
		err = fmt.Errorf("模块 %s 失败", mod)
	}
	st.causes[mod] = err
	st.sched.OnError(mod)
	o.opts.Progress.Failed(mod)
	o.log.Error("❌ 模块失败", "module", mod, "worker", workerName, "error", err)
	o.publish(NewRunEvent(EventModuleFailed, o.opts.RunID, mod).WithWorker(workerName).WithMessage(err.Error()))
}

func (o *Orchestrator) publish(ev *RunEvent) {
	if err := o.opts.Bus.Publish(ev); err != nil {
		o.log.Warn("⚠️ 发布事件失败", "event", ev.Type, "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
