package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

// RunFunc 定时触发时执行的一次运行
type RunFunc func(ctx context.Context) error

// CronScheduler 定时增量运行调度器（对外导出）
// 上一次运行尚未结束时跳过本次触发，运行之间不重叠
type CronScheduler struct {
	cron    *cron.Cron
	run     RunFunc
	expr    string
	entry   cron.EntryID
	running atomic.Bool
	skipped atomic.Int64
	runs    atomic.Int64
	log     *slog.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCronScheduler 创建定时调度器，expr支持秒级精度（6段）以及@every等描述符
func NewCronScheduler(expr string, run RunFunc, log *slog.Logger) (*CronScheduler, error) {
	if run == nil {
		return nil, fmt.Errorf("缺少运行函数")
	}
	if log == nil {
		log = slog.Default()
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(expr); err != nil {
		return nil, fmt.Errorf("Cron表达式无效 %q: %w", expr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cs := &CronScheduler{
		cron:   cron.New(cron.WithParser(parser)),
		run:    run,
		expr:   expr,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	entry, err := cs.cron.AddFunc(expr, cs.trigger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("添加Cron任务失败: %w", err)
	}
	cs.entry = entry
	return cs, nil
}

// trigger 触发一次运行（内部方法）
func (cs *CronScheduler) trigger() {
	if !cs.running.CompareAndSwap(false, true) {
		cs.skipped.Add(1)
		cs.log.Warn("⚠️ [Cron调度器] 上一次运行尚未结束，跳过本次触发", "expr", cs.expr)
		return
	}
	cs.wg.Add(1)
	defer func() {
		cs.running.Store(false)
		cs.wg.Done()
	}()

	n := cs.runs.Add(1)
	cs.log.Info("🕐 [Cron调度器] 触发运行", "expr", cs.expr, "seq", n)
	if err := cs.run(cs.ctx); err != nil {
		cs.log.Error("❌ [Cron调度器] 运行失败", "seq", n, "error", err)
		return
	}
	cs.log.Info("✅ [Cron调度器] 运行完成", "seq", n)
}

// Start 启动定时调度器（对外导出）
func (cs *CronScheduler) Start() {
	cs.cron.Start()
	cs.log.Info("✅ [Cron调度器] 已启动", "expr", cs.expr)
}

// Stop 停止调度并取消正在进行的运行，等待其退出
func (cs *CronScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.cancel()
	<-cs.cron.Stop().Done()
	cs.wg.Wait()
	cs.log.Info("✅ [Cron调度器] 已停止")
}

// Next 下一次触发时间
func (cs *CronScheduler) Next() string {
	return cs.cron.Entry(cs.entry).Next.String()
}

// Runs 已触发的运行次数
func (cs *CronScheduler) Runs() int64 { return cs.runs.Load() }

// Skipped 因重叠被跳过的触发次数
func (cs *CronScheduler) Skipped() int64 { return cs.skipped.Load() }
