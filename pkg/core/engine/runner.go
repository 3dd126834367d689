package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/LENAX/sim-runner/pkg/config"
	"github.com/LENAX/sim-runner/pkg/core/module"
	"github.com/LENAX/sim-runner/pkg/core/rerun"
	"github.com/LENAX/sim-runner/pkg/core/scheduler"
	"github.com/LENAX/sim-runner/pkg/core/worker"
	"github.com/LENAX/sim-runner/pkg/storage"
)

const (
	// DefaultRunDir 运行目录的默认根目录
	DefaultRunDir = "tmp/run"
	// CurrentLink 指向最近一次运行目录的符号链接
	CurrentLink = "current"
	runDirLayout = "run.20060102_150405"
)

// RunRequest 一次运行的参数（对外导出）
type RunRequest struct {
	Config *config.RunConfig
	Stages []module.Stage
	// Modules 只运行这些模块（-m），为空表示全部
	Modules []string
	// PostOnly 只运行post模块（--post）
	PostOnly bool
	Live     bool
	Prod     bool

	// BaseDir 运行目录的根目录，每次运行在其下创建run.YYYYMMDD_HHMMSS
	BaseDir string
	// RunDir 已经准备好的运行目录，非空时不再创建
	RunDir string
	// InProcess worker在当前进程内以goroutine运行
	InProcess bool
}

// RunSummary 运行结果摘要
type RunSummary struct {
	RunID    string
	RunDir   string
	Main     []string
	Post     []string
	Progress Progress
}

// Runner 顶层运行入口：准备运行目录、筛选模块、校验依赖、依次运行主模块与post模块（对外导出）
type Runner struct {
	Registry *module.Registry
	Bus      *EventBus
	Journal  storage.JournalRepository
	Progress *ProgressTracker
	Logger   *slog.Logger

	// WorkerPath 子进程worker的可执行文件，默认为当前可执行文件
	WorkerPath string
	// WorkerArgs 子进程worker参数，默认为["worker"]
	WorkerArgs []string
	// WorkerStderr 子进程worker的日志输出，默认为os.Stderr
	WorkerStderr io.Writer
	// BatchRunner 非native分区的执行器，默认CommandBatchRunner
	BatchRunner BatchRunner
}

// Run 执行一次完整运行
func (r *Runner) Run(ctx context.Context, req *RunRequest) (*RunSummary, error) {
	if req == nil || req.Config == nil {
		return nil, fmt.Errorf("缺少运行配置")
	}
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}
	if r.Progress == nil {
		r.Progress = NewProgressTracker()
	}
	if r.Registry == nil {
		r.Registry = module.Default
	}
	cfg := req.Config
	if len(req.Stages) == 0 {
		req.Stages = append([]module.Stage(nil), module.AllStages...)
	}

	runID := uuid.NewString()
	log = log.With("run_id", runID)

	runDir := req.RunDir
	if runDir == "" {
		var err error
		runDir, err = PrepareRunDir(req.BaseDir, time.Now())
		if err != nil {
			return nil, err
		}
	}
	cfgPath := filepath.Join(runDir, "cfg.yml")
	if err := config.Dump(cfg, cfgPath); err != nil {
		return nil, fmt.Errorf("写入运行配置失败: %w", err)
	}
	log.Info("📁 运行目录", "dir", runDir)

	mainMods, postMods := SelectModules(cfg, req.Modules)
	if req.PostOnly {
		mainMods = nil
	}
	summary := &RunSummary{RunID: runID, RunDir: runDir, Main: mainMods, Post: postMods}
	if len(mainMods) == 0 && len(postMods) == 0 {
		log.Info("没有需要运行的模块")
		return summary, nil
	}

	bus := r.Bus
	if bus == nil && r.Journal != nil {
		bus = NewEventBus(log)
		defer bus.Close()
	}
	var recorder *JournalRecorder
	if r.Journal != nil {
		rec := &storage.RunRecord{
			ID:        runID,
			Status:    storage.RunStatusRunning,
			StartedAt: time.Now().UnixMilli(),
			StartDate: cfg.SimStartDate,
			EndDate:   cfg.SimEndDate,
			Total:     len(mainMods) + len(postMods),
			RunDir:    runDir,
		}
		if err := r.Journal.CreateRun(ctx, rec); err != nil {
			log.Warn("⚠️ 写入运行日志失败", "error", err)
		}
		var err error
		recorder, err = StartJournal(context.Background(), bus, r.Journal, log)
		if err != nil {
			log.Warn("⚠️ 启动运行日志记录失败", "error", err)
		}
	}

	r.Progress.Start(runID, len(mainMods)+len(postMods))
	r.publish(bus, log, NewRunEvent(EventRunStarted, runID, "").
		WithMessage(fmt.Sprintf("main=%d post=%d", len(mainMods), len(postMods))))

	ph := &phase{runner: r, req: req, runID: runID, runDir: runDir, cfgPath: cfgPath, bus: bus, log: log}
	var runErr error
	if len(mainMods) > 0 {
		log.Info("🚀 开始运行主模块", "count", len(mainMods), "workers", cfg.GetWorkers())
		runErr = ph.run(ctx, mainMods, false)
	}
	if runErr == nil && len(postMods) > 0 {
		log.Info("🚀 开始运行post模块", "count", len(postMods))
		runErr = ph.run(ctx, postMods, true)
	}

	r.Progress.Finish()
	summary.Progress = r.Progress.Snapshot()
	r.publish(bus, log, NewRunEvent(EventRunFinished, runID, "").WithMessage(errString(runErr)))

	if recorder != nil {
		recorder.Stop()
	}
	if r.Journal != nil {
		r.finishJournal(log, runID, summary, runErr)
	}
	return summary, runErr
}

func (r *Runner) finishJournal(log *slog.Logger, runID string, summary *RunSummary, runErr error) {
	rec := &storage.RunRecord{
		ID:         runID,
		Status:     storage.RunStatusSucceeded,
		FinishedAt: time.Now().UnixMilli(),
		Total:      summary.Progress.Total,
		Failed:     summary.Progress.FailedModules,
	}
	var runError *RunError
	var cycleErr *CycleError
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		rec.Status = storage.RunStatusCancelled
		rec.Message = runErr.Error()
	case errors.As(runErr, &runError):
		rec.Status = storage.RunStatusFailed
		rec.Failed = runError.Failed
		rec.Message = runErr.Error()
	case errors.As(runErr, &cycleErr):
		rec.Status = storage.RunStatusFailed
		rec.Failed = cycleErr.Pending
		rec.Message = runErr.Error()
	default:
		rec.Status = storage.RunStatusFailed
		rec.Message = runErr.Error()
	}
	if err := r.Journal.FinishRun(context.Background(), rec); err != nil {
		log.Warn("⚠️ 更新运行日志失败", "error", err)
	}
}

func (r *Runner) publish(bus *EventBus, log *slog.Logger, ev *RunEvent) {
	if err := bus.Publish(ev); err != nil {
		log.Warn("⚠️ 发布事件失败", "event", ev.Type, "error", err)
	}
}

// phase 主模块或post模块的一次运行
type phase struct {
	runner  *Runner
	req     *RunRequest
	runID   string
	runDir  string
	cfgPath string
	bus     *EventBus
	log     *slog.Logger
}

func (ph *phase) run(ctx context.Context, names []string, post bool) error {
	cfg := ph.req.Config
	mods := make([]config.ModuleConfig, 0, len(names))
	deps := make(map[string][]string, len(names))
	partitionOf := make(map[string]string, len(names))
	partitioned := false
	for _, n := range names {
		m, _ := cfg.FindModule(n)
		mods = append(mods, *m)
		deps[n] = m.Deps
		partitionOf[n] = m.Partition()
		if m.Partition() != config.DefaultLang {
			partitioned = true
		}
	}

	opts, err := ValidateOptionsFor(cfg, post)
	if err != nil {
		return err
	}
	if err := scheduler.Validate(mods, opts); err != nil {
		return err
	}

	spec := &worker.Spec{
		Config: cfg,
		Options: worker.RunOptions{
			Stages: ph.req.Stages,
			Post:   post,
			Live:   ph.req.Live,
			Prod:   ph.req.Prod,
		},
	}
	specPath := filepath.Join(ph.runDir, "spec.yml")
	if post {
		specPath = filepath.Join(ph.runDir, "spec.post.yml")
	}
	if err := worker.WriteSpec(specPath, spec); err != nil {
		return err
	}

	launcher, err := ph.launcher(spec, specPath)
	if err != nil {
		return err
	}

	workers := cfg.GetWorkers()
	prefix := "worker"
	if post {
		workers = 1
		prefix = "post"
	}
	o, err := NewOrchestrator(Options{
		Workers:           workers,
		HeartbeatInterval: cfg.Execution.HeartbeatInterval,
		LivenessTimeout:   cfg.Execution.LivenessTimeout,
		CheckInterval:     cfg.Execution.CheckInterval,
		StopTimeout:       cfg.Execution.StopTimeout,
		Launcher:          launcher,
		NamePrefix:        prefix,
		RunID:             ph.runID,
		Bus:               ph.bus,
		Progress:          ph.runner.Progress,
		Logger:            ph.log,
	})
	if err != nil {
		return err
	}

	if !partitioned {
		return o.Run(ctx, scheduler.NewKahn(names, deps))
	}

	batches := ph.runner.BatchRunner
	if batches == nil {
		stages := make([]string, 0, len(ph.req.Stages))
		for _, s := range ph.req.Stages {
			stages = append(stages, string(s))
		}
		batches = &CommandBatchRunner{
			Partitions: cfg.Partitions,
			Dir:        ph.runDir,
			ConfigPath: ph.cfgPath,
			Stages:     stages,
			Post:       post,
		}
	}
	return o.RunPartitioned(ctx, scheduler.NewPartition(names, deps, partitionOf), deps, batches)
}

// launcher 按运行方式创建worker启动器
func (ph *phase) launcher(spec *worker.Spec, specPath string) (worker.Launcher, error) {
	cfg := spec.Config
	if ph.req.InProcess {
		runner, err := worker.NewModuleRunner(spec, ph.runner.Registry, ph.log)
		if err != nil {
			return nil, err
		}
		return &worker.InProcessLauncher{
			Serve: worker.ExecutorServeFunc(runner, cfg.Execution.HeartbeatInterval, cfg.Execution.LivenessTimeout, ph.log),
		}, nil
	}

	args := ph.runner.WorkerArgs
	if len(args) == 0 {
		args = []string{"worker"}
	}
	args = append(append([]string(nil), args...),
		"--spec", specPath,
		"--log-level", cfg.General.LogLevel,
		"--log-format", cfg.General.LogFormat,
	)
	return &worker.ProcessLauncher{Path: ph.runner.WorkerPath, Args: args, Stderr: ph.runner.WorkerStderr}, nil
}

// SelectModules 按-m过滤和skip_modules筛选模块，分成主模块与post模块，保持配置中的顺序
func SelectModules(cfg *config.RunConfig, only []string) (mainMods, postMods []string) {
	want := make(map[string]bool, len(only))
	for _, n := range only {
		want[n] = true
	}
	skip := make(map[string]bool, len(cfg.SkipModules))
	for _, n := range cfg.SkipModules {
		skip[n] = true
	}
	for _, m := range cfg.Modules {
		if len(want) > 0 && !want[m.Name] {
			continue
		}
		if skip[m.Name] {
			continue
		}
		if m.Post {
			postMods = append(postMods, m.Name)
		} else {
			mainMods = append(mainMods, m.Name)
		}
	}
	return mainMods, postMods
}

// ValidateOptionsFor 构造依赖校验选项
// user模式且user/sys缓存不同时，系统缓存rerun目录中的模块可作为依赖，并检查重名冲突；
// 本缓存已有rerun记录的模块视为已完成；post阶段的依赖还可以是任意主模块
func ValidateOptionsFor(cfg *config.RunConfig, post bool) (scheduler.ValidateOptions, error) {
	opts := scheduler.ValidateOptions{Known: make(map[string]bool)}

	if cfg.UserMode() && cfg.SysCache != "" && cfg.SysCache != cfg.UserCache {
		names, err := rerun.OpenFileStore(filepath.Join(cfg.SysCache, module.RerunDirName)).List()
		if err != nil {
			return opts, err
		}
		opts.SysModules = make(map[string]bool, len(names))
		for _, n := range names {
			opts.SysModules[n] = true
		}
		opts.CheckSysConflict = true
	}

	own := cfg.Cache
	if cfg.UserMode() {
		own = cfg.UserCache
	} else if own == "" {
		own = cfg.SysCache
	}
	if own != "" {
		names, err := rerun.OpenFileStore(filepath.Join(own, module.RerunDirName)).List()
		if err != nil {
			return opts, err
		}
		for _, n := range names {
			opts.Known[n] = true
		}
	}

	if post {
		for _, m := range cfg.Modules {
			if !m.Post {
				opts.Known[m.Name] = true
			}
		}
	}
	return opts, nil
}

// PrepareRunDir 在base下创建run.YYYYMMDD_HHMMSS并更新current链接（对外导出）
func PrepareRunDir(base string, now time.Time) (string, error) {
	if base == "" {
		base = DefaultRunDir
	}
	name := now.Format(runDirLayout)
	dir := filepath.Join(base, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("创建运行目录失败: %w", err)
	}

	link := filepath.Join(base, CurrentLink)
	if fi, err := os.Lstat(link); err == nil {
		if fi.Mode()&os.ModeSymlink == 0 {
			return dir, nil
		}
		if err := os.Remove(link); err != nil {
			return "", fmt.Errorf("删除current链接失败: %w", err)
		}
	}
	if err := os.Symlink(name, link); err != nil {
		return "", fmt.Errorf("创建current链接失败: %w", err)
	}
	return dir, nil
}
