package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	internalstorage "github.com/LENAX/sim-runner/internal/storage"
	"github.com/LENAX/sim-runner/pkg/api"
	"github.com/LENAX/sim-runner/pkg/cli/output"
	"github.com/LENAX/sim-runner/pkg/config"
	"github.com/LENAX/sim-runner/pkg/core/engine"
	"github.com/LENAX/sim-runner/pkg/core/module"
	"github.com/LENAX/sim-runner/pkg/plugin"
	"github.com/LENAX/sim-runner/pkg/storage"
)

// LogFileName 运行目录中的日志文件名
const LogFileName = "sim-runner.log"

var runOpts struct {
	cfg        configFlags
	modules    []string
	stage      string
	threads    int
	post       bool
	live       bool
	prod       bool
	alwaysRun  []string
	runDir     string
	logDir     string
	inProcess  bool
	statusAddr string
	schedule   string
}

// runCmd run子命令
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "按依赖关系运行模块",
	Long: `加载配置，跳过rerun缓存已是最新的模块，按依赖顺序并行运行其余模块，最后运行post模块。

任何模块失败时进程以非0状态退出。`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	runOpts.cfg.register(runCmd)
	f.StringSliceVarP(&runOpts.modules, "module", "m", nil, "只运行这些模块，可重复")
	f.StringVar(&runOpts.stage, "stage", "all", "运行阶段 prepare/open/intraday/eod/all")
	f.IntVarP(&runOpts.threads, "threads", "t", 0, "worker数量，默认取execution.workers")
	f.BoolVar(&runOpts.post, "post", false, "只运行post模块")
	f.BoolVar(&runOpts.live, "live", false, "实盘模式")
	f.BoolVar(&runOpts.prod, "prod", false, "生产模式")
	f.StringSliceVar(&runOpts.alwaysRun, "always-run", nil, "强制运行的模块，支持*通配，可重复")
	f.StringVar(&runOpts.runDir, "run-dir", engine.DefaultRunDir, "运行目录的根目录")
	f.StringVar(&runOpts.logDir, "log-dir", "", "日志目录，默认写入运行目录，no表示不写文件")
	f.BoolVar(&runOpts.inProcess, "in-process", false, "worker在当前进程内运行")
	f.StringVar(&runOpts.statusAddr, "status-addr", "", "状态服务监听地址，如 127.0.0.1:8080")
	f.StringVar(&runOpts.schedule, "schedule", "", "cron表达式，设置后按计划重复运行直到收到退出信号")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := runOpts.cfg.load()
	if err != nil {
		output.Error("%v", err)
		return err
	}
	if runOpts.threads > 0 {
		cfg.Execution.Workers = runOpts.threads
	}
	if err := cfg.ExpandAlwaysRun(runOpts.alwaysRun); err != nil {
		output.Error("%v", err)
		return err
	}
	stages, err := module.ParseStageOption(runOpts.stage)
	if err != nil {
		output.Error("%v", err)
		return err
	}

	stderr := cmd.ErrOrStderr()
	log := newLogger(cfg.General.LogLevel, cfg.General.LogFormat, stderr)

	journal, err := internalstorage.NewJournalRepo(cfg.Storage.Journal.Type, cfg.Storage.Journal.DSN)
	if err != nil {
		output.Error("打开运行日志失败: %v", err)
		return err
	}
	if journal != nil {
		defer journal.Close()
	}

	bus := engine.NewEventBus(log)
	defer bus.Close()
	progress := engine.NewProgressTracker()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier, err := plugin.FromConfig(cfg.Notify, log)
	if err != nil {
		output.Error("初始化通知插件失败: %v", err)
		return err
	}
	if notifier != nil {
		detach, err := notifier.Attach(ctx, bus)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer detach()
		log.Info("📮 已启用通知插件", "plugins", notifier.Plugins())
	}

	if runOpts.statusAddr != "" {
		serverCfg := api.DefaultServerConfig()
		serverCfg.Addr = runOpts.statusAddr
		server := api.NewServer(api.Deps{Progress: progress, Journal: journal, Bus: bus, Logger: log}, serverCfg, Version)
		if err := server.Start(); err != nil {
			output.Error("启动状态服务失败: %v", err)
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn("⚠️ 关闭状态服务失败", "error", err)
			}
		}()
	}

	once := func(ctx context.Context) error {
		summary, err := runOnce(ctx, cfg, stages, journal, bus, progress, stderr)
		printSummary(summary, err)
		return err
	}

	if runOpts.schedule == "" {
		return once(ctx)
	}

	cs, err := engine.NewCronScheduler(runOpts.schedule, once, log)
	if err != nil {
		output.Error("%v", err)
		return err
	}
	cs.Start()
	log.Info("⏰ 定时运行已启动", "schedule", runOpts.schedule, "next", cs.Next())
	<-ctx.Done()
	cs.Stop()
	log.Info("🛑 定时运行已停止", "runs", cs.Runs(), "skipped", cs.Skipped())
	return nil
}

// runOnce 准备运行目录与日志文件后执行一次运行
func runOnce(ctx context.Context, cfg *config.RunConfig, stages []module.Stage, journal storage.JournalRepository,
	bus *engine.EventBus, progress *engine.ProgressTracker, stderr io.Writer) (*engine.RunSummary, error) {
	runDir, err := engine.PrepareRunDir(runOpts.runDir, time.Now())
	if err != nil {
		return nil, err
	}

	w := stderr
	logFile, err := openLogFile(runOpts.logDir, runDir)
	if err != nil {
		return nil, err
	}
	if logFile != nil {
		defer logFile.Close()
		w = io.MultiWriter(stderr, logFile)
	}
	log := newLogger(cfg.General.LogLevel, cfg.General.LogFormat, w)

	r := &engine.Runner{
		Registry:     module.Default,
		Bus:          bus,
		Journal:      journal,
		Progress:     progress,
		Logger:       log,
		WorkerStderr: w,
	}
	return r.Run(ctx, &engine.RunRequest{
		Config:    cfg,
		Stages:    stages,
		Modules:   runOpts.modules,
		PostOnly:  runOpts.post,
		Live:      runOpts.live,
		Prod:      runOpts.prod,
		RunDir:    runDir,
		InProcess: runOpts.inProcess,
	})
}

// openLogFile logDir为"no"时不写文件，为空时写入运行目录
func openLogFile(logDir, runDir string) (*os.File, error) {
	var file string
	switch logDir {
	case "no":
		return nil, nil
	case "":
		file = filepath.Join(runDir, LogFileName)
	default:
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}
		file = filepath.Join(logDir, filepath.Base(runDir)+".log")
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	return f, nil
}

func printSummary(summary *engine.RunSummary, err error) {
	if outputJSON && summary != nil {
		res := map[string]any{
			"run_id":   summary.RunID,
			"run_dir":  summary.RunDir,
			"main":     summary.Main,
			"post":     summary.Post,
			"progress": summary.Progress,
		}
		if err != nil {
			res["error"] = err.Error()
		}
		if jsonErr := output.PrintJSON(res); jsonErr != nil {
			slog.Default().Warn("⚠️ 输出JSON失败", "error", jsonErr)
		}
		return
	}

	if summary != nil && summary.Progress.Total > 0 {
		p := summary.Progress
		table := output.NewTable("TOTAL", "COMPLETED", "SKIPPED", "FAILED", "PENDING")
		table.AddRow(
			fmt.Sprintf("%d", p.Total),
			fmt.Sprintf("%d", p.Completed),
			fmt.Sprintf("%d", p.Skipped),
			fmt.Sprintf("%d", p.Failed),
			fmt.Sprintf("%d", p.Pending),
		)
		table.Render()
	}

	var runErr *engine.RunError
	var cycleErr *engine.CycleError
	switch {
	case err == nil:
		if summary != nil && summary.Progress.Total == 0 {
			output.Info("没有需要运行的模块")
			return
		}
		output.Success("运行完成")
	case errors.As(err, &runErr):
		output.Error("模块运行失败: %s", strings.Join(runErr.Failed, ", "))
	case errors.As(err, &cycleErr):
		output.Error("存在循环依赖，无法运行: %s", strings.Join(cycleErr.Pending, ", "))
	default:
		output.Error("运行失败: %v", err)
	}
}
