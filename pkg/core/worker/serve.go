package worker

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/LENAX/sim-runner/pkg/core/module"
)

// ExecutorServeFunc 返回在当前进程内运行Executor的ServeFunc，供InProcessLauncher使用
func ExecutorServeFunc(runner TaskRunner, hbInterval, parentTimeout time.Duration, log *slog.Logger) ServeFunc {
	return func(ctx context.Context, name string, r io.Reader, w io.Writer) error {
		e := &Executor{
			Name:              name,
			Runner:            runner,
			HeartbeatInterval: hbInterval,
			ParentTimeout:     parentTimeout,
			Logger:            log,
		}
		return e.Serve(ctx, r, w)
	}
}

// ServeSpec worker子进程入口（对外导出）
// 读取父进程写入的spec，构造ModuleRunner后在r/w上运行主循环
func ServeSpec(ctx context.Context, name, specPath string, registry *module.Registry, r io.Reader, w io.Writer, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	spec, err := ReadSpec(specPath)
	if err != nil {
		return err
	}
	runner, err := NewModuleRunner(spec, registry, log)
	if err != nil {
		return err
	}
	e := &Executor{
		Name:              name,
		Runner:            runner,
		HeartbeatInterval: spec.Config.Execution.HeartbeatInterval,
		ParentTimeout:     spec.Config.Execution.LivenessTimeout,
		Logger:            log,
	}
	return e.Serve(ctx, r, w)
}
