package worker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/LENAX/sim-runner/pkg/config"
	"github.com/LENAX/sim-runner/pkg/core/module"
	"github.com/LENAX/sim-runner/pkg/core/rerun"
	"github.com/LENAX/sim-runner/pkg/logger"
)

// TaskRunner 在worker内执行单个模块
type TaskRunner interface {
	// Run 执行模块，skipped为true表示模块被跳过（缓存命中、阶段不匹配等）
	Run(ctx context.Context, name string) (skipped bool, err error)
}

// ModuleRunner 默认的TaskRunner：通过注册中心构造模块并维护rerun缓存（对外导出）
type ModuleRunner struct {
	Config   *config.RunConfig
	Options  RunOptions
	Env      *module.Env
	Cache    *rerun.Cache
	Registry *module.Registry
	Logger   *slog.Logger
}

// NewModuleRunner 由spec创建ModuleRunner
// user模式下rerun记录写入user缓存，读取依赖时回落到系统缓存
func NewModuleRunner(spec *Spec, registry *module.Registry, log *slog.Logger) (*ModuleRunner, error) {
	if registry == nil {
		registry = module.Default
	}
	if log == nil {
		log = slog.Default()
	}
	cfg := spec.Config

	env, err := module.NewEnv(cfg)
	if err != nil {
		return nil, err
	}
	env.Live = spec.Options.Live
	env.Prod = spec.Options.Prod

	store, err := rerun.NewFileStore(env.RerunDir())
	if err != nil {
		return nil, err
	}
	var opts []rerun.Option
	if env.UserMode && cfg.SysCache != cfg.UserCache {
		opts = append(opts, rerun.WithFallback(rerun.OpenFileStore(filepath.Join(cfg.SysCache, module.RerunDirName))))
	}
	cache := rerun.NewCache(store, opts...)
	cache.SetDates(cfg.SimStartDate, cfg.SimEndDate)

	return &ModuleRunner{
		Config:   cfg,
		Options:  spec.Options,
		Env:      env,
		Cache:    cache,
		Registry: registry,
		Logger:   log,
	}, nil
}

// Run 执行流程：
// 解析模块 -> user模式跳过sys模块 -> 阶段求交 -> 检查rerun缓存 -> 构造模块 ->
// 删除旧记录 -> 按阶段执行 -> 写入新记录
func (r *ModuleRunner) Run(ctx context.Context, name string) (bool, error) {
	log := r.Logger.With("module", name)
	ctx = logger.WithContext(ctx, log)

	cfg, ok := r.Config.FindModule(name)
	if !ok {
		return false, fmt.Errorf("模块 %s 不存在", name)
	}

	if r.Env.UserMode && cfg.Sys {
		log.Debug("user模式跳过系统模块")
		return true, nil
	}

	stages := module.IntersectStages(cfg.GetStages(), r.Options.Stages)
	if len(stages) == 0 {
		log.Debug("没有需要运行的阶段，跳过")
		return true, nil
	}

	useCache := r.Cache != nil && !r.Options.Post
	if useCache && !r.Config.IsAlwaysRun(name) && r.Cache.CanSkip(name, cfg.Deps) {
		log.Debug("⏭️ 模块已构建，跳过")
		return true, nil
	}

	m, err := r.Registry.New(cfg, r.Env)
	if err != nil {
		return false, err
	}
	if useCache {
		if err := r.Cache.RecordBeforeRun(name); err != nil {
			return false, err
		}
	}

	for _, stage := range stages {
		log.Info("▶️ 运行模块", "stage", stage)
		m.SetStage(stage)
		if err := module.Run(ctx, m); err != nil {
			return false, fmt.Errorf("模块 %s 阶段 %s 运行失败: %w", name, stage, err)
		}
	}
	log.Info("✅ 模块运行完成")

	if useCache {
		if _, err := r.Cache.RecordRun(name); err != nil {
			return false, err
		}
	}
	return false, nil
}
