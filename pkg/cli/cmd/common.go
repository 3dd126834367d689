package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LENAX/sim-runner/pkg/config"
	"github.com/LENAX/sim-runner/pkg/core/rerun"
	"github.com/LENAX/sim-runner/pkg/core/worker"
	"github.com/LENAX/sim-runner/pkg/logger"
)

// configFlags 各子命令共用的配置参数
type configFlags struct {
	files     []string
	startDate int
	endDate   int
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.files, "cfg", nil, "配置文件，可重复，后面的覆盖前面的")
	cmd.Flags().IntVar(&f.startDate, "start-date", 0, "覆盖sim_start_date（YYYYMMDD）")
	cmd.Flags().IntVar(&f.endDate, "end-date", 0, "覆盖sim_end_date（YYYYMMDD）")
	_ = cmd.MarkFlagRequired("cfg")
}

// load 加载并校验配置
func (f *configFlags) load() (*config.RunConfig, error) {
	cfg, err := config.Load(f.files...)
	if err != nil {
		return nil, err
	}
	if f.startDate != 0 {
		cfg.SimStartDate = f.startDate
	}
	if f.endDate != 0 {
		cfg.SimEndDate = f.endDate
	}
	if err := config.ValidateRunConfig(cfg); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}
	return cfg, nil
}

// openCache 打开本次配置对应的rerun缓存，与worker运行时使用的缓存一致
func openCache(cfg *config.RunConfig) (*rerun.Cache, error) {
	runner, err := worker.NewModuleRunner(&worker.Spec{Config: cfg}, nil, logger.Discard())
	if err != nil {
		return nil, err
	}
	return runner.Cache, nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
