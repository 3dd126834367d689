package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LENAX/sim-runner/pkg/cli/output"
	"github.com/LENAX/sim-runner/pkg/config"
	"github.com/LENAX/sim-runner/pkg/core/dag"
	"github.com/LENAX/sim-runner/pkg/core/engine"
)

var planOpts struct {
	cfg     configFlags
	modules []string
	post    bool
}

// PlanItem 执行计划中的一个模块
type PlanItem struct {
	Level     int      `json:"level"`
	Module    string   `json:"module"`
	Lang      string   `json:"lang"`
	Deps      []string `json:"deps,omitempty"`
	External  []string `json:"external,omitempty"`
	UpToDate  bool     `json:"up_to_date"`
	AlwaysRun bool     `json:"always_run,omitempty"`
}

// planCmd plan子命令
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "显示执行计划",
	Long:  `按依赖关系将模块分层，并显示每个模块的rerun缓存状态。`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := planOpts.cfg.load()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		items, err := BuildPlan(cfg, planOpts.modules, planOpts.post)
		if err != nil {
			output.Error("生成执行计划失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(items)
		}
		if len(items) == 0 {
			output.Info("没有需要运行的模块")
			return nil
		}

		table := output.NewTable("LEVEL", "MODULE", "LANG", "DEPS", "EXTERNAL", "STATUS")
		for _, it := range items {
			status := "run"
			switch {
			case it.AlwaysRun:
				status = "always-run"
			case it.UpToDate:
				status = "up-to-date"
			}
			table.AddRow(
				fmt.Sprintf("%d", it.Level),
				it.Module,
				it.Lang,
				dash(strings.Join(it.Deps, ",")),
				dash(strings.Join(it.External, ",")),
				status,
			)
		}
		table.Render()
		return nil
	},
}

func init() {
	planOpts.cfg.register(planCmd)
	planCmd.Flags().StringSliceVarP(&planOpts.modules, "module", "m", nil, "只包含这些模块，可重复")
	planCmd.Flags().BoolVar(&planOpts.post, "post", false, "显示post模块的计划")
}

// BuildPlan 按run命令相同的规则筛选模块并分层
func BuildPlan(cfg *config.RunConfig, only []string, post bool) ([]PlanItem, error) {
	mainMods, postMods := engine.SelectModules(cfg, only)
	names := mainMods
	if post {
		names = postMods
	}
	if len(names) == 0 {
		return nil, nil
	}

	mods := make([]config.ModuleConfig, 0, len(names))
	for _, n := range names {
		m, _ := cfg.FindModule(n)
		mods = append(mods, *m)
	}
	g, err := dag.Build(mods)
	if err != nil {
		return nil, err
	}
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	cache, err := openCache(cfg)
	if err != nil {
		return nil, err
	}

	external := g.External()
	var items []PlanItem
	for level, ids := range order.Levels {
		for _, id := range ids {
			m, _ := g.Module(id)
			deps, err := g.Parents(id)
			if err != nil {
				return nil, err
			}
			items = append(items, PlanItem{
				Level:     level,
				Module:    id,
				Lang:      m.Partition(),
				Deps:      deps,
				External:  external[id],
				UpToDate:  cache.CanSkip(id, m.Deps),
				AlwaysRun: cfg.IsAlwaysRun(id),
			})
		}
	}
	return items, nil
}
