package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/LENAX/sim-runner/pkg/cli/output"
	"github.com/LENAX/sim-runner/pkg/config"
	"github.com/LENAX/sim-runner/pkg/core/dag"
	"github.com/LENAX/sim-runner/pkg/core/rerun"
)

var cacheOpts struct {
	cfg        configFlags
	downstream bool
	all        bool
}

// CacheEntry 一条rerun记录
type CacheEntry struct {
	Module    string `json:"module"`
	Timestamp int64  `json:"timestamp"`
	StartDate int    `json:"start_date"`
	EndDate   int    `json:"end_date"`
}

// cacheCmd cache子命令
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "rerun缓存管理命令",
	Long:  `查看或清除模块的rerun记录。清除后下次运行时模块及其下游会重新运行。`,
}

// cacheListCmd 列出rerun记录
var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出rerun记录",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cacheOpts.cfg.load()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		cache, err := openCache(cfg)
		if err != nil {
			output.Error("打开rerun缓存失败: %v", err)
			return err
		}
		entries, err := ListCache(cache.Store())
		if err != nil {
			output.Error("读取rerun记录失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(entries)
		}
		if len(entries) == 0 {
			output.Info("暂无rerun记录")
			return nil
		}
		table := output.NewTable("MODULE", "UPDATED", "START", "END")
		for _, e := range entries {
			table.AddRow(
				e.Module,
				time.UnixMilli(e.Timestamp).Format("2006-01-02 15:04:05"),
				fmt.Sprintf("%d", e.StartDate),
				fmt.Sprintf("%d", e.EndDate),
			)
		}
		table.Render()
		return nil
	},
}

// cacheClearCmd 清除rerun记录
var cacheClearCmd = &cobra.Command{
	Use:   "clear [module...]",
	Short: "清除rerun记录",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !cacheOpts.all {
			err := fmt.Errorf("需要指定模块或使用--all")
			output.Error("%v", err)
			return err
		}
		cfg, err := cacheOpts.cfg.load()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		cache, err := openCache(cfg)
		if err != nil {
			output.Error("打开rerun缓存失败: %v", err)
			return err
		}

		names := args
		if cacheOpts.all {
			if names, err = cache.Store().List(); err != nil {
				output.Error("读取rerun记录失败: %v", err)
				return err
			}
		} else if cacheOpts.downstream {
			if names, err = WithDownstream(cfg, args); err != nil {
				output.Error("%v", err)
				return err
			}
		}

		if err := ClearCache(cache, names); err != nil {
			output.Error("清除rerun记录失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(map[string]any{"cleared": names})
		}
		output.Success("已清除 %d 条rerun记录", len(names))
		return nil
	},
}

func init() {
	cacheOpts.cfg.register(cacheListCmd)
	cacheOpts.cfg.register(cacheClearCmd)
	cacheClearCmd.Flags().BoolVar(&cacheOpts.downstream, "downstream", false, "同时清除全部下游模块")
	cacheClearCmd.Flags().BoolVar(&cacheOpts.all, "all", false, "清除全部记录")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

// ListCache 读取存储中的全部记录
func ListCache(store rerun.Store) ([]CacheEntry, error) {
	names, err := store.List()
	if err != nil {
		return nil, err
	}
	entries := make([]CacheEntry, 0, len(names))
	for _, n := range names {
		rec, ok, err := store.Load(n)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		entries = append(entries, CacheEntry{Module: n, Timestamp: rec.Timestamp, StartDate: rec.StartDate, EndDate: rec.EndDate})
	}
	return entries, nil
}

// WithDownstream 返回names及其在配置中的全部下游模块（已排序）
func WithDownstream(cfg *config.RunConfig, names []string) ([]string, error) {
	g, err := dag.Build(cfg.Modules)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool)
	for _, n := range names {
		set[n] = true
		down, err := g.Downstream(n)
		if err != nil {
			return nil, err
		}
		for _, d := range down {
			set[d] = true
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// ClearCache 删除记录
func ClearCache(cache *rerun.Cache, names []string) error {
	for _, n := range names {
		if err := cache.Store().Delete(n); err != nil {
			return err
		}
		cache.Forget(n)
	}
	return nil
}
