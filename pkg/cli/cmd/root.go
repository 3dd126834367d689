package cmd

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/LENAX/sim-runner/pkg/logger"
)

var (
	// 全局变量
	outputJSON bool
	logLevel   string
	logFormat  string
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "sim-runner",
	Short: "sim-runner - 增量式模块DAG运行器",
	Long: `sim-runner 按依赖关系并行运行仿真流水线中的模块。

支持的功能：
  - 按rerun缓存跳过已是最新的模块（增量运行）
  - 子进程worker池并行执行，心跳与存活检测
  - 按语言分区批量交给外部执行器
  - 查看执行计划、管理rerun缓存、查询运行历史

使用示例：
  # 运行全部模块
  sim-runner run --cfg base.yml --cfg override.yml

  # 只运行指定模块，4个worker
  sim-runner run --cfg base.yml -m prices -m alpha -t 4

  # 查看执行计划
  sim-runner plan --cfg base.yml

  # 清除某模块及其下游的rerun记录
  sim-runner cache clear --cfg base.yml alpha --downstream`,
	SilenceUsage: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "使用JSON格式输出")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 debug/info/warn/error，默认取配置文件")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "日志格式 text/json，默认取配置文件")

	// 添加子命令
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

// newLogger 命令行参数优先于配置文件
func newLogger(cfgLevel, cfgFormat string, w io.Writer) *slog.Logger {
	level, format := cfgLevel, cfgFormat
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	return logger.New(level, format, w)
}
