package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	internalstorage "github.com/LENAX/sim-runner/internal/storage"
	"github.com/LENAX/sim-runner/pkg/cli/output"
	"github.com/LENAX/sim-runner/pkg/storage"
)

var historyOpts struct {
	cfg   configFlags
	limit int
}

// historyCmd history子命令
var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "查询运行历史",
	Long:  `从storage.journal配置的数据库中查询最近的运行；指定run-id时显示该次运行的事件。`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := historyOpts.cfg.load()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		journal, err := internalstorage.NewJournalRepo(cfg.Storage.Journal.Type, cfg.Storage.Journal.DSN)
		if err != nil {
			output.Error("打开运行日志失败: %v", err)
			return err
		}
		if journal == nil {
			err := fmt.Errorf("未配置storage.journal")
			output.Error("%v", err)
			return err
		}
		defer journal.Close()

		if len(args) == 1 {
			return showRun(cmd, journal, args[0])
		}

		runs, err := journal.ListRuns(cmd.Context(), historyOpts.limit)
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(runs)
		}
		if len(runs) == 0 {
			output.Info("暂无运行记录")
			return nil
		}
		table := output.NewTable("ID", "STATUS", "STARTED", "DURATION", "TOTAL", "FAILED")
		for _, r := range runs {
			table.AddRow(
				r.ID,
				r.Status,
				formatMillis(r.StartedAt),
				runDuration(r),
				fmt.Sprintf("%d", r.Total),
				dash(strings.Join(r.Failed, ",")),
			)
		}
		table.Render()
		return nil
	},
}

func init() {
	historyOpts.cfg.register(historyCmd)
	historyCmd.Flags().IntVarP(&historyOpts.limit, "limit", "n", 20, "最多显示的运行数")
}

func showRun(cmd *cobra.Command, journal storage.JournalRepository, id string) error {
	run, err := journal.GetRun(cmd.Context(), id)
	if err != nil {
		output.Error("查询失败: %v", err)
		return err
	}
	events, err := journal.ListEvents(cmd.Context(), id)
	if err != nil {
		output.Error("查询事件失败: %v", err)
		return err
	}
	if outputJSON {
		return output.PrintJSON(map[string]any{"run": run, "events": events})
	}

	fmt.Fprintf(output.Out, "Run:      %s\n", run.ID)
	fmt.Fprintf(output.Out, "状态:     %s\n", run.Status)
	fmt.Fprintf(output.Out, "开始:     %s\n", formatMillis(run.StartedAt))
	fmt.Fprintf(output.Out, "耗时:     %s\n", runDuration(run))
	fmt.Fprintf(output.Out, "运行目录: %s\n", dash(run.RunDir))
	if run.Message != "" {
		fmt.Fprintf(output.Out, "信息:     %s\n", run.Message)
	}
	fmt.Fprintln(output.Out)

	table := output.NewTable("TIME", "EVENT", "MODULE", "WORKER", "MESSAGE")
	for _, ev := range events {
		table.AddRow(
			time.UnixMilli(ev.CreatedAt).Format("15:04:05.000"),
			ev.Type,
			dash(ev.Module),
			dash(ev.Worker),
			ev.Message,
		)
	}
	table.Render()
	return nil
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}

func runDuration(r *storage.RunRecord) string {
	if r.FinishedAt == 0 {
		return "-"
	}
	return (time.Duration(r.FinishedAt-r.StartedAt) * time.Millisecond).String()
}
