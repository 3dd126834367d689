package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/LENAX/sim-runner/pkg/core/module"
	"github.com/LENAX/sim-runner/pkg/core/worker"
)

var workerOpts struct {
	name string
	spec string
}

// workerCmd 子进程worker入口，由run命令启动
// stdin/stdout是与父进程之间的消息通道，日志只能写stderr
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "运行worker子进程（内部使用）",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger("info", "text", os.Stderr).With("worker", workerOpts.name)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
		defer stop()

		if err := worker.ServeSpec(ctx, workerOpts.name, workerOpts.spec, module.Default, os.Stdin, os.Stdout, log); err != nil {
			log.Error("❌ worker退出", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerOpts.name, "name", "worker", "worker名称")
	workerCmd.Flags().StringVar(&workerOpts.spec, "spec", "", "运行参数文件")
	_ = workerCmd.MarkFlagRequired("spec")
	workerCmd.SilenceErrors = true
}
