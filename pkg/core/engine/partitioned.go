package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/LENAX/sim-runner/pkg/config"
	"github.com/LENAX/sim-runner/pkg/core/scheduler"
)

// BatchPlaceholder 分区命令参数中的批次文件占位符
const BatchPlaceholder = "{batch}"

// BatchRunner 运行一个非native分区的批次（对外导出）
// 批次内模块按依赖顺序排列，返回nil表示整批成功
type BatchRunner interface {
	RunBatch(ctx context.Context, partition string, modules []string) error
}

// Batch 交给外部执行器的批次文件内容
type Batch struct {
	Partition string   `yaml:"partition"`
	Modules   []string `yaml:"modules"`
	Config    string   `yaml:"config,omitempty"`
	Stages    []string `yaml:"stages,omitempty"`
	Post      bool     `yaml:"post,omitempty"`
}

// CommandBatchRunner 通过partitions.<lang>.command配置的外部命令运行批次
type CommandBatchRunner struct {
	Partitions map[string]config.PartitionConfig
	// Dir 批次文件目录（通常是运行目录）
	Dir string
	// ConfigPath 写入运行目录的cfg.yml
	ConfigPath string
	Stages     []string
	Post       bool
	Stdout     io.Writer
	Stderr     io.Writer

	seq int
}

// RunBatch 写出批次文件并执行命令，命令以非0退出码结束视为整批失败
func (r *CommandBatchRunner) RunBatch(ctx context.Context, partition string, modules []string) error {
	pc, ok := r.Partitions[partition]
	if !ok || len(pc.Command) == 0 {
		return fmt.Errorf("分区 %s 未配置执行命令", partition)
	}

	r.seq++
	dir := r.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	file := filepath.Join(dir, fmt.Sprintf("batch.%s.%03d.yml", partition, r.seq))
	data, err := yaml.Marshal(&Batch{
		Partition: partition,
		Modules:   modules,
		Config:    r.ConfigPath,
		Stages:    r.Stages,
		Post:      r.Post,
	})
	if err != nil {
		return fmt.Errorf("序列化批次失败: %w", err)
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return fmt.Errorf("写入批次文件失败: %w", err)
	}

	args := make([]string, len(pc.Command))
	for i, a := range pc.Command {
		args[i] = strings.ReplaceAll(a, BatchPlaceholder, file)
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(), "SIM_BATCH_FILE="+file, "SIM_PARTITION="+partition)
	for k, v := range pc.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = r.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stderr
	}
	cmd.Stderr = r.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("分区 %s 批次执行失败: %w", partition, err)
	}
	return nil
}

// RunPartitioned 跨分区交替运行（对外导出）
// native分区的批次由worker池按Kahn顺序执行，其余分区整批交给BatchRunner；
// 一轮中所有分区都取不出批次且仍有未完成模块时返回CycleError
func (o *Orchestrator) RunPartitioned(ctx context.Context, p *scheduler.Partition, deps map[string][]string, batches BatchRunner) error {
	causes := make(map[string]error)

	for !p.IsFinished() {
		progressed := false
		for _, part := range p.Partitions() {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("运行被取消: %w", err)
			}
			batch := p.PopBatch(part)
			if len(batch) == 0 {
				continue
			}
			progressed = true
			o.log.Info("📦 运行分区批次", "partition", part, "modules", batch)

			if part == config.DefaultLang {
				if err := o.runNativeBatch(ctx, p, batch, deps, causes); err != nil {
					return err
				}
				continue
			}

			if batches == nil {
				return fmt.Errorf("分区 %s 没有可用的BatchRunner", part)
			}
			for _, name := range batch {
				o.opts.Progress.Dispatched(name, part)
			}
			err := batches.RunBatch(ctx, part, batch)
			for _, name := range batch {
				if err != nil {
					causes[name] = err
					p.OnError(name)
					o.opts.Progress.Failed(name)
					o.publish(NewRunEvent(EventModuleFailed, o.opts.RunID, name).WithWorker(part).WithMessage(err.Error()))
					continue
				}
				p.OnFinished(name)
				o.opts.Progress.Done(name, false)
				o.publish(NewRunEvent(EventModuleDone, o.opts.RunID, name).WithWorker(part))
			}
			if err != nil {
				o.log.Error("❌ 分区批次失败", "partition", part, "error", err)
			}
		}
		if !progressed {
			break
		}
	}

	if len(causes) > 0 {
		failed := p.Failed()
		return &RunError{Failed: failed, Causes: causes}
	}
	if !p.IsFinished() {
		pending := p.Pending()
		o.log.Error("❌ 分区调度无法继续", "pending", pending)
		return &CycleError{Pending: pending}
	}
	return nil
}

// runNativeBatch 用worker池运行native批次，把结果同步回分区调度器
// 只有取消等非模块错误会被返回，模块失败记录在causes中
func (o *Orchestrator) runNativeBatch(ctx context.Context, p *scheduler.Partition, batch []string, deps map[string][]string, causes map[string]error) error {
	k := scheduler.NewKahn(batch, deps)
	err := o.Run(ctx, k)

	for _, name := range k.Finished() {
		p.OnFinished(name)
	}
	var runErr *RunError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &runErr):
		for _, name := range runErr.Failed {
			causes[name] = runErr.Causes[name]
			p.OnError(name)
		}
		return nil
	default:
		return err
	}
}
