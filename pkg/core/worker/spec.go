package worker

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/LENAX/sim-runner/pkg/config"
	"github.com/LENAX/sim-runner/pkg/core/module"
)

// RunOptions 一次运行的选项，由父进程传给每个worker
type RunOptions struct {
	Stages []module.Stage `yaml:"stages"`
	Post   bool           `yaml:"post,omitempty"`
	Live   bool           `yaml:"live,omitempty"`
	Prod   bool           `yaml:"prod,omitempty"`
}

// Spec worker启动所需的全部信息，写入运行目录后由子进程读取
type Spec struct {
	Config  *config.RunConfig `yaml:"config"`
	Options RunOptions        `yaml:"options"`
}

// WriteSpec 写入spec文件
func WriteSpec(path string, spec *Spec) error {
	data, err := yaml.Marshal(spec)
	if err != nil {
		return fmt.Errorf("序列化worker spec失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSpec 读取spec文件
func ReadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取worker spec失败: %w", err)
	}
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("解析worker spec失败: %w", err)
	}
	if spec.Config == nil {
		return nil, fmt.Errorf("worker spec缺少config")
	}
	spec.Config.ApplyDefaults()
	if len(spec.Options.Stages) == 0 {
		spec.Options.Stages = []module.Stage{module.StageIntraday}
	}
	return &spec, nil
}
