package module

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/LENAX/sim-runner/pkg/config"
	"github.com/LENAX/sim-runner/pkg/logger"
)

// DemoModule 内置演示模块：打印日期窗口，可通过参数模拟耗时与失败
//
// 参数：
//   - sleep (string, 如"200ms") 每个阶段的耗时
//   - fail (bool) 为true时RunImpl返回错误
//   - panic (bool) 为true时RunImpl直接panic
type DemoModule struct {
	Base
}

// NewDemoModule 构造DemoModule
func NewDemoModule(name string, cfg *config.ModuleConfig, env *Env) (Module, error) {
	m := &DemoModule{Base: NewBase(name, cfg, env)}
	if s := m.ParamString("sleep"); s != "" {
		if _, err := time.ParseDuration(s); err != nil {
			return nil, fmt.Errorf("参数sleep非法: %w", err)
		}
	}
	return m, nil
}

func (m *DemoModule) RunImpl(ctx context.Context) error {
	log := logger.FromContext(ctx)
	var start, end int
	if m.Env != nil {
		start, end = m.Env.StartDate, m.Env.EndDate
	}
	log.Info("📅 运行演示模块", "module", m.Name(), "stage", m.Stage, "start_date", start, "end_date", end)

	if s := m.ParamString("sleep"); s != "" {
		d, _ := time.ParseDuration(s)
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.ParamBool("panic") {
		panic(fmt.Sprintf("模块 %s 主动panic", m.Name()))
	}
	if m.ParamBool("fail") {
		return fmt.Errorf("模块 %s 主动失败", m.Name())
	}
	return nil
}

// ExecModule 内置外部命令模块，使其他语言实现的模块可以接入
// 参数 command ([]string) 为命令及参数，每个阶段执行一次
// 子进程通过 SIM_* 环境变量获得模块名、阶段、日期窗口与缓存目录
type ExecModule struct {
	Base
	command []string
}

// NewExecModule 构造ExecModule
func NewExecModule(name string, cfg *config.ModuleConfig, env *Env) (Module, error) {
	m := &ExecModule{Base: NewBase(name, cfg, env)}
	m.command = m.ParamStrings("command")
	if len(m.command) == 0 {
		return nil, fmt.Errorf("exec模块 %s 缺少参数command", name)
	}
	return m, nil
}

func (m *ExecModule) RunImpl(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, m.command[0], m.command[1:]...)
	cmd.Env = append(os.Environ(), m.Environ()...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if dir := m.ParamString("dir"); dir != "" {
		cmd.Dir = dir
	}

	logger.FromContext(ctx).Debug("执行外部命令", "module", m.Name(), "stage", m.Stage, "command", m.command)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("模块 %s 外部命令执行失败: %w", m.Name(), err)
	}
	return nil
}

// Environ 传给外部命令的环境变量
func (m *ExecModule) Environ() []string {
	env := []string{
		"SIM_MODULE=" + m.Name(),
		"SIM_STAGE=" + string(m.Stage),
	}
	if m.Env == nil {
		return env
	}
	env = append(env,
		"SIM_START_DATE="+strconv.Itoa(m.Env.StartDate),
		"SIM_END_DATE="+strconv.Itoa(m.Env.EndDate),
		"SIM_LIVE="+strconv.FormatBool(m.Env.Live),
		"SIM_PROD="+strconv.FormatBool(m.Env.Prod),
	)
	if m.Env.Dir != nil {
		env = append(env,
			"SIM_USER_CACHE="+m.Env.Dir.UserDir,
			"SIM_SYS_CACHE="+m.Env.Dir.SysDir,
		)
	}
	return env
}
