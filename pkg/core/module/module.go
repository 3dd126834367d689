// Package module 定义模块（任务）契约、模块注册中心以及模块共享的运行环境
package module

import (
	"context"
	"fmt"

	"github.com/LENAX/sim-runner/pkg/config"
)

// Module 模块接口（对外导出）
// executor在每个阶段调用前通过SetStage设置当前阶段，然后调用Run执行钩子
type Module interface {
	Name() string
	SetStage(stage Stage)
	BeforeRun(ctx context.Context) error
	RunImpl(ctx context.Context) error
	AfterRun(ctx context.Context) error
}

// Descriptor 模块描述符，即配置中的一项modules
type Descriptor = config.ModuleConfig

// Factory 模块构造函数
type Factory func(name string, cfg *config.ModuleConfig, env *Env) (Module, error)

// Run 依次执行 BeforeRun -> RunImpl -> AfterRun
func Run(ctx context.Context, m Module) error {
	if err := m.BeforeRun(ctx); err != nil {
		return fmt.Errorf("模块 %s BeforeRun失败: %w", m.Name(), err)
	}
	if err := m.RunImpl(ctx); err != nil {
		return err
	}
	if err := m.AfterRun(ctx); err != nil {
		return fmt.Errorf("模块 %s AfterRun失败: %w", m.Name(), err)
	}
	return nil
}

// Base 模块基础实现，具体模块嵌入Base并覆盖RunImpl
type Base struct {
	name   string
	Config *config.ModuleConfig
	Env    *Env
	Stage  Stage
}

// NewBase 创建Base
func NewBase(name string, cfg *config.ModuleConfig, env *Env) Base {
	return Base{name: name, Config: cfg, Env: env, Stage: StageIntraday}
}

func (b *Base) Name() string { return b.name }

func (b *Base) SetStage(stage Stage) { b.Stage = stage }

func (b *Base) BeforeRun(ctx context.Context) error { return nil }

func (b *Base) RunImpl(ctx context.Context) error { return nil }

func (b *Base) AfterRun(ctx context.Context) error { return nil }

// Sys 是否为系统级模块
func (b *Base) Sys() bool { return b.Config != nil && b.Config.Sys }

// Param 读取模块参数
func (b *Base) Param(key string) (any, bool) {
	if b.Config == nil || b.Config.Params == nil {
		return nil, false
	}
	v, ok := b.Config.Params[key]
	return v, ok
}

// ParamString 读取字符串参数
func (b *Base) ParamString(key string) string {
	v, ok := b.Param(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// ParamStrings 读取字符串列表参数，单个字符串视为只有一个元素的列表
func (b *Base) ParamStrings(key string) []string {
	v, ok := b.Param(key)
	if !ok || v == nil {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		return []string{vv}
	}
	return nil
}

// ParamBool 读取布尔参数
func (b *Base) ParamBool(key string) bool {
	v, ok := b.Param(key)
	if !ok {
		return false
	}
	bv, _ := v.(bool)
	return bv
}
