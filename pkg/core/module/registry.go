package module

import (
	"fmt"
	"sort"
	"sync"

	"github.com/LENAX/sim-runner/pkg/config"
)

// Registry 模块注册中心（对外导出）
// key为模块配置中的class（实现定位符）
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry 创建空的注册中心
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Default 进程级默认注册中心，已注册内置模块demo/exec
// worker子进程使用它构造模块，需要自定义模块的程序在init中向其注册
var Default = newBuiltinRegistry()

func newBuiltinRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister("demo", NewDemoModule)
	r.MustRegister("exec", NewExecModule)
	return r
}

// Register 注册模块工厂，class重复时返回错误
func (r *Registry) Register(class string, f Factory) error {
	if class == "" {
		return fmt.Errorf("class不能为空")
	}
	if f == nil {
		return fmt.Errorf("模块 %s 的工厂函数不能为nil", class)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[class]; exists {
		return fmt.Errorf("class %s 已注册", class)
	}
	r.factories[class] = f
	return nil
}

// MustRegister 注册失败时panic
func (r *Registry) MustRegister(class string, f Factory) {
	if err := r.Register(class, f); err != nil {
		panic(err)
	}
}

// Get 获取模块工厂
func (r *Registry) Get(class string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[class]
	return f, ok
}

// Classes 返回已注册的class列表（已排序）
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for c := range r.factories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// New 根据模块配置构造模块实例
func (r *Registry) New(cfg *config.ModuleConfig, env *Env) (Module, error) {
	f, ok := r.Get(cfg.Class)
	if !ok {
		return nil, fmt.Errorf("模块 %s 的class %s 未注册", cfg.Name, cfg.Class)
	}
	m, err := f(cfg.Name, cfg, env)
	if err != nil {
		return nil, fmt.Errorf("构造模块 %s 失败: %w", cfg.Name, err)
	}
	return m, nil
}

// Register 向默认注册中心注册
func Register(class string, f Factory) error {
	return Default.Register(class, f)
}
