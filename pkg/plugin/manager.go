package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/LENAX/sim-runner/pkg/config"
	"github.com/LENAX/sim-runner/pkg/core/engine"
)

// Manager 插件管理器（对外导出）
type Manager struct {
	plugins  map[string]Plugin               // 插件名称 -> 插件实例
	bindings map[engine.EventType][]Binding // 事件类型 -> 绑定列表
	mu       sync.RWMutex
	log      *slog.Logger
}

// NewManager 创建插件管理器
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		plugins:  make(map[string]Plugin),
		bindings: make(map[engine.EventType][]Binding),
		log:      log,
	}
}

// FromConfig 按notify配置创建并绑定插件，没有配置插件时返回nil
func FromConfig(cfg config.NotifyConfig, log *slog.Logger) (*Manager, error) {
	if len(cfg.Plugins) == 0 {
		return nil, nil
	}
	m := NewManager(log)
	for _, pc := range cfg.Plugins {
		p, err := New(pc.Name)
		if err != nil {
			return nil, err
		}
		if err := m.RegisterWithInit(p, pc.Params); err != nil {
			return nil, err
		}
		for _, ev := range pc.Events {
			b := Binding{Plugin: pc.Name, Event: engine.EventType(ev)}
			if pc.OnlyFailed {
				b.Condition = OnlyFailed
			}
			if err := m.Bind(b); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// Register 注册插件
func (m *Manager) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("插件不能为空")
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("插件名称不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plugins[name]; exists {
		return fmt.Errorf("插件 %s 已注册", name)
	}
	m.plugins[name] = p
	return nil
}

// RegisterWithInit 注册并初始化插件，初始化失败时撤销注册
func (m *Manager) RegisterWithInit(p Plugin, params map[string]string) error {
	if err := m.Register(p); err != nil {
		return err
	}
	if err := p.Init(params); err != nil {
		m.mu.Lock()
		delete(m.plugins, p.Name())
		m.mu.Unlock()
		return fmt.Errorf("插件 %s 初始化失败: %w", p.Name(), err)
	}
	return nil
}

// Bind 绑定插件到事件
func (m *Manager) Bind(b Binding) error {
	if b.Plugin == "" {
		return fmt.Errorf("插件名称不能为空")
	}
	if b.Event == "" {
		return fmt.Errorf("触发事件不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plugins[b.Plugin]; !exists {
		return fmt.Errorf("插件 %s 未注册", b.Plugin)
	}
	m.bindings[b.Event] = append(m.bindings[b.Event], b)
	return nil
}

// Trigger 触发绑定在该事件上的插件，单个插件失败不影响其他插件
func (m *Manager) Trigger(ctx context.Context, data Data) error {
	m.mu.RLock()
	bindings := append([]Binding(nil), m.bindings[data.Event]...)
	m.mu.RUnlock()

	var errs []error
	for _, b := range bindings {
		if b.Condition != nil && !b.Condition(data) {
			continue
		}
		m.mu.RLock()
		p, exists := m.plugins[b.Plugin]
		m.mu.RUnlock()
		if !exists {
			continue
		}
		if err := p.Execute(ctx, data); err != nil {
			errs = append(errs, fmt.Errorf("插件 %s 执行失败: %w", b.Plugin, err))
		}
	}
	return errors.Join(errs...)
}

// Plugins 已注册的插件名称（已排序）
func (m *Manager) Plugins() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.plugins))
	for n := range m.plugins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Attach 订阅事件总线并在后台触发插件，返回的函数处理完已发布的事件后停止订阅
// 插件执行慢不会阻塞事件发布，事件在订阅队列中排队
func (m *Manager) Attach(ctx context.Context, bus *engine.EventBus) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	events, err := bus.SubscribeAll(subCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if err := m.Trigger(ctx, DataFromEvent(ev)); err != nil {
				m.log.Warn("⚠️ 通知插件执行失败", "event", ev.Type, "module", ev.Module, "error", err)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}
