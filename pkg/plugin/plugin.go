// Package plugin 运行通知插件：订阅事件总线，在运行结束或模块失败时触发已绑定的插件
package plugin

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/LENAX/sim-runner/pkg/core/engine"
)

// Plugin 插件接口（对外导出）
type Plugin interface {
	// Name 插件名称，同一Manager中唯一
	Name() string
	// Init 按配置参数初始化
	Init(params map[string]string) error
	// Execute 处理一次触发
	Execute(ctx context.Context, data Data) error
}

// Factory 插件构造函数
type Factory func() Plugin

var factories = map[string]Factory{
	"email": NewEmailPlugin,
}

// New 按名称创建内置插件（对外导出）
func New(name string) (Plugin, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("未知的插件: %s", name)
	}
	return f(), nil
}

// Names 内置插件名称（已排序）
func Names() []string {
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Data 传递给插件的数据
type Data struct {
	Event     engine.EventType
	RunID     string
	Module    string
	Worker    string
	Message   string
	Failed    bool
	Timestamp time.Time
}

// DataFromEvent 由运行事件构造插件数据
// run.finished的Message非空表示本次运行失败
func DataFromEvent(ev *engine.RunEvent) Data {
	failed := false
	switch ev.Type {
	case engine.EventModuleFailed, engine.EventWorkerTimeout, engine.EventWorkerExited:
		failed = true
	case engine.EventRunFinished:
		failed = ev.Message != ""
	}
	return Data{
		Event:     ev.Type,
		RunID:     ev.RunID,
		Module:    ev.Module,
		Worker:    ev.Worker,
		Message:   ev.Message,
		Failed:    failed,
		Timestamp: ev.Timestamp,
	}
}

// Binding 插件与事件的绑定规则
type Binding struct {
	Plugin    string
	Event     engine.EventType
	Condition func(data Data) bool // 可选，满足条件才触发
}

// OnlyFailed 只在失败时触发的条件
func OnlyFailed(data Data) bool {
	return data.Failed
}
