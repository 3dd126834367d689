// Package worker 实现隔离的worker池：父进程通过JSON-lines消息驱动worker子进程执行模块，
// 双向心跳用于存活检测
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// PoolConfig worker池配置
type PoolConfig struct {
	Size              int
	Launcher          Launcher
	HeartbeatInterval time.Duration
	StopTimeout       time.Duration
	// NamePrefix worker名称前缀，默认"worker"
	NamePrefix string
	Logger     *slog.Logger
}

// Pool worker池（对外导出）
// 所有worker的消息汇入同一个事件通道，由编排器单协程消费
type Pool struct {
	cfg     PoolConfig
	log     *slog.Logger
	events  chan Event
	closed  chan struct{}
	once    sync.Once
	mu      sync.Mutex
	workers []*Worker
}

// NewPool 启动Size个worker
func NewPool(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("worker数量必须大于0")
	}
	if cfg.Launcher == nil {
		return nil, fmt.Errorf("缺少Launcher")
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = "worker"
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	p := &Pool{
		cfg:    cfg,
		log:    log,
		events: make(chan Event, cfg.Size*16),
		closed: make(chan struct{}),
	}
	for i := 0; i < cfg.Size; i++ {
		name := fmt.Sprintf("%s-%d", cfg.NamePrefix, i)
		conn, err := cfg.Launcher.Launch(ctx, name)
		if err != nil {
			p.Shutdown(false)
			return nil, fmt.Errorf("启动 %s 失败: %w", name, err)
		}
		p.workers = append(p.workers, newWorker(name, conn, p.events, p.closed, cfg.HeartbeatInterval, log))
	}
	log.Info("🚀 worker池已启动", "size", cfg.Size)
	return p, nil
}

// Events 事件通道
func (p *Pool) Events() <-chan Event {
	return p.events
}

// Workers 全部worker
func (p *Pool) Workers() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Worker(nil), p.workers...)
}

func (p *Pool) byState(states ...State) []*Worker {
	var out []*Worker
	for _, w := range p.Workers() {
		st := w.State()
		for _, want := range states {
			if st == want {
				out = append(out, w)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Idle 空闲worker
func (p *Pool) Idle() []*Worker { return p.byState(StateIdle) }

// Busy 运行中的worker
func (p *Pool) Busy() []*Worker { return p.byState(StateBusy) }

// Alive 空闲或运行中的worker数量
func (p *Pool) Alive() int { return len(p.byState(StateIdle, StateBusy)) }

// Discard 丢弃worker（强制终止，不重启）
func (p *Pool) Discard(w *Worker) {
	w.Kill()
}

// Shutdown 关闭worker池
// graceful为true时空闲worker收到stop后正常退出，其余一律kill
// 关闭后事件通道不再投递事件
func (p *Pool) Shutdown(graceful bool) {
	p.once.Do(func() { close(p.closed) })

	var wg sync.WaitGroup
	for _, w := range p.Workers() {
		switch {
		case graceful && w.State() == StateIdle:
			wg.Add(1)
			go func(w *Worker) {
				defer wg.Done()
				w.Stop(p.cfg.StopTimeout)
			}(w)
		case w.State() == StateStopped:
		default:
			w.Kill()
		}
	}
	wg.Wait()
	p.log.Debug("worker池已关闭")
}
