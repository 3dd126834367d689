package scheduler

import (
	"sort"
	"sync"
)

// Kahn 基于入度的调度器（对外导出）
// 只统计集合内的依赖边，集合外的依赖视为已满足（由Validate保证可解析）
type Kahn struct {
	mu sync.Mutex

	names      []string
	index      map[string]bool
	inDegree   map[string]int
	dependents map[string][]string

	ready    []string
	queued   map[string]bool
	finished map[string]bool
	failed   map[string]bool
	inFlight map[string]bool
}

// NewKahn 创建Kahn调度器
// 入度为0的模块按names中的顺序进入就绪队列
func NewKahn(names []string, deps map[string][]string) *Kahn {
	k := &Kahn{
		index:      make(map[string]bool, len(names)),
		inDegree:   make(map[string]int, len(names)),
		dependents: make(map[string][]string),
		queued:     make(map[string]bool),
		finished:   make(map[string]bool),
		failed:     make(map[string]bool),
		inFlight:   make(map[string]bool),
	}
	for _, n := range names {
		if k.index[n] {
			continue
		}
		k.index[n] = true
		k.names = append(k.names, n)
	}

	for _, n := range k.names {
		seen := make(map[string]bool)
		for _, dep := range deps[n] {
			if !k.index[dep] || seen[dep] {
				continue
			}
			seen[dep] = true
			k.inDegree[n]++
			k.dependents[dep] = append(k.dependents[dep], n)
		}
	}

	for _, n := range k.names {
		if k.inDegree[n] == 0 {
			k.push(n)
		}
	}
	return k
}

func (k *Kahn) push(name string) {
	if k.queued[name] {
		return
	}
	k.queued[name] = true
	k.ready = append(k.ready, name)
}

// Ready 就绪队列长度
func (k *Kahn) Ready() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.ready)
}

// PopReady 取出队首模块，Kahn不区分分区，partition参数被忽略
func (k *Kahn) PopReady(_ string) (string, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.ready) == 0 {
		return "", false
	}
	name := k.ready[0]
	k.ready = k.ready[1:]
	k.inFlight[name] = true
	return name, true
}

func (k *Kahn) OnFinished(name string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.index[name] || k.finished[name] || k.failed[name] {
		return
	}
	k.finished[name] = true
	delete(k.inFlight, name)

	for _, child := range k.dependents[name] {
		k.inDegree[child]--
		if k.inDegree[child] == 0 && !k.finished[child] && !k.failed[child] {
			k.push(child)
		}
	}
}

func (k *Kahn) OnError(name string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.index[name] || k.finished[name] {
		return
	}
	k.failed[name] = true
	delete(k.inFlight, name)
}

func (k *Kahn) IsFinished() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.finished) == len(k.names)
}

// Pending 未完成且未失败的模块（包括运行中的）
func (k *Kahn) Pending() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []string
	for _, n := range k.names {
		if !k.finished[n] && !k.failed[n] {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func (k *Kahn) Failed() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return sortedSet(k.failed)
}

// Finished 已完成的模块（已排序）
func (k *Kahn) Finished() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return sortedSet(k.finished)
}

func (k *Kahn) Total() int {
	return len(k.names)
}

// InFlight 已领取但尚未回报结果的模块数量
func (k *Kahn) InFlight() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.inFlight)
}

// Stalled 没有就绪、没有运行中、没有失败且未完成，即剩余模块处于环中或被环阻塞
func (k *Kahn) Stalled() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.ready) == 0 && len(k.inFlight) == 0 && len(k.failed) == 0 &&
		len(k.finished) < len(k.names)
}
