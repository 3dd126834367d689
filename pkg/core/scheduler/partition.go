package scheduler

import (
	"sort"
	"sync"
)

// Partition 分区闭包调度器（对外导出）
//
// PopBatch(p) 一次取出分区p中当前可以运行的最大依赖闭包：
// 模块只有在其所有集合内依赖满足以下之一时才会被返回：
//   - 已完成
//   - 属于同一分区且在本批次中更早返回
//
// 其他分区尚未完成的依赖以及失败的依赖都会阻塞该模块。批次内的顺序保证依赖在前。
//
// PopReady 逐个交出模块，只交出集合内依赖已全部完成的模块，可以直接交给Orchestrator.Run。
type Partition struct {
	mu sync.Mutex

	names       []string
	index       map[string]bool
	deps        map[string][]string
	partitionOf map[string]string

	pending  map[string]bool // 尚未返回
	returned map[string]bool // 已返回但未完成/失败
	finished map[string]bool
	failed   map[string]bool

	buffer map[string][]string // PopReady已取出闭包但尚未交出的模块
}

// NewPartition 创建分区调度器
// partitionOf中没有的模块归入空分区""
func NewPartition(names []string, deps map[string][]string, partitionOf map[string]string) *Partition {
	p := &Partition{
		index:       make(map[string]bool, len(names)),
		deps:        make(map[string][]string, len(names)),
		partitionOf: make(map[string]string, len(names)),
		pending:     make(map[string]bool, len(names)),
		returned:    make(map[string]bool),
		finished:    make(map[string]bool),
		failed:      make(map[string]bool),
		buffer:      make(map[string][]string),
	}
	for _, n := range names {
		if p.index[n] {
			continue
		}
		p.index[n] = true
		p.names = append(p.names, n)
		p.pending[n] = true
		p.partitionOf[n] = partitionOf[n]
		p.deps[n] = append([]string(nil), deps[n]...)
	}
	return p
}

// Partitions 出现过的分区，按首次出现的顺序
func (p *Partition) Partitions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range p.names {
		part := p.partitionOf[n]
		if !seen[part] {
			seen[part] = true
			out = append(out, part)
		}
	}
	return out
}

// PartitionOf 模块所属分区
func (p *Partition) PartitionOf(name string) string {
	return p.partitionOf[name]
}

// PopBatch 取出分区part当前可运行的依赖闭包，返回的模块从待调度集合中移除
func (p *Partition) PopBatch(part string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	batch := p.closureLocked(part)
	for _, n := range batch {
		delete(p.pending, n)
		p.returned[n] = true
	}
	return batch
}

// closureLocked DFS计算闭包，memo记录每个模块是否可以进入本批次
func (p *Partition) closureLocked(part string) []string {
	const (
		unknown = iota
		visiting
		ok
		blocked
	)
	state := make(map[string]int)
	var batch []string

	var visit func(n string) bool
	visit = func(n string) bool {
		switch state[n] {
		case ok:
			return true
		case blocked, visiting:
			// visiting说明遇到环
			return false
		}
		state[n] = visiting

		for _, dep := range p.deps[n] {
			if !p.index[dep] || p.finished[dep] {
				continue
			}
			if p.pending[dep] && p.partitionOf[dep] == part && visit(dep) {
				continue
			}
			state[n] = blocked
			return false
		}

		state[n] = ok
		batch = append(batch, n)
		return true
	}

	for _, n := range p.names {
		if p.pending[n] && p.partitionOf[n] == part {
			visit(n)
		}
	}
	return batch
}

// ReadyBatch 预览分区part当前的闭包大小，不改变状态
func (p *Partition) ReadyBatch(part string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.closureLocked(part))
}

// Ready 所有分区当前可领取的模块总数：缓存批次与新闭包中依赖均已完成的模块
func (p *Partition) Ready() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, part := range p.partitionsLocked() {
		for _, n := range p.buffer[part] {
			if p.depsDoneLocked(n) {
				total++
			}
		}
		for _, n := range p.closureLocked(part) {
			if p.depsDoneLocked(n) {
				total++
			}
		}
	}
	return total
}

// depsDoneLocked 集合内依赖是否全部完成
func (p *Partition) depsDoneLocked(name string) bool {
	for _, dep := range p.deps[name] {
		if p.index[dep] && !p.finished[dep] {
			return false
		}
	}
	return true
}

func (p *Partition) partitionsLocked() []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range p.names {
		part := p.partitionOf[n]
		if !seen[part] {
			seen[part] = true
			out = append(out, part)
		}
	}
	return out
}

// PopReady 返回一个集合内依赖均已完成的模块
// 分区当前的闭包先并入缓存批次，再按批次顺序取第一个可运行的模块；
// 批次内依赖尚未完成的模块留在缓存中。partition为空时依次尝试所有分区
func (p *Partition) PopReady(part string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	parts := []string{part}
	if part == "" {
		parts = p.partitionsLocked()
	}
	for _, pt := range parts {
		for _, n := range p.closureLocked(pt) {
			delete(p.pending, n)
			p.returned[n] = true
			p.buffer[pt] = append(p.buffer[pt], n)
		}
		buf := p.buffer[pt]
		for i, n := range buf {
			if p.depsDoneLocked(n) {
				p.buffer[pt] = append(buf[:i:i], buf[i+1:]...)
				return n, true
			}
		}
	}
	return "", false
}

func (p *Partition) OnFinished(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.index[name] || p.finished[name] || p.failed[name] {
		return
	}
	p.finished[name] = true
	delete(p.pending, name)
	delete(p.returned, name)
}

func (p *Partition) OnError(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.index[name] || p.finished[name] {
		return
	}
	p.failed[name] = true
	delete(p.pending, name)
	delete(p.returned, name)
}

func (p *Partition) IsFinished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.finished) == len(p.names)
}

func (p *Partition) Pending() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, n := range p.names {
		if !p.finished[n] && !p.failed[n] {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func (p *Partition) Failed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sortedSet(p.failed)
}

func (p *Partition) Total() int {
	return len(p.names)
}

// Outstanding 已返回但尚未回报结果的模块数量
func (p *Partition) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.returned)
}
