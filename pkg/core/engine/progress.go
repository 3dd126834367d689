package engine

import (
	"sort"
	"sync"
	"time"
)

// Progress 运行进度快照（对外导出）
// Running为正在执行的模块，Pending为尚未完成且未失败的模块（不含运行中）
type Progress struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Skipped   int       `json:"skipped"`
	Running   int       `json:"running"`
	Failed    int       `json:"failed"`
	Pending   int       `json:"pending"`

	RunningModules []string `json:"running_modules,omitempty"`
	FailedModules  []string `json:"failed_modules,omitempty"`
	Finished       bool     `json:"finished"`
}

// ProgressTracker 记录编排器的内存进度，供状态服务读取
type ProgressTracker struct {
	mu        sync.RWMutex
	runID     string
	startedAt time.Time
	total     int
	completed map[string]bool
	skipped   int
	running   map[string]string // module -> worker
	failed    map[string]bool
	finished  bool
}

// NewProgressTracker 创建进度追踪器
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		completed: make(map[string]bool),
		running:   make(map[string]string),
		failed:    make(map[string]bool),
	}
}

// Start 开始新的一轮运行，清空之前的状态
func (p *ProgressTracker) Start(runID string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runID = runID
	p.startedAt = time.Now()
	p.total = total
	p.completed = make(map[string]bool)
	p.running = make(map[string]string)
	p.failed = make(map[string]bool)
	p.skipped = 0
	p.finished = false
}

// AddTotal 追加模块数（post阶段）
func (p *ProgressTracker) AddTotal(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total += n
	p.finished = false
}

func (p *ProgressTracker) Dispatched(module, worker string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[module] = worker
}

func (p *ProgressTracker) Done(module string, skipped bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, module)
	if p.completed[module] {
		return
	}
	p.completed[module] = true
	if skipped {
		p.skipped++
	}
}

func (p *ProgressTracker) Failed(module string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, module)
	p.failed[module] = true
}

// Finish 标记运行结束
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished = true
	p.running = make(map[string]string)
}

// Snapshot 返回当前进度
func (p *ProgressTracker) Snapshot() Progress {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := Progress{
		RunID:     p.runID,
		StartedAt: p.startedAt,
		Total:     p.total,
		Completed: len(p.completed),
		Skipped:   p.skipped,
		Running:   len(p.running),
		Failed:    len(p.failed),
		Finished:  p.finished,
	}
	snap.Pending = snap.Total - snap.Completed - snap.Running - snap.Failed
	if snap.Pending < 0 {
		snap.Pending = 0
	}
	for m := range p.running {
		snap.RunningModules = append(snap.RunningModules, m)
	}
	for m := range p.failed {
		snap.FailedModules = append(snap.FailedModules, m)
	}
	sort.Strings(snap.RunningModules)
	sort.Strings(snap.FailedModules)
	return snap
}
