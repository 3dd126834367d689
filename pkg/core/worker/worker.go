package worker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State worker状态
type State int

const (
	StateIdle State = iota
	StateBusy
	StateStopped
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateStopped:
		return "stopped"
	case StateErrored:
		return "errored"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Event worker上报给池的事件
// Exited为true表示连接断开，Err为退出原因
type Event struct {
	Worker *Worker
	Msg    Message
	Exited bool
	Err    error
	At     time.Time
}

// Worker 父进程持有的worker句柄（对外导出）
type Worker struct {
	name string
	conn Conn
	log  *slog.Logger

	mu       sync.Mutex
	state    State
	active   string
	lastSeen time.Time

	events chan<- Event
	closed <-chan struct{}

	exited  chan struct{}
	exitErr error
	stopHB  chan struct{}
	hbOnce  sync.Once
}

func newWorker(name string, conn Conn, events chan<- Event, closed <-chan struct{}, hbInterval time.Duration, log *slog.Logger) *Worker {
	w := &Worker{
		name:     name,
		conn:     conn,
		log:      log.With("worker", name),
		state:    StateIdle,
		lastSeen: time.Now(),
		events:   events,
		closed:   closed,
		exited:   make(chan struct{}),
		stopHB:   make(chan struct{}),
	}
	go w.readLoop()
	go w.heartbeatLoop(hbInterval)
	return w
}

func (w *Worker) Name() string { return w.name }

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Active 正在运行的模块，空闲时为空
func (w *Worker) Active() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// LastSeen 最近一次收到消息（或派发任务）的时间
func (w *Worker) LastSeen() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}

// Touch 刷新活跃时间
func (w *Worker) Touch(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t.After(w.lastSeen) {
		w.lastSeen = t
	}
}

// Dispatch 向空闲worker派发模块
func (w *Worker) Dispatch(mod string) error {
	w.mu.Lock()
	if w.state != StateIdle {
		st := w.state
		w.mu.Unlock()
		return fmt.Errorf("worker %s 状态为%s，不能派发模块 %s", w.name, st, mod)
	}
	w.state = StateBusy
	w.active = mod
	w.lastSeen = time.Now()
	w.mu.Unlock()

	if err := w.conn.Send(Message{Type: MsgRun, Module: mod}); err != nil {
		w.markErrored()
		return fmt.Errorf("派发模块 %s 到 %s 失败: %w", mod, w.name, err)
	}
	return nil
}

// Complete 模块完成，worker回到空闲状态，返回完成的模块名
func (w *Worker) Complete() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	mod := w.active
	w.active = ""
	if w.state == StateBusy {
		w.state = StateIdle
	}
	return mod
}

func (w *Worker) markErrored() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateStopped {
		w.state = StateErrored
	}
}

// Exited worker连接断开后关闭
func (w *Worker) Exited() <-chan struct{} {
	return w.exited
}

// Stop 优雅停止：发送stop并等待退出，超时后强制kill
func (w *Worker) Stop(timeout time.Duration) {
	w.stopHeartbeat()
	w.mu.Lock()
	w.state = StateStopped
	w.mu.Unlock()

	if err := w.conn.Send(Message{Type: MsgStop}); err != nil {
		w.log.Debug("发送stop失败", "error", err)
	}
	w.conn.Close()

	select {
	case <-w.exited:
		w.log.Debug("worker已停止")
	case <-time.After(timeout):
		w.log.Warn("⚠️ worker停止超时，强制终止", "timeout", timeout)
		w.conn.Kill()
	}
}

// Kill 强制终止worker
func (w *Worker) Kill() {
	w.stopHeartbeat()
	w.mu.Lock()
	if w.state != StateStopped {
		w.state = StateErrored
	}
	w.mu.Unlock()
	if err := w.conn.Kill(); err != nil {
		w.log.Warn("终止worker失败", "error", err)
	}
}

func (w *Worker) stopHeartbeat() {
	w.hbOnce.Do(func() { close(w.stopHB) })
}

func (w *Worker) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.closed:
	}
}

// readLoop 读取worker消息并转发到池的事件通道，连接断开时上报exited
func (w *Worker) readLoop() {
	for {
		msg, err := w.conn.Recv()
		if err != nil {
			w.stopHeartbeat()
			w.exitErr = w.conn.Wait()
			if w.exitErr == nil {
				w.exitErr = err
			}
			close(w.exited)
			w.markErrored()
			w.emit(Event{Worker: w, Exited: true, Err: fmt.Errorf("%w: %s: %v", ErrWorkerExited, w.name, w.exitErr), At: time.Now()})
			return
		}
		now := time.Now()
		w.Touch(now)
		w.emit(Event{Worker: w, Msg: msg, At: now})
	}
}

func (w *Worker) heartbeatLoop(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopHB:
			return
		case <-ticker.C:
			if err := w.conn.Send(Message{Type: MsgHeartbeat}); err != nil {
				return
			}
		}
	}
}
