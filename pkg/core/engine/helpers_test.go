package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LENAX/sim-runner/pkg/core/worker"
	"github.com/LENAX/sim-runner/pkg/logger"
)

// recorder 记录模块的执行顺序，按模块名决定行为
type recorder struct {
	mu    sync.Mutex
	order []string
	delay time.Duration
}

func (r *recorder) Run(ctx context.Context, name string) (bool, error) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	switch name {
	case "fail":
		return false, errors.New("boom")
	case "slow":
		time.Sleep(200 * time.Millisecond)
	case "hang":
		<-ctx.Done()
		return false, ctx.Err()
	}
	r.mu.Lock()
	r.order = append(r.order, name)
	r.mu.Unlock()
	return name == "cached", nil
}

func (r *recorder) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func newTestOrchestrator(t *testing.T, workers int, runner worker.TaskRunner, bus *EventBus) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(Options{
		Workers:           workers,
		HeartbeatInterval: 20 * time.Millisecond,
		LivenessTimeout:   2 * time.Second,
		CheckInterval:     20 * time.Millisecond,
		StopTimeout:       time.Second,
		Launcher: &worker.InProcessLauncher{
			Serve: worker.ExecutorServeFunc(runner, 20*time.Millisecond, 5*time.Second, logger.Discard()),
		},
		RunID:  "test-run",
		Bus:    bus,
		Logger: logger.Discard(),
	})
	require.NoError(t, err)
	return o
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

// silentLauncher 启动的worker从不发送任何消息，只记录收到的消息
type silentLauncher struct {
	mu    sync.Mutex
	conns []*silentConn
}

func (l *silentLauncher) Launch(ctx context.Context, name string) (worker.Conn, error) {
	c := &silentConn{killed: make(chan struct{})}
	l.mu.Lock()
	l.conns = append(l.conns, c)
	l.mu.Unlock()
	return c, nil
}

func (l *silentLauncher) runMessages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, c := range l.conns {
		out = append(out, c.runs()...)
	}
	return out
}

type silentConn struct {
	mu   sync.Mutex
	sent []worker.Message
	once sync.Once

	killed chan struct{}
}

func (c *silentConn) Send(msg worker.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *silentConn) Recv() (worker.Message, error) {
	<-c.killed
	return worker.Message{}, io.EOF
}

func (c *silentConn) Kill() error {
	c.once.Do(func() { close(c.killed) })
	return nil
}

func (c *silentConn) Close() error { return nil }

func (c *silentConn) Wait() error { return nil }

func (c *silentConn) runs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.sent {
		if m.Type == worker.MsgRun {
			out = append(out, m.Module)
		}
	}
	return out
}

// timeline 记录每个模块的开始与结束
type timeline struct {
	mu     sync.Mutex
	events []string
	delay  time.Duration
}

func (tl *timeline) Run(ctx context.Context, name string) (bool, error) {
	tl.add("start:" + name)
	time.Sleep(tl.delay)
	tl.add("end:" + name)
	return false, nil
}

func (tl *timeline) add(s string) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.events = append(tl.events, s)
}

func (tl *timeline) Events() []string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return append([]string(nil), tl.events...)
}

// heartbeatLauncher 启动的worker收到run后按间隔发送beats次心跳，之后不再发送任何消息
type heartbeatLauncher struct {
	beats    int
	interval time.Duration

	mu    sync.Mutex
	conns []*heartbeatConn
}

func (l *heartbeatLauncher) Launch(ctx context.Context, name string) (worker.Conn, error) {
	c := &heartbeatConn{
		silentConn: silentConn{killed: make(chan struct{})},
		beats:      l.beats,
		interval:   l.interval,
		inbox:      make(chan worker.Message),
	}
	l.mu.Lock()
	l.conns = append(l.conns, c)
	l.mu.Unlock()
	return c, nil
}

func (l *heartbeatLauncher) runMessages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, c := range l.conns {
		out = append(out, c.runs()...)
	}
	return out
}

type heartbeatConn struct {
	silentConn
	beats    int
	interval time.Duration
	inbox    chan worker.Message
	start    sync.Once

	beatMu   sync.Mutex
	lastBeat time.Time
}

func (c *heartbeatConn) Send(msg worker.Message) error {
	if err := c.silentConn.Send(msg); err != nil {
		return err
	}
	if msg.Type == worker.MsgRun {
		c.start.Do(func() { go c.beat() })
	}
	return nil
}

func (c *heartbeatConn) beat() {
	for i := 0; i < c.beats; i++ {
		select {
		case <-time.After(c.interval):
		case <-c.killed:
			return
		}
		c.beatMu.Lock()
		c.lastBeat = time.Now()
		c.beatMu.Unlock()
		select {
		case c.inbox <- worker.Message{Type: worker.MsgHeartbeat}:
		case <-c.killed:
			return
		}
	}
}

func (c *heartbeatConn) Recv() (worker.Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.killed:
		return worker.Message{}, io.EOF
	}
}

func (c *heartbeatConn) LastBeat() time.Time {
	c.beatMu.Lock()
	defer c.beatMu.Unlock()
	return c.lastBeat
}
