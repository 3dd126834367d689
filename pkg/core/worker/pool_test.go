package worker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/sim-runner/pkg/logger"
)

func TestPool_InProcessDispatch(t *testing.T) {
	p, err := NewPool(context.Background(), PoolConfig{
		Size:              2,
		Launcher:          inProcessLauncher(scriptedRunner()),
		HeartbeatInterval: 20 * time.Millisecond,
		StopTimeout:       time.Second,
		Logger:            logger.Discard(),
	})
	require.NoError(t, err)
	defer p.Shutdown(false)

	require.Len(t, p.Idle(), 2)
	w := p.Idle()[0]
	assert.Equal(t, "worker-0", w.Name())

	require.NoError(t, w.Dispatch("ok"))
	assert.Equal(t, StateBusy, w.State())
	assert.Equal(t, "ok", w.Active())
	assert.Error(t, w.Dispatch("again"), "忙碌的worker不能再派发")
	assert.Len(t, p.Busy(), 1)

	ev := waitEvent(t, p, 2*time.Second)
	assert.Same(t, w, ev.Worker)
	assert.Equal(t, Message{Type: MsgDone, Module: "ok"}, ev.Msg)
	assert.Equal(t, "ok", w.Complete())
	assert.Equal(t, StateIdle, w.State())

	require.NoError(t, w.Dispatch("fail"))
	ev = waitEvent(t, p, 2*time.Second)
	assert.Equal(t, MsgError, ev.Msg.Type)
	assert.Contains(t, ev.Msg.Error, "boom")
}

func TestPool_KillReportsExit(t *testing.T) {
	p, err := NewPool(context.Background(), PoolConfig{
		Size:     1,
		Launcher: inProcessLauncher(scriptedRunner()),
		Logger:   logger.Discard(),
	})
	require.NoError(t, err)
	defer p.Shutdown(false)

	w := p.Idle()[0]
	require.NoError(t, w.Dispatch("hang"))
	p.Discard(w)

	ev := waitEvent(t, p, 2*time.Second)
	assert.True(t, ev.Exited)
	assert.ErrorIs(t, ev.Err, ErrWorkerExited)
	assert.Equal(t, StateErrored, w.State())
	assert.Equal(t, 0, p.Alive())
}

func TestPool_GracefulShutdown(t *testing.T) {
	p, err := NewPool(context.Background(), PoolConfig{
		Size:        3,
		Launcher:    inProcessLauncher(scriptedRunner()),
		StopTimeout: 2 * time.Second,
		Logger:      logger.Discard(),
	})
	require.NoError(t, err)

	p.Shutdown(true)
	for _, w := range p.Workers() {
		assert.Equal(t, StateStopped, w.State())
		select {
		case <-w.Exited():
		case <-time.After(2 * time.Second):
			t.Fatalf("%s 未退出", w.Name())
		}
	}
}

func TestPool_InvalidConfig(t *testing.T) {
	_, err := NewPool(context.Background(), PoolConfig{Size: 0, Launcher: inProcessLauncher(scriptedRunner())})
	assert.Error(t, err)
	_, err = NewPool(context.Background(), PoolConfig{Size: 1})
	assert.Error(t, err)
}

func TestProcessLauncher_Subprocess(t *testing.T) {
	if testing.Short() {
		t.Skip("跳过子进程测试")
	}
	exe, err := os.Executable()
	require.NoError(t, err)

	p, err := NewPool(context.Background(), PoolConfig{
		Size: 1,
		Launcher: &ProcessLauncher{
			Path: exe,
			Env:  []string{helperEnv + "=1"},
		},
		HeartbeatInterval: 50 * time.Millisecond,
		StopTimeout:       2 * time.Second,
		Logger:            logger.Discard(),
	})
	require.NoError(t, err)

	w := p.Idle()[0]
	require.NoError(t, w.Dispatch("skip"))
	ev := waitEvent(t, p, 5*time.Second)
	assert.Equal(t, Message{Type: MsgDone, Module: "skip", Skipped: true}, ev.Msg)
	w.Complete()

	require.NoError(t, w.Dispatch("fail"))
	ev = waitEvent(t, p, 5*time.Second)
	assert.Equal(t, MsgError, ev.Msg.Type)
	w.Complete()

	p.Shutdown(true)
	select {
	case <-w.Exited():
	case <-time.After(3 * time.Second):
		t.Fatal("子进程未退出")
	}
}
