package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// Conn 父进程到一个worker的双工连接（对外导出）
type Conn interface {
	Send(msg Message) error
	Recv() (Message, error)
	// Kill 强制终止worker
	Kill() error
	// Close 关闭发送端
	Close() error
	// Wait 等待worker退出，返回退出错误
	Wait() error
}

// Launcher 启动worker并返回连接
type Launcher interface {
	Launch(ctx context.Context, name string) (Conn, error)
}

// ProcessLauncher 以子进程方式启动worker（对外导出）
// 通常重新执行当前二进制：sim-runner worker --name <name> --spec <file>
type ProcessLauncher struct {
	Path   string
	Args   []string
	Env    []string
	Stderr io.Writer
}

// Launch 启动子进程，stdin/stdout作为消息通道，stderr用于日志
func (l *ProcessLauncher) Launch(ctx context.Context, name string) (Conn, error) {
	path := l.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("获取可执行文件路径失败: %w", err)
		}
		path = exe
	}

	args := append(append([]string(nil), l.Args...), "--name", name)
	cmd := exec.Command(path, args...)
	cmd.Env = append(append(os.Environ(), l.Env...), "SIM_WORKER_NAME="+name)
	cmd.Stderr = l.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("启动worker进程失败: %w", err)
	}
	slog.Default().Debug("worker进程已启动", "worker", name, "pid", cmd.Process.Pid)

	return &processConn{
		cmd:   cmd,
		stdin: stdin,
		codec: NewCodec(stdout, stdin),
	}, nil
}

type processConn struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	codec *Codec

	waitOnce sync.Once
	waitErr  error
}

func (c *processConn) Send(msg Message) error { return c.codec.Send(msg) }

func (c *processConn) Recv() (Message, error) { return c.codec.Recv() }

func (c *processConn) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	err := c.cmd.Process.Kill()
	if err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}

func (c *processConn) Close() error { return c.stdin.Close() }

// Wait 只能在读取端遇到EOF之后调用
func (c *processConn) Wait() error {
	c.waitOnce.Do(func() {
		c.waitErr = c.cmd.Wait()
	})
	return c.waitErr
}

// ServeFunc 在goroutine中运行的worker主循环
type ServeFunc func(ctx context.Context, name string, r io.Reader, w io.Writer) error

// InProcessLauncher 在当前进程内以goroutine运行worker，消息仍走JSON管道
// 用于测试以及 --in-process 模式
type InProcessLauncher struct {
	Serve ServeFunc
}

// Launch 启动goroutine形式的worker
func (l *InProcessLauncher) Launch(ctx context.Context, name string) (Conn, error) {
	if l.Serve == nil {
		return nil, fmt.Errorf("InProcessLauncher缺少Serve")
	}
	parentR, childW := io.Pipe()
	childR, parentW := io.Pipe()

	childCtx, cancel := context.WithCancel(context.Background())
	c := &pipeConn{
		codec:   NewCodec(parentR, parentW),
		parentR: parentR,
		parentW: parentW,
		cancel:  cancel,
		done:    make(chan struct{}),
		killed:  make(chan struct{}),
	}
	go func() {
		err := l.Serve(childCtx, name, childR, childW)
		c.exitErr = err
		childW.Close()
		childR.Close()
		close(c.done)
	}()
	return c, nil
}

type pipeConn struct {
	codec   *Codec
	parentR *io.PipeReader
	parentW *io.PipeWriter
	cancel  context.CancelFunc

	done     chan struct{}
	exitErr  error
	killOnce sync.Once
	killed   chan struct{}
}

func (c *pipeConn) Send(msg Message) error { return c.codec.Send(msg) }

func (c *pipeConn) Recv() (Message, error) { return c.codec.Recv() }

// Kill 取消worker的context并断开管道
// 模块代码若不响应ctx，goroutine会在后台自行结束
func (c *pipeConn) Kill() error {
	c.killOnce.Do(func() {
		c.cancel()
		c.parentR.Close()
		c.parentW.Close()
		close(c.killed)
	})
	return nil
}

func (c *pipeConn) Close() error { return c.parentW.Close() }

// Wait 等待goroutine退出，被kill的worker立即返回
func (c *pipeConn) Wait() error {
	select {
	case <-c.done:
		return c.exitErr
	case <-c.killed:
		return errKilled
	}
}
