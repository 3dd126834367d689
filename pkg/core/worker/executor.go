package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"
)

const (
	// DefaultHeartbeatInterval worker发送心跳的间隔
	DefaultHeartbeatInterval = 1 * time.Second
	// DefaultParentTimeout 超过该时间没有收到父进程消息则退出
	DefaultParentTimeout = 30 * time.Second
)

// Executor worker端主循环（对外导出）
// 同一时间只运行一个模块，模块在后台goroutine中执行，
// 主循环在一个select中同时处理控制消息、模块完成、心跳与父进程超时
type Executor struct {
	Name              string
	Runner            TaskRunner
	HeartbeatInterval time.Duration
	ParentTimeout     time.Duration
	Logger            *slog.Logger
}

type taskResult struct {
	module  string
	skipped bool
	err     error
}

type recvResult struct {
	msg Message
	err error
}

// Serve 从r读取控制消息，向w写回结果，直到收到stop、父进程断开或超时
func (e *Executor) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	hbInterval := e.HeartbeatInterval
	if hbInterval <= 0 {
		hbInterval = DefaultHeartbeatInterval
	}
	parentTimeout := e.ParentTimeout
	if parentTimeout <= 0 {
		parentTimeout = DefaultParentTimeout
	}
	log := e.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("worker", e.Name)

	codec := NewCodec(r, w)

	msgs := make(chan recvResult, 16)
	readerCtx, stopReader := context.WithCancel(ctx)
	defer stopReader()
	go func() {
		for {
			msg, err := codec.Recv()
			select {
			case msgs <- recvResult{msg: msg, err: err}:
			case <-readerCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	taskCtx, cancelTask := context.WithCancel(ctx)
	defer cancelTask()
	results := make(chan taskResult, 1)
	var active string

	heartbeat := time.NewTicker(hbInterval)
	defer heartbeat.Stop()
	parentTimer := time.NewTimer(parentTimeout)
	defer parentTimer.Stop()

	log.Debug("🚀 worker已启动")
	if err := codec.Send(Message{Type: MsgHeartbeat}); err != nil {
		return fmt.Errorf("发送心跳失败: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rr := <-msgs:
			if rr.err != nil {
				if rr.err == io.EOF {
					log.Debug("父进程已关闭连接，worker退出")
					return nil
				}
				return fmt.Errorf("读取控制消息失败: %w", rr.err)
			}
			resetTimer(parentTimer, parentTimeout)

			msg := rr.msg
			switch msg.Type {
			case MsgRun:
				if active != "" {
					log.Warn("worker忙，拒绝新的模块", "active", active, "module", msg.Module)
					if err := codec.Send(Message{Type: MsgError, Module: msg.Module, Error: ErrBusy.Error()}); err != nil {
						return err
					}
					continue
				}
				active = msg.Module
				go e.runTask(taskCtx, msg.Module, results)
			case MsgStop:
				log.Debug("收到stop，worker退出")
				return nil
			case MsgHeartbeat:
			default:
				log.Warn("未知消息", "type", msg.Type)
			}

		case res := <-results:
			active = ""
			reply := Message{Type: MsgDone, Module: res.module, Skipped: res.skipped}
			if res.err != nil {
				log.Error("❌ 模块运行失败", "module", res.module, "error", res.err)
				reply = Message{Type: MsgError, Module: res.module, Error: res.err.Error()}
			}
			if err := codec.Send(reply); err != nil {
				return fmt.Errorf("发送结果失败: %w", err)
			}

		case <-heartbeat.C:
			if err := codec.Send(Message{Type: MsgHeartbeat}); err != nil {
				return fmt.Errorf("发送心跳失败: %w", err)
			}

		case <-parentTimer.C:
			log.Error("❌ 父进程无响应，worker退出", "timeout", parentTimeout, "active", active)
			return ErrParentTimeout
		}
	}
}

// runTask 执行模块并恢复panic
func (e *Executor) runTask(ctx context.Context, name string, results chan<- taskResult) {
	res := taskResult{module: name}
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("模块 %s panic: %v\n%s", name, r, debug.Stack())
			res.skipped = false
		}
		results <- res
	}()
	res.skipped, res.err = e.Runner.Run(ctx, name)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
