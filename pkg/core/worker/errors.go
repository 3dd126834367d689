package worker

import "errors"

var (
	// ErrParentTimeout worker在超时时间内没有收到父进程的任何消息
	ErrParentTimeout = errors.New("worker parent process not responsive")
	// ErrBusy worker已有模块在运行
	ErrBusy = errors.New("worker is busy")
	// ErrWorkerExited worker进程退出或连接断开
	ErrWorkerExited = errors.New("worker child process exited")

	errKilled = errors.New("worker killed")
)
