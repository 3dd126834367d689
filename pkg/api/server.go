package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ServerConfig 状态服务配置
type ServerConfig struct {
	Addr         string        // 监听地址，如 ":8080"
	ReadTimeout  time.Duration // 读取超时
	WriteTimeout time.Duration // 写入超时（websocket连接不受影响）
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:        "127.0.0.1:8080",
		ReadTimeout: 30 * time.Second,
	}
}

// Server 状态服务（对外导出）
type Server struct {
	deps       Deps
	config     ServerConfig
	version    string
	httpServer *http.Server
	listener   net.Listener
	log        *slog.Logger
}

// NewServer 创建状态服务
func NewServer(deps Deps, config ServerConfig, version string) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{deps: deps, config: config, version: version, log: log}
}

// Start 监听端口并在后台提供服务，监听失败时返回错误
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("server listen failed: %w", err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      SetupRouter(s.deps, s.version),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.log.Info("🚀 状态服务已启动", "addr", ln.Addr().String())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("❌ 状态服务异常退出", "error", err)
		}
	}()
	return nil
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.log.Info("🛑 正在关闭状态服务...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.log.Info("✅ 状态服务已停止")
	return nil
}

// Addr 实际监听地址
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}
