package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/LENAX/sim-runner/pkg/core/engine"
)

const writeWait = 5 * time.Second

// StreamHandler 通过websocket推送运行事件
type StreamHandler struct {
	bus      *engine.EventBus
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewStreamHandler 创建StreamHandler
func NewStreamHandler(bus *engine.EventBus, log *slog.Logger) *StreamHandler {
	return &StreamHandler{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Events 订阅运行事件，每个事件以一条JSON文本消息推送
// GET /ws/events
func (h *StreamHandler) Events(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	events, err := h.bus.Subscribe(ctx)
	if err != nil {
		h.log.Warn("订阅事件失败", "error", err)
		return
	}

	// 读取端只用于感知客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.Debug("WebSocket read error", "error", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.log.Debug("推送事件失败", "error", err)
				return
			}
		}
	}
}
