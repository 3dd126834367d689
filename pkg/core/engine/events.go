package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

// EventTopic 运行事件所在的topic
const EventTopic = "sim.run.events"

// EventType 运行事件类型
type EventType string

const (
	EventRunStarted       EventType = "run.started"
	EventRunFinished      EventType = "run.finished"
	EventModuleDispatched EventType = "module.dispatched"
	EventModuleDone       EventType = "module.done"
	EventModuleSkipped    EventType = "module.skipped"
	EventModuleFailed     EventType = "module.failed"
	EventWorkerTimeout    EventType = "worker.timeout"
	EventWorkerExited     EventType = "worker.exited"
)

// RunEvent 编排过程中的事件（对外导出）
type RunEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Module    string    `json:"module,omitempty"`
	Worker    string    `json:"worker,omitempty"`
	Message   string    `json:"message,omitempty"`
	Skipped   bool      `json:"skipped,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRunEvent 创建运行事件
func NewRunEvent(eventType EventType, runID, module string) *RunEvent {
	return &RunEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		RunID:     runID,
		Module:    module,
		Timestamp: time.Now(),
	}
}

// WithWorker 设置worker
func (e *RunEvent) WithWorker(name string) *RunEvent {
	e.Worker = name
	return e
}

// WithMessage 设置附加信息
func (e *RunEvent) WithMessage(msg string) *RunEvent {
	e.Message = msg
	return e
}

// EventBus 基于watermill gochannel的进程内事件总线（对外导出）
// 每个订阅者收到消息后立即确认并放入自己的无界队列，Publish不等待订阅者读取；
// Publish返回时事件已进入所有订阅者的队列
type EventBus struct {
	pubsub *gochannel.GoChannel
	log    *slog.Logger
}

// NewEventBus 创建事件总线
func NewEventBus(log *slog.Logger) *EventBus {
	if log == nil {
		log = slog.Default()
	}
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: true,
		},
		watermill.NewSlogLogger(log),
	)
	return &EventBus{pubsub: pubsub, log: log}
}

// Publish 发布事件，nil总线直接忽略
func (b *EventBus) Publish(event *RunEvent) error {
	if b == nil || event == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("event_type", string(event.Type))
	msg.Metadata.Set("run_id", event.RunID)
	msg.Metadata.Set("module", event.Module)
	msg.Metadata.Set("skipped", strconv.FormatBool(event.Skipped))
	msg.Metadata.Set("timestamp", event.Timestamp.Format(time.RFC3339Nano))

	if err := b.pubsub.Publish(EventTopic, msg); err != nil {
		return fmt.Errorf("发布事件失败: %w", err)
	}
	return nil
}

// Subscribe 订阅全部运行事件，ctx结束后通道关闭，尚未读取的事件被丢弃
func (b *EventBus) Subscribe(ctx context.Context) (<-chan *RunEvent, error) {
	return b.subscribe(ctx, false)
}

// SubscribeAll 订阅全部运行事件，ctx结束后先交付已发布的事件再关闭通道
// 调用方必须一直读到通道关闭
func (b *EventBus) SubscribeAll(ctx context.Context) (<-chan *RunEvent, error) {
	return b.subscribe(ctx, true)
}

func (b *EventBus) subscribe(ctx context.Context, drain bool) (<-chan *RunEvent, error) {
	msgs, err := b.pubsub.Subscribe(ctx, EventTopic)
	if err != nil {
		return nil, fmt.Errorf("订阅事件失败: %w", err)
	}

	q := &eventQueue{notify: make(chan struct{}, 1)}
	go func() {
		defer q.close()
		for msg := range msgs {
			var ev RunEvent
			err := json.Unmarshal(msg.Payload, &ev)
			msg.Ack()
			if err != nil {
				b.log.Warn("解析事件失败", "error", err, "message_id", msg.UUID)
				continue
			}
			q.push(&ev)
		}
	}()

	done := ctx.Done()
	if drain {
		done = nil
	}
	out := make(chan *RunEvent, 64)
	go q.pump(out, done)
	return out, nil
}

// eventQueue 单个订阅者的有序无界队列
type eventQueue struct {
	mu     sync.Mutex
	items  []*RunEvent
	closed bool
	notify chan struct{}
}

func (q *eventQueue) push(ev *RunEvent) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pump 按顺序把队列中的事件送入out，队列关闭且取空或done结束时关闭out
func (q *eventQueue) pump(out chan<- *RunEvent, done <-chan struct{}) {
	defer close(out)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-q.notify:
			case <-done:
				return
			}
			continue
		}
		ev := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case out <- ev:
		case <-done:
			return
		}
	}
}

// Close 关闭总线，所有订阅通道随之关闭
func (b *EventBus) Close() error {
	if b == nil {
		return nil
	}
	return b.pubsub.Close()
}
