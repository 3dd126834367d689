package engine

import (
	"context"
	"log/slog"

	"github.com/LENAX/sim-runner/pkg/storage"
)

// JournalRecorder 订阅事件总线并把事件写入运行日志
type JournalRecorder struct {
	repo   storage.JournalRepository
	log    *slog.Logger
	events <-chan *RunEvent
	cancel context.CancelFunc
	done   chan struct{}
}

// StartJournal 开始记录事件（对外导出）
func StartJournal(ctx context.Context, bus *EventBus, repo storage.JournalRepository, log *slog.Logger) (*JournalRecorder, error) {
	if log == nil {
		log = slog.Default()
	}
	subCtx, cancel := context.WithCancel(ctx)
	events, err := bus.SubscribeAll(subCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	r := &JournalRecorder{
		repo:   repo,
		log:    log,
		events: events,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.loop()
	return r, nil
}

func (r *JournalRecorder) loop() {
	defer close(r.done)
	for ev := range r.events {
		r.write(ev)
	}
}

func (r *JournalRecorder) write(ev *RunEvent) {
	rec := &storage.EventRecord{
		RunID:     ev.RunID,
		Type:      string(ev.Type),
		Module:    ev.Module,
		Worker:    ev.Worker,
		Message:   ev.Message,
		Skipped:   ev.Skipped,
		CreatedAt: ev.Timestamp.UnixMilli(),
	}
	if err := r.repo.AppendEvent(context.Background(), rec); err != nil {
		r.log.Warn("⚠️ 写入运行日志失败", "event", ev.Type, "module", ev.Module, "error", err)
	}
}

// Stop 停止记录，已发布的事件全部落库后返回
func (r *JournalRecorder) Stop() {
	r.cancel()
	<-r.done
}
