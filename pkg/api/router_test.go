package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/sim-runner/pkg/core/engine"
	"github.com/LENAX/sim-runner/pkg/logger"
	"github.com/LENAX/sim-runner/pkg/storage"
	"github.com/LENAX/sim-runner/pkg/storage/sqlite"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doGet(t *testing.T, h http.Handler, path string) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	h.ServeHTTP(w, req)
	var body envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestRouter_HealthAndProgress(t *testing.T) {
	progress := engine.NewProgressTracker()
	progress.Start("run-1", 3)
	progress.Dispatched("a", "worker-0")

	router := SetupRouter(Deps{Progress: progress, Logger: logger.Discard()}, "v-test")

	code, body := doGet(t, router, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), "v-test")

	code, body = doGet(t, router, "/api/v1/progress")
	assert.Equal(t, http.StatusOK, code)
	var info struct {
		RunID          string   `json:"run_id"`
		Total          int      `json:"total"`
		Running        int      `json:"running"`
		RunningModules []string `json:"running_modules"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &info))
	assert.Equal(t, "run-1", info.RunID)
	assert.Equal(t, 3, info.Total)
	assert.Equal(t, []string{"a"}, info.RunningModules)

	code, _ = doGet(t, router, "/api/v1/runs")
	assert.Equal(t, http.StatusServiceUnavailable, code, "未配置运行日志")
}

func TestRouter_Runs(t *testing.T) {
	repo, err := sqlite.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	require.NoError(t, repo.CreateRun(ctx, &storage.RunRecord{
		ID: "run-1", Status: storage.RunStatusFailed, StartedAt: 1000, FinishedAt: 3000,
		Total: 2, Failed: []string{"b"},
	}))
	require.NoError(t, repo.AppendEvent(ctx, &storage.EventRecord{RunID: "run-1", Type: "module.failed", Module: "b", CreatedAt: 2000}))

	router := SetupRouter(Deps{Journal: repo, Logger: logger.Discard()}, "v-test")

	code, body := doGet(t, router, "/api/v1/runs?limit=5")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"run-1"`)

	code, body = doGet(t, router, "/api/v1/runs/run-1")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"duration":"2.0s"`)

	code, _ = doGet(t, router, "/api/v1/runs/missing")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = doGet(t, router, "/api/v1/runs/run-1/events")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), "module.failed")

	code, _ = doGet(t, router, "/api/v1/runs?limit=1000")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRouter_EventStream(t *testing.T) {
	bus := engine.NewEventBus(logger.Discard())
	defer bus.Close()

	srv := httptest.NewServer(SetupRouter(Deps{Bus: bus, Logger: logger.Discard()}, "v-test"))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// 订阅在握手之后异步建立，重复发布直到收到
	received := make(chan engine.RunEvent, 1)
	go func() {
		var ev engine.RunEvent
		if err := conn.ReadJSON(&ev); err == nil {
			received <- ev
		}
	}()

	deadline := time.After(2 * time.Second)
	for {
		require.NoError(t, bus.Publish(engine.NewRunEvent(engine.EventModuleDone, "run-1", "a")))
		select {
		case ev := <-received:
			assert.Equal(t, engine.EventModuleDone, ev.Type)
			assert.Equal(t, "a", ev.Module)
			return
		case <-deadline:
			t.Fatal("没有收到事件")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
