// Package api 运行状态服务：健康检查、运行进度、运行历史以及websocket事件流
package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/sim-runner/pkg/api/handler"
	"github.com/LENAX/sim-runner/pkg/api/middleware"
	"github.com/LENAX/sim-runner/pkg/core/engine"
	"github.com/LENAX/sim-runner/pkg/storage"
)

// Deps 状态服务依赖，Journal与Bus可以为nil
type Deps struct {
	Progress *engine.ProgressTracker
	Journal  storage.JournalRepository
	Bus      *engine.EventBus
	Logger   *slog.Logger
}

// SetupRouter 设置路由
func SetupRouter(deps Deps, version string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logger(log))

	healthHandler := handler.NewHealthHandler(version)
	runHandler := handler.NewRunHandler(deps.Progress, deps.Journal)

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/progress", runHandler.Progress)

		runs := v1.Group("/runs")
		{
			runs.GET("", runHandler.List)
			runs.GET("/:id", runHandler.Get)
			runs.GET("/:id/events", runHandler.Events)
		}
	}

	if deps.Bus != nil {
		streamHandler := handler.NewStreamHandler(deps.Bus, log)
		router.GET("/ws/events", streamHandler.Events)
	}

	return router
}
