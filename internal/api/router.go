package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"farm-automation/internal/logging"
)

func NewRouter(h *Handler, logger *logging.Logger, basePath string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	api := r.Group(basePath)
	{
		// Alerts
		api.GET("/alerts", h.ListAlerts)
		api.GET("/alerts/active", h.ActiveAlerts)
		api.GET("/alerts/stats", h.AlertStatistics)
		api.GET("/alerts/:id", h.GetAlert)
		api.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)
		api.POST("/alerts/:id/resolve", h.ResolveAlert)
		api.POST("/alerts/:id/dismiss", h.DismissAlert)

		// Thresholds
		api.POST("/thresholds", h.CreateThreshold)
		api.GET("/thresholds", h.ListThresholds)
		api.GET("/thresholds/:id", h.GetThreshold)
		api.PUT("/thresholds/:id", h.UpdateThreshold)

		// Automation tasks
		api.GET("/automation/tasks", h.ListTasks)
		api.GET("/automation/tasks/:id", h.GetTask)

		// Readings
		api.POST("/readings", h.IngestReading)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", h.ServeWS)

	return r
}
