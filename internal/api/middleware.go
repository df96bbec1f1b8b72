package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"farm-automation/internal/logging"
	"farm-automation/internal/metrics"
)

func RequestLoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	log := logger.WithComponent("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()

		entry := log.WithFields(logrus.Fields{"status": status, "latency": latency})
		if status >= 500 {
			entry.Errorf("Request: %s %s", method, path)
			return
		}
		entry.Infof("Request: %s %s", method, path)
	}
}
