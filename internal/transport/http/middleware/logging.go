package middleware

import (
	"strconv"
	"time"

	"agentaudit/internal/logger"
	"agentaudit/internal/metrics"

	"github.com/gin-gonic/gin"
)

// RequestLogger 以 debug 级别记录每个请求，并上报延迟指标（m 可以为 nil）。
func RequestLogger(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordHTTP(method, route, strconv.Itoa(status), dur)
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, fullPath, status, client, dur)
	}
}
