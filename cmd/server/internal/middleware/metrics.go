package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/omniqr/scansuite/pkg/metrics"
)

// Metrics 按路由模板记录请求数与耗时；未匹配路由归入 "unmatched"
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(route, c.Request.Method, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}
