package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kneutral-org/alert-repository/internal/metrics"
)

// Metrics records request counts and latencies per route template.
// Unmatched routes are recorded under "unmatched" to bound label cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()))
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, time.Since(start).Seconds())
	}
}
