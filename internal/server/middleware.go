package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/opengraphlabs/layerinfer/pkg/errors"
	"github.com/opengraphlabs/layerinfer/pkg/metrics"
)

// problemMiddleware renders the last handler error as application/problem+json.
func problemMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		writeProblem(c, c.Errors.Last().Err)
	}
}

func writeProblem(c *gin.Context, err error) {
	problem := errors.FromError(err, c.Request.URL.Path)
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		problem.WithTraceID(sc.TraceID().String())
	}
	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(problem.Status, problem)
}

// metricsMiddleware records HTTP request counts and durations for Prometheus
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		metrics.HTTPRequestsTotal.WithLabelValues(path, method, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(path, method).Observe(time.Since(start).Seconds())
	}
}
