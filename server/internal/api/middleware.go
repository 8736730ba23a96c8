package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"junction-sim/server/internal/metrics"
)

// accessLog 记录访问日志并上报请求指标。
// 指标的 endpoint 标签使用路由模板，避免角色 id 造成标签膨胀。
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		metrics.RequestCount.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(elapsed.Seconds())

		var evt *zerolog.Event
		switch {
		case status >= 500:
			evt = s.logger.Error()
		case status >= 400:
			evt = s.logger.Warn()
		case endpoint == "/healthz" || endpoint == "/metrics":
			evt = s.logger.Debug()
		default:
			evt = s.logger.Info()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", elapsed).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}
