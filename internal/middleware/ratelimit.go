package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/metrics"
	"github.com/xxxsen/docchat/internal/pkg/errcode"
	"github.com/xxxsen/docchat/internal/pkg/response"
	"github.com/xxxsen/docchat/internal/ratelimit"
)

// RateLimit applies limiter to the route group named rule. Requests are
// keyed by user when authenticated, otherwise by client IP. Limiter errors
// let the request through.
func RateLimit(rule string, limiter ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rule + "|ip:" + c.ClientIP()
		if uid := c.GetString(ContextUserIDKey); uid != "" {
			key = rule + "|user:" + uid
		}
		res, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logutil.GetLogger(c.Request.Context()).Warn("rate limiter unavailable, allowing request",
				zap.String("rule", rule), zap.Error(err))
			c.Next()
			return
		}
		header := c.Writer.Header()
		header.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		header.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		header.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		if !res.Allowed {
			retry := int(time.Until(res.ResetAt).Seconds() + 0.999)
			if retry < 1 {
				retry = 1
			}
			header.Set("Retry-After", strconv.Itoa(retry))
			metrics.RateLimited.WithLabelValues(rule).Inc()
			logutil.GetLogger(c.Request.Context()).Warn("rate limit hit",
				zap.String("rule", rule),
				zap.String("key", key),
				zap.String("path", c.FullPath()),
			)
			response.Abort(c, errcode.ErrTooMany, http.StatusText(http.StatusTooManyRequests))
			return
		}
		c.Next()
	}
}
