package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/promptsheet/promptsheet/internal/common"
)

// RequestIDMiddleware tags every request with an id, honoring one supplied by
// the caller, and echoes it back in the response.
func (s *Server) RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.New().String()
		}
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), rid))
		c.Header("X-Request-ID", rid)
		c.Next()
	}
}

// RateLimitMiddleware rejects requests over the route's ceiling with a
// standard 429 carrying a suggested retry delay. This is the ingress
// ceiling; the dispatcher keeps its own per-backend budgets internally.
func (s *Server) RateLimitMiddleware(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := limiter.Reserve()
		if !res.OK() {
			c.Header("Retry-After", "60")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			retryAfter := int(delay/time.Second) + 1
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"retryAfter": retryAfter,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
