package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"emotion-comfort/internal/repository"
)

// RateLimit is a fixed-window per-client limiter backed by Redis. On a
// limiter backend failure the request is allowed through; shedding
// traffic because Redis blinked would hurt more than it protects.
func RateLimit(state repository.StateRepository, limit int, window time.Duration) gin.HandlerFunc {
	if state == nil {
		panic("StateRepository cannot be nil for RateLimit middleware")
	}

	return func(c *gin.Context) {
		key := fmt.Sprintf("%s:%s", c.ClientIP(), c.FullPath())
		exceeded, err := state.CheckRateLimit(c.Request.Context(), key, limit, window)
		if err != nil {
			logrus.WithError(err).Warn("Rate limit check failed, allowing request")
			c.Next()
			return
		}
		if exceeded {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}
