package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// windowEntry tracks request counts per time window.
type windowEntry struct {
	count     int
	timestamp time.Time
}

// RateLimiter returns a middleware that enforces per-IP rate limiting using a
// fixed one-minute window. maxRequests is the allowed requests per minute.
func RateLimiter(maxRequests int) gin.HandlerFunc {
	var mu sync.Mutex
	clients := make(map[string]*windowEntry)

	// Drop stale entries so the map does not grow unbounded.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			mu.Lock()
			now := time.Now()
			for ip, entry := range clients {
				if now.Sub(entry.timestamp) > 2*time.Minute {
					delete(clients, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		ip := c.ClientIP()
		mu.Lock()

		entry, exists := clients[ip]
		now := time.Now()

		if !exists || now.Sub(entry.timestamp) > time.Minute {
			clients[ip] = &windowEntry{count: 1, timestamp: now}
			mu.Unlock()
			c.Next()
			return
		}

		if entry.count >= maxRequests {
			mu.Unlock()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			return
		}

		entry.count++
		mu.Unlock()
		c.Next()
	}
}
