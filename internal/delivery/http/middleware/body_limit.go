package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// BodySizeLimit rejects request bodies over maxBytes with a 413. A job
// submission is a single repository URL, so the limit can sit far below any
// legitimate payload. MaxBytesReader backstops requests that lie about, or
// omit, their Content-Length.
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "Request body too large",
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
