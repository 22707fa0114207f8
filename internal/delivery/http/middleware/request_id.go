package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// RequestID tags every request with an identifier for log correlation. A
// caller-supplied X-Request-ID is kept so a submission can be traced from the
// client through to the job record; otherwise a fresh UUIDv7 is minted.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			generated, _ := uuid.NewV7()
			id = generated.String()
		}

		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}
