package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const CorrelationIdKey string = "X-CORRELATION-ID"

// CorrelationIdMiddleware reuses the caller's correlation id or mints one, and
// echoes it in the response.
func CorrelationIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := c.GetHeader(CorrelationIdKey)
		if correlationId == "" {
			correlationId = uuid.New().String()
		}
		c.Header(CorrelationIdKey, correlationId)
		c.Set(CorrelationIdKey, correlationId)
		c.Next()
	}
}

func CorrelationId(c *gin.Context) string {
	return c.GetString(CorrelationIdKey)
}
