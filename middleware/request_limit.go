package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"contract-archive-platform/utils"
)

// RequestSizeLimit rejects requests whose declared body exceeds maxSize,
// before any multipart parsing happens. The upload handler still checks the
// actual file size for clients that omit Content-Length.
func RequestSizeLimit(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			utils.RespondWithError(c, http.StatusRequestEntityTooLarge,
				"request_too_large",
				"请求体超过大小限制",
				gin.H{
					"max_size": maxSize,
					"received": c.Request.ContentLength,
				})
			c.Abort()
			return
		}
		c.Next()
	}
}
