package requestid

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Header carries the correlation id in both directions.
const Header = "X-Request-Id"

const ctxKey = "request_id"

// maxLen bounds caller-supplied ids so they stay log- and column-friendly.
const maxLen = 128

// Middleware adopts the caller's X-Request-Id or generates one, and echoes it on the response.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(Header))
		if id == "" || len(id) > maxLen {
			id = New()
		}
		c.Set(ctxKey, id)
		c.Header(Header, id)
		c.Next()
	}
}

// New returns srv-<16 hex> for requests that arrive without X-Request-Id.
func New() string {
	return "srv-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// FromContext returns the request id set by Middleware.
func FromContext(c *gin.Context) string {
	v, _ := c.Get(ctxKey)
	s, _ := v.(string)
	return s
}
