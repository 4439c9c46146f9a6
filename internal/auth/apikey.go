package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/evidence-ingest-service/internal/apierr"
	"github.com/PratikDhanave/evidence-ingest-service/internal/models"
	"github.com/PratikDhanave/evidence-ingest-service/internal/requestid"
)

// HeaderAPIKey is the shared-secret header agents and dashboards present.
const HeaderAPIKey = "X-API-Key"

// APIKeyMiddleware admits requests whose X-API-Key equals apiKey, compared in constant time.
// An empty apiKey admits nobody.
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	expected := []byte(apiKey)
	return func(c *gin.Context) {
		presented := []byte(strings.TrimSpace(c.GetHeader(HeaderAPIKey)))
		if len(expected) == 0 || subtle.ConstantTimeCompare(presented, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Status:    models.StatusRejected,
				Code:      string(apierr.CodeUnauthorized),
				Message:   "Authentication failed.",
				RequestID: requestid.FromContext(c),
			})
			return
		}
		c.Next()
	}
}
