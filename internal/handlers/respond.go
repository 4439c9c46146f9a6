package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/evidence-ingest-service/internal/apierr"
	"github.com/PratikDhanave/evidence-ingest-service/internal/models"
	"github.com/PratikDhanave/evidence-ingest-service/internal/requestid"
)

// Response headers echoed on every ingest decision.
const (
	HeaderReceiptID = "X-Receipt-Id"
)

// correlation carries the identifiers echoed on a response.
type correlation struct {
	ReceiptID         string
	ClientOrgID       string
	IdempotencyKey    string
	PackageHashSHA256 string
}

func (k correlation) setHeaders(c *gin.Context) {
	set := func(name, v string) {
		if v != "" {
			c.Header(name, v)
		}
	}
	set(HeaderReceiptID, k.ReceiptID)
	set("X-Summit-Client-Org-Id", k.ClientOrgID)
	set("X-Idempotency-Key", k.IdempotencyKey)
	set("X-Summit-Package-Hash-SHA256", k.PackageHashSHA256)
}

// writeError renders a rejection with its fixed HTTP status.
func writeError(c *gin.Context, e *apierr.Error, k correlation) {
	k.setHeaders(c)
	c.AbortWithStatusJSON(e.HTTPStatus(), models.ErrorResponse{
		Status:            models.StatusRejected,
		Code:              string(e.Code),
		Message:           e.Message,
		RequestID:         requestid.FromContext(c),
		ReceiptID:         k.ReceiptID,
		ClientOrgID:       k.ClientOrgID,
		IdempotencyKey:    k.IdempotencyKey,
		PackageHashSHA256: k.PackageHashSHA256,
		Details:           e.Details,
	})
}
