package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/evidence-ingest-service/internal/apierr"
	"github.com/PratikDhanave/evidence-ingest-service/internal/models"
	"github.com/PratikDhanave/evidence-ingest-service/internal/store"
)

// ReceiptReader is the read side of the ledger consumed by dashboards and audit tooling.
type ReceiptReader interface {
	Get(ctx context.Context, receiptID string) (models.Receipt, error)
	ListByClient(ctx context.Context, clientOrgID string, limit int) ([]models.Receipt, error)
}

type listQuery struct {
	ClientOrgID string `form:"client_org_id"`
	Limit       string `form:"limit"`
}

// RegisterReceiptRoutes registers the receipt read endpoints.
//
// GET /api/v1/ingest/receipts/:receipt_id  full row, 404 if absent
// GET /api/v1/ingest/receipts?client_org_id=&limit=  newest first, limit clamped to [1,200]
func RegisterReceiptRoutes(r gin.IRoutes, reader ReceiptReader) {
	r.GET("/api/v1/ingest/receipts/:receipt_id", func(c *gin.Context) {
		receiptID := strings.TrimSpace(c.Param("receipt_id"))
		if receiptID == "" {
			writeError(c, apierr.New(apierr.CodeInvalidRequest, "receipt_id is required."), correlation{})
			return
		}

		rec, err := reader.Get(c.Request.Context(), receiptID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, apierr.New(apierr.CodeNotFound, "receipt_id not found."), correlation{})
			return
		}
		if err != nil {
			writeError(c, apierr.New(apierr.CodeInternal, "Receipt ledger unavailable."), correlation{})
			return
		}

		c.JSON(http.StatusOK, rec)
	})

	r.GET("/api/v1/ingest/receipts", func(c *gin.Context) {
		var q listQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			writeError(c, apierr.New(apierr.CodeInvalidRequest, "Invalid query parameters."), correlation{})
			return
		}

		clientOrgID := strings.TrimSpace(q.ClientOrgID)
		if clientOrgID == "" {
			writeError(c, apierr.New(apierr.CodeInvalidRequest, "client_org_id query param is required."), correlation{})
			return
		}

		// Non-numeric limits fall back to the default rather than failing the request.
		limit, err := strconv.Atoi(strings.TrimSpace(q.Limit))
		if err != nil {
			limit = store.DefaultListLimit
		}

		rows, err := reader.ListByClient(c.Request.Context(), clientOrgID, store.ClampLimit(limit))
		if err != nil {
			writeError(c, apierr.New(apierr.CodeInternal, "Receipt ledger unavailable."), correlation{})
			return
		}

		items := make([]models.ReceiptListItem, 0, len(rows))
		for _, r := range rows {
			items = append(items, r.ListItem())
		}
		c.JSON(http.StatusOK, models.ReceiptListResponse{
			ClientOrgID: clientOrgID,
			Items:       items,
		})
	})
}
