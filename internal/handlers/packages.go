package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/evidence-ingest-service/internal/apierr"
	"github.com/PratikDhanave/evidence-ingest-service/internal/ingest"
	"github.com/PratikDhanave/evidence-ingest-service/internal/metrics"
	"github.com/PratikDhanave/evidence-ingest-service/internal/models"
	"github.com/PratikDhanave/evidence-ingest-service/internal/requestid"
)

// Ingester runs a submission to a terminal decision.
type Ingester interface {
	Ingest(ctx context.Context, sub ingest.Submission) ingest.Result
}

// RegisterPackageRoutes registers the ingestion endpoint.
//
// POST /api/v1/ingest/packages
// - Requires X-API-Key
// - Body is a raw ZIP, capped at maxUploadBytes before any verification runs
// - 202 for a new receipt, 200 for an idempotent replay
func RegisterPackageRoutes(r gin.IRoutes, svc Ingester, maxUploadBytes int64, m *metrics.Metrics) {
	r.POST("/api/v1/ingest/packages", func(c *gin.Context) {
		ct := strings.ToLower(c.GetHeader("Content-Type"))
		if !strings.Contains(ct, "application/zip") {
			var shown any
			if ct != "" {
				shown = ct
			}
			writeError(c, apierr.New(apierr.CodeUnsupportedMediaType, "Content-Type must be application/zip.").
				WithDetails(map[string]any{"content_type": shown}), correlation{})
			return
		}

		sub := ingest.Submission{
			ClientOrgID:    header(c, ingest.HeaderClientOrgID),
			PackageHash:    header(c, ingest.HeaderPackageHash),
			IdempotencyKey: header(c, ingest.HeaderIdempotencyKey),
			AgentVersion:   header(c, ingest.HeaderAgentVersion),
			SigningKeyID:   header(c, ingest.HeaderSigningKeyID),
			RequestID:      requestid.FromContext(c),
		}
		echo := correlation{
			ClientOrgID:       sub.ClientOrgID,
			IdempotencyKey:    sub.IdempotencyKey,
			PackageHashSHA256: sub.PackageHash,
		}

		tooLarge := apierr.New(apierr.CodePayloadTooLarge, "Package exceeds the upload limit.").
			WithDetails(map[string]any{"max_upload_bytes": maxUploadBytes})
		if c.Request.ContentLength > maxUploadBytes {
			writeError(c, tooLarge, echo)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes))
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(c, tooLarge, echo)
				return
			}
			writeError(c, apierr.New(apierr.CodeInvalidRequest, "Failed reading request body."), echo)
			return
		}
		m.ObserveUploadBytes(len(body))
		sub.Body = body

		res := svc.Ingest(c.Request.Context(), sub)

		echo.ReceiptID = res.ReceiptID
		echo.PackageHashSHA256 = res.PackageHashSHA256
		if res.Err != nil {
			writeError(c, res.Err, echo)
			return
		}

		echo.setHeaders(c)
		c.JSON(res.HTTPStatus, models.IngestResponse{
			Status:            res.Receipt.Status,
			ReceiptID:         res.Receipt.ReceiptID,
			Duplicate:         res.Duplicate,
			ClientOrgID:       res.Receipt.ClientOrgID,
			IdempotencyKey:    res.Receipt.IdempotencyKey,
			PackageHashSHA256: res.Receipt.PackageHashSHA256,
			ReceivedAtUTC:     res.Receipt.ReceivedAtUTC,
			Message:           res.Message,
		})
	})
}

func header(c *gin.Context, name string) string {
	return strings.TrimSpace(c.GetHeader(name))
}
