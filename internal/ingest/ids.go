package ingest

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewReceiptID returns ING-YYYYMMDD-<12 uppercase hex>; sortable by day.
func NewReceiptID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:12]
	return "ING-" + now.UTC().Format("20060102") + "-" + suffix
}
