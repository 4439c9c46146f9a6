package models

import "time"

// ReceiptStatus is the terminal decision recorded for a submission.
type ReceiptStatus string

const (
	StatusAccepted ReceiptStatus = "ACCEPTED"
	StatusRejected ReceiptStatus = "REJECTED"
)

// Receipt is the durable audit row for one (client_org_id, idempotency_key).
// Status, PackageHashSHA256 and ReceivedAtUTC never change after creation.
type Receipt struct {
	ReceiptID         string        `json:"receipt_id"`
	ClientOrgID       string        `json:"client_org_id"`
	IdempotencyKey    string        `json:"idempotency_key"`
	PackageHashSHA256 string        `json:"package_hash_sha256"`
	AgentVersion      string        `json:"agent_version"`
	Status            ReceiptStatus `json:"status"`
	Duplicate         bool          `json:"duplicate"`
	ErrorCode         *string       `json:"error_code"`
	Message           *string       `json:"message"`
	ServerRequestID   *string       `json:"server_request_id"`
	ReceivedAtUTC     time.Time     `json:"received_at_utc"`
	LastSeenAtUTC     time.Time     `json:"last_seen_at_utc"`
	HitCount          int           `json:"hit_count"`
}

// IngestResponse is returned by POST /api/v1/ingest/packages on acceptance or replay.
type IngestResponse struct {
	Status            ReceiptStatus `json:"status"`
	ReceiptID         string        `json:"receipt_id"`
	Duplicate         bool          `json:"duplicate"`
	ClientOrgID       string        `json:"client_org_id"`
	IdempotencyKey    string        `json:"idempotency_key"`
	PackageHashSHA256 string        `json:"package_hash_sha256"`
	ReceivedAtUTC     time.Time     `json:"received_at_utc"`
	Message           *string       `json:"message"`
}

// ErrorResponse is the body of every rejection.
type ErrorResponse struct {
	Status            ReceiptStatus  `json:"status"`
	Code              string         `json:"code"`
	Message           string         `json:"message"`
	RequestID         string         `json:"request_id,omitempty"`
	ReceiptID         string         `json:"receipt_id,omitempty"`
	ClientOrgID       string         `json:"client_org_id,omitempty"`
	IdempotencyKey    string         `json:"idempotency_key,omitempty"`
	PackageHashSHA256 string         `json:"package_hash_sha256,omitempty"`
	Details           map[string]any `json:"details,omitempty"`
}

// ReceiptListItem is the trimmed row used by list views.
type ReceiptListItem struct {
	ReceiptID     string        `json:"receipt_id"`
	Status        ReceiptStatus `json:"status"`
	Duplicate     bool          `json:"duplicate"`
	ReceivedAtUTC time.Time     `json:"received_at_utc"`
	AgentVersion  string        `json:"agent_version"`
	ErrorCode     *string       `json:"error_code"`
}

// ReceiptListResponse is returned by GET /api/v1/ingest/receipts.
type ReceiptListResponse struct {
	ClientOrgID string            `json:"client_org_id"`
	Items       []ReceiptListItem `json:"items"`
}

// ListItem projects a receipt onto the list view shape.
func (r Receipt) ListItem() ReceiptListItem {
	return ReceiptListItem{
		ReceiptID:     r.ReceiptID,
		Status:        r.Status,
		Duplicate:     r.Duplicate,
		ReceivedAtUTC: r.ReceivedAtUTC,
		AgentVersion:  r.AgentVersion,
		ErrorCode:     r.ErrorCode,
	}
}
