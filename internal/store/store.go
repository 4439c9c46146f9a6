package store

import "errors"

// Sentinel errors returned (possibly wrapped) by every ledger implementation.
var (
	ErrNotFound = errors.New("receipt not found")
	// ErrDuplicateKey means a receipt already exists for (client_org_id, idempotency_key).
	ErrDuplicateKey = errors.New("receipt already exists for idempotency key")
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// ClampLimit bounds list sizes to [1, MaxListLimit].
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
