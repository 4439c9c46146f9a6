package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/PratikDhanave/evidence-ingest-service/internal/models"
)

type idemKey struct {
	clientOrgID    string
	idempotencyKey string
}

type memoryRow struct {
	receipt models.Receipt
	seq     int64
}

// InMemory is a process-local ledger with the same uniqueness semantics as PostgresStore.
// It backs tests and DATABASE_URL=memory:// development runs.
type InMemory struct {
	mu    sync.Mutex
	now   func() time.Time
	seq   int64
	byID  map[string]*memoryRow
	byKey map[idemKey]string
}

// NewInMemory returns an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		now:   time.Now,
		byID:  make(map[string]*memoryRow),
		byKey: make(map[idemKey]string),
	}
}

// WithClock overrides the clock used for replay timestamps.
func (m *InMemory) WithClock(now func() time.Time) *InMemory {
	m.now = now
	return m
}

func (m *InMemory) Ping(context.Context) error { return nil }

func (m *InMemory) Close() {}

func (m *InMemory) Lookup(_ context.Context, clientOrgID, idempotencyKey string) (models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byKey[idemKey{clientOrgID, idempotencyKey}]
	if !ok {
		return models.Receipt{}, ErrNotFound
	}
	return m.byID[id].receipt, nil
}

func (m *InMemory) Get(_ context.Context, receiptID string) (models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.byID[receiptID]
	if !ok {
		return models.Receipt{}, ErrNotFound
	}
	return row.receipt, nil
}

func (m *InMemory) Insert(_ context.Context, r models.Receipt) (models.Receipt, error) {
	if r.ReceiptID == "" || r.ClientOrgID == "" || r.IdempotencyKey == "" {
		return models.Receipt{}, errors.New("receipt_id/client_org_id/idempotency_key required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := idemKey{r.ClientOrgID, r.IdempotencyKey}
	if _, exists := m.byKey[key]; exists {
		return models.Receipt{}, fmt.Errorf("insert receipt %s: %w", r.ReceiptID, ErrDuplicateKey)
	}
	if _, exists := m.byID[r.ReceiptID]; exists {
		return models.Receipt{}, fmt.Errorf("insert receipt %s: receipt_id already used", r.ReceiptID)
	}

	if r.ReceivedAtUTC.IsZero() {
		r.ReceivedAtUTC = m.now()
	}
	r.ReceivedAtUTC = r.ReceivedAtUTC.UTC()
	r.LastSeenAtUTC = r.ReceivedAtUTC
	r.Duplicate = false
	r.HitCount = 1

	m.seq++
	m.byID[r.ReceiptID] = &memoryRow{receipt: r, seq: m.seq}
	m.byKey[key] = r.ReceiptID
	return r, nil
}

func (m *InMemory) BumpReplay(_ context.Context, receiptID string) (models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.byID[receiptID]
	if !ok {
		return models.Receipt{}, ErrNotFound
	}
	row.receipt.Duplicate = true
	row.receipt.HitCount++
	row.receipt.LastSeenAtUTC = m.now().UTC()
	return row.receipt, nil
}

func (m *InMemory) MarkRejected(ctx context.Context, r models.Receipt) error {
	_, err := m.Insert(ctx, rejected(r))
	return err
}

func (m *InMemory) ListByClient(_ context.Context, clientOrgID string, limit int) ([]models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := make([]*memoryRow, 0)
	for _, row := range m.byID {
		if row.receipt.ClientOrgID == clientOrgID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		ri, rj := rows[i].receipt.ReceivedAtUTC, rows[j].receipt.ReceivedAtUTC
		if !ri.Equal(rj) {
			return ri.After(rj)
		}
		return rows[i].seq > rows[j].seq
	})

	limit = ClampLimit(limit)
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]models.Receipt, len(rows))
	for i, row := range rows {
		out[i] = row.receipt
	}
	return out, nil
}
