package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PratikDhanave/evidence-ingest-service/internal/models"
)

const (
	uniqueViolation     = "23505"
	idempotencyUniqueCK = "ingest_receipts_client_idem_uniq"
)

const receiptColumns = `
	receipt_id, client_org_id, idempotency_key, package_hash_sha256, agent_version,
	status, duplicate, error_code, message, server_request_id,
	received_at_utc, last_seen_at_utc, hit_count`

// PostgresStore is the durable receipt ledger.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Ping is used by readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// Lookup returns the receipt bound to (clientOrgID, idempotencyKey).
func (p *PostgresStore) Lookup(ctx context.Context, clientOrgID, idempotencyKey string) (models.Receipt, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+receiptColumns+`
		FROM ingest_receipts
		WHERE client_org_id = $1 AND idempotency_key = $2
	`, clientOrgID, idempotencyKey)
	return scanReceipt(row)
}

// Get returns a receipt by id.
func (p *PostgresStore) Get(ctx context.Context, receiptID string) (models.Receipt, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+receiptColumns+`
		FROM ingest_receipts
		WHERE receipt_id = $1
	`, receiptID)
	return scanReceipt(row)
}

// Insert creates a receipt with hit_count=1 and duplicate=false.
//
// Uniqueness of (client_org_id, idempotency_key) is enforced by the database,
// so of two concurrent first submissions exactly one insert succeeds and the
// other gets ErrDuplicateKey.
func (p *PostgresStore) Insert(ctx context.Context, r models.Receipt) (models.Receipt, error) {
	if r.ReceiptID == "" || r.ClientOrgID == "" || r.IdempotencyKey == "" {
		return models.Receipt{}, errors.New("receipt_id/client_org_id/idempotency_key required")
	}

	received := r.ReceivedAtUTC
	if received.IsZero() {
		received = time.Now()
	}
	received = received.UTC()

	row := p.pool.QueryRow(ctx, `
		INSERT INTO ingest_receipts (`+receiptColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,FALSE,$7,$8,$9,$10,$10,1)
		RETURNING `+receiptColumns,
		r.ReceiptID,
		r.ClientOrgID,
		r.IdempotencyKey,
		r.PackageHashSHA256,
		r.AgentVersion,
		string(r.Status),
		r.ErrorCode,
		r.Message,
		r.ServerRequestID,
		received,
	)

	out, err := scanReceipt(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == idempotencyUniqueCK {
			return models.Receipt{}, fmt.Errorf("insert receipt %s: %w", r.ReceiptID, ErrDuplicateKey)
		}
		return models.Receipt{}, fmt.Errorf("insert receipt %s: %w", r.ReceiptID, err)
	}
	return out, nil
}

// BumpReplay records a replay. Only duplicate, hit_count and last_seen_at_utc change.
func (p *PostgresStore) BumpReplay(ctx context.Context, receiptID string) (models.Receipt, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE ingest_receipts
		SET duplicate = TRUE,
		    hit_count = hit_count + 1,
		    last_seen_at_utc = NOW()
		WHERE receipt_id = $1
		RETURNING `+receiptColumns,
		receiptID,
	)
	return scanReceipt(row)
}

// MarkRejected records a REJECTED receipt for audit visibility.
func (p *PostgresStore) MarkRejected(ctx context.Context, r models.Receipt) error {
	_, err := p.Insert(ctx, rejected(r))
	return err
}

// ListByClient returns the newest receipts for clientOrgID first.
func (p *PostgresStore) ListByClient(ctx context.Context, clientOrgID string, limit int) ([]models.Receipt, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+receiptColumns+`
		FROM ingest_receipts
		WHERE client_org_id = $1
		ORDER BY received_at_utc DESC
		LIMIT $2
	`, clientOrgID, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	out := make([]models.Receipt, 0)
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return out, nil
}

func scanReceipt(row pgx.Row) (models.Receipt, error) {
	var (
		r      models.Receipt
		status string
	)
	err := row.Scan(
		&r.ReceiptID,
		&r.ClientOrgID,
		&r.IdempotencyKey,
		&r.PackageHashSHA256,
		&r.AgentVersion,
		&status,
		&r.Duplicate,
		&r.ErrorCode,
		&r.Message,
		&r.ServerRequestID,
		&r.ReceivedAtUTC,
		&r.LastSeenAtUTC,
		&r.HitCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Receipt{}, ErrNotFound
	}
	if err != nil {
		return models.Receipt{}, err
	}
	r.Status = models.ReceiptStatus(status)
	r.ReceivedAtUTC = r.ReceivedAtUTC.UTC()
	r.LastSeenAtUTC = r.LastSeenAtUTC.UTC()
	return r, nil
}

func rejected(r models.Receipt) models.Receipt {
	r.Status = models.StatusRejected
	r.Duplicate = false
	return r
}
