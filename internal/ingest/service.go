package ingest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PratikDhanave/evidence-ingest-service/internal/apierr"
	"github.com/PratikDhanave/evidence-ingest-service/internal/metrics"
	"github.com/PratikDhanave/evidence-ingest-service/internal/models"
	"github.com/PratikDhanave/evidence-ingest-service/internal/store"
	"github.com/PratikDhanave/evidence-ingest-service/internal/verify"
)

// Required submission headers, in the order they are checked.
const (
	HeaderClientOrgID    = "X-Summit-Client-Org-Id"
	HeaderPackageHash    = "X-Summit-Package-Hash-SHA256"
	HeaderIdempotencyKey = "X-Idempotency-Key"
	HeaderAgentVersion   = "X-Summit-Agent-Version"
	HeaderSigningKeyID   = "X-Summit-Signing-Key-Id"
)

const replayMessage = "Duplicate idempotent replay; original receipt returned."

// Ledger is the receipt storage the orchestrator depends on.
type Ledger interface {
	Lookup(ctx context.Context, clientOrgID, idempotencyKey string) (models.Receipt, error)
	Insert(ctx context.Context, r models.Receipt) (models.Receipt, error)
	BumpReplay(ctx context.Context, receiptID string) (models.Receipt, error)
	MarkRejected(ctx context.Context, r models.Receipt) error
}

// Verifier checks a package without side effects.
type Verifier interface {
	Verify(zipBytes []byte, claimedHash, claimedClientOrgID, claimedIdempotencyKey string) (*verify.Artifact, *apierr.Error)
}

// Submission is one POST with its headers already extracted and trimmed.
type Submission struct {
	ClientOrgID    string
	PackageHash    string
	IdempotencyKey string
	AgentVersion   string
	SigningKeyID   string
	RequestID      string
	Body           []byte
}

// Result is a terminal outcome. Err is set for every rejection.
type Result struct {
	HTTPStatus int
	Receipt    models.Receipt
	Duplicate  bool
	Message    *string
	Err        *apierr.Error
	Artifact   *verify.Artifact

	// Correlation values echoed on every response.
	ReceiptID         string
	ClientOrgID       string
	IdempotencyKey    string
	PackageHashSHA256 string
	RequestID         string
}

// Service sequences header validation, verification and ledger decisions.
// It holds no mutable state; concurrent safety comes from the ledger's uniqueness constraint.
type Service struct {
	ledger   Ledger
	verifier Verifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New constructs a Service.
func New(ledger Ledger, verifier Verifier, opts ...Option) *Service {
	s := &Service{
		ledger:   ledger,
		verifier: verifier,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest runs one submission to a terminal outcome. Nothing is retried internally.
func (s *Service) Ingest(ctx context.Context, sub Submission) Result {
	res := Result{
		ClientOrgID:       sub.ClientOrgID,
		IdempotencyKey:    sub.IdempotencyKey,
		PackageHashSHA256: sub.PackageHash,
		RequestID:         sub.RequestID,
	}

	if name := sub.missingHeader(); name != "" {
		return s.reject(ctx, res, apierr.New(apierr.CodeMissingRequiredHeader, "Missing required header "+name+".").
			WithDetails(map[string]any{"header": name}))
	}

	if len(sub.Body) == 0 {
		return s.reject(ctx, res, apierr.New(apierr.CodeInvalidRequest, "ZIP body is required."))
	}

	start := time.Now()
	art, ferr := s.verifier.Verify(sub.Body, sub.PackageHash, sub.ClientOrgID, sub.IdempotencyKey)
	s.metrics.ObserveVerification(start)
	if ferr != nil {
		if id := NewReceiptID(s.now()); s.recordRejection(ctx, sub, id, ferr) {
			res.ReceiptID = id
		}
		return s.reject(ctx, res, ferr)
	}

	res.Artifact = art
	res.PackageHashSHA256 = art.SHA256
	if sub.SigningKeyID != "" && art.Signature != nil && sub.SigningKeyID != art.Signature.KeyID {
		s.logger.InfoContext(ctx, "signing key header differs from envelope",
			"header_key_id", sub.SigningKeyID,
			"envelope_key_id", art.Signature.KeyID,
			"request_id", sub.RequestID,
		)
	}

	existing, err := s.ledger.Lookup(ctx, sub.ClientOrgID, sub.IdempotencyKey)
	switch {
	case err == nil:
		return s.resolveExisting(ctx, res, existing)
	case !errors.Is(err, store.ErrNotFound):
		return s.internal(ctx, res, "lookup receipt", err)
	}

	requestID := sub.RequestID
	created, err := s.ledger.Insert(ctx, models.Receipt{
		ReceiptID:         NewReceiptID(s.now()),
		ClientOrgID:       sub.ClientOrgID,
		IdempotencyKey:    sub.IdempotencyKey,
		PackageHashSHA256: art.SHA256,
		AgentVersion:      sub.AgentVersion,
		Status:            models.StatusAccepted,
		ServerRequestID:   &requestID,
		ReceivedAtUTC:     s.now().UTC(),
	})
	if errors.Is(err, store.ErrDuplicateKey) {
		// A concurrent submission created the row between lookup and insert.
		existing, err = s.ledger.Lookup(ctx, sub.ClientOrgID, sub.IdempotencyKey)
		if err != nil {
			return s.internal(ctx, res, "lookup receipt after duplicate insert", err)
		}
		return s.resolveExisting(ctx, res, existing)
	}
	if err != nil {
		return s.internal(ctx, res, "insert receipt", err)
	}

	res.HTTPStatus = http.StatusAccepted
	res.Receipt = created
	res.ReceiptID = created.ReceiptID
	s.metrics.IncDecision("accepted", "")
	s.logger.InfoContext(ctx, "package accepted",
		"receipt_id", created.ReceiptID,
		"client_org_id", created.ClientOrgID,
		"request_id", sub.RequestID,
		"signed", art.Signature != nil,
		"snapshot", art.Snapshot != nil,
	)
	return res
}

// resolveExisting decides between replay and conflict for a key that already has a receipt.
func (s *Service) resolveExisting(ctx context.Context, res Result, existing models.Receipt) Result {
	res.ReceiptID = existing.ReceiptID

	if !strings.EqualFold(existing.PackageHashSHA256, res.PackageHashSHA256) {
		return s.reject(ctx, res, apierr.New(apierr.CodeIdempotencyConflict,
			"Idempotency key already exists with a different package hash.").
			WithDetails(map[string]any{
				"existing_package_hash_sha256": existing.PackageHashSHA256,
				"incoming_package_hash_sha256": res.PackageHashSHA256,
			}))
	}

	bumped, err := s.ledger.BumpReplay(ctx, existing.ReceiptID)
	if err != nil {
		return s.internal(ctx, res, "bump replay", err)
	}

	msg := replayMessage
	res.HTTPStatus = http.StatusOK
	res.Receipt = bumped
	res.Duplicate = true
	res.Message = &msg
	s.metrics.IncDecision("replayed", "")
	s.logger.InfoContext(ctx, "package replayed",
		"receipt_id", bumped.ReceiptID,
		"client_org_id", bumped.ClientOrgID,
		"hit_count", bumped.HitCount,
		"request_id", res.RequestID,
	)
	return res
}

// recordRejection persists a REJECTED receipt once and reports whether it was stored.
// Failures are logged and dropped so a storage outage never hides the verification
// result from the caller. A key that already has a receipt keeps it untouched.
func (s *Service) recordRejection(ctx context.Context, sub Submission, receiptID string, ferr *apierr.Error) bool {
	code, msg, requestID := string(ferr.Code), ferr.Message, sub.RequestID
	hash := strings.ToUpper(sub.PackageHash)
	if canonical, ok := verify.CanonicalHash(sub.PackageHash); ok {
		hash = canonical
	}

	err := s.ledger.MarkRejected(ctx, models.Receipt{
		ReceiptID:         receiptID,
		ClientOrgID:       sub.ClientOrgID,
		IdempotencyKey:    sub.IdempotencyKey,
		PackageHashSHA256: hash,
		AgentVersion:      sub.AgentVersion,
		ErrorCode:         &code,
		Message:           &msg,
		ServerRequestID:   &requestID,
		ReceivedAtUTC:     s.now().UTC(),
	})
	if errors.Is(err, store.ErrDuplicateKey) {
		s.logger.InfoContext(ctx, "rejected receipt not recorded; key already has a receipt",
			"client_org_id", sub.ClientOrgID,
			"code", code,
			"request_id", requestID,
		)
		return false
	}
	if err != nil {
		s.metrics.IncRejectionWriteError()
		s.logger.WarnContext(ctx, "rejected receipt not persisted",
			"receipt_id", receiptID,
			"code", code,
			"request_id", requestID,
			"error", err,
		)
		return false
	}
	return true
}

func (s *Service) reject(ctx context.Context, res Result, e *apierr.Error) Result {
	res.HTTPStatus = e.HTTPStatus()
	res.Err = e
	s.metrics.IncDecision("rejected", string(e.Code))
	s.logger.InfoContext(ctx, "package rejected",
		"code", e.Code,
		"receipt_id", res.ReceiptID,
		"client_org_id", res.ClientOrgID,
		"request_id", res.RequestID,
	)
	return res
}

func (s *Service) internal(ctx context.Context, res Result, op string, err error) Result {
	s.logger.ErrorContext(ctx, "ledger failure", "op", op, "request_id", res.RequestID, "error", err)
	return s.reject(ctx, res, apierr.New(apierr.CodeInternal, "Receipt ledger unavailable."))
}

func (sub Submission) missingHeader() string {
	switch {
	case sub.ClientOrgID == "":
		return HeaderClientOrgID
	case sub.PackageHash == "":
		return HeaderPackageHash
	case sub.IdempotencyKey == "":
		return HeaderIdempotencyKey
	case sub.AgentVersion == "":
		return HeaderAgentVersion
	}
	return ""
}
