package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/PratikDhanave/evidence-ingest-service/internal/apierr"
	"github.com/PratikDhanave/evidence-ingest-service/internal/ingest"
	"github.com/PratikDhanave/evidence-ingest-service/internal/logger"
	"github.com/PratikDhanave/evidence-ingest-service/internal/metrics"
	"github.com/PratikDhanave/evidence-ingest-service/internal/models"
	"github.com/PratikDhanave/evidence-ingest-service/internal/store"
	"github.com/PratikDhanave/evidence-ingest-service/internal/testutil"
	"github.com/PratikDhanave/evidence-ingest-service/internal/verify"
)

var secret = []byte("hmac-secret")

type fixture struct {
	ledger  *store.InMemory
	svc     *ingest.Service
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, signingRequired bool) fixture {
	t.Helper()
	ledger := store.NewInMemory()
	m := metrics.New(prometheus.NewRegistry())
	v := verify.New(verify.Config{SigningRequired: signingRequired, Keys: verify.Keyring{"AGENT_1": secret}})
	return fixture{
		ledger:  ledger,
		metrics: m,
		svc:     ingest.New(ledger, v, ingest.WithLogger(logger.Discard()), ingest.WithMetrics(m)),
	}
}

func submission(body []byte, key string) ingest.Submission {
	return ingest.Submission{
		ClientOrgID:    "ORG1",
		PackageHash:    verify.SHA256Hex(body),
		IdempotencyKey: key,
		AgentVersion:   "1.4.2",
		RequestID:      "req-1",
		Body:           body,
	}
}

func TestIngest_FirstSubmissionThenReplay(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	body := testutil.UnsignedPackage(t, testutil.Manifest("ORG1"))

	first := f.svc.Ingest(ctx, submission(body, "k1"))
	require.Nil(t, first.Err)
	assert.Equal(t, http.StatusAccepted, first.HTTPStatus)
	assert.False(t, first.Duplicate)
	assert.Nil(t, first.Message)
	assert.Equal(t, models.StatusAccepted, first.Receipt.Status)
	assert.Equal(t, 1, first.Receipt.HitCount)
	assert.Equal(t, first.Receipt.ReceiptID, first.ReceiptID)
	require.NotNil(t, first.Receipt.ServerRequestID)
	assert.Equal(t, "req-1", *first.Receipt.ServerRequestID)

	second := f.svc.Ingest(ctx, submission(body, "k1"))
	require.Nil(t, second.Err)
	assert.Equal(t, http.StatusOK, second.HTTPStatus)
	assert.True(t, second.Duplicate)
	require.NotNil(t, second.Message)
	assert.Equal(t, first.ReceiptID, second.ReceiptID)
	assert.Equal(t, 2, second.Receipt.HitCount)
	assert.True(t, second.Receipt.ReceivedAtUTC.Equal(first.Receipt.ReceivedAtUTC))

	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.Decisions.WithLabelValues("accepted", "")))
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.Decisions.WithLabelValues("replayed", "")))
}

func TestIngest_MissingHeadersNamedIndividually(t *testing.T) {
	f := newFixture(t, false)
	body := testutil.UnsignedPackage(t, testutil.Manifest("ORG1"))

	cases := map[string]func(*ingest.Submission){
		ingest.HeaderClientOrgID:    func(s *ingest.Submission) { s.ClientOrgID = "" },
		ingest.HeaderPackageHash:    func(s *ingest.Submission) { s.PackageHash = "" },
		ingest.HeaderIdempotencyKey: func(s *ingest.Submission) { s.IdempotencyKey = "" },
		ingest.HeaderAgentVersion:   func(s *ingest.Submission) { s.AgentVersion = "" },
	}
	for header, drop := range cases {
		t.Run(header, func(t *testing.T) {
			sub := submission(body, "k1")
			drop(&sub)
			res := f.svc.Ingest(context.Background(), sub)

			require.NotNil(t, res.Err)
			assert.Equal(t, http.StatusBadRequest, res.HTTPStatus)
			assert.Equal(t, apierr.CodeMissingRequiredHeader, res.Err.Code)
			assert.Equal(t, header, res.Err.Details["header"])
			assert.Contains(t, res.Err.Message, header)
			assert.Empty(t, res.ReceiptID)
		})
	}

	items, err := f.ledger.ListByClient(context.Background(), "ORG1", 10)
	require.NoError(t, err)
	assert.Empty(t, items, "header failures must not touch the ledger")
}

func TestIngest_EmptyBody(t *testing.T) {
	f := newFixture(t, false)
	sub := submission(nil, "k1")
	res := f.svc.Ingest(context.Background(), sub)

	require.NotNil(t, res.Err)
	assert.Equal(t, apierr.CodeInvalidRequest, res.Err.Code)
}

func TestIngest_HashMismatchRecordsRejection(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	body := testutil.UnsignedPackage(t, testutil.Manifest("ORG1"))
	sub := submission(body, "k1")
	sub.Body = append([]byte{}, body...)
	sub.Body[0] ^= 0xFF

	res := f.svc.Ingest(ctx, sub)

	require.NotNil(t, res.Err)
	assert.Equal(t, http.StatusUnprocessableEntity, res.HTTPStatus)
	assert.Equal(t, apierr.CodePackageHashMismatch, res.Err.Code)
	require.NotEmpty(t, res.ReceiptID)

	rec, err := f.ledger.Get(ctx, res.ReceiptID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rec.Status)
	require.NotNil(t, rec.ErrorCode)
	assert.Equal(t, string(apierr.CodePackageHashMismatch), *rec.ErrorCode)

	items, err := f.ledger.ListByClient(ctx, "ORG1", 10)
	require.NoError(t, err)
	for _, it := range items {
		assert.NotEqual(t, models.StatusAccepted, it.Status)
	}
}

func TestIngest_ConflictLeavesOriginalUntouched(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	original := testutil.UnsignedPackage(t, testutil.Manifest("ORG1"))
	first := f.svc.Ingest(ctx, submission(original, "k1"))
	require.Nil(t, first.Err)

	m := testutil.Manifest("ORG1")
	m["note"] = "changed"
	changed := testutil.UnsignedPackage(t, m)
	res := f.svc.Ingest(ctx, submission(changed, "k1"))

	require.NotNil(t, res.Err)
	assert.Equal(t, http.StatusConflict, res.HTTPStatus)
	assert.Equal(t, apierr.CodeIdempotencyConflict, res.Err.Code)
	assert.Equal(t, first.ReceiptID, res.ReceiptID)
	assert.Equal(t, verify.SHA256Hex(original), res.Err.Details["existing_package_hash_sha256"])
	assert.Equal(t, verify.SHA256Hex(changed), res.Err.Details["incoming_package_hash_sha256"])

	stored, err := f.ledger.Get(ctx, first.ReceiptID)
	require.NoError(t, err)
	assert.Equal(t, first.Receipt, stored)
}

func TestIngest_RejectionUnderTakenKeyCarriesNoReceiptID(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	original := testutil.UnsignedPackage(t, testutil.Manifest("ORG1"))
	first := f.svc.Ingest(ctx, submission(original, "k1"))
	require.Nil(t, first.Err)

	tampered := submission(original, "k1")
	tampered.Body = append([]byte{}, original...)
	tampered.Body[0] ^= 0xFF
	res := f.svc.Ingest(ctx, tampered)

	require.NotNil(t, res.Err)
	assert.Equal(t, apierr.CodePackageHashMismatch, res.Err.Code)
	assert.Empty(t, res.ReceiptID)
	assert.Equal(t, 0.0, promtest.ToFloat64(f.metrics.RejectionWriteErrors))

	stored, err := f.ledger.Get(ctx, first.ReceiptID)
	require.NoError(t, err)
	assert.Equal(t, first.Receipt, stored)
}

func TestIngest_ReplayOfRejectedReceiptKeepsRejectedStatus(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	body := testutil.UnsignedPackage(t, testutil.Manifest("ORG1"))

	// The header hash is right for body but the bytes sent are not, so the
	// REJECTED row stores body's hash under k1.
	bad := submission(body, "k1")
	bad.Body = append([]byte{}, body...)
	bad.Body[0] ^= 0xFF
	rejected := f.svc.Ingest(ctx, bad)
	require.NotNil(t, rejected.Err)
	require.NotEmpty(t, rejected.ReceiptID)

	res := f.svc.Ingest(ctx, submission(body, "k1"))

	require.Nil(t, res.Err)
	assert.Equal(t, http.StatusOK, res.HTTPStatus)
	assert.True(t, res.Duplicate)
	assert.Equal(t, rejected.ReceiptID, res.ReceiptID)
	assert.Equal(t, models.StatusRejected, res.Receipt.Status)
	assert.Equal(t, 2, res.Receipt.HitCount)
}

func TestIngest_SigningRequiredWithoutSignature(t *testing.T) {
	f := newFixture(t, true)
	body := testutil.UnsignedPackage(t, testutil.Manifest("ORG1"))

	res := f.svc.Ingest(context.Background(), submission(body, "k1"))

	require.NotNil(t, res.Err)
	assert.Equal(t, apierr.CodeMissingManifestSignature, res.Err.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, res.HTTPStatus)
}

func TestIngest_SignedPackageAccepted(t *testing.T) {
	f := newFixture(t, true)
	body := testutil.SignedPackage(t, testutil.Manifest("ORG1"), "agent-1", secret)
	sub := submission(body, "k1")
	sub.SigningKeyID = "agent-2"

	res := f.svc.Ingest(context.Background(), sub)

	require.Nil(t, res.Err)
	assert.Equal(t, http.StatusAccepted, res.HTTPStatus)
	require.NotNil(t, res.Artifact.Signature)
	assert.Equal(t, "agent-1", res.Artifact.Signature.KeyID)
}

func TestIngest_ConcurrentFirstSubmissionsConverge(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	body := testutil.UnsignedPackage(t, testutil.Manifest("ORG1"))
	const n = 25

	var (
		mu       sync.Mutex
		statuses = map[int]int{}
		ids      = map[string]struct{}{}
	)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			res := f.svc.Ingest(ctx, submission(body, "race"))
			if res.Err != nil {
				return res.Err
			}
			mu.Lock()
			statuses[res.HTTPStatus]++
			ids[res.ReceiptID] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, statuses[http.StatusAccepted])
	assert.Equal(t, n-1, statuses[http.StatusOK])
	assert.Len(t, ids, 1)

	rec, err := f.ledger.Lookup(ctx, "ORG1", "race")
	require.NoError(t, err)
	assert.Equal(t, n, rec.HitCount)
}

// racingLedger reports "not found" on the first lookup and a duplicate on insert,
// modelling a concurrent writer landing between the two calls.
type racingLedger struct {
	*store.InMemory
	lookups int
}

func (r *racingLedger) Lookup(ctx context.Context, org, key string) (models.Receipt, error) {
	r.lookups++
	if r.lookups == 1 {
		return models.Receipt{}, store.ErrNotFound
	}
	return r.InMemory.Lookup(ctx, org, key)
}

func TestIngest_DuplicateInsertFallsBackToReplay(t *testing.T) {
	ctx := context.Background()
	body := testutil.UnsignedPackage(t, testutil.Manifest("ORG1"))

	mem := store.NewInMemory()
	_, err := mem.Insert(ctx, models.Receipt{
		ReceiptID:         "ING-WINNER",
		ClientOrgID:       "ORG1",
		IdempotencyKey:    "k1",
		PackageHashSHA256: verify.SHA256Hex(body),
		AgentVersion:      "1.4.2",
		Status:            models.StatusAccepted,
	})
	require.NoError(t, err)

	ledger := &racingLedger{InMemory: mem}
	svc := ingest.New(ledger, verify.New(verify.Config{}), ingest.WithLogger(logger.Discard()))

	res := svc.Ingest(ctx, submission(body, "k1"))

	require.Nil(t, res.Err)
	assert.Equal(t, http.StatusOK, res.HTTPStatus)
	assert.True(t, res.Duplicate)
	assert.Equal(t, "ING-WINNER", res.ReceiptID)
	assert.Equal(t, 2, ledger.lookups)
}

// brokenLedger fails every call.
type brokenLedger struct{ err error }

func (b brokenLedger) Lookup(context.Context, string, string) (models.Receipt, error) {
	return models.Receipt{}, b.err
}
func (b brokenLedger) Insert(context.Context, models.Receipt) (models.Receipt, error) {
	return models.Receipt{}, b.err
}
func (b brokenLedger) BumpReplay(context.Context, string) (models.Receipt, error) {
	return models.Receipt{}, b.err
}
func (b brokenLedger) MarkRejected(context.Context, models.Receipt) error { return b.err }

func TestIngest_RejectionWriteFailureIsSwallowed(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	svc := ingest.New(brokenLedger{err: errors.New("db down")}, verify.New(verify.Config{}),
		ingest.WithLogger(logger.Discard()), ingest.WithMetrics(m))

	body := []byte("not a zip")
	res := svc.Ingest(context.Background(), submission(body, "k1"))

	require.NotNil(t, res.Err)
	assert.Equal(t, apierr.CodeInvalidZip, res.Err.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, res.HTTPStatus)
	assert.Empty(t, res.ReceiptID, "no receipt id for a row that was never stored")
	assert.Equal(t, 1.0, promtest.ToFloat64(m.RejectionWriteErrors))
}

func TestIngest_LedgerFailureOnAcceptPath(t *testing.T) {
	svc := ingest.New(brokenLedger{err: fmt.Errorf("pool closed")}, verify.New(verify.Config{}),
		ingest.WithLogger(logger.Discard()))
	body := testutil.UnsignedPackage(t, testutil.Manifest("ORG1"))

	res := svc.Ingest(context.Background(), submission(body, "k1"))

	require.NotNil(t, res.Err)
	assert.Equal(t, apierr.CodeInternal, res.Err.Code)
	assert.Equal(t, http.StatusInternalServerError, res.HTTPStatus)
	assert.NotContains(t, res.Err.Message, "pool closed")
}

func TestIngest_UsesInjectedClockForReceiptDate(t *testing.T) {
	ledger := store.NewInMemory()
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := ingest.New(ledger, verify.New(verify.Config{}),
		ingest.WithLogger(logger.Discard()), ingest.WithClock(func() time.Time { return fixed }))
	body := testutil.UnsignedPackage(t, testutil.Manifest("ORG1"))

	res := svc.Ingest(context.Background(), submission(body, "k1"))

	require.Nil(t, res.Err)
	assert.Regexp(t, `^ING-20250102-`, res.ReceiptID)
	assert.True(t, res.Receipt.ReceivedAtUTC.Equal(fixed))
}
