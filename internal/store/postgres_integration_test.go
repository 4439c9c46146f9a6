//go:build integration

package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"golang.org/x/sync/errgroup"

	"github.com/PratikDhanave/evidence-ingest-service/internal/models"
	"github.com/PratikDhanave/evidence-ingest-service/internal/store"
)

type PostgresStoreSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	store     *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("ingest"),
		tcpostgres.WithUsername("ingest"),
		tcpostgres.WithPassword("ingest"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.store, err = store.NewPostgresStore(ctx, dsn)
	s.Require().NoError(err)

	applied, err := s.store.Migrate(ctx)
	s.Require().NoError(err)
	s.NotEmpty(applied)

	// A second run is a no-op.
	applied, err = s.store.Migrate(ctx)
	s.Require().NoError(err)
	s.Empty(applied)
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
	if s.container != nil {
		_ = testcontainers.TerminateContainer(s.container)
	}
}

func newReceipt(org, key string) models.Receipt {
	return models.Receipt{
		ReceiptID:         "ING-" + uuid.NewString(),
		ClientOrgID:       org,
		IdempotencyKey:    key,
		PackageHashSHA256: "0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF",
		AgentVersion:      "2.1.0",
		Status:            models.StatusAccepted,
		ReceivedAtUTC:     time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresStoreSuite) TestInsertLookupReplay() {
	ctx := context.Background()
	org := "ORG-" + uuid.NewString()

	created, err := s.store.Insert(ctx, newReceipt(org, "k1"))
	s.Require().NoError(err)
	s.Equal(1, created.HitCount)
	s.False(created.Duplicate)

	found, err := s.store.Lookup(ctx, org, "k1")
	s.Require().NoError(err)
	s.Equal(created.ReceiptID, found.ReceiptID)

	bumped, err := s.store.BumpReplay(ctx, created.ReceiptID)
	s.Require().NoError(err)
	s.True(bumped.Duplicate)
	s.Equal(2, bumped.HitCount)
	s.True(bumped.ReceivedAtUTC.Equal(created.ReceivedAtUTC))
	s.Equal(created.PackageHashSHA256, bumped.PackageHashSHA256)

	_, err = s.store.Get(ctx, "ING-missing")
	s.ErrorIs(err, store.ErrNotFound)
	_, err = s.store.BumpReplay(ctx, "ING-missing")
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *PostgresStoreSuite) TestRejectedReceiptCannotShadowExistingKey() {
	ctx := context.Background()
	org := "ORG-" + uuid.NewString()

	_, err := s.store.Insert(ctx, newReceipt(org, "k1"))
	s.Require().NoError(err)

	code := "PACKAGE_HASH_MISMATCH"
	rej := newReceipt(org, "k1")
	rej.ErrorCode = &code
	s.ErrorIs(s.store.MarkRejected(ctx, rej), store.ErrDuplicateKey)

	found, err := s.store.Lookup(ctx, org, "k1")
	s.Require().NoError(err)
	s.Equal(models.StatusAccepted, found.Status)
}

// TestConcurrentFirstSubmissions verifies the unique constraint admits exactly one row.
func (s *PostgresStoreSuite) TestConcurrentFirstSubmissions() {
	ctx := context.Background()
	org := "ORG-" + uuid.NewString()
	const goroutines = 20

	var wins, dups atomic.Int32
	var g errgroup.Group
	for i := 0; i < goroutines; i++ {
		g.Go(func() error {
			_, err := s.store.Insert(ctx, newReceipt(org, "race"))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, store.ErrDuplicateKey):
				dups.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait())
	s.Equal(int32(1), wins.Load())
	s.Equal(int32(goroutines-1), dups.Load())
}

func (s *PostgresStoreSuite) TestListByClient() {
	ctx := context.Background()
	org := "ORG-" + uuid.NewString()
	base := time.Now().UTC().Truncate(time.Microsecond)

	for i := 0; i < 3; i++ {
		r := newReceipt(org, fmt.Sprintf("k%d", i))
		r.ReceivedAtUTC = base.Add(time.Duration(i) * time.Second)
		_, err := s.store.Insert(ctx, r)
		s.Require().NoError(err)
	}

	items, err := s.store.ListByClient(ctx, org, 2)
	s.Require().NoError(err)
	s.Require().Len(items, 2)
	s.Equal("k2", items[0].IdempotencyKey)
	s.Equal("k1", items[1].IdempotencyKey)
}
