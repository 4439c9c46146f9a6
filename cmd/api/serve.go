package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/PratikDhanave/evidence-ingest-service/internal/config"
	"github.com/PratikDhanave/evidence-ingest-service/internal/httpserver"
	"github.com/PratikDhanave/evidence-ingest-service/internal/ingest"
	"github.com/PratikDhanave/evidence-ingest-service/internal/logger"
	"github.com/PratikDhanave/evidence-ingest-service/internal/metrics"
	"github.com/PratikDhanave/evidence-ingest-service/internal/models"
	"github.com/PratikDhanave/evidence-ingest-service/internal/store"
	"github.com/PratikDhanave/evidence-ingest-service/internal/verify"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (migrates the ledger first)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

// ledger is everything the process needs from a receipt store.
type ledger interface {
	ingest.Ledger
	Get(ctx context.Context, receiptID string) (models.Receipt, error)
	ListByClient(ctx context.Context, clientOrgID string, limit int) ([]models.Receipt, error)
	Ping(ctx context.Context) error
	Close()
}

// openLedger selects the in-memory ledger for memory:// and Postgres otherwise.
// Postgres is migrated before it is returned.
func openLedger(ctx context.Context, cfg config.Config, log *slog.Logger) (ledger, error) {
	if cfg.DatabaseURL == config.MemoryDatabaseURL {
		log.Warn("using in-memory receipt ledger; receipts are lost on restart")
		return store.NewInMemory(), nil
	}

	db, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	applied, err := db.Migrate(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, name := range applied {
		log.Info("migration applied", "name", name)
	}
	return db, nil
}

// runServe boots the service: config → logger → ledger → verifier → HTTP server.
func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(cfg.LogLevel).With("service", "ingest-api", "env", cfg.Environment)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openLedger(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer db.Close()

	if cfg.APIKey == "" {
		log.Warn("INGEST_API_KEY is empty; every authenticated request will be rejected")
	}
	if cfg.SigningRequired && len(cfg.SigningKeys) == 0 {
		log.Warn("signing required but no SIGNING_HMAC_KEY_* secrets configured")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	verifier := verify.New(verify.Config{
		SigningRequired: cfg.SigningRequired,
		Keys:            cfg.SigningKeys,
	})
	svc := ingest.New(db, verifier, ingest.WithLogger(log), ingest.WithMetrics(m))

	router := httpserver.NewRouter(httpserver.Deps{
		APIKey:         cfg.APIKey,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Ingester:       svc,
		Receipts:       db,
		Store:          db,
		Gatherer:       reg,
		Metrics:        m,
		Logger:         log,
	})
	srv := httpserver.New(":"+cfg.Port, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server started", "addr", srv.Addr, "signing_required", cfg.SigningRequired)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", "timeout", cfg.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		return err
	}
	log.Info("server stopped")
	return nil
}
