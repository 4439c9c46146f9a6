package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// main boots the CLI: `serve` (default) runs the HTTP API, `migrate` applies the ledger schema.
func main() {
	rootCmd := &cobra.Command{
		Use:   "ingest-api",
		Short: "Evidence package ingest service",
		Long: `ingest-api accepts evidence packages from collection agents, verifies
their integrity and signature, and records one durable receipt per
(client_org_id, idempotency_key).`,
		SilenceUsage: true,
		RunE:         func(cmd *cobra.Command, _ []string) error { return runServe(cmd.Context()) },
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
