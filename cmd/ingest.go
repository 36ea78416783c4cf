package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/northbound-research/filings-cli/internal/ingest"
	"github.com/northbound-research/filings-cli/internal/ingest/recon"
	"github.com/northbound-research/filings-cli/internal/portal"
	"github.com/northbound-research/filings-cli/internal/resolve"
	"github.com/northbound-research/filings-cli/internal/sink"
	"github.com/northbound-research/filings-cli/internal/store"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Filing reconciliation pipeline",
	Long:  "Incremental and historical reconciliation of portal filings into the filing store.",
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

// pipelineStore is a destination that serves both as the filing sink and as
// the run ledger. Both backends implement it.
type pipelineStore interface {
	sink.Sink
	ingest.Ledger
}

// initStore opens Postgres when store.database_url is configured, otherwise
// a local SQLite file under store.cache_dir. Local mode exists so the
// pipeline is usable on a laptop without provisioning a database.
func initStore(ctx context.Context) (pipelineStore, error) {
	if cfg.Store.DatabaseURL != "" {
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := ingest.Migrate(ctx, st.Pool()); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "ingest: migrate")
		}
		return st, nil
	}

	if err := os.MkdirAll(cfg.Store.CacheDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "ingest: create cache dir %s", cfg.Store.CacheDir)
	}
	dsn := filepath.Join(cfg.Store.CacheDir, "filings.db")
	zap.L().Info("no database_url configured, using local store", zap.String("path", dsn))
	return store.NewSQLite(dsn)
}

// buildEngine wires the portal client, content store, and resolver around
// the given store.
func buildEngine(st pipelineStore, refreshIssuers bool) (*recon.Engine, error) {
	gate := portal.NewGate(cfg.Portal.RequestInterval, cfg.Portal.MaxInFlight)
	client := portal.NewClient(portal.Options{
		BaseURL:     cfg.Portal.BaseURL,
		UserAgent:   cfg.Portal.UserAgent,
		Timeout:     cfg.Portal.Timeout,
		MaxAttempts: cfg.Portal.MaxAttempts,
		BackoffBase: cfg.Portal.BackoffBase,
		PageSize:    cfg.Portal.PageSize,
		MaxPages:    cfg.Portal.MaxPages,
	}, gate)

	content, err := sink.NewFSContentStore(cfg.Store.DownloadDir)
	if err != nil {
		return nil, err
	}

	resolver := resolve.NewResolver(resolve.DefaultOptions())

	return recon.New(client, st, content, st, resolver, recon.Options{
		OverlapDays:    cfg.Ingest.OverlapDays,
		ChunkDays:      cfg.Ingest.ChunkDays,
		DownloadLimit:  cfg.Ingest.DownloadLimit,
		RefreshIssuers: refreshIssuers,
	}), nil
}
