// Package ingest provides the run ledger and schema migrations for the
// filing reconciliation pipeline.
package ingest

import (
	"context"

	"github.com/northbound-research/filings-cli/internal/model"
)

// Ledger is the bookkeeping store for pipeline invocations. It holds no
// business logic. Failures to write the ledger are fatal to a run: a run
// that cannot record its outcome cannot safely claim completion.
type Ledger interface {
	// Create opens a ledger entry in the running state.
	Create(ctx context.Context, entry model.RunLedgerEntry) error

	// Update records in-flight progress counts for a running entry.
	Update(ctx context.Context, runID string, counts model.Counts) error

	// Finalize closes the entry with its terminal status, final counts, and
	// error detail, and stamps ended_at. A non-completed status must carry a
	// non-empty error detail.
	Finalize(ctx context.Context, runID string, status model.RunStatus, counts model.Counts, errorDetail string) error

	// Get returns one entry by run ID.
	Get(ctx context.Context, runID string) (*model.RunLedgerEntry, error)

	// List returns the most recent entries, newest first.
	List(ctx context.Context, limit int) ([]model.RunLedgerEntry, error)

	// LatestSuccessfulWatermark returns the window end of the most recent
	// completed run. ok is false if no run has ever completed. Failed runs
	// never contribute: advancing past a failed window would silently skip
	// its records.
	LatestSuccessfulWatermark(ctx context.Context) (model.Date, bool, error)
}
