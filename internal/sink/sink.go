// Package sink defines the persistence boundary of the reconciliation
// pipeline. The engine emits intents through these interfaces; concrete
// destinations (Postgres, local SQLite) live in internal/store.
package sink

import (
	"context"

	"github.com/northbound-research/filings-cli/internal/model"
)

// Sink is the abstract destination for filing and issuer intents. Every
// write is keyed by (document_identity, version) and must be idempotent
// under retry: a re-applied intent is a no-op, never a duplicate row.
// Each call is independently atomic; the pipeline issues no cross-record
// transactions.
type Sink interface {
	// UpsertIssuer overwrites issuer attributes (last-write-wins) while
	// advancing last_seen monotonically and preserving first_seen.
	UpsertIssuer(ctx context.Context, issuer model.IssuerRecord) error

	// UpsertIssuers applies a whole directory export in one batch with the
	// same per-record semantics as UpsertIssuer.
	UpsertIssuers(ctx context.Context, issuers []model.IssuerRecord) (int64, error)

	// FindCurrent returns the latest record for a document identity, or nil
	// if the identity has never been observed. The resolver classifies raw
	// records against this.
	FindCurrent(ctx context.Context, documentIdentity string) (*model.FilingRecord, error)

	// UpsertFilingActive creates or re-applies an active record.
	UpsertFilingActive(ctx context.Context, rec model.FilingRecord) error

	// Supersede atomically writes the new active record and transitions the
	// old one to superseded with its superseded_by link set.
	Supersede(ctx context.Context, oldID string, rec model.FilingRecord) error

	// MarkFailed records a filing whose content retrieval exhausted retries.
	// Failed records are re-attempted on the next run.
	MarkFailed(ctx context.Context, rec model.FilingRecord) error

	Close() error
}

// ContentStore decides where document bytes live and returns the resulting
// content location reference. Content is keyed by identity and version: an
// amendment's document is distinct from the bytes it replaces, so a stored
// prior version must never satisfy a lookup for the amended one.
type ContentStore interface {
	// Put stores the document bytes for one version and returns their
	// location.
	Put(ctx context.Context, documentIdentity string, version int, data []byte) (string, error)

	// Location returns the existing location for a document version, if
	// stored. Lets the pipeline skip re-downloading content it already holds.
	Location(documentIdentity string, version int) (string, bool)
}
