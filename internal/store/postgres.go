// Package store provides the concrete sink and ledger implementations:
// Postgres for production, SQLite for local mode.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/northbound-research/filings-cli/internal/db"
	"github.com/northbound-research/filings-cli/internal/model"
)

// Postgres implements sink.Sink and ingest.Ledger on a pgx connection pool.
type Postgres struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping database")
	}
	return &Postgres{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; tests pass a pgxmock pool.
func NewPostgresFromPool(pool db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Pool exposes the underlying pool for migrations.
func (p *Postgres) Pool() db.Pool { return p.pool }

func (p *Postgres) Close() error {
	if p.closeFn != nil {
		p.closeFn()
	}
	return nil
}

// UpsertIssuer overwrites issuer attributes, preserving first_seen and only
// ever moving last_seen forward.
func (p *Postgres) UpsertIssuer(ctx context.Context, is model.IssuerRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO ingest.issuers (issuer_id, name, jurisdiction, issuer_type, in_default, active_restriction, first_seen, last_seen)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (issuer_id) DO UPDATE SET
			name = EXCLUDED.name,
			jurisdiction = EXCLUDED.jurisdiction,
			issuer_type = EXCLUDED.issuer_type,
			in_default = EXCLUDED.in_default,
			active_restriction = EXCLUDED.active_restriction,
			last_seen = GREATEST(ingest.issuers.last_seen, EXCLUDED.last_seen)`,
		is.IssuerID, is.Name, is.Jurisdiction, is.Type, is.InDefault, is.ActiveRestriction, is.FirstSeen, is.LastSeen,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert issuer %s", is.IssuerID)
	}
	return nil
}

// UpsertIssuers bulk-applies a directory export via temp-table COPY.
// first_seen is excluded from the update set so the original observation
// survives re-imports.
func (p *Postgres) UpsertIssuers(ctx context.Context, issuers []model.IssuerRecord) (int64, error) {
	rows := make([][]any, 0, len(issuers))
	for _, is := range issuers {
		rows = append(rows, []any{
			is.IssuerID, is.Name, is.Jurisdiction, is.Type,
			is.InDefault, is.ActiveRestriction, is.FirstSeen, is.LastSeen,
		})
	}

	n, err := db.BulkUpsert(ctx, p.pool, db.UpsertConfig{
		Table:        "ingest.issuers",
		Columns:      []string{"issuer_id", "name", "jurisdiction", "issuer_type", "in_default", "active_restriction", "first_seen", "last_seen"},
		ConflictKeys: []string{"issuer_id"},
		UpdateCols:   []string{"name", "jurisdiction", "issuer_type", "in_default", "active_restriction", "last_seen"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: bulk upsert issuers")
	}
	return n, nil
}

const filingColumns = `id, issuer_id, document_identity, filing_type, document_type, filed_on,
	version, supersedes, superseded_by, content_location, content_url, size_bytes,
	size_mismatch, status, created_at, updated_at`

// FindCurrent returns the highest-version record for a document identity.
func (p *Postgres) FindCurrent(ctx context.Context, documentIdentity string) (*model.FilingRecord, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+filingColumns+`
		 FROM ingest.filings
		 WHERE document_identity = $1
		 ORDER BY version DESC LIMIT 1`,
		documentIdentity,
	)

	rec, err := scanFiling(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: find current %s", documentIdentity)
	}
	return rec, nil
}

func scanFiling(row pgx.Row) (*model.FilingRecord, error) {
	var rec model.FilingRecord
	var filedOn time.Time
	var supersedes, supersededBy *string
	err := row.Scan(
		&rec.ID, &rec.IssuerID, &rec.DocumentIdentity, &rec.FilingType, &rec.DocumentType, &filedOn,
		&rec.Version, &supersedes, &supersededBy, &rec.ContentLocation, &rec.ContentURL, &rec.SizeBytes,
		&rec.SizeMismatch, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.FiledOn = model.DateOf(filedOn)
	if supersedes != nil {
		rec.Supersedes = *supersedes
	}
	if supersededBy != nil {
		rec.SupersededBy = *supersededBy
	}
	return &rec, nil
}

// upsertFilingSQL keys on (document_identity, version) so a re-applied
// intent from a retried run updates in place instead of duplicating.
const upsertFilingSQL = `
	INSERT INTO ingest.filings (` + filingColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (document_identity, version) DO UPDATE SET
		filing_type = EXCLUDED.filing_type,
		document_type = EXCLUDED.document_type,
		filed_on = EXCLUDED.filed_on,
		supersedes = EXCLUDED.supersedes,
		content_location = EXCLUDED.content_location,
		content_url = EXCLUDED.content_url,
		size_bytes = EXCLUDED.size_bytes,
		size_mismatch = EXCLUDED.size_mismatch,
		status = EXCLUDED.status,
		updated_at = EXCLUDED.updated_at`

func filingArgs(rec model.FilingRecord) []any {
	var supersedes, supersededBy *string
	if rec.Supersedes != "" {
		supersedes = &rec.Supersedes
	}
	if rec.SupersededBy != "" {
		supersededBy = &rec.SupersededBy
	}
	return []any{
		rec.ID, rec.IssuerID, rec.DocumentIdentity, rec.FilingType, rec.DocumentType, rec.FiledOn.Time(),
		rec.Version, supersedes, supersededBy, rec.ContentLocation, rec.ContentURL, rec.SizeBytes,
		rec.SizeMismatch, rec.Status, rec.CreatedAt, rec.UpdatedAt,
	}
}

// UpsertFilingActive creates or re-applies an active record.
func (p *Postgres) UpsertFilingActive(ctx context.Context, rec model.FilingRecord) error {
	rec.Status = model.StatusActive
	if _, err := p.pool.Exec(ctx, upsertFilingSQL, filingArgs(rec)...); err != nil {
		return eris.Wrapf(err, "postgres: upsert active filing %s v%d", rec.DocumentIdentity, rec.Version)
	}
	return nil
}

// Supersede transitions the prior record and writes the new active one in a
// single transaction. The old row flips first so the one-active-per-identity
// partial unique index never sees two active rows.
func (p *Postgres) Supersede(ctx context.Context, oldID string, rec model.FilingRecord) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: supersede: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`UPDATE ingest.filings
		 SET status = $1, superseded_by = $2, updated_at = $3
		 WHERE id = $4`,
		model.StatusSuperseded, rec.ID, rec.UpdatedAt, oldID,
	); err != nil {
		return eris.Wrapf(err, "postgres: supersede old record %s", oldID)
	}

	rec.Status = model.StatusActive
	if _, err := tx.Exec(ctx, upsertFilingSQL, filingArgs(rec)...); err != nil {
		return eris.Wrapf(err, "postgres: supersede insert %s v%d", rec.DocumentIdentity, rec.Version)
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: supersede: commit tx")
	}
	return nil
}

// MarkFailed records a filing whose content download exhausted retries.
func (p *Postgres) MarkFailed(ctx context.Context, rec model.FilingRecord) error {
	rec.Status = model.StatusFailed
	if _, err := p.pool.Exec(ctx, upsertFilingSQL, filingArgs(rec)...); err != nil {
		return eris.Wrapf(err, "postgres: mark failed %s v%d", rec.DocumentIdentity, rec.Version)
	}
	return nil
}

// Ledger implementation.

func (p *Postgres) Create(ctx context.Context, e model.RunLedgerEntry) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO ingest.run_ledger (run_id, mode, window_start, window_end, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.RunID, e.Mode, e.WindowStart.Time(), e.WindowEnd.Time(), model.RunRunning, e.StartedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: create ledger entry %s", e.RunID)
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, runID string, c model.Counts) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE ingest.run_ledger
		 SET records_seen = $1, records_new = $2, records_superseded = $3, records_failed = $4
		 WHERE run_id = $5`,
		c.Seen, c.New, c.Superseded, c.Failed, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update ledger entry %s", runID)
	}
	return nil
}

func (p *Postgres) Finalize(ctx context.Context, runID string, status model.RunStatus, c model.Counts, errorDetail string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE ingest.run_ledger
		 SET status = $1, records_seen = $2, records_new = $3, records_superseded = $4,
			 records_failed = $5, error_detail = $6, ended_at = now()
		 WHERE run_id = $7`,
		status, c.Seen, c.New, c.Superseded, c.Failed, errorDetail, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finalize ledger entry %s", runID)
	}
	return nil
}

const ledgerColumns = `run_id, mode, window_start, window_end, status, records_seen,
	records_new, records_superseded, records_failed, started_at, ended_at, error_detail`

func scanLedgerEntry(row pgx.Row) (*model.RunLedgerEntry, error) {
	var e model.RunLedgerEntry
	var ws, we time.Time
	err := row.Scan(
		&e.RunID, &e.Mode, &ws, &we, &e.Status, &e.RecordsSeen,
		&e.RecordsNew, &e.RecordsSuperseded, &e.RecordsFailed, &e.StartedAt, &e.EndedAt, &e.ErrorDetail,
	)
	if err != nil {
		return nil, err
	}
	e.WindowStart = model.DateOf(ws)
	e.WindowEnd = model.DateOf(we)
	return &e, nil
}

func (p *Postgres) Get(ctx context.Context, runID string) (*model.RunLedgerEntry, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM ingest.run_ledger WHERE run_id = $1`, runID)
	e, err := scanLedgerEntry(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get ledger entry %s", runID)
	}
	return e, nil
}

func (p *Postgres) List(ctx context.Context, limit int) ([]model.RunLedgerEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+ledgerColumns+` FROM ingest.run_ledger ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ledger entries")
	}
	defer rows.Close()

	var entries []model.RunLedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan ledger entry")
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// LatestSuccessfulWatermark returns the window end of the most recent
// completed run.
func (p *Postgres) LatestSuccessfulWatermark(ctx context.Context) (model.Date, bool, error) {
	var we time.Time
	err := p.pool.QueryRow(ctx,
		`SELECT window_end FROM ingest.run_ledger
		 WHERE status = $1
		 ORDER BY window_end DESC LIMIT 1`,
		model.RunCompleted,
	).Scan(&we)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Date{}, false, nil
		}
		return model.Date{}, false, eris.Wrap(err, "postgres: latest watermark")
	}
	return model.DateOf(we), true, nil
}
