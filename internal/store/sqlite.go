package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/northbound-research/filings-cli/internal/model"
)

// SQLite implements sink.Sink and ingest.Ledger on a local SQLite file.
// It backs local mode: running the pipeline without a Postgres URL.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path, configures WAL mode,
// and applies the schema.
func NewSQLite(dsn string) (*SQLite, error) {
	d, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := d.Exec(pragma); err != nil {
			d.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}

	s := &SQLite{db: d}
	if err := s.migrate(); err != nil {
		d.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS issuers (
	issuer_id          TEXT PRIMARY KEY,
	name               TEXT NOT NULL DEFAULT '',
	jurisdiction       TEXT NOT NULL DEFAULT '',
	issuer_type        TEXT NOT NULL DEFAULT '',
	in_default         INTEGER NOT NULL DEFAULT 0,
	active_restriction INTEGER NOT NULL DEFAULT 0,
	first_seen         DATETIME NOT NULL,
	last_seen          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS filings (
	id                TEXT PRIMARY KEY,
	issuer_id         TEXT NOT NULL,
	document_identity TEXT NOT NULL,
	filing_type       TEXT NOT NULL DEFAULT '',
	document_type     TEXT NOT NULL DEFAULT '',
	filed_on          TEXT NOT NULL,
	version           INTEGER NOT NULL DEFAULT 1,
	supersedes        TEXT NOT NULL DEFAULT '',
	superseded_by     TEXT NOT NULL DEFAULT '',
	content_location  TEXT NOT NULL DEFAULT '',
	content_url       TEXT NOT NULL DEFAULT '',
	size_bytes        INTEGER NOT NULL DEFAULT 0,
	size_mismatch     INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'active',
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL,
	UNIQUE (document_identity, version)
);

CREATE INDEX IF NOT EXISTS idx_filings_identity ON filings(document_identity);

CREATE UNIQUE INDEX IF NOT EXISTS idx_filings_one_active
	ON filings(document_identity) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS run_ledger (
	run_id             TEXT PRIMARY KEY,
	mode               TEXT NOT NULL,
	window_start       TEXT NOT NULL,
	window_end         TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'running',
	records_seen       INTEGER NOT NULL DEFAULT 0,
	records_new        INTEGER NOT NULL DEFAULT 0,
	records_superseded INTEGER NOT NULL DEFAULT 0,
	records_failed     INTEGER NOT NULL DEFAULT 0,
	started_at         DATETIME NOT NULL,
	ended_at           DATETIME,
	error_detail       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_run_ledger_watermark ON run_ledger(status, window_end);
`

func (s *SQLite) migrate() error {
	if _, err := s.db.Exec(sqliteSchema); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) UpsertIssuer(ctx context.Context, is model.IssuerRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO issuers (issuer_id, name, jurisdiction, issuer_type, in_default, active_restriction, first_seen, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (issuer_id) DO UPDATE SET
			name = excluded.name,
			jurisdiction = excluded.jurisdiction,
			issuer_type = excluded.issuer_type,
			in_default = excluded.in_default,
			active_restriction = excluded.active_restriction,
			last_seen = max(issuers.last_seen, excluded.last_seen)`,
		is.IssuerID, is.Name, is.Jurisdiction, is.Type, is.InDefault, is.ActiveRestriction, is.FirstSeen, is.LastSeen,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert issuer %s", is.IssuerID)
	}
	return nil
}

func (s *SQLite) UpsertIssuers(ctx context.Context, issuers []model.IssuerRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert issuers: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO issuers (issuer_id, name, jurisdiction, issuer_type, in_default, active_restriction, first_seen, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (issuer_id) DO UPDATE SET
			name = excluded.name,
			jurisdiction = excluded.jurisdiction,
			issuer_type = excluded.issuer_type,
			in_default = excluded.in_default,
			active_restriction = excluded.active_restriction,
			last_seen = max(issuers.last_seen, excluded.last_seen)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert issuers: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, is := range issuers {
		if _, err := stmt.ExecContext(ctx,
			is.IssuerID, is.Name, is.Jurisdiction, is.Type, is.InDefault, is.ActiveRestriction, is.FirstSeen, is.LastSeen,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert issuer %s", is.IssuerID)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert issuers: commit")
	}
	return n, nil
}

func (s *SQLite) FindCurrent(ctx context.Context, documentIdentity string) (*model.FilingRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, issuer_id, document_identity, filing_type, document_type, filed_on,
				version, supersedes, superseded_by, content_location, content_url, size_bytes,
				size_mismatch, status, created_at, updated_at
		 FROM filings WHERE document_identity = ? ORDER BY version DESC LIMIT 1`,
		documentIdentity,
	)

	var rec model.FilingRecord
	var filedOn string
	err := row.Scan(
		&rec.ID, &rec.IssuerID, &rec.DocumentIdentity, &rec.FilingType, &rec.DocumentType, &filedOn,
		&rec.Version, &rec.Supersedes, &rec.SupersededBy, &rec.ContentLocation, &rec.ContentURL, &rec.SizeBytes,
		&rec.SizeMismatch, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: find current %s", documentIdentity)
	}

	d, err := model.ParseDate(filedOn)
	if err != nil {
		return nil, err
	}
	rec.FiledOn = d
	return &rec, nil
}

const sqliteUpsertFiling = `
	INSERT INTO filings (id, issuer_id, document_identity, filing_type, document_type, filed_on,
		version, supersedes, superseded_by, content_location, content_url, size_bytes,
		size_mismatch, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (document_identity, version) DO UPDATE SET
		filing_type = excluded.filing_type,
		document_type = excluded.document_type,
		filed_on = excluded.filed_on,
		supersedes = excluded.supersedes,
		content_location = excluded.content_location,
		content_url = excluded.content_url,
		size_bytes = excluded.size_bytes,
		size_mismatch = excluded.size_mismatch,
		status = excluded.status,
		updated_at = excluded.updated_at`

func (s *SQLite) execUpsertFiling(ctx context.Context, q interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, rec model.FilingRecord) error {
	_, err := q.ExecContext(ctx, sqliteUpsertFiling,
		rec.ID, rec.IssuerID, rec.DocumentIdentity, rec.FilingType, rec.DocumentType, rec.FiledOn.String(),
		rec.Version, rec.Supersedes, rec.SupersededBy, rec.ContentLocation, rec.ContentURL, rec.SizeBytes,
		rec.SizeMismatch, rec.Status, rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

func (s *SQLite) UpsertFilingActive(ctx context.Context, rec model.FilingRecord) error {
	rec.Status = model.StatusActive
	if err := s.execUpsertFiling(ctx, s.db, rec); err != nil {
		return eris.Wrapf(err, "sqlite: upsert active filing %s v%d", rec.DocumentIdentity, rec.Version)
	}
	return nil
}

func (s *SQLite) Supersede(ctx context.Context, oldID string, rec model.FilingRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: supersede: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`UPDATE filings SET status = ?, superseded_by = ?, updated_at = ? WHERE id = ?`,
		model.StatusSuperseded, rec.ID, rec.UpdatedAt, oldID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: supersede old record %s", oldID)
	}

	rec.Status = model.StatusActive
	if err := s.execUpsertFiling(ctx, tx, rec); err != nil {
		return eris.Wrapf(err, "sqlite: supersede insert %s v%d", rec.DocumentIdentity, rec.Version)
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: supersede: commit")
	}
	return nil
}

func (s *SQLite) MarkFailed(ctx context.Context, rec model.FilingRecord) error {
	rec.Status = model.StatusFailed
	if err := s.execUpsertFiling(ctx, s.db, rec); err != nil {
		return eris.Wrapf(err, "sqlite: mark failed %s v%d", rec.DocumentIdentity, rec.Version)
	}
	return nil
}

// Ledger implementation.

func (s *SQLite) Create(ctx context.Context, e model.RunLedgerEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_ledger (run_id, mode, window_start, window_end, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Mode, e.WindowStart.String(), e.WindowEnd.String(), model.RunRunning, e.StartedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: create ledger entry %s", e.RunID)
	}
	return nil
}

func (s *SQLite) Update(ctx context.Context, runID string, c model.Counts) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE run_ledger
		 SET records_seen = ?, records_new = ?, records_superseded = ?, records_failed = ?
		 WHERE run_id = ?`,
		c.Seen, c.New, c.Superseded, c.Failed, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update ledger entry %s", runID)
	}
	return nil
}

func (s *SQLite) Finalize(ctx context.Context, runID string, status model.RunStatus, c model.Counts, errorDetail string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE run_ledger
		 SET status = ?, records_seen = ?, records_new = ?, records_superseded = ?,
			 records_failed = ?, error_detail = ?, ended_at = ?
		 WHERE run_id = ?`,
		status, c.Seen, c.New, c.Superseded, c.Failed, errorDetail, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finalize ledger entry %s", runID)
	}
	return nil
}

const sqliteLedgerSelect = `
	SELECT run_id, mode, window_start, window_end, status, records_seen,
		   records_new, records_superseded, records_failed, started_at, ended_at, error_detail
	FROM run_ledger`

type sqliteRow interface {
	Scan(dest ...any) error
}

func scanSQLiteLedger(row sqliteRow) (*model.RunLedgerEntry, error) {
	var e model.RunLedgerEntry
	var ws, we string
	err := row.Scan(
		&e.RunID, &e.Mode, &ws, &we, &e.Status, &e.RecordsSeen,
		&e.RecordsNew, &e.RecordsSuperseded, &e.RecordsFailed, &e.StartedAt, &e.EndedAt, &e.ErrorDetail,
	)
	if err != nil {
		return nil, err
	}
	start, err := model.ParseDate(ws)
	if err != nil {
		return nil, err
	}
	end, err := model.ParseDate(we)
	if err != nil {
		return nil, err
	}
	e.WindowStart = start
	e.WindowEnd = end
	return &e, nil
}

func (s *SQLite) Get(ctx context.Context, runID string) (*model.RunLedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, sqliteLedgerSelect+` WHERE run_id = ?`, runID)
	e, err := scanSQLiteLedger(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get ledger entry %s", runID)
	}
	return e, nil
}

func (s *SQLite) List(ctx context.Context, limit int) ([]model.RunLedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, sqliteLedgerSelect+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ledger entries")
	}
	defer rows.Close() //nolint:errcheck

	var entries []model.RunLedgerEntry
	for rows.Next() {
		e, err := scanSQLiteLedger(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ledger entry")
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *SQLite) LatestSuccessfulWatermark(ctx context.Context) (model.Date, bool, error) {
	var we string
	err := s.db.QueryRowContext(ctx,
		`SELECT window_end FROM run_ledger
		 WHERE status = ? ORDER BY window_end DESC LIMIT 1`,
		model.RunCompleted,
	).Scan(&we)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Date{}, false, nil
		}
		return model.Date{}, false, eris.Wrap(err, "sqlite: latest watermark")
	}
	d, err := model.ParseDate(we)
	if err != nil {
		return model.Date{}, false, err
	}
	return d, true, nil
}
