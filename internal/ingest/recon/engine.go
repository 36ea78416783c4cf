// Package recon orchestrates reconciliation runs: it drives the portal
// client across a window, classifies every fetched record through the
// identity resolver, and applies the resulting intents to the sink while
// keeping the run ledger current.
package recon

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/northbound-research/filings-cli/internal/ingest"
	"github.com/northbound-research/filings-cli/internal/model"
	"github.com/northbound-research/filings-cli/internal/portal"
	"github.com/northbound-research/filings-cli/internal/resolve"
	"github.com/northbound-research/filings-cli/internal/sink"
)

// State names the phases of a reconciliation run.
type State string

const (
	StateInitializing State = "initializing"
	StateFetching     State = "fetching"
	StateClassifying  State = "classifying"
	StatePersisting   State = "persisting"
	StateFinalizing   State = "finalizing"
)

// DefaultLookbackDays bounds the first-ever incremental window when no
// watermark exists yet.
const DefaultLookbackDays = 7

// PortalClient is the slice of the portal client the engine drives.
type PortalClient interface {
	SearchAll(ctx context.Context, w portal.Window) ([]model.RawFiling, error)
	FetchIssuers(ctx context.Context) ([]model.RawIssuer, error)
	DownloadContent(ctx context.Context, url string, declaredSize int64) ([]byte, bool, error)
}

// Options tunes run behavior. All values are validated by the config layer.
type Options struct {
	OverlapDays    int
	ChunkDays      int
	DownloadLimit  int
	RefreshIssuers bool
}

// Engine runs the reconciliation state machine. It exclusively owns writes
// to the run ledger; filings and issuers are mutated only through intents
// issued to the sink.
type Engine struct {
	client   PortalClient
	sink     sink.Sink
	content  sink.ContentStore
	ledger   ingest.Ledger
	resolver *resolve.Resolver
	opts     Options
	now      func() time.Time
}

// New creates an Engine.
func New(client PortalClient, s sink.Sink, content sink.ContentStore, ledger ingest.Ledger, resolver *resolve.Resolver, opts Options) *Engine {
	return &Engine{
		client:   client,
		sink:     s,
		content:  content,
		ledger:   ledger,
		resolver: resolver,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RunIncremental reconciles the window from the last successful watermark
// (minus the configured overlap, to tolerate late-arriving records) up to
// today.
func (e *Engine) RunIncremental(ctx context.Context) (*model.RunLedgerEntry, error) {
	today := model.DateOf(e.now())

	wm, ok, err := e.ledger.LatestSuccessfulWatermark(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "recon: read watermark")
	}

	start := today.AddDays(-DefaultLookbackDays)
	if ok {
		start = wm.AddDays(-e.opts.OverlapDays)
	}

	return e.run(ctx, model.ModeIncremental, portal.Window{Start: start, End: today})
}

// RunHistorical reconciles a caller-supplied date range, split into bounded
// chunks so each chunk's pagination stays under the portal client's cap.
func (e *Engine) RunHistorical(ctx context.Context, start, end model.Date) (*model.RunLedgerEntry, error) {
	if end.Before(start) {
		return nil, eris.Errorf("recon: historical window end %s precedes start %s", end, start)
	}
	return e.run(ctx, model.ModeHistorical, portal.Window{Start: start, End: end})
}

// intent is one pending persistence operation, applied during Persisting.
type intent struct {
	decision resolve.Decision
	record   model.FilingRecord
	priorID  string // set for amendments
	failed   bool   // content retrieval exhausted retries
}

func (e *Engine) run(ctx context.Context, mode model.RunMode, window portal.Window) (*model.RunLedgerEntry, error) {
	log := zap.L().With(
		zap.String("component", "recon.engine"),
		zap.String("mode", string(mode)),
		zap.String("window", window.String()),
	)

	// Initializing.
	entry := &model.RunLedgerEntry{
		RunID:       uuid.New().String(),
		Mode:        mode,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		Status:      model.RunRunning,
		StartedAt:   e.now(),
	}
	if err := e.ledger.Create(ctx, *entry); err != nil {
		// The run cannot safely claim anything it cannot record.
		return nil, eris.Wrap(err, "recon: open ledger entry")
	}
	log = log.With(zap.String("run_id", entry.RunID))
	log.Info("run started", zap.String("state", string(StateInitializing)))

	var counts model.Counts

	if e.opts.RefreshIssuers {
		e.refreshIssuers(ctx, log)
	}

	if err := ctx.Err(); err != nil {
		return e.fail(ctx, entry, counts, "cancelled: "+err.Error())
	}

	// Fetching. A failure here aborts the run: a partial metadata set would
	// desynchronize the window marker.
	log.Info("state transition", zap.String("state", string(StateFetching)))
	raw, err := e.fetchWindow(ctx, window)
	if err != nil {
		return e.fail(ctx, entry, counts, "metadata fetch: "+err.Error())
	}
	counts.Seen = int64(len(raw))
	log.Info("metadata fetched", zap.Int("records", len(raw)))

	if err := ctx.Err(); err != nil {
		return e.fail(ctx, entry, counts, "cancelled: "+err.Error())
	}

	// Classifying. All observations for one identity are in hand before any
	// of them is classified, so a duplicate later in the window can never be
	// mistaken for a new filing.
	log.Info("state transition", zap.String("state", string(StateClassifying)))
	intents, classifyErrs := e.classify(ctx, raw)

	if err := ctx.Err(); err != nil {
		return e.fail(ctx, entry, counts, "cancelled: "+err.Error())
	}

	if err := e.ledger.Update(ctx, entry.RunID, counts); err != nil {
		return nil, eris.Wrap(err, "recon: update ledger entry")
	}

	// Persisting. Intents are idempotent on (document_identity, version);
	// individual sink failures are recorded, not fatal.
	log.Info("state transition", zap.String("state", string(StatePersisting)), zap.Int("intents", len(intents)))
	errDetails := classifyErrs
	for _, in := range intents {
		if err := e.apply(ctx, in, &counts); err != nil {
			log.Error("intent failed", zap.String("document_identity", in.record.DocumentIdentity), zap.Error(err))
			errDetails = append(errDetails, err.Error())
		}
	}

	if err := ctx.Err(); err != nil {
		return e.fail(ctx, entry, counts, "cancelled: "+err.Error())
	}

	// Finalizing. Sink write errors are operator-visible through the error
	// detail but do not fail the run; the watermark advances.
	log.Info("state transition", zap.String("state", string(StateFinalizing)))
	detail := strings.Join(errDetails, "; ")
	if err := e.ledger.Finalize(ctx, entry.RunID, model.RunCompleted, counts, detail); err != nil {
		return nil, eris.Wrap(err, "recon: finalize ledger entry")
	}

	now := e.now()
	entry.Status = model.RunCompleted
	entry.RecordsSeen = counts.Seen
	entry.RecordsNew = counts.New
	entry.RecordsSuperseded = counts.Superseded
	entry.RecordsFailed = counts.Failed
	entry.EndedAt = &now
	entry.ErrorDetail = detail

	log.Info("run completed",
		zap.Int64("seen", counts.Seen),
		zap.Int64("new", counts.New),
		zap.Int64("superseded", counts.Superseded),
		zap.Int64("failed", counts.Failed),
	)
	return entry, nil
}

// fail finalizes the entry as failed without advancing the watermark.
func (e *Engine) fail(ctx context.Context, entry *model.RunLedgerEntry, counts model.Counts, detail string) (*model.RunLedgerEntry, error) {
	// Finalize with a fresh context: the run context may already be dead.
	finalizeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		finalizeCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	if err := e.ledger.Finalize(finalizeCtx, entry.RunID, model.RunFailed, counts, detail); err != nil {
		return nil, eris.Wrap(err, "recon: finalize failed run")
	}

	now := e.now()
	entry.Status = model.RunFailed
	entry.RecordsSeen = counts.Seen
	entry.RecordsNew = counts.New
	entry.RecordsSuperseded = counts.Superseded
	entry.RecordsFailed = counts.Failed
	entry.EndedAt = &now
	entry.ErrorDetail = detail

	zap.L().Error("run failed", zap.String("run_id", entry.RunID), zap.String("detail", detail))
	return entry, eris.New(detail)
}

// refreshIssuers pulls the issuer directory export and applies it. The
// directory is advisory for a reconciliation run, so failures degrade to a
// warning instead of aborting.
func (e *Engine) refreshIssuers(ctx context.Context, log *zap.Logger) {
	rawIssuers, err := e.client.FetchIssuers(ctx)
	if err != nil {
		log.Warn("issuer directory refresh failed", zap.Error(err))
		return
	}

	now := e.now()
	issuers := make([]model.IssuerRecord, 0, len(rawIssuers))
	for i := range rawIssuers {
		rec := rawIssuers[i].Record()
		rec.FirstSeen = now
		rec.LastSeen = now
		issuers = append(issuers, rec)
	}

	n, err := e.sink.UpsertIssuers(ctx, issuers)
	if err != nil {
		log.Warn("issuer directory upsert failed", zap.Error(err))
		return
	}
	log.Info("issuer directory refreshed", zap.Int64("issuers", n))
}

// fetchWindow splits the window into chunks and fetches them concurrently.
// Pages within one chunk are sequential (pagination tokens are ordered);
// chunks are independent.
func (e *Engine) fetchWindow(ctx context.Context, window portal.Window) ([]model.RawFiling, error) {
	chunks := chunkWindow(window, e.opts.ChunkDays)

	results := make([][]model.RawFiling, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.DownloadLimit)

	for i, chunk := range chunks {
		g.Go(func() error {
			rows, err := e.client.SearchAll(gctx, chunk)
			if err != nil {
				return eris.Wrapf(err, "recon: fetch chunk %s", chunk)
			}
			results[i] = rows
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []model.RawFiling
	for _, rows := range results {
		all = append(all, rows...)
	}
	return all, nil
}

// identityWork is the unit a classification worker owns: every observation
// of one document identity in this window, in fetch order.
type identityWork struct {
	identity string
	rows     []model.RawFiling
}

// classify groups raw records by document identity and resolves each group
// concurrently. Each worker owns its group's results; nothing is mutated
// across workers. Returned error strings describe per-record problems that
// must surface in the ledger detail without failing the run.
func (e *Engine) classify(ctx context.Context, raw []model.RawFiling) ([]intent, []string) {
	groups := groupByIdentity(raw)

	perGroup := make([][]intent, len(groups))
	perGroupErrs := make([][]string, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.DownloadLimit)

	for i, work := range groups {
		g.Go(func() error {
			ins, errs := e.classifyIdentity(gctx, work)
			perGroup[i] = ins
			perGroupErrs[i] = errs
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; per-record problems are collected

	var intents []intent
	var errs []string
	for i := range groups {
		intents = append(intents, perGroup[i]...)
		errs = append(errs, perGroupErrs[i]...)
	}
	return intents, errs
}

// classifyIdentity resolves every observation of one identity in order,
// downloading content for decisions that need it. The in-memory current
// record advances as intents accumulate so that a duplicate appearing later
// in the same window is recognized against the batch, not just the store.
func (e *Engine) classifyIdentity(ctx context.Context, work identityWork) ([]intent, []string) {
	var intents []intent
	var errs []string

	current, err := e.sink.FindCurrent(ctx, work.identity)
	if err != nil {
		return nil, []string{eris.Wrapf(err, "lookup %s", work.identity).Error()}
	}

	for i := range work.rows {
		if ctx.Err() != nil {
			return intents, errs
		}
		rawRow := &work.rows[i]

		decision, err := e.resolver.Classify(rawRow, current)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if decision == resolve.Duplicate {
			continue
		}

		rec, err := e.resolver.Materialize(rawRow, current, decision, e.now())
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}

		in := intent{decision: decision, record: rec}
		if decision == resolve.Amendment {
			in.priorID = current.ID
		}

		e.fetchContent(ctx, rawRow, &in)

		intents = append(intents, in)
		rc := in.record
		current = &rc
	}

	return intents, errs
}

// fetchContent downloads the document for an intent, short-circuiting when
// the content store already holds the bytes for this exact version. A prior
// version's file never satisfies the lookup, so a retried amendment always
// fetches the amended document. A download failure does not abort the run:
// the record degrades to failed status and is retried next run, since losing
// metadata while waiting on a slow document would be worse.
func (e *Engine) fetchContent(ctx context.Context, rawRow *model.RawFiling, in *intent) {
	if loc, ok := e.content.Location(rawRow.DocumentIdentity, in.record.Version); ok {
		in.record.ContentLocation = loc
		return
	}

	data, mismatch, err := e.client.DownloadContent(ctx, rawRow.URL, rawRow.SizeBytes)
	if err != nil {
		zap.L().Warn("content download failed",
			zap.String("document_identity", rawRow.DocumentIdentity),
			zap.Error(err),
		)
		in.failed = true
		return
	}

	loc, err := e.content.Put(ctx, rawRow.DocumentIdentity, in.record.Version, data)
	if err != nil {
		zap.L().Warn("content store write failed",
			zap.String("document_identity", rawRow.DocumentIdentity),
			zap.Error(err),
		)
		in.failed = true
		return
	}

	in.record.ContentLocation = loc
	in.record.SizeMismatch = mismatch
}

// apply issues one intent to the sink and advances the run counts. A failed
// amendment is stored as a failed record with its supersedes link intact while
// the prior version stays active; when a later retry succeeds, that link
// routes the promotion through Supersede so the prior version is retired and
// exactly one record per identity remains active.
func (e *Engine) apply(ctx context.Context, in intent, counts *model.Counts) error {
	if in.failed {
		counts.Failed++
		return e.sink.MarkFailed(ctx, in.record)
	}

	switch in.decision {
	case resolve.New:
		counts.New++
		return e.sink.UpsertFilingActive(ctx, in.record)
	case resolve.Retry:
		if in.record.Supersedes != "" {
			counts.Superseded++
			return e.sink.Supersede(ctx, in.record.Supersedes, in.record)
		}
		counts.New++
		return e.sink.UpsertFilingActive(ctx, in.record)
	case resolve.Amendment:
		counts.Superseded++
		return e.sink.Supersede(ctx, in.priorID, in.record)
	default:
		return eris.Errorf("recon: unexpected decision %s for %s", in.decision, in.record.DocumentIdentity)
	}
}

// groupByIdentity buckets raw records by document identity, preserving both
// observation order within a group and first-seen order across groups.
func groupByIdentity(raw []model.RawFiling) []identityWork {
	index := make(map[string]int)
	var groups []identityWork
	for _, r := range raw {
		i, ok := index[r.DocumentIdentity]
		if !ok {
			i = len(groups)
			index[r.DocumentIdentity] = i
			groups = append(groups, identityWork{identity: r.DocumentIdentity})
		}
		groups[i].rows = append(groups[i].rows, r)
	}
	return groups
}

// chunkWindow splits a window into consecutive sub-windows of at most
// chunkDays days each.
func chunkWindow(w portal.Window, chunkDays int) []portal.Window {
	var chunks []portal.Window
	for start := w.Start; !start.After(w.End); start = start.AddDays(chunkDays) {
		end := start.AddDays(chunkDays - 1)
		if end.After(w.End) {
			end = w.End
		}
		chunks = append(chunks, portal.Window{Start: start, End: end})
	}
	return chunks
}
