// Package resolve decides, for each freshly fetched filing record, whether it
// is new, a duplicate of known state, an amendment superseding a prior
// version, or a retry of a previously failed fetch.
package resolve

import (
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/northbound-research/filings-cli/internal/model"
)

// Decision classifies one raw record against the current record sharing its
// document identity.
type Decision int

const (
	// New: no prior record exists. Create active at version 1.
	New Decision = iota
	// Duplicate: the active record matches on every compared field.
	// Idempotent no-op; expected on re-runs of overlapping windows.
	Duplicate
	// Amendment: the source reused the identity for a corrected filing.
	// Create at prior.version+1 and supersede the prior.
	Amendment
	// Retry: the prior record is failed. Promote it at the same version if
	// the fetch now succeeds; a failed download is not a distinct version.
	Retry
)

func (d Decision) String() string {
	switch d {
	case New:
		return "new"
	case Duplicate:
		return "duplicate"
	case Amendment:
		return "amendment"
	case Retry:
		return "retry"
	default:
		return "unknown"
	}
}

// Options selects which fields participate in the duplicate-vs-amendment
// comparison. Only fields the source can independently change belong here;
// cosmetic metadata reordering must never trigger a version bump. If the
// portal later ships an explicit amendment marker, that marker stays the
// primary signal and the field comparison becomes the fallback.
type Options struct {
	CompareFiledOn        bool
	CompareClassification bool
	CompareContentRef     bool
}

// DefaultOptions compares every independently changeable field.
func DefaultOptions() Options {
	return Options{
		CompareFiledOn:        true,
		CompareClassification: true,
		CompareContentRef:     true,
	}
}

// Resolver computes canonical filing identity decisions.
type Resolver struct {
	opts Options
}

// New creates a Resolver with the given comparison options.
func NewResolver(opts Options) *Resolver {
	return &Resolver{opts: opts}
}

// Classify decides how raw relates to current, the latest known record for
// the same document identity (nil if the identity has never been seen).
func (r *Resolver) Classify(raw *model.RawFiling, current *model.FilingRecord) (Decision, error) {
	if current == nil {
		return New, nil
	}

	if current.Status == model.StatusFailed {
		return Retry, nil
	}

	filedOn, err := raw.FiledOn()
	if err != nil {
		return Duplicate, eris.Wrapf(err, "resolve: record %s", raw.DocumentIdentity)
	}

	// Explicit source marker wins over the field heuristic.
	if raw.IsAmendment() {
		return Amendment, nil
	}

	if r.opts.CompareFiledOn && filedOn.After(current.FiledOn) {
		return Amendment, nil
	}
	if r.opts.CompareClassification &&
		(raw.FilingType != current.FilingType || raw.DocumentType != current.DocumentType) {
		return Amendment, nil
	}
	if r.opts.CompareContentRef && raw.URL != current.ContentURL {
		return Amendment, nil
	}

	// Identical on every compared field, or an observation older than known
	// state (a stale row from pagination overlap): no intent either way.
	return Duplicate, nil
}

// Materialize builds the FilingRecord a non-duplicate decision implies.
// For New the record starts at version 1; for Amendment at prior.version+1
// with the supersedes link set; for Retry the prior record's identity,
// version, and supersedes link are reused so a recovered download never
// mints a spurious version and a failed amendment keeps pointing at the
// record it must retire.
func (r *Resolver) Materialize(raw *model.RawFiling, current *model.FilingRecord, d Decision, now time.Time) (model.FilingRecord, error) {
	filedOn, err := raw.FiledOn()
	if err != nil {
		return model.FilingRecord{}, eris.Wrapf(err, "resolve: record %s", raw.DocumentIdentity)
	}

	rec := model.FilingRecord{
		ID:               uuid.New().String(),
		IssuerID:         raw.IssuerID,
		DocumentIdentity: raw.DocumentIdentity,
		FilingType:       raw.FilingType,
		DocumentType:     raw.DocumentType,
		FiledOn:          filedOn,
		Version:          1,
		ContentURL:       raw.URL,
		SizeBytes:        raw.SizeBytes,
		Status:           model.StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	switch d {
	case New:
	case Amendment:
		rec.Version = current.Version + 1
		rec.Supersedes = current.ID
	case Retry:
		rec.ID = current.ID
		rec.Version = current.Version
		rec.Supersedes = current.Supersedes
		rec.CreatedAt = current.CreatedAt
	default:
		return model.FilingRecord{}, eris.Errorf("resolve: decision %s does not materialize a record", d)
	}

	return rec, nil
}
