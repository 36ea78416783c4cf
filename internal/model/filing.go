// Package model defines the filing, issuer, and run-ledger records shared by
// the ingestion pipeline.
package model

import (
	"time"
)

// FilingStatus is the lifecycle state of a FilingRecord.
type FilingStatus string

const (
	// StatusActive marks the authoritative record for a document identity.
	StatusActive FilingStatus = "active"
	// StatusSuperseded marks a record replaced by a later version.
	StatusSuperseded FilingStatus = "superseded"
	// StatusFailed marks a record whose content download exhausted retries.
	// Failed records are re-attempted on the next run.
	StatusFailed FilingStatus = "failed"
)

// FilingRecord is one observed disclosure document. Records are append-only:
// they are never deleted, only status-transitioned, so the full supersession
// history stays auditable.
//
// Invariant: for a fixed DocumentIdentity at most one record is active at any
// time, and the active record carries the highest version.
type FilingRecord struct {
	ID               string       `json:"id"`
	IssuerID         string       `json:"issuer_id"`
	DocumentIdentity string       `json:"document_identity"`
	FilingType       string       `json:"filing_type"`
	DocumentType     string       `json:"document_type"`
	FiledOn          Date         `json:"filed_on"`
	Version          int          `json:"version"`
	Supersedes       string       `json:"supersedes,omitempty"`
	SupersededBy     string       `json:"superseded_by,omitempty"`
	ContentLocation  string       `json:"content_location,omitempty"`
	ContentURL       string       `json:"content_url,omitempty"`
	SizeBytes        int64        `json:"size_bytes"`
	SizeMismatch     bool         `json:"size_mismatch,omitempty"`
	Status           FilingStatus `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// ContentRef returns the stored location once content has been fetched, and
// the source URL before that.
func (f *FilingRecord) ContentRef() string {
	if f.ContentLocation != "" {
		return f.ContentLocation
	}
	return f.ContentURL
}
