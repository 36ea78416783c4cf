package model

import "time"

// RunMode selects how the reconciliation window is computed.
type RunMode string

const (
	// ModeIncremental derives the window from the last successful watermark.
	ModeIncremental RunMode = "incremental"
	// ModeHistorical uses a caller-supplied date range, split into chunks.
	ModeHistorical RunMode = "historical"
)

// RunStatus is the lifecycle state of a pipeline invocation.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunLedgerEntry records one pipeline invocation. The end of the most recent
// completed run's window is the incremental watermark; a failed run must not
// advance it or the skipped records would be silently lost.
type RunLedgerEntry struct {
	RunID             string     `json:"run_id"`
	Mode              RunMode    `json:"mode"`
	WindowStart       Date       `json:"window_start"`
	WindowEnd         Date       `json:"window_end"`
	Status            RunStatus  `json:"status"`
	RecordsSeen       int64      `json:"records_seen"`
	RecordsNew        int64      `json:"records_new"`
	RecordsSuperseded int64      `json:"records_superseded"`
	RecordsFailed     int64      `json:"records_failed"`
	StartedAt         time.Time  `json:"started_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	ErrorDetail       string     `json:"error_detail,omitempty"`
}

// Counts is the per-run record tally accumulated during classification and
// persistence, merged into the ledger entry at finalize time.
type Counts struct {
	Seen       int64 `json:"seen"`
	New        int64 `json:"new"`
	Superseded int64 `json:"superseded"`
	Failed     int64 `json:"failed"`
}
