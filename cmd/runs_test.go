package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/northbound-research/filings-cli/internal/model"
)

func sampleEntry() model.RunLedgerEntry {
	started := time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC)
	ended := started.Add(90 * time.Second)
	return model.RunLedgerEntry{
		RunID:             "4f9d2c1a-0000-0000-0000-000000000000",
		Mode:              model.ModeIncremental,
		WindowStart:       model.NewDate(2026, time.March, 8),
		WindowEnd:         model.NewDate(2026, time.March, 10),
		Status:            model.RunCompleted,
		RecordsSeen:       18,
		RecordsNew:        16,
		RecordsSuperseded: 1,
		StartedAt:         started,
		EndedAt:           &ended,
	}
}

func TestFormatRunsList(t *testing.T) {
	var sb strings.Builder
	formatRunsList(&sb, []model.RunLedgerEntry{sampleEntry()})

	out := sb.String()
	assert.Contains(t, out, "4f9d2c1a")
	assert.Contains(t, out, "incremental")
	assert.Contains(t, out, "2026-03-08..2026-03-10")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "1m30s")
}

func TestFormatRunSummary(t *testing.T) {
	e := sampleEntry()
	e.ErrorDetail = "upsert guid-9: connection refused"

	var sb strings.Builder
	formatRunSummary(&sb, &e)

	out := sb.String()
	assert.Contains(t, out, "Seen:")
	assert.Contains(t, out, "18")
	assert.Contains(t, out, "Superseded:")
	assert.Contains(t, out, "connection refused")
}

func TestFormatRunSummary_NoEnd(t *testing.T) {
	e := sampleEntry()
	e.EndedAt = nil

	var sb strings.Builder
	formatRunSummary(&sb, &e)
	assert.NotContains(t, sb.String(), "Duration:")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "4f9d2c1a", truncateID("4f9d2c1a-0000-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
}
